package changelog

import (
	"strings"
)

// SplitStatements splits sql on semicolons that are outside quotes, comments
// and dollar-quoted bodies. Empty statements are dropped.
func SplitStatements(sql string) []string {
	var (
		statements []string
		current    strings.Builder
		dollarTag  string
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" && !onlyComments(stmt) {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]

		if dollarTag != "" {
			if strings.HasPrefix(sql[i:], dollarTag) {
				current.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
			current.WriteByte(c)
			continue
		}

		switch {
		case c == '\'' || c == '"':
			end := closingQuote(sql, i)
			current.WriteString(sql[i:end])
			i = end - 1
		case c == '-' && strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql) - i
			}
			current.WriteString(sql[i : i+end])
			i += end - 1
		case c == '/' && strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				current.WriteString(sql[i:])
				i = len(sql)
				continue
			}
			current.WriteString(sql[i : i+end+4])
			i += end + 3
		case c == '$':
			if tag, ok := dollarQuote(sql[i:]); ok {
				dollarTag = tag
				current.WriteString(tag)
				i += len(tag) - 1
				continue
			}
			current.WriteByte(c)
		case c == ';':
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()
	return statements
}

// closingQuote returns the index just past the quote that closes sql[start].
// Doubled quotes are treated as escapes.
func closingQuote(sql string, start int) int {
	quote := sql[start]
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(sql)
}

// dollarQuote recognises $$ and $tag$ openers.
func dollarQuote(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1], true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 1 && c >= '0' && c <= '9') {
			return "", false
		}
	}
	return "", false
}

func onlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
