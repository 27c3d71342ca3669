package changelog

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"changesetrunner/internal/domain"
)

var (
	formattedHeader = regexp.MustCompile(`(?i)^--\s*liquibase\s+formatted\s+sql`)
	changeSetLine   = regexp.MustCompile(`(?i)^--\s*changeset\s+(\S+?):(\S+)(.*)$`)
	rollbackLine    = regexp.MustCompile(`(?i)^--\s*rollback\s+(.*)$`)
	commentLine     = regexp.MustCompile(`(?i)^--\s*comment:\s*(.*)$`)
	attributeRe     = regexp.MustCompile(`(\w+):(\S+)`)
)

type formattedChangeSet struct {
	cs       *domain.ChangeSet
	split    bool
	body     strings.Builder
	rollback strings.Builder
	noop     bool
}

func (f *formattedChangeSet) finish() error {
	body := f.body.String()
	if strings.TrimSpace(body) == "" {
		return errors.Wrapf(ErrInvalidChangeSet, "changeset %s has no sql", f.cs.ID)
	}
	f.cs.Changes = []domain.Change{SQLChange{SQL: body, Split: f.split}}

	if rb := strings.TrimSpace(f.rollback.String()); rb != "" {
		f.cs.Rollback = []domain.Change{SQLChange{SQL: rb, Split: f.split}}
		f.cs.RollbackDefined = true
	} else if f.noop {
		f.cs.RollbackDefined = true
	}
	return nil
}

// parseFormattedSQL reads a "--liquibase formatted sql" file where each
// "--changeset author:id" line opens a changeset.
func (p *Parser) parseFormattedSQL(name string, data []byte, st *parseState) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		current    *formattedChangeSet
		sawHeader  bool
		lineNumber int
	)

	finish := func() error {
		if current == nil {
			return nil
		}
		if err := current.finish(); err != nil {
			return errors.Wrap(err, name)
		}
		return st.add(current.cs)
	}

	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !sawHeader {
			if trimmed == "" {
				continue
			}
			if !formattedHeader.MatchString(trimmed) {
				return errors.Wrapf(ErrUnknownFormat, "%s: sql changelog must start with --liquibase formatted sql", name)
			}
			sawHeader = true
			continue
		}

		if m := changeSetLine.FindStringSubmatch(trimmed); m != nil {
			if err := finish(); err != nil {
				return err
			}
			current = &formattedChangeSet{
				cs: &domain.ChangeSet{
					ID:               m[2],
					Author:           m[1],
					FilePath:         name,
					RunInTransaction: true,
				},
				split: true,
			}
			for _, attr := range attributeRe.FindAllStringSubmatch(m[3], -1) {
				switch attr[1] {
				case "runInTransaction":
					current.cs.RunInTransaction = attr[2] != "false"
				case "splitStatements":
					current.split = attr[2] != "false"
				}
			}
			continue
		}

		if current == nil {
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				return errors.Wrapf(ErrInvalidChangeSet, "%s:%d: sql outside of a changeset", name, lineNumber)
			}
			continue
		}

		if m := rollbackLine.FindStringSubmatch(trimmed); m != nil {
			sql := strings.TrimSpace(m[1])
			switch strings.ToLower(sql) {
			case "not required", "empty":
				current.noop = true
			default:
				current.rollback.WriteString(sql)
				current.rollback.WriteString("\n")
			}
			continue
		}
		if m := commentLine.FindStringSubmatch(trimmed); m != nil {
			current.cs.Comment = strings.TrimSpace(m[1])
			continue
		}

		current.body.WriteString(line)
		current.body.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", name)
	}
	if !sawHeader {
		return errors.Wrapf(ErrUnknownFormat, "%s: empty sql changelog", name)
	}
	return finish()
}
