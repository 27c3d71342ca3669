// Package changelog loads changelog files into domain changesets.
package changelog

import (
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"changesetrunner/internal/domain"
)

var (
	ErrUnknownFormat    = errors.New("unknown changelog format")
	ErrDuplicate        = errors.New("duplicate changeset")
	ErrIncludeCycle     = errors.New("changelog include cycle")
	ErrInvalidChange    = errors.New("invalid change")
	ErrInvalidChangeSet = errors.New("invalid changeset")
)

// Parser reads changelogs from fsys. Paths are slash separated and relative
// to the root of fsys.
type Parser struct {
	fsys   fs.FS
	logger log.FieldLogger
}

func NewParser(fsys fs.FS, logger log.FieldLogger) *Parser {
	return &Parser{fsys: fsys, logger: logger}
}

type parseState struct {
	root      *domain.DatabaseChangeLog
	seen      map[string]bool
	including map[string]bool
}

func (st *parseState) add(cs *domain.ChangeSet) error {
	key := cs.String()
	if st.seen[key] {
		return errors.Wrap(ErrDuplicate, key)
	}
	st.seen[key] = true
	st.root.AddChangeSet(cs)
	return nil
}

// Parse loads the changelog at name together with everything it includes.
func (p *Parser) Parse(name string) (*domain.DatabaseChangeLog, error) {
	name = cleanPath(name)
	st := &parseState{
		root:      domain.NewDatabaseChangeLog(name),
		seen:      make(map[string]bool),
		including: make(map[string]bool),
	}
	if err := p.parseFile(name, st); err != nil {
		return nil, err
	}
	p.logger.WithFields(log.Fields{
		"file":       name,
		"changesets": len(st.root.ChangeSets()),
	}).Debug("changelog loaded")
	return st.root, nil
}

func (p *Parser) parseFile(name string, st *parseState) error {
	if st.including[name] {
		return errors.Wrap(ErrIncludeCycle, name)
	}
	st.including[name] = true
	defer delete(st.including, name)

	data, err := fs.ReadFile(p.fsys, name)
	if err != nil {
		return errors.Wrapf(err, "read changelog %s", name)
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return p.parseYAML(name, data, st)
	case ".xml":
		return p.parseXML(name, data, st)
	case ".sql":
		return p.parseFormattedSQL(name, data, st)
	}
	return errors.Wrap(ErrUnknownFormat, name)
}

func (p *Parser) includeAll(dir string, st *parseState) error {
	entries, err := fs.ReadDir(p.fsys, dir)
	if err != nil {
		return errors.Wrapf(err, "read include directory %s", dir)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json", ".xml", ".sql":
			names = append(names, path.Join(dir, entry.Name()))
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := p.parseFile(name, st); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) readSQLFile(name string) (string, error) {
	data, err := fs.ReadFile(p.fsys, name)
	if err != nil {
		return "", errors.Wrapf(err, "read sql file %s", name)
	}
	return string(data), nil
}

// resolve returns ref relative to the directory of from when relative is set,
// otherwise relative to the root.
func resolve(from, ref string, relative bool) string {
	if relative {
		return cleanPath(path.Join(path.Dir(from), ref))
	}
	return cleanPath(ref)
}

func cleanPath(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "classpath:")
	name = path.Clean(name)
	return strings.TrimPrefix(name, "/")
}
