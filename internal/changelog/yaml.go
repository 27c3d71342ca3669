package changelog

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"changesetrunner/internal/domain"
)

const nullTag = "!!null"

type yamlChangeLog struct {
	DatabaseChangeLog []yamlEntry `yaml:"databaseChangeLog"`
}

type yamlEntry struct {
	ChangeSet  *yamlChangeSet  `yaml:"changeSet"`
	Include    *yamlInclude    `yaml:"include"`
	IncludeAll *yamlIncludeAll `yaml:"includeAll"`
}

type yamlInclude struct {
	File                    string `yaml:"file"`
	RelativeToChangelogFile bool   `yaml:"relativeToChangelogFile"`
}

type yamlIncludeAll struct {
	Path                    string `yaml:"path"`
	RelativeToChangelogFile bool   `yaml:"relativeToChangelogFile"`
}

type yamlChangeSet struct {
	ID               string                 `yaml:"id"`
	Author           string                 `yaml:"author"`
	Comment          string                 `yaml:"comment"`
	RunInTransaction *bool                  `yaml:"runInTransaction"`
	Changes          []map[string]yaml.Node `yaml:"changes"`
	Rollback         yaml.Node              `yaml:"rollback"`
}

type yamlSQL struct {
	SQL             string `yaml:"sql"`
	SplitStatements *bool  `yaml:"splitStatements"`
}

type yamlSQLFile struct {
	Path                    string `yaml:"path"`
	RelativeToChangelogFile bool   `yaml:"relativeToChangelogFile"`
	SplitStatements         *bool  `yaml:"splitStatements"`
}

type yamlColumn struct {
	Column struct {
		Name                 string           `yaml:"name"`
		Type                 string           `yaml:"type"`
		DefaultValue         *string          `yaml:"defaultValue"`
		DefaultValueNumeric  *string          `yaml:"defaultValueNumeric"`
		DefaultValueBoolean  *string          `yaml:"defaultValueBoolean"`
		DefaultValueComputed *string          `yaml:"defaultValueComputed"`
		Constraints          *yamlConstraints `yaml:"constraints"`
	} `yaml:"column"`
}

type yamlConstraints struct {
	PrimaryKey bool  `yaml:"primaryKey"`
	Nullable   *bool `yaml:"nullable"`
	Unique     bool  `yaml:"unique"`
}

type yamlTable struct {
	TableName          string       `yaml:"tableName"`
	CascadeConstraints bool         `yaml:"cascadeConstraints"`
	Columns            []yamlColumn `yaml:"columns"`
}

type yamlDropColumn struct {
	TableName  string `yaml:"tableName"`
	ColumnName string `yaml:"columnName"`
}

type yamlIndex struct {
	IndexName string       `yaml:"indexName"`
	TableName string       `yaml:"tableName"`
	Unique    bool         `yaml:"unique"`
	Columns   []yamlColumn `yaml:"columns"`
}

// parseYAML handles YAML changelogs. JSON is valid YAML and goes through here too.
func (p *Parser) parseYAML(name string, data []byte, st *parseState) error {
	var doc yamlChangeLog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.Wrapf(err, "parse changelog %s", name)
	}

	for _, entry := range doc.DatabaseChangeLog {
		switch {
		case entry.ChangeSet != nil:
			cs, err := p.changeSet(name, entry.ChangeSet)
			if err != nil {
				return err
			}
			if err := st.add(cs); err != nil {
				return err
			}
		case entry.Include != nil:
			if entry.Include.File == "" {
				return errors.Errorf("%s: include without file", name)
			}
			target := resolve(name, entry.Include.File, entry.Include.RelativeToChangelogFile)
			if err := p.parseFile(target, st); err != nil {
				return err
			}
		case entry.IncludeAll != nil:
			dir := resolve(name, entry.IncludeAll.Path, entry.IncludeAll.RelativeToChangelogFile)
			if err := p.includeAll(dir, st); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Parser) changeSet(name string, in *yamlChangeSet) (*domain.ChangeSet, error) {
	if in.ID == "" || in.Author == "" {
		return nil, errors.Wrapf(ErrInvalidChangeSet, "%s: changeset needs id and author (id=%q author=%q)", name, in.ID, in.Author)
	}

	cs := &domain.ChangeSet{
		ID:               in.ID,
		Author:           in.Author,
		FilePath:         name,
		Comment:          in.Comment,
		RunInTransaction: in.RunInTransaction == nil || *in.RunInTransaction,
	}

	for _, raw := range in.Changes {
		changes, err := p.changesFromMap(name, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: changeset %s", name, in.ID)
		}
		cs.Changes = append(cs.Changes, changes...)
	}
	if len(cs.Changes) == 0 {
		return nil, errors.Wrapf(ErrInvalidChangeSet, "%s: changeset %s has no changes", name, in.ID)
	}

	// rollback: ~ declares nothing, only "" is an explicit no-op.
	if in.Rollback.Kind != 0 && in.Rollback.ShortTag() != nullTag {
		rollback, err := p.rollback(name, &in.Rollback)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: changeset %s rollback", name, in.ID)
		}
		cs.Rollback = rollback
		cs.RollbackDefined = true
	}
	return cs, nil
}

func (p *Parser) rollback(name string, node *yaml.Node) ([]domain.Change, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil, nil
		}
		return []domain.Change{SQLChange{SQL: node.Value, Split: true}}, nil
	case yaml.MappingNode:
		var raw map[string]yaml.Node
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		return p.changesFromMap(name, raw)
	case yaml.SequenceNode:
		var raws []map[string]yaml.Node
		if err := node.Decode(&raws); err != nil {
			return nil, err
		}
		var changes []domain.Change
		for _, raw := range raws {
			c, err := p.changesFromMap(name, raw)
			if err != nil {
				return nil, err
			}
			changes = append(changes, c...)
		}
		return changes, nil
	}
	return nil, errors.Wrapf(ErrInvalidChange, "unexpected rollback node kind %d", node.Kind)
}

func (p *Parser) changesFromMap(name string, raw map[string]yaml.Node) ([]domain.Change, error) {
	if len(raw) != 1 {
		return nil, errors.Wrapf(ErrInvalidChange, "expected exactly one change type per entry, got %d", len(raw))
	}
	for kind, node := range raw {
		change, err := p.change(name, kind, &node)
		if err != nil {
			return nil, err
		}
		return []domain.Change{change}, nil
	}
	return nil, nil
}

func (p *Parser) change(name, kind string, node *yaml.Node) (domain.Change, error) {
	switch kind {
	case "sql":
		if node.Kind == yaml.ScalarNode {
			return SQLChange{SQL: node.Value, Split: true}, nil
		}
		var spec yamlSQL
		if err := node.Decode(&spec); err != nil {
			return nil, errors.Wrap(err, "decode sql")
		}
		if spec.SQL == "" {
			return nil, errors.Wrap(ErrInvalidChange, "sql change without sql")
		}
		return SQLChange{SQL: spec.SQL, Split: boolOr(spec.SplitStatements, true)}, nil

	case "sqlFile":
		var spec yamlSQLFile
		if err := node.Decode(&spec); err != nil {
			return nil, errors.Wrap(err, "decode sqlFile")
		}
		if spec.Path == "" {
			return nil, errors.Wrap(ErrInvalidChange, "sqlFile without path")
		}
		content, err := p.readSQLFile(resolve(name, spec.Path, spec.RelativeToChangelogFile))
		if err != nil {
			return nil, err
		}
		return SQLChange{SQL: content, Split: boolOr(spec.SplitStatements, true)}, nil

	case "createTable", "addColumn", "dropTable":
		var spec yamlTable
		if err := node.Decode(&spec); err != nil {
			return nil, errors.Wrapf(err, "decode %s", kind)
		}
		if spec.TableName == "" {
			return nil, errors.Wrapf(ErrInvalidChange, "%s without tableName", kind)
		}
		switch kind {
		case "dropTable":
			return DropTableChange{Table: spec.TableName, Cascade: spec.CascadeConstraints}, nil
		case "createTable":
			columns, err := columnsOf(kind, yamlColumns(spec.Columns))
			if err != nil {
				return nil, err
			}
			return CreateTableChange{Table: spec.TableName, Columns: columns}, nil
		default:
			columns, err := columnsOf(kind, yamlColumns(spec.Columns))
			if err != nil {
				return nil, err
			}
			return AddColumnChange{Table: spec.TableName, Columns: columns}, nil
		}

	case "dropColumn":
		var spec yamlDropColumn
		if err := node.Decode(&spec); err != nil {
			return nil, errors.Wrap(err, "decode dropColumn")
		}
		if spec.TableName == "" || spec.ColumnName == "" {
			return nil, errors.Wrap(ErrInvalidChange, "dropColumn needs tableName and columnName")
		}
		return DropColumnChange{Table: spec.TableName, Column: spec.ColumnName}, nil

	case "createIndex", "dropIndex":
		var spec yamlIndex
		if err := node.Decode(&spec); err != nil {
			return nil, errors.Wrapf(err, "decode %s", kind)
		}
		if spec.IndexName == "" {
			return nil, errors.Wrapf(ErrInvalidChange, "%s without indexName", kind)
		}
		if kind == "dropIndex" {
			return DropIndexChange{Name: spec.IndexName, Table: spec.TableName}, nil
		}
		if spec.TableName == "" || len(spec.Columns) == 0 {
			return nil, errors.Wrap(ErrInvalidChange, "createIndex needs tableName and columns")
		}
		names := make([]string, len(spec.Columns))
		for i, col := range spec.Columns {
			names[i] = col.Column.Name
		}
		return CreateIndexChange{Name: spec.IndexName, Table: spec.TableName, Columns: names, Unique: spec.Unique}, nil
	}
	return nil, errors.Wrapf(ErrInvalidChange, "unsupported change type %q", kind)
}

func (c yamlColumn) spec() columnSpec {
	spec := columnSpec{
		Name:                 c.Column.Name,
		Type:                 c.Column.Type,
		DefaultValue:         c.Column.DefaultValue,
		DefaultValueNumeric:  c.Column.DefaultValueNumeric,
		DefaultValueBoolean:  c.Column.DefaultValueBoolean,
		DefaultValueComputed: c.Column.DefaultValueComputed,
	}
	if cons := c.Column.Constraints; cons != nil {
		spec.PrimaryKey = cons.PrimaryKey
		spec.Unique = cons.Unique
		spec.Nullable = cons.Nullable
	}
	return spec
}

func yamlColumns(in []yamlColumn) []columnSpec {
	specs := make([]columnSpec, len(in))
	for i, c := range in {
		specs[i] = c.spec()
	}
	return specs
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
