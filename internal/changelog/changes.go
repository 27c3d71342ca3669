package changelog

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"changesetrunner/internal/domain"
)

// SQLChange runs raw SQL. It has no automatic inverse.
type SQLChange struct {
	SQL   string
	Split bool
}

func (c SQLChange) Description() string {
	return "sql"
}

func (c SQLChange) Statements() []string {
	if c.Split {
		return SplitStatements(c.SQL)
	}
	stmt := strings.TrimSpace(c.SQL)
	if stmt == "" {
		return nil
	}
	return []string{stmt}
}

func (c SQLChange) Inverse() ([]domain.Change, bool) {
	return nil, false
}

type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
	NotNull    bool
	Unique     bool
	Default    *string
}

// columnSpec is a column as declared in a changelog, before defaults are rendered.
type columnSpec struct {
	Name                 string
	Type                 string
	DefaultValue         *string
	DefaultValueNumeric  *string
	DefaultValueBoolean  *string
	DefaultValueComputed *string
	PrimaryKey           bool
	Unique               bool
	Nullable             *bool
}

func columnsOf(kind string, in []columnSpec) ([]Column, error) {
	if len(in) == 0 {
		return nil, errors.Wrapf(ErrInvalidChange, "%s without columns", kind)
	}
	columns := make([]Column, len(in))
	for i, c := range in {
		if c.Name == "" || c.Type == "" {
			return nil, errors.Wrapf(ErrInvalidChange, "%s column %d needs name and type", kind, i+1)
		}
		col := Column{
			Name:       c.Name,
			Type:       c.Type,
			PrimaryKey: c.PrimaryKey,
			Unique:     c.Unique,
			NotNull:    c.Nullable != nil && !*c.Nullable,
		}
		switch {
		case c.DefaultValue != nil:
			quoted := "'" + strings.ReplaceAll(*c.DefaultValue, "'", "''") + "'"
			col.Default = &quoted
		case c.DefaultValueNumeric != nil:
			col.Default = c.DefaultValueNumeric
		case c.DefaultValueBoolean != nil:
			col.Default = c.DefaultValueBoolean
		case c.DefaultValueComputed != nil:
			col.Default = c.DefaultValueComputed
		}
		columns[i] = col
	}
	return columns, nil
}

func (c Column) definition(inlinePrimaryKey bool) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString(" ")
	b.WriteString(c.Type)
	if c.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(*c.Default)
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.PrimaryKey && inlinePrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if c.Unique && !c.PrimaryKey {
		b.WriteString(" UNIQUE")
	}
	return b.String()
}

type CreateTableChange struct {
	Table   string
	Columns []Column
}

func (c CreateTableChange) Description() string {
	return "createTable " + c.Table
}

func (c CreateTableChange) Statements() []string {
	var keys []string
	for _, col := range c.Columns {
		if col.PrimaryKey {
			keys = append(keys, col.Name)
		}
	}

	defs := make([]string, 0, len(c.Columns)+1)
	for _, col := range c.Columns {
		defs = append(defs, col.definition(len(keys) == 1))
	}
	if len(keys) > 1 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return []string{fmt.Sprintf("CREATE TABLE %s (%s)", c.Table, strings.Join(defs, ", "))}
}

func (c CreateTableChange) Inverse() ([]domain.Change, bool) {
	return []domain.Change{DropTableChange{Table: c.Table}}, true
}

type DropTableChange struct {
	Table   string
	Cascade bool
}

func (c DropTableChange) Description() string {
	return "dropTable " + c.Table
}

func (c DropTableChange) Statements() []string {
	stmt := "DROP TABLE " + c.Table
	if c.Cascade {
		stmt += " CASCADE"
	}
	return []string{stmt}
}

func (c DropTableChange) Inverse() ([]domain.Change, bool) {
	return nil, false
}

type AddColumnChange struct {
	Table   string
	Columns []Column
}

func (c AddColumnChange) Description() string {
	names := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		names[i] = col.Name
	}
	return fmt.Sprintf("addColumn %s(%s)", c.Table, strings.Join(names, ", "))
}

func (c AddColumnChange) Statements() []string {
	statements := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		statements[i] = fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.Table, col.definition(true))
	}
	return statements
}

func (c AddColumnChange) Inverse() ([]domain.Change, bool) {
	inverse := make([]domain.Change, 0, len(c.Columns))
	for i := len(c.Columns) - 1; i >= 0; i-- {
		inverse = append(inverse, DropColumnChange{Table: c.Table, Column: c.Columns[i].Name})
	}
	return inverse, true
}

type DropColumnChange struct {
	Table  string
	Column string
}

func (c DropColumnChange) Description() string {
	return fmt.Sprintf("dropColumn %s.%s", c.Table, c.Column)
}

func (c DropColumnChange) Statements() []string {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", c.Table, c.Column)}
}

func (c DropColumnChange) Inverse() ([]domain.Change, bool) {
	return nil, false
}

type CreateIndexChange struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

func (c CreateIndexChange) Description() string {
	return "createIndex " + c.Name
}

func (c CreateIndexChange) Statements() []string {
	unique := ""
	if c.Unique {
		unique = "UNIQUE "
	}
	return []string{fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, c.Name, c.Table, strings.Join(c.Columns, ", "))}
}

func (c CreateIndexChange) Inverse() ([]domain.Change, bool) {
	return []domain.Change{DropIndexChange{Name: c.Name, Table: c.Table}}, true
}

type DropIndexChange struct {
	Name  string
	Table string
}

func (c DropIndexChange) Description() string {
	return "dropIndex " + c.Name
}

func (c DropIndexChange) Statements() []string {
	return []string{"DROP INDEX " + c.Name}
}

func (c DropIndexChange) Inverse() ([]domain.Change, bool) {
	return nil, false
}
