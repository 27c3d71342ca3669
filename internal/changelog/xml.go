package changelog

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"changesetrunner/internal/domain"
)

// xmlElement is a generic element tree. Changelog XML is schema driven and
// mixes text and child changes inside <rollback>, so it is walked by hand.
type xmlElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Text     string       `xml:",chardata"`
	Children []xmlElement `xml:",any"`
}

func (e *xmlElement) attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (e *xmlElement) optionalAttr(name string) *string {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			v := a.Value
			return &v
		}
	}
	return nil
}

func (e *xmlElement) boolAttr(name string, def bool) (bool, error) {
	v := e.attr(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(ErrInvalidChange, "<%s %s=%q>", e.XMLName.Local, name, v)
	}
	return b, nil
}

func (e *xmlElement) columns() ([]columnSpec, error) {
	var specs []columnSpec
	for i := range e.Children {
		child := &e.Children[i]
		if child.XMLName.Local != "column" {
			continue
		}
		spec := columnSpec{
			Name:                 child.attr("name"),
			Type:                 child.attr("type"),
			DefaultValue:         child.optionalAttr("defaultValue"),
			DefaultValueNumeric:  child.optionalAttr("defaultValueNumeric"),
			DefaultValueBoolean:  child.optionalAttr("defaultValueBoolean"),
			DefaultValueComputed: child.optionalAttr("defaultValueComputed"),
		}
		for j := range child.Children {
			cons := &child.Children[j]
			if cons.XMLName.Local != "constraints" {
				continue
			}
			var err error
			if spec.PrimaryKey, err = cons.boolAttr("primaryKey", false); err != nil {
				return nil, err
			}
			if spec.Unique, err = cons.boolAttr("unique", false); err != nil {
				return nil, err
			}
			if cons.attr("nullable") != "" {
				nullable, err := cons.boolAttr("nullable", true)
				if err != nil {
					return nil, err
				}
				spec.Nullable = &nullable
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (p *Parser) parseXML(name string, data []byte, st *parseState) error {
	var root xmlElement
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return errors.Wrapf(err, "parse changelog %s", name)
	}
	if root.XMLName.Local != "databaseChangeLog" {
		return errors.Wrapf(ErrUnknownFormat, "%s: root element is <%s>", name, root.XMLName.Local)
	}

	for i := range root.Children {
		el := &root.Children[i]
		switch el.XMLName.Local {
		case "changeSet":
			cs, err := p.xmlChangeSet(name, el)
			if err != nil {
				return err
			}
			if err := st.add(cs); err != nil {
				return err
			}
		case "include":
			file := el.attr("file")
			if file == "" {
				return errors.Errorf("%s: include without file", name)
			}
			relative, err := el.boolAttr("relativeToChangelogFile", false)
			if err != nil {
				return errors.Wrap(err, name)
			}
			if err := p.parseFile(resolve(name, file, relative), st); err != nil {
				return err
			}
		case "includeAll":
			relative, err := el.boolAttr("relativeToChangelogFile", false)
			if err != nil {
				return errors.Wrap(err, name)
			}
			if err := p.includeAll(resolve(name, el.attr("path"), relative), st); err != nil {
				return err
			}
		default:
			p.logger.WithFields(log.Fields{"file": name, "element": el.XMLName.Local}).Debug("changelog element ignored")
		}
	}
	return nil
}

func (p *Parser) xmlChangeSet(name string, el *xmlElement) (*domain.ChangeSet, error) {
	id, author := el.attr("id"), el.attr("author")
	if id == "" || author == "" {
		return nil, errors.Wrapf(ErrInvalidChangeSet, "%s: changeset needs id and author (id=%q author=%q)", name, id, author)
	}
	inTx, err := el.boolAttr("runInTransaction", true)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: changeset %s", name, id)
	}

	cs := &domain.ChangeSet{ID: id, Author: author, FilePath: name, RunInTransaction: inTx}
	for i := range el.Children {
		child := &el.Children[i]
		switch child.XMLName.Local {
		case "comment":
			cs.Comment = strings.TrimSpace(child.Text)
		case "preConditions", "validCheckSum":
		case "rollback":
			rollback, err := p.xmlRollback(name, child)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: changeset %s rollback", name, id)
			}
			cs.Rollback = append(cs.Rollback, rollback...)
			cs.RollbackDefined = true
		default:
			change, err := p.xmlChange(name, child)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: changeset %s", name, id)
			}
			cs.Changes = append(cs.Changes, change)
		}
	}
	if len(cs.Changes) == 0 {
		return nil, errors.Wrapf(ErrInvalidChangeSet, "%s: changeset %s has no changes", name, id)
	}
	return cs, nil
}

// xmlRollback accepts raw SQL text, nested changes, or both. An empty
// element declares a rollback that does nothing.
func (p *Parser) xmlRollback(name string, el *xmlElement) ([]domain.Change, error) {
	if ref := el.attr("changeSetId"); ref != "" {
		return nil, errors.Wrapf(ErrInvalidChange, "rollback by changeSetId=%q reference is not supported", ref)
	}
	var changes []domain.Change
	if sql := strings.TrimSpace(el.Text); sql != "" {
		changes = append(changes, SQLChange{SQL: sql, Split: true})
	}
	for i := range el.Children {
		change, err := p.xmlChange(name, &el.Children[i])
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func (p *Parser) xmlChange(name string, el *xmlElement) (domain.Change, error) {
	kind := el.XMLName.Local
	split, err := el.boolAttr("splitStatements", true)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "sql":
		if strings.TrimSpace(el.Text) == "" {
			return nil, errors.Wrap(ErrInvalidChange, "sql change without sql")
		}
		return SQLChange{SQL: el.Text, Split: split}, nil

	case "sqlFile":
		path := el.attr("path")
		if path == "" {
			return nil, errors.Wrap(ErrInvalidChange, "sqlFile without path")
		}
		relative, err := el.boolAttr("relativeToChangelogFile", false)
		if err != nil {
			return nil, err
		}
		content, err := p.readSQLFile(resolve(name, path, relative))
		if err != nil {
			return nil, err
		}
		return SQLChange{SQL: content, Split: split}, nil

	case "createTable", "addColumn":
		table := el.attr("tableName")
		if table == "" {
			return nil, errors.Wrapf(ErrInvalidChange, "%s without tableName", kind)
		}
		specs, err := el.columns()
		if err != nil {
			return nil, err
		}
		columns, err := columnsOf(kind, specs)
		if err != nil {
			return nil, err
		}
		if kind == "createTable" {
			return CreateTableChange{Table: table, Columns: columns}, nil
		}
		return AddColumnChange{Table: table, Columns: columns}, nil

	case "dropTable":
		table := el.attr("tableName")
		if table == "" {
			return nil, errors.Wrap(ErrInvalidChange, "dropTable without tableName")
		}
		cascade, err := el.boolAttr("cascadeConstraints", false)
		if err != nil {
			return nil, err
		}
		return DropTableChange{Table: table, Cascade: cascade}, nil

	case "dropColumn":
		table, column := el.attr("tableName"), el.attr("columnName")
		if table == "" || column == "" {
			return nil, errors.Wrap(ErrInvalidChange, "dropColumn needs tableName and columnName")
		}
		return DropColumnChange{Table: table, Column: column}, nil

	case "createIndex":
		index, table := el.attr("indexName"), el.attr("tableName")
		specs, err := el.columns()
		if err != nil {
			return nil, err
		}
		if index == "" || table == "" || len(specs) == 0 {
			return nil, errors.Wrap(ErrInvalidChange, "createIndex needs indexName, tableName and columns")
		}
		unique, err := el.boolAttr("unique", false)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(specs))
		for i, spec := range specs {
			names[i] = spec.Name
		}
		return CreateIndexChange{Name: index, Table: table, Columns: names, Unique: unique}, nil

	case "dropIndex":
		index := el.attr("indexName")
		if index == "" {
			return nil, errors.Wrap(ErrInvalidChange, "dropIndex without indexName")
		}
		return DropIndexChange{Name: index, Table: el.attr("tableName")}, nil
	}
	return nil, errors.Wrapf(ErrInvalidChange, "unsupported change type %q", kind)
}
