package changelog

import (
	"testing"
	"testing/fstest"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(files fstest.MapFS) *Parser {
	logger, _ := test.NewNullLogger()
	return NewParser(files, logger)
}

func file(content string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(content)}
}

const usersChangelog = `
databaseChangeLog:
  - changeSet:
      id: "1"
      author: alice
      comment: users table
      changes:
        - createTable:
            tableName: users
            columns:
              - column:
                  name: id
                  type: INTEGER
                  constraints:
                    primaryKey: true
              - column:
                  name: name
                  type: VARCHAR(50)
                  defaultValue: o'neil
                  constraints:
                    nullable: false
  - changeSet:
      id: 2
      author: bob
      runInTransaction: false
      changes:
        - sql: INSERT INTO users (id) VALUES (1); INSERT INTO users (id) VALUES (2)
      rollback: DELETE FROM users
  - include:
      file: more.yaml
      relativeToChangelogFile: true
`

const moreChangelog = `
databaseChangeLog:
  - changeSet:
      id: "3"
      author: alice
      changes:
        - addColumn:
            tableName: users
            columns:
              - column:
                  name: age
                  type: INTEGER
                  defaultValueNumeric: 0
        - createIndex:
            indexName: idx_users_age
            tableName: users
            columns:
              - column:
                  name: age
`

func TestParseYAML(t *testing.T) {
	p := newTestParser(fstest.MapFS{
		"db/changelog.yaml": file(usersChangelog),
		"db/more.yaml":      file(moreChangelog),
	})

	log, err := p.Parse("db/changelog.yaml")
	require.NoError(t, err)
	assert.Equal(t, "db/changelog.yaml", log.PhysicalPath)

	sets := log.ChangeSets()
	require.Len(t, sets, 3)

	first := sets[0]
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "alice", first.Author)
	assert.Equal(t, "db/changelog.yaml", first.FilePath)
	assert.Equal(t, "users table", first.Comment)
	assert.True(t, first.RunInTransaction)
	assert.Equal(t, []string{
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name VARCHAR(50) DEFAULT 'o''neil' NOT NULL)",
	}, first.Statements())
	rollback, ok := first.RollbackStatements()
	require.True(t, ok)
	assert.Equal(t, []string{"DROP TABLE users"}, rollback)

	second := sets[1]
	assert.Equal(t, "2", second.ID)
	assert.False(t, second.RunInTransaction)
	assert.Len(t, second.Statements(), 2)
	rollback, ok = second.RollbackStatements()
	require.True(t, ok)
	assert.Equal(t, []string{"DELETE FROM users"}, rollback)

	third := sets[2]
	assert.Equal(t, "db/more.yaml", third.FilePath)
	assert.Equal(t, []string{
		"ALTER TABLE users ADD COLUMN age INTEGER DEFAULT 0",
		"CREATE INDEX idx_users_age ON users (age)",
	}, third.Statements())
	rollback, ok = third.RollbackStatements()
	require.True(t, ok)
	assert.Equal(t, []string{"DROP INDEX idx_users_age", "ALTER TABLE users DROP COLUMN age"}, rollback)
}

func TestParseJSON(t *testing.T) {
	p := newTestParser(fstest.MapFS{
		"changelog.json": file(`{"databaseChangeLog": [{"changeSet": {"id": "j1", "author": "x", "changes": [{"sql": {"sql": "SELECT 1; SELECT 2", "splitStatements": false}}]}}]}`),
	})

	log, err := p.Parse("changelog.json")
	require.NoError(t, err)
	cs, ok := log.Find("j1")
	require.True(t, ok)
	assert.Equal(t, []string{"SELECT 1; SELECT 2"}, cs.Statements())
	_, ok = cs.RollbackStatements()
	assert.False(t, ok, "raw sql has no automatic rollback")
}

func TestParseIncludeAll(t *testing.T) {
	p := newTestParser(fstest.MapFS{
		"changelog.yaml": file(`
databaseChangeLog:
  - includeAll:
      path: parts
`),
		"parts/b.sql": file("--liquibase formatted sql\n--changeset bob:b\nSELECT 1;\n"),
		"parts/a.yaml": file(`
databaseChangeLog:
  - changeSet:
      id: a
      author: alice
      changes:
        - dropTable:
            tableName: old
            cascadeConstraints: true
`),
		"parts/notes.txt": file("ignored"),
	})

	log, err := p.Parse("changelog.yaml")
	require.NoError(t, err)
	sets := log.ChangeSets()
	require.Len(t, sets, 2)
	assert.Equal(t, "parts/a.yaml", sets[0].FilePath)
	assert.Equal(t, []string{"DROP TABLE old CASCADE"}, sets[0].Statements())
	assert.Equal(t, "parts/b.sql", sets[1].FilePath)
}

func TestParseSQLFile(t *testing.T) {
	p := newTestParser(fstest.MapFS{
		"db/changelog.yaml": file(`
databaseChangeLog:
  - changeSet:
      id: seed
      author: alice
      changes:
        - sqlFile:
            path: sql/seed.sql
            relativeToChangelogFile: true
      rollback:
        - sql: DELETE FROM users
        - dropTable:
            tableName: audit
`),
		"db/sql/seed.sql": file("-- seed\nINSERT INTO users VALUES (1, 'a;b');\nINSERT INTO users VALUES (2, 'c');\n"),
	})

	log, err := p.Parse("db/changelog.yaml")
	require.NoError(t, err)
	cs, ok := log.Find("seed")
	require.True(t, ok)
	assert.Equal(t, []string{
		"-- seed\nINSERT INTO users VALUES (1, 'a;b')",
		"INSERT INTO users VALUES (2, 'c')",
	}, cs.Statements())
	rollback, ok := cs.RollbackStatements()
	require.True(t, ok)
	assert.Equal(t, []string{"DELETE FROM users", "DROP TABLE audit"}, rollback)
}

func TestParseEmptyRollback(t *testing.T) {
	p := newTestParser(fstest.MapFS{
		"changelog.yaml": file(`
databaseChangeLog:
  - changeSet:
      id: "1"
      author: alice
      changes:
        - sql: UPDATE users SET name = 'x'
      rollback: ""
`),
	})

	log, err := p.Parse("changelog.yaml")
	require.NoError(t, err)
	statements, ok := log.ChangeSets()[0].RollbackStatements()
	assert.True(t, ok)
	assert.Empty(t, statements)
}

func TestParseFormattedSQL(t *testing.T) {
	p := newTestParser(fstest.MapFS{
		"changelog.sql": file(`--liquibase formatted sql

--changeset alice:1
--comment: users table
CREATE TABLE users (id INT);
--rollback DROP TABLE users;

--changeset bob:2 runInTransaction:false splitStatements:false
INSERT INTO users VALUES (1);
INSERT INTO users VALUES (2);
--rollback not required

--changeset bob:3
DELETE FROM users;
`),
	})

	log, err := p.Parse("changelog.sql")
	require.NoError(t, err)
	sets := log.ChangeSets()
	require.Len(t, sets, 3)

	assert.Equal(t, "alice", sets[0].Author)
	assert.Equal(t, "users table", sets[0].Comment)
	assert.Equal(t, []string{"CREATE TABLE users (id INT)"}, sets[0].Statements())
	rollback, ok := sets[0].RollbackStatements()
	require.True(t, ok)
	assert.Equal(t, []string{"DROP TABLE users"}, rollback)

	assert.False(t, sets[1].RunInTransaction)
	assert.Equal(t, []string{"INSERT INTO users VALUES (1);\nINSERT INTO users VALUES (2);"}, sets[1].Statements())
	rollback, ok = sets[1].RollbackStatements()
	require.True(t, ok)
	assert.Empty(t, rollback)

	_, ok = sets[2].RollbackStatements()
	assert.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name  string
		files fstest.MapFS
		entry string
		want  error
	}{
		{
			name:  "unknown extension",
			files: fstest.MapFS{"changelog.toml": file("[databaseChangeLog]")},
			entry: "changelog.toml",
			want:  ErrUnknownFormat,
		},
		{
			name:  "sql without header",
			files: fstest.MapFS{"changelog.sql": file("CREATE TABLE a (id INT);")},
			entry: "changelog.sql",
			want:  ErrUnknownFormat,
		},
		{
			name: "duplicate changeset",
			files: fstest.MapFS{"changelog.yaml": file(`
databaseChangeLog:
  - changeSet: {id: "1", author: a, changes: [{sql: SELECT 1}]}
  - changeSet: {id: "1", author: a, changes: [{sql: SELECT 2}]}
`)},
			entry: "changelog.yaml",
			want:  ErrDuplicate,
		},
		{
			name: "include cycle",
			files: fstest.MapFS{
				"a.yaml": file("databaseChangeLog:\n  - include: {file: b.yaml}\n"),
				"b.yaml": file("databaseChangeLog:\n  - include: {file: a.yaml}\n"),
			},
			entry: "a.yaml",
			want:  ErrIncludeCycle,
		},
		{
			name: "unsupported change",
			files: fstest.MapFS{"changelog.yaml": file(`
databaseChangeLog:
  - changeSet: {id: "1", author: a, changes: [{renameTable: {oldTableName: a, newTableName: b}}]}
`)},
			entry: "changelog.yaml",
			want:  ErrInvalidChange,
		},
		{
			name: "missing author",
			files: fstest.MapFS{"changelog.yaml": file(`
databaseChangeLog:
  - changeSet: {id: "1", changes: [{sql: SELECT 1}]}
`)},
			entry: "changelog.yaml",
			want:  ErrInvalidChangeSet,
		},
		{
			name: "no changes",
			files: fstest.MapFS{"changelog.yaml": file(`
databaseChangeLog:
  - changeSet: {id: "1", author: a}
`)},
			entry: "changelog.yaml",
			want:  ErrInvalidChangeSet,
		},
		{
			name:  "formatted changeset without sql",
			files: fstest.MapFS{"changelog.sql": file("--liquibase formatted sql\n--changeset a:1\n--rollback SELECT 1\n")},
			entry: "changelog.sql",
			want:  ErrInvalidChangeSet,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestParser(tc.files).Parse(tc.entry)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseMissingFile(t *testing.T) {
	_, err := newTestParser(fstest.MapFS{}).Parse("missing.yaml")
	assert.Error(t, err)
}

func TestSameIDDifferentAuthors(t *testing.T) {
	p := newTestParser(fstest.MapFS{"changelog.yaml": file(`
databaseChangeLog:
  - changeSet: {id: "1", author: alice, changes: [{sql: SELECT 1}]}
  - changeSet: {id: "1", author: bob, changes: [{sql: SELECT 2}]}
`)})

	log, err := p.Parse("/changelog.yaml")
	require.NoError(t, err)
	require.Len(t, log.ChangeSets(), 2)

	cs, ok := log.Find("1")
	require.True(t, ok)
	assert.Equal(t, "alice", cs.Author, "first declared changeset wins")
}

func TestParseXML(t *testing.T) {
	p := newTestParser(fstest.MapFS{
		"db/changelog.xml": file(`<?xml version="1.0" encoding="UTF-8"?>
<databaseChangeLog
        xmlns="http://www.liquibase.org/xml/ns/dbchangelog"
        xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
    <property name="ignored" value="x"/>
    <changeSet id="001-create-users" author="alice">
        <comment>users table</comment>
        <createTable tableName="users">
            <column name="id" type="INTEGER">
                <constraints primaryKey="true"/>
            </column>
            <column name="active" type="BOOLEAN" defaultValueBoolean="true">
                <constraints nullable="false"/>
            </column>
        </createTable>
    </changeSet>
    <changeSet id="002-seed" author="bob" runInTransaction="false">
        <sql splitStatements="false"><![CDATA[INSERT INTO users (id) VALUES (1); INSERT INTO users (id) VALUES (2)]]></sql>
        <rollback>
            DELETE FROM users;
            <dropIndex indexName="idx_users_active"/>
        </rollback>
    </changeSet>
    <changeSet id="003-noop-rollback" author="bob">
        <dropColumn tableName="users" columnName="active"/>
        <rollback/>
    </changeSet>
    <include file="more.yaml" relativeToChangelogFile="true"/>
</databaseChangeLog>
`),
		"db/more.yaml": file(moreChangelog),
	})

	log, err := p.Parse("classpath:db/changelog.xml")
	require.NoError(t, err)
	assert.Equal(t, "db/changelog.xml", log.PhysicalPath)
	sets := log.ChangeSets()
	require.Len(t, sets, 4)

	first := sets[0]
	assert.Equal(t, "001-create-users", first.ID)
	assert.Equal(t, "users table", first.Comment)
	assert.Equal(t, []string{
		"CREATE TABLE users (id INTEGER PRIMARY KEY, active BOOLEAN DEFAULT true NOT NULL)",
	}, first.Statements())
	rollback, ok := first.RollbackStatements()
	require.True(t, ok)
	assert.Equal(t, []string{"DROP TABLE users"}, rollback)

	second := sets[1]
	assert.False(t, second.RunInTransaction)
	assert.Equal(t, []string{"INSERT INTO users (id) VALUES (1); INSERT INTO users (id) VALUES (2)"}, second.Statements())
	rollback, ok = second.RollbackStatements()
	require.True(t, ok)
	assert.Equal(t, []string{"DELETE FROM users", "DROP INDEX idx_users_active"}, rollback)

	rollback, ok = sets[2].RollbackStatements()
	require.True(t, ok)
	assert.Empty(t, rollback)

	assert.Equal(t, "db/more.yaml", sets[3].FilePath)
}

func TestParseXMLErrors(t *testing.T) {
	cases := map[string]string{
		"wrong root":     `<changelog/>`,
		"missing author": `<databaseChangeLog><changeSet id="1"><sql>SELECT 1</sql></changeSet></databaseChangeLog>`,
		"unknown change": `<databaseChangeLog><changeSet id="1" author="a"><renameTable oldTableName="a" newTableName="b"/></changeSet></databaseChangeLog>`,
		"bad boolean":    `<databaseChangeLog><changeSet id="1" author="a" runInTransaction="sometimes"><sql>SELECT 1</sql></changeSet></databaseChangeLog>`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newTestParser(fstest.MapFS{"changelog.xml": file(doc)}).Parse("changelog.xml")
			assert.Error(t, err)
		})
	}
}

func TestParseNullRollbackIsUndefined(t *testing.T) {
	for _, value := range []string{"~", "null", ""} {
		t.Run("rollback:"+value, func(t *testing.T) {
			p := newTestParser(fstest.MapFS{
				"changelog.yaml": file(`
databaseChangeLog:
  - changeSet:
      id: "1"
      author: alice
      changes:
        - sql: CREATE TABLE t (id INT)
      rollback: ` + value + "\n"),
			})

			log, err := p.Parse("changelog.yaml")
			require.NoError(t, err)
			cs := log.ChangeSets()[0]
			assert.False(t, cs.RollbackDefined)
			_, ok := cs.RollbackStatements()
			assert.False(t, ok, "raw sql has no automatic rollback")
		})
	}
}

func TestParseXMLRejectsRollbackReference(t *testing.T) {
	p := newTestParser(fstest.MapFS{"changelog.xml": file(`<databaseChangeLog>
    <changeSet id="1" author="a"><sql>CREATE TABLE t (id INT)</sql></changeSet>
    <changeSet id="2" author="a">
        <sql>DROP TABLE t</sql>
        <rollback changeSetId="1" changeSetAuthor="a"/>
    </changeSet>
</databaseChangeLog>`)})

	_, err := p.Parse("changelog.xml")
	assert.ErrorIs(t, err, ErrInvalidChange)
	assert.Contains(t, err.Error(), "changeSetId")
}
