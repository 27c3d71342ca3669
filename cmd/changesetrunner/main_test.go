package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliChangelog = `
databaseChangeLog:
  - changeSet:
      id: "1"
      author: alice
      changes:
        - createTable:
            tableName: users
            columns:
              - column: {name: id, type: INTEGER}
  - changeSet:
      id: "2"
      author: alice
      changes:
        - sql: INSERT INTO nowhere VALUES (1)
`

type cliRun struct {
	code   int
	stdout string
	stderr string
}

func newWorkspace(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "db"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db", "changelog.yaml"), []byte(cliChangelog), 0o644))
	return dir, []string{
		"--driver", "sqlite",
		"--url", filepath.Join(dir, "test.db"),
		"--search-path", dir,
		"--changelog", "db/changelog.yaml",
	}
}

func runCLI(env map[string]string, args ...string) cliRun {
	var stdout, stderr bytes.Buffer
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	code := execute(context.Background(), args, &stdout, &stderr, lookup)
	return cliRun{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestApplyAndRollBack(t *testing.T) {
	_, common := newWorkspace(t)

	res := runCLI(nil, append(common, "--changeset-id", "1", "--rollback")...)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Changeset applied successfully: 1")
	assert.Contains(t, res.stdout, "Changeset rolled back successfully: 1")
}

func TestChangeSetIDFromEnvironment(t *testing.T) {
	_, common := newWorkspace(t)

	res := runCLI(map[string]string{"CHANGESET_ID": "1"}, append([]string{"run"}, common...)...)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Changeset applied successfully: 1")

	res = runCLI(map[string]string{"CHANGESET_ID": "1"}, common...)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Changeset already applied, skipped: 1")
}

func TestExitCodes(t *testing.T) {
	_, common := newWorkspace(t)

	res := runCLI(nil, append(common, "--changeset-id", "404")...)
	assert.Equal(t, 2, res.code)
	assert.Contains(t, res.stderr, "Changeset not found: 404")

	res = runCLI(nil, append(common, "--changeset-id", "2")...)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error applying 2:")

	res = runCLI(nil, common...)
	assert.Equal(t, exitUsage, res.code)
	assert.Contains(t, res.stderr, "changeset id is required")

	res = runCLI(nil, append(common, "--changeset-id", "1", "--driver", "oracle")...)
	assert.Equal(t, exitUsage, res.code)

	res = runCLI(map[string]string{"ROLLBACK_ENABLED": "sometimes"}, append(common, "--changeset-id", "1")...)
	assert.Equal(t, exitUsage, res.code)
}

func TestJSONOutput(t *testing.T) {
	_, common := newWorkspace(t)

	res := runCLI(nil, append(common, "--changeset-id", "1", "--output", "json")...)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stderr, "Changeset applied successfully: 1", "status lines move to stderr")

	var out jsonResult
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, jsonResult{ChangeSetID: "1", Outcome: "applied", ExitCode: 0}, out)

	res = runCLI(nil, append(common, "--changeset-id", "2", "--output", "json")...)
	require.Equal(t, 1, res.code)
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "failed", out.Outcome)
	assert.Contains(t, out.Error, "error applying 2:")
}

func TestStatus(t *testing.T) {
	_, common := newWorkspace(t)
	require.Equal(t, 0, runCLI(nil, append(common, "--changeset-id", "1")...).code)

	res := runCLI(nil, append([]string{"status"}, common...)...)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Regexp(t, `(?m)^1\s+alice\s+db/changelog.yaml\s+applied\s+\d{4}-`, res.stdout)
	assert.Regexp(t, `(?m)^2\s+alice\s+db/changelog.yaml\s+pending\s+-`, res.stdout)

	res = runCLI(nil, append([]string{"status", "--output", "json"}, common...)...)
	require.Equal(t, 0, res.code, res.stderr)
	var statuses []jsonStatus
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &statuses))
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.NotNil(t, statuses[0].DateExecuted)
	assert.False(t, statuses[1].Applied)
}

func TestCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "changes")

	res := runCLI(nil, "create", "add_users", "--dir", dir, "--author", "alice")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Generated new changelog file: "+dir)

	files, err := filepath.Glob(filepath.Join(dir, "*_add_users.sql"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	res = runCLI(nil, "create", "bad name", "--dir", dir, "--author", "alice")
	assert.Equal(t, 1, res.code)
}

func TestChangelogRoot(t *testing.T) {
	root, rel := changelogRoot("", "db/../db/changelog.yaml")
	assert.Equal(t, ".", root)
	assert.Equal(t, "db/changelog.yaml", rel)

	root, rel = changelogRoot("/srv/app", "changelog.yaml")
	assert.Equal(t, "/srv/app", root)
	assert.Equal(t, "changelog.yaml", rel)

	abs := filepath.Join(t.TempDir(), "changelog.yaml")
	root, rel = changelogRoot("/ignored", abs)
	assert.Equal(t, abs, filepath.Join(root, filepath.FromSlash(rel)))
}
