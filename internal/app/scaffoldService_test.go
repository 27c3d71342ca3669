package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changesetrunner/internal/changelog"
)

func TestScaffoldCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db", "changelog")
	logger, _ := test.NewNullLogger()
	svc := NewScaffoldService(dir, logger)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

	path, err := svc.Create("add_users", "alice")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240301123000_add_users.sql"), path)

	log, err := changelog.NewParser(os.DirFS(dir), logger).Parse("20240301123000_add_users.sql")
	require.NoError(t, err)
	cs, ok := log.Find("20240301123000-add_users")
	require.True(t, ok)
	assert.Equal(t, "alice", cs.Author)
	assert.Equal(t, "add_users", cs.Comment)
	assert.True(t, cs.RollbackDefined)

	_, err = svc.Create("add_users", "alice")
	assert.Error(t, err, "existing files are never overwritten")
}

func TestScaffoldCreateRejectsInput(t *testing.T) {
	logger, _ := test.NewNullLogger()
	svc := NewScaffoldService(t.TempDir(), logger)

	_, err := svc.Create("../escape", "alice")
	assert.Error(t, err)
	_, err = svc.Create("ok", "")
	assert.Error(t, err)

	for _, author := range []string{"John Doe", "team:db", "tab\there"} {
		_, err = svc.Create("ok", author)
		assert.Error(t, err, author)
	}
	entries, err := os.ReadDir(svc.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected input writes no file")
}
