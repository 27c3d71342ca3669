package domain

import (
	"context"
	"database/sql"
)

// ConnectionProvider hands out scoped connections. The caller must close them.
type ConnectionProvider interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// MigrationEngine is the collaborator that parses and executes changelogs.
type MigrationEngine interface {
	Database(ctx context.Context, conn *sql.Conn) (Database, error)
	LoadChangelog(path string) (*DatabaseChangeLog, error)
	IsApplied(ctx context.Context, db Database, cs *ChangeSet) (bool, error)
	Update(ctx context.Context, db Database, changelog *DatabaseChangeLog) error
	RollbackLast(ctx context.Context, db Database, n int, changelog *DatabaseChangeLog) error
}

// Reporter writes human readable status lines.
type Reporter interface {
	Applying(id string)
	AlreadyApplied(id string)
	NotFound(id string)
	Applied(id string)
	RollingBack(id string)
	RolledBack(id string)
	RollbackUnsupported(id string)
	Error(id string, err error)
}
