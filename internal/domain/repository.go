package domain

import (
	"context"
	"database/sql"
	"time"
)

// Executor is satisfied by *sql.Conn and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	ExecTypeExecuted = "EXECUTED"
)

// RanChangeSet is one row of the ledger.
type RanChangeSet struct {
	ID            string
	Author        string
	FilePath      string
	DateExecuted  time.Time
	OrderExecuted int
	ExecType      string
	Checksum      string
	Description   string
	DeploymentID  string
}

// LedgerRepository persists which changesets ran against a database.
type LedgerRepository interface {
	Ensure(ctx context.Context) error
	RanChangeSets(ctx context.Context) ([]RanChangeSet, error)
	Find(ctx context.Context, cs *ChangeSet) (*RanChangeSet, error)
	MarkRan(ctx context.Context, exec Executor, ran RanChangeSet) error
	Remove(ctx context.Context, exec Executor, cs *ChangeSet) error
}

// Database is the engine's view of one scoped connection.
type Database interface {
	LedgerRepository
	// ShortName identifies the backend, e.g. "postgresql" or "sqlite".
	ShortName() string
	// Lock serialises changelog operations against this database.
	Lock(ctx context.Context) (release func(), err error)
	// BeginTx starts a transaction on the scoped connection.
	BeginTx(ctx context.Context) (*sql.Tx, error)
	// Executor runs statements outside of a transaction.
	Executor() Executor
}
