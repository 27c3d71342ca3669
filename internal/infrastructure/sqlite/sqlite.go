package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"changesetrunner/internal/domain"
	"changesetrunner/internal/infrastructure/ledger"
)

const ShortName = "sqlite"

type Database struct {
	*ledger.Repository
	conn *sql.Conn
}

func NewDatabase(conn *sql.Conn) domain.Database {
	return &Database{
		Repository: ledger.NewRepository(conn, ledger.QuestionMark),
		conn:       conn,
	}
}

func (db *Database) ShortName() string {
	return ShortName
}

// Lock only honours cancellation. SQLite allows a single writer and the file
// lock taken by each write transaction already serialises runners.
func (db *Database) Lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "acquire sqlite lock")
	}
	return func() {}, nil
}

func (db *Database) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return db.conn.BeginTx(ctx, nil)
}

func (db *Database) Executor() domain.Executor {
	return db.conn
}
