package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"changesetrunner/internal/domain"
	"changesetrunner/internal/infrastructure/ledger"
)

const ShortName = "postgresql"

// lockKey is the advisory lock name shared by every runner on the same server.
const lockKey = "changesetrunner.databasechangeloglock"

type Database struct {
	*ledger.Repository
	conn   *sql.Conn
	logger log.FieldLogger
}

func NewDatabase(conn *sql.Conn, logger log.FieldLogger) domain.Database {
	return &Database{
		Repository: ledger.NewRepository(conn, ledger.Dollar),
		conn:       conn,
		logger:     logger,
	}
}

func (db *Database) ShortName() string {
	return ShortName
}

// Lock takes a session level advisory lock. It is held by the scoped
// connection, so release must run before the connection is closed.
func (db *Database) Lock(ctx context.Context) (func(), error) {
	id := LockID(lockKey)
	if _, err := db.conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, id); err != nil {
		return nil, errors.Wrapf(err, "pg_advisory_lock(%d)", id)
	}
	release := func() {
		if _, err := db.conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, id); err != nil {
			db.logger.WithError(err).Warn("release advisory lock")
		}
	}
	return release, nil
}

func (db *Database) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return db.conn.BeginTx(ctx, nil)
}

func (db *Database) Executor() domain.Executor {
	return db.conn
}

// LockID hashes key to a positive int64 with FNV-1a.
func LockID(key string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF)
}
