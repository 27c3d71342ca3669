package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"changesetrunner/internal/domain"
)

const TableName = "databasechangelog"

const createTableSQL = `CREATE TABLE IF NOT EXISTS databasechangelog (
	id VARCHAR(255) NOT NULL,
	author VARCHAR(255) NOT NULL,
	filename VARCHAR(255) NOT NULL,
	dateexecuted TIMESTAMP NOT NULL,
	orderexecuted INTEGER NOT NULL,
	exectype VARCHAR(10) NOT NULL,
	checksum VARCHAR(80),
	description VARCHAR(255),
	deployment_id VARCHAR(36),
	PRIMARY KEY (id, author, filename)
)`

// Placeholder renders the n-th (1-based) bind parameter of a dialect.
type Placeholder func(n int) string

func QuestionMark(int) string { return "?" }

func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Repository implements domain.LedgerRepository over a scoped connection.
type Repository struct {
	conn        *sql.Conn
	placeholder Placeholder
}

func NewRepository(conn *sql.Conn, placeholder Placeholder) *Repository {
	return &Repository{conn: conn, placeholder: placeholder}
}

// rebind replaces every "?" in query with the dialect placeholder.
func (repo *Repository) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(repo.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (repo *Repository) Ensure(ctx context.Context) error {
	if _, err := repo.conn.ExecContext(ctx, createTableSQL); err != nil {
		return errors.Wrap(err, "create "+TableName+" table")
	}
	return nil
}

func (repo *Repository) RanChangeSets(ctx context.Context) ([]domain.RanChangeSet, error) {
	rows, err := repo.conn.QueryContext(ctx, `SELECT id, author, filename, dateexecuted, orderexecuted, exectype,
		COALESCE(checksum, ''), COALESCE(description, ''), COALESCE(deployment_id, '')
		FROM databasechangelog ORDER BY orderexecuted`)
	if err != nil {
		return nil, errors.Wrap(err, "query "+TableName)
	}
	defer rows.Close()

	var ran []domain.RanChangeSet
	for rows.Next() {
		var r domain.RanChangeSet
		if err := rows.Scan(&r.ID, &r.Author, &r.FilePath, &r.DateExecuted, &r.OrderExecuted,
			&r.ExecType, &r.Checksum, &r.Description, &r.DeploymentID); err != nil {
			return nil, errors.Wrap(err, "scan "+TableName)
		}
		ran = append(ran, r)
	}
	return ran, rows.Err()
}

// Find returns nil when the changeset never ran.
func (repo *Repository) Find(ctx context.Context, cs *domain.ChangeSet) (*domain.RanChangeSet, error) {
	query := repo.rebind(`SELECT id, author, filename, dateexecuted, orderexecuted, exectype,
		COALESCE(checksum, ''), COALESCE(description, ''), COALESCE(deployment_id, '')
		FROM databasechangelog WHERE id = ? AND author = ? AND filename = ?`)

	var r domain.RanChangeSet
	err := repo.conn.QueryRowContext(ctx, query, cs.ID, cs.Author, cs.FilePath).Scan(
		&r.ID, &r.Author, &r.FilePath, &r.DateExecuted, &r.OrderExecuted,
		&r.ExecType, &r.Checksum, &r.Description, &r.DeploymentID)
	switch err {
	case nil:
		return &r, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, errors.Wrapf(err, "find %s in %s", cs, TableName)
	}
}

// MarkRan records ran with the next orderexecuted. DateExecuted defaults to now.
func (repo *Repository) MarkRan(ctx context.Context, exec domain.Executor, ran domain.RanChangeSet) error {
	if ran.DateExecuted.IsZero() {
		ran.DateExecuted = time.Now().UTC()
	}
	if ran.ExecType == "" {
		ran.ExecType = domain.ExecTypeExecuted
	}
	var order int
	if err := exec.QueryRowContext(ctx, `SELECT COALESCE(MAX(orderexecuted), 0) + 1 FROM databasechangelog`).Scan(&order); err != nil {
		return errors.Wrap(err, "next orderexecuted")
	}

	query := repo.rebind(`INSERT INTO databasechangelog
		(id, author, filename, dateexecuted, orderexecuted, exectype, checksum, description, deployment_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := exec.ExecContext(ctx, query,
		ran.ID, ran.Author, ran.FilePath, ran.DateExecuted, order,
		ran.ExecType, ran.Checksum, truncate(ran.Description, 255), ran.DeploymentID)
	if err != nil {
		return errors.Wrapf(err, "insert %s::%s::%s into %s", ran.FilePath, ran.ID, ran.Author, TableName)
	}
	return nil
}

func (repo *Repository) Remove(ctx context.Context, exec domain.Executor, cs *domain.ChangeSet) error {
	query := repo.rebind(`DELETE FROM databasechangelog WHERE id = ? AND author = ? AND filename = ?`)
	if _, err := exec.ExecContext(ctx, query, cs.ID, cs.Author, cs.FilePath); err != nil {
		return errors.Wrapf(err, "delete %s from %s", cs, TableName)
	}
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
