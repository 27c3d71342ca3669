// Package engine executes changelogs against a database and keeps the ledger.
package engine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"changesetrunner/internal/changelog"
	"changesetrunner/internal/domain"
	"changesetrunner/internal/infrastructure/database"
)

var ErrNothingToRollBack = errors.New("no ran changeset to roll back")

type Engine struct {
	parser       *changelog.Parser
	logger       log.FieldLogger
	driverName   string
	deploymentID func() string
}

type Option func(*Engine)

// WithDriverName names the database/sql driver behind the connections the
// engine is handed. Without it the backend is detected from the connection.
func WithDriverName(name string) Option {
	return func(e *Engine) {
		e.driverName = name
	}
}

// New returns an engine that resolves changelog paths inside fsys.
func New(fsys fs.FS, logger log.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		parser:       changelog.NewParser(fsys, logger),
		logger:       logger,
		deploymentID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Database(_ context.Context, conn *sql.Conn) (domain.Database, error) {
	db, err := database.Resolve(conn, e.driverName, e.logger)
	if err != nil {
		return nil, err
	}
	e.logger.WithField("database", db.ShortName()).Debug("database resolved")
	return db, nil
}

func (e *Engine) LoadChangelog(path string) (*domain.DatabaseChangeLog, error) {
	return e.parser.Parse(path)
}

// IsApplied reports whether cs is recorded in the ledger.
func (e *Engine) IsApplied(ctx context.Context, db domain.Database, cs *domain.ChangeSet) (bool, error) {
	if err := db.Ensure(ctx); err != nil {
		return false, err
	}
	ran, err := db.Find(ctx, cs)
	if err != nil {
		return false, err
	}
	if ran == nil {
		return false, nil
	}
	if sum := Checksum(cs); ran.Checksum != "" && ran.Checksum != sum {
		e.logger.WithFields(log.Fields{
			"changeset": cs.ID,
			"stored":    ran.Checksum,
			"current":   sum,
		}).Warn("changeset was modified after it ran")
	}
	return true, nil
}

// Update applies every changeset of changelog that is not in the ledger yet.
func (e *Engine) Update(ctx context.Context, db domain.Database, changelog *domain.DatabaseChangeLog) error {
	release, err := db.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := db.Ensure(ctx); err != nil {
		return err
	}

	deployment := e.deploymentID()
	logger := e.logger.WithFields(log.Fields{
		"file":       changelog.PhysicalPath,
		"deployment": deployment,
	})

	count := 0
	for _, cs := range changelog.ChangeSets() {
		ran, err := db.Find(ctx, cs)
		if err != nil {
			return err
		}
		if ran != nil {
			logger.WithField("changeset", cs.ID).Debug("changeset already ran")
			continue
		}
		if err := e.apply(ctx, db, cs, deployment); err != nil {
			return errors.Wrapf(err, "changeset %s", cs)
		}
		logger.WithFields(log.Fields{"changeset": cs.ID, "author": cs.Author}).Info("changeset ran")
		count++
	}
	logger.WithField("count", count).Info("update complete")
	return nil
}

func (e *Engine) apply(ctx context.Context, db domain.Database, cs *domain.ChangeSet, deployment string) error {
	record := domain.RanChangeSet{
		ID:           cs.ID,
		Author:       cs.Author,
		FilePath:     cs.FilePath,
		ExecType:     domain.ExecTypeExecuted,
		Checksum:     Checksum(cs),
		Description:  cs.Description(),
		DeploymentID: deployment,
	}
	return e.run(ctx, db, cs.RunInTransaction, func(exec domain.Executor) error {
		if err := execAll(ctx, exec, cs.Statements()); err != nil {
			return err
		}
		return db.MarkRan(ctx, exec, record)
	})
}

// RollbackLast rolls back the n most recently ran changesets that belong to changelog.
// Nothing is executed when any of them has no rollback.
func (e *Engine) RollbackLast(ctx context.Context, db domain.Database, n int, changelog *domain.DatabaseChangeLog) error {
	release, err := db.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := db.Ensure(ctx); err != nil {
		return err
	}
	ran, err := db.RanChangeSets(ctx)
	if err != nil {
		return err
	}

	var targets []*domain.ChangeSet
	for i := len(ran) - 1; i >= 0 && len(targets) < n; i-- {
		if cs, ok := changelog.Contains(ran[i].ID, ran[i].Author, ran[i].FilePath); ok {
			targets = append(targets, cs)
		}
	}
	if len(targets) == 0 {
		return errors.Wrap(ErrNothingToRollBack, changelog.PhysicalPath)
	}

	plans := make([][]string, len(targets))
	for i, cs := range targets {
		statements, ok := cs.RollbackStatements()
		if !ok {
			return errors.Wrapf(domain.ErrRollbackUnsupported, "changeset %s", cs)
		}
		plans[i] = statements
	}

	for i, cs := range targets {
		statements := plans[i]
		err := e.run(ctx, db, cs.RunInTransaction, func(exec domain.Executor) error {
			if err := execAll(ctx, exec, statements); err != nil {
				return err
			}
			return db.Remove(ctx, exec, cs)
		})
		if err != nil {
			return errors.Wrapf(err, "roll back changeset %s", cs)
		}
		e.logger.WithFields(log.Fields{"changeset": cs.ID, "author": cs.Author}).Info("changeset rolled back")
	}
	return nil
}

// run executes fn in a transaction, or directly on the connection when
// transactional is false.
func (e *Engine) run(ctx context.Context, db domain.Database, transactional bool, fn func(domain.Executor) error) error {
	if !transactional {
		return fn(db.Executor())
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.WithError(rbErr).Error("rollback transaction")
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func execAll(ctx context.Context, exec domain.Executor, statements []string) error {
	for _, stmt := range statements {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "execute %q", abbreviate(stmt))
		}
	}
	return nil
}

// Checksum fingerprints the SQL a changeset generates.
func Checksum(cs *domain.ChangeSet) string {
	h := sha256.Sum256([]byte(strings.Join(cs.Statements(), "\n")))
	return fmt.Sprintf("sha256:%x", h)
}

func abbreviate(stmt string) string {
	stmt = strings.Join(strings.Fields(stmt), " ")
	if len(stmt) > 80 {
		return stmt[:77] + "..."
	}
	return stmt
}
