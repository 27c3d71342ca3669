package app

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"changesetrunner/internal/domain"
)

// ValidationRunner applies one changeset and optionally rolls it back.
type ValidationRunner struct {
	connections domain.ConnectionProvider
	engine      domain.MigrationEngine
	reporter    domain.Reporter
	logger      log.FieldLogger
}

func NewValidationRunner(
	connections domain.ConnectionProvider,
	engine domain.MigrationEngine,
	reporter domain.Reporter,
	logger log.FieldLogger,
) *ValidationRunner {
	return &ValidationRunner{
		connections: connections,
		engine:      engine,
		reporter:    reporter,
		logger:      logger,
	}
}

// Run never panics on engine failures. Any error ends the run with
// OutcomeFailed and an *domain.EngineExecutionError in Result.Err.
func (r *ValidationRunner) Run(ctx context.Context, cfg domain.RunConfiguration) domain.Result {
	logger := r.logger.WithFields(log.Fields{
		"changeset": cfg.ChangeSetID,
		"changelog": cfg.ChangelogPath,
		"strategy":  cfg.Strategy,
		"rollback":  cfg.RollbackEnabled,
	})

	outcome, err := r.run(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("changeset validation failed")
		r.reporter.Error(cfg.ChangeSetID, err)
		return domain.Result{
			ChangeSetID: cfg.ChangeSetID,
			Outcome:     domain.OutcomeFailed,
			Err:         domain.NewEngineExecutionError(cfg.ChangeSetID, err),
		}
	}
	logger.WithField("outcome", outcome).Info("changeset validation finished")
	return domain.Result{ChangeSetID: cfg.ChangeSetID, Outcome: outcome}
}

func (r *ValidationRunner) run(ctx context.Context, cfg domain.RunConfiguration, logger log.FieldLogger) (domain.Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return domain.OutcomeFailed, errors.Wrap(err, "invalid run configuration")
	}
	id := cfg.ChangeSetID

	conn, err := r.connections.Conn(ctx)
	if err != nil {
		return domain.OutcomeFailed, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.WithError(err).Warn("release connection")
		}
	}()

	db, err := r.engine.Database(ctx, conn)
	if err != nil {
		return domain.OutcomeFailed, err
	}

	changelog, err := r.engine.LoadChangelog(cfg.ChangelogPath)
	if err != nil {
		return domain.OutcomeFailed, err
	}

	cs, ok := changelog.Find(id)
	if !ok {
		logger.Warn(domain.ErrChangeSetNotFound.Error())
		r.reporter.NotFound(id)
		return domain.OutcomeNotFound, nil
	}

	target := changelog
	if cfg.Strategy == domain.StrategyInPlace {
		logger.Warn("in-place strategy runs every pending changeset of the changelog, not only the target")
	} else {
		applied, err := r.engine.IsApplied(ctx, db, cs)
		if err != nil {
			return domain.OutcomeFailed, err
		}
		if applied {
			r.reporter.AlreadyApplied(id)
			return domain.OutcomeAlreadyApplied, nil
		}
		target = changelog.SingleEntry(cs)
	}

	r.reporter.Applying(id)
	if err := r.engine.Update(ctx, db, target); err != nil {
		return domain.OutcomeFailed, err
	}
	r.reporter.Applied(id)

	if !cfg.RollbackEnabled {
		return domain.OutcomeApplied, nil
	}

	if cfg.Strategy == domain.StrategyInPlace {
		if err := lastApplied(ctx, db, changelog, cs); err != nil {
			return domain.OutcomeFailed, err
		}
		target = changelog.SingleEntry(cs)
	}

	r.reporter.RollingBack(id)
	err = r.engine.RollbackLast(ctx, db, 1, target)
	switch {
	case errors.Is(err, domain.ErrRollbackUnsupported):
		logger.WithError(err).Warn("rollback unsupported, applied changeset kept")
		r.reporter.RollbackUnsupported(id)
		return domain.OutcomeRollbackUnsupported, nil
	case err != nil:
		return domain.OutcomeFailed, errors.Wrap(err, "roll back")
	}
	r.reporter.RolledBack(id)
	return domain.OutcomeRolledBack, nil
}

// lastApplied checks that cs is the newest ledger entry belonging to changelog.
// An in-place update may have run other changesets after it.
func lastApplied(ctx context.Context, db domain.Database, changelog *domain.DatabaseChangeLog, cs *domain.ChangeSet) error {
	ran, err := db.RanChangeSets(ctx)
	if err != nil {
		return err
	}
	for i := len(ran) - 1; i >= 0; i-- {
		last, ok := changelog.Contains(ran[i].ID, ran[i].Author, ran[i].FilePath)
		if !ok {
			continue
		}
		if last != cs {
			return errors.Wrapf(domain.ErrNotLastApplied, "%s ran after it, not rolling back", last)
		}
		return nil
	}
	return errors.Wrapf(domain.ErrNotLastApplied, "%s is not in the ledger", cs)
}
