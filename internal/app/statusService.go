package app

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"changesetrunner/internal/domain"
)

type ChangeSetStatus struct {
	ChangeSet *domain.ChangeSet
	// Ran is nil while the changeset is pending.
	Ran *domain.RanChangeSet
}

// StatusService lists the changesets of a changelog with their ledger state.
type StatusService struct {
	connections domain.ConnectionProvider
	engine      domain.MigrationEngine
	logger      log.FieldLogger
}

func NewStatusService(connections domain.ConnectionProvider, engine domain.MigrationEngine, logger log.FieldLogger) *StatusService {
	return &StatusService{connections: connections, engine: engine, logger: logger}
}

func (s *StatusService) Status(ctx context.Context, changelogPath string) ([]ChangeSetStatus, error) {
	changelog, err := s.engine.LoadChangelog(changelogPath)
	if err != nil {
		return nil, err
	}

	conn, err := s.connections.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.WithError(err).Warn("release connection")
		}
	}()

	db, err := s.engine.Database(ctx, conn)
	if err != nil {
		return nil, err
	}
	if err := db.Ensure(ctx); err != nil {
		return nil, err
	}

	var statuses []ChangeSetStatus
	for _, cs := range changelog.ChangeSets() {
		ran, err := db.Find(ctx, cs)
		if err != nil {
			return nil, errors.Wrapf(err, "status of %s", cs)
		}
		statuses = append(statuses, ChangeSetStatus{ChangeSet: cs, Ran: ran})
	}
	return statuses, nil
}
