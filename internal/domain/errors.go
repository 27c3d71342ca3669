package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrChangeSetNotFound   = errors.New("changeset not found")
	ErrRollbackUnsupported = errors.New("no rollback defined for changeset")
	ErrUnsupportedDatabase = errors.New("unsupported database")
	ErrNotLastApplied      = errors.New("changeset is not the most recently applied")
)

// EngineExecutionError wraps any failure raised while processing a changeset.
type EngineExecutionError struct {
	ChangeSetID string
	Cause       error
}

func NewEngineExecutionError(changeSetID string, cause error) *EngineExecutionError {
	return &EngineExecutionError{ChangeSetID: changeSetID, Cause: cause}
}

func (e *EngineExecutionError) Error() string {
	return fmt.Sprintf("error applying %s: %v", e.ChangeSetID, e.Cause)
}

func (e *EngineExecutionError) Unwrap() error {
	return e.Cause
}
