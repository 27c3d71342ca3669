package domain

import (
	"github.com/pkg/errors"
)

type Strategy string

const (
	// StrategyIsolate runs the target changeset through a changelog that contains only it.
	StrategyIsolate Strategy = "isolate"
	// StrategyInPlace runs the whole changelog and may apply other pending changesets too.
	StrategyInPlace Strategy = "in-place"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyIsolate, StrategyInPlace:
		return Strategy(s), nil
	case "":
		return StrategyIsolate, nil
	}
	return "", errors.Errorf("unknown strategy %q", s)
}

// RunConfiguration is fixed for the duration of a run.
type RunConfiguration struct {
	ChangelogPath   string
	ChangeSetID     string
	RollbackEnabled bool
	Strategy        Strategy
}

func (c RunConfiguration) Validate() error {
	if c.ChangelogPath == "" {
		return errors.New("changelog path is empty")
	}
	if c.ChangeSetID == "" {
		return errors.New("changeset id is empty")
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	return nil
}

type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeApplied
	OutcomeRolledBack
	OutcomeAlreadyApplied
	OutcomeNotFound
	OutcomeRollbackUnsupported
)

var outcomeNames = map[Outcome]string{
	OutcomeFailed:              "failed",
	OutcomeApplied:             "applied",
	OutcomeRolledBack:          "rolled_back",
	OutcomeAlreadyApplied:      "already_applied",
	OutcomeNotFound:            "not_found",
	OutcomeRollbackUnsupported: "rollback_unsupported",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// ExitCode maps an outcome to the process exit status.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeApplied, OutcomeRolledBack, OutcomeAlreadyApplied:
		return 0
	case OutcomeNotFound:
		return 2
	case OutcomeRollbackUnsupported:
		return 3
	default:
		return 1
	}
}

// Result is produced once per run. Err is set only when Outcome is OutcomeFailed.
type Result struct {
	ChangeSetID string
	Outcome     Outcome
	Err         error
}
