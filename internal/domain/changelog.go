package domain

// Change is one unit of work inside a changeset.
type Change interface {
	// Description is a short human readable summary, e.g. "createTable users".
	Description() string
	// Statements returns the SQL executed for this change, in order.
	Statements() []string
	// Inverse returns the changes that undo this one, or false when there are none.
	Inverse() ([]Change, bool)
}

type ChangeSet struct {
	ID               string
	Author           string
	FilePath         string
	Comment          string
	RunInTransaction bool
	Changes          []Change
	// Rollback holds an explicit rollback block. RollbackDefined distinguishes
	// an empty explicit block from a missing one.
	Rollback        []Change
	RollbackDefined bool
}

// String renders the ledger identity of the changeset.
func (cs *ChangeSet) String() string {
	return cs.FilePath + "::" + cs.ID + "::" + cs.Author
}

// Statements returns every SQL statement of the forward changes.
func (cs *ChangeSet) Statements() []string {
	var statements []string
	for _, change := range cs.Changes {
		statements = append(statements, change.Statements()...)
	}
	return statements
}

// RollbackStatements returns the SQL that undoes the changeset. The boolean is
// false when neither an explicit rollback nor automatic inverses exist.
func (cs *ChangeSet) RollbackStatements() ([]string, bool) {
	if cs.RollbackDefined {
		var statements []string
		for _, change := range cs.Rollback {
			statements = append(statements, change.Statements()...)
		}
		return statements, true
	}

	var statements []string
	for i := len(cs.Changes) - 1; i >= 0; i-- {
		inverse, ok := cs.Changes[i].Inverse()
		if !ok {
			return nil, false
		}
		for _, change := range inverse {
			statements = append(statements, change.Statements()...)
		}
	}
	return statements, len(cs.Changes) > 0
}

func (cs *ChangeSet) Description() string {
	var desc string
	for i, change := range cs.Changes {
		if i > 0 {
			desc += "; "
		}
		desc += change.Description()
	}
	return desc
}

// DatabaseChangeLog is an ordered list of changesets loaded from PhysicalPath.
type DatabaseChangeLog struct {
	PhysicalPath string
	changeSets   []*ChangeSet
}

func NewDatabaseChangeLog(physicalPath string) *DatabaseChangeLog {
	return &DatabaseChangeLog{PhysicalPath: physicalPath}
}

func (l *DatabaseChangeLog) AddChangeSet(cs *ChangeSet) {
	l.changeSets = append(l.changeSets, cs)
}

func (l *DatabaseChangeLog) ChangeSets() []*ChangeSet {
	out := make([]*ChangeSet, len(l.changeSets))
	copy(out, l.changeSets)
	return out
}

// Find returns the first changeset with the given id.
func (l *DatabaseChangeLog) Find(id string) (*ChangeSet, bool) {
	for _, cs := range l.changeSets {
		if cs.ID == id {
			return cs, true
		}
	}
	return nil, false
}

// Contains reports whether a ledger entry belongs to this changelog.
func (l *DatabaseChangeLog) Contains(id, author, filePath string) (*ChangeSet, bool) {
	for _, cs := range l.changeSets {
		if cs.ID == id && cs.Author == author && cs.FilePath == filePath {
			return cs, true
		}
	}
	return nil, false
}

// SingleEntry builds a changelog with the same physical path holding only cs,
// so the ledger identity of cs is unchanged when it runs through it.
func (l *DatabaseChangeLog) SingleEntry(cs *ChangeSet) *DatabaseChangeLog {
	single := NewDatabaseChangeLog(l.PhysicalPath)
	single.AddChangeSet(cs)
	return single
}
