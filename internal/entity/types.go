// Package entity defines the Phabricator records phabmirror mirrors.
package entity

// Status is a task lifecycle status as reported by maniphest.
type Status string

const (
	StatusOpen      Status = "open"
	StatusStalled   Status = "stalled"
	StatusResolved  Status = "resolved"
	StatusInvalid   Status = "invalid"
	StatusDeclined  Status = "declined"
	StatusDuplicate Status = "duplicate"
)

// TransitionKind identifies what a transition changed. The values are
// rendered verbatim into page blocks.
type TransitionKind string

const (
	EnteredColumn  TransitionKind = "Entered Column"
	ExitedColumn   TransitionKind = "Exited Column"
	AddedProject   TransitionKind = "Added Project"
	RemovedProject TransitionKind = "Removed Project"
)

// Transition is one derived board or membership change from a task's
// event log. Column kinds carry the column PHID (resolved late, against
// the column cache); project kinds carry the project display name.
type Transition struct {
	Date       int64
	Kind       TransitionKind
	ColumnPHID string
	Project    string
}

// IsColumn reports whether the transition refers to a board column.
func (t Transition) IsColumn() bool {
	return t.Kind == EnteredColumn || t.Kind == ExitedColumn
}

// Membership is a task's attachment to one project board.
type Membership struct {
	// Key orders memberships deterministically: bare project name + PHID.
	Key         string
	ProjectPHID string
	Project     string // display name, "Parent (Child)" when a parent exists
	Column      string // board column name, empty when the board attachment had none
	EntryDate   int64
}

// Task is one maniphest task. Timestamps are Unix seconds as Conduit
// reports them; zero means absent.
type Task struct {
	ID           int
	PHID         string
	Name         string
	Status       Status
	Color        string // priority color key
	Points       string
	DateCreated  int64
	DateModified int64
	DateClosed   int64

	AuthorPHID string
	OwnerPHID  string
	Author     *User // nil when absent or unresolved
	Owner      *User

	Memberships []Membership
	Transitions []Transition
	Subtasks    []int

	// FromSeed marks tasks reached through a seed project or an explicit
	// seed id. Once a task is in the graph only this flag may change.
	FromSeed bool
}

// Project is a Phabricator project or sub-board.
type Project struct {
	ID         int
	PHID       string
	Name       string
	ParentName string // empty for top-level projects
	Color      string
}

// FullName is the display name: "Parent (Child)" when a parent exists.
func (p *Project) FullName() string {
	if p.ParentName == "" {
		return p.Name
	}
	return p.ParentName + " (" + p.Name + ")"
}

// Column is one workboard column, keyed by PHID.
type Column struct {
	PHID    string
	Project string // owning project's display name
	Name    string
}

// User is a Phabricator account.
type User struct {
	ID       int
	PHID     string
	Username string
	RealName string
}
