package tabs

// ChangeKind names the mutation a Change reports.
type ChangeKind string

const (
	ChangeOpened    ChangeKind = "opened"
	ChangeReplaced  ChangeKind = "replaced" // temporary tab overwritten in place
	ChangeActivated ChangeKind = "activated"
	ChangePinned    ChangeKind = "pinned" // temporary flag cleared
	ChangeClosed    ChangeKind = "closed"
	ChangeUpdated   ChangeKind = "updated" // ui state, name or metadata
	ChangeExecution ChangeKind = "execution"
	ChangeRestored  ChangeKind = "restored"
	ChangeReset     ChangeKind = "reset"
)

// Change describes one store mutation.
type Change struct {
	Kind  ChangeKind
	TabID string
	// PreviousID is the discarded tab id for ChangeReplaced.
	PreviousID string
}

// Persistent reports whether the change affects the persisted session.
// Execution updates are never persisted, and a restore is by definition
// already what the session store holds.
func (c Change) Persistent() bool {
	switch c.Kind {
	case ChangeExecution, ChangeRestored:
		return false
	default:
		return true
	}
}
