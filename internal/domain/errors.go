package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Concrete errors below match them with errors.Is.
var (
	// ErrNotFound is a tab or save-handler lookup miss. Callers recover
	// locally and treat the operation as a no-op.
	ErrNotFound = errors.New("not found")

	// ErrStale marks an execution event whose tab is already gone.
	ErrStale = errors.New("stale execution event")

	// ErrPersistence is a failed session store read or write. In-memory state
	// stays authoritative.
	ErrPersistence = errors.New("session persistence failed")

	// ErrDuplicateEvent marks an event whose embedded id was already logged.
	ErrDuplicateEvent = errors.New("duplicate execution event")

	// ErrInvalidKey is returned for draft keys not in collectionId::resourceId form.
	ErrInvalidKey = errors.New("invalid composite key")
)

// TabNotFoundError is returned when no open tab has the requested id.
type TabNotFoundError struct {
	TabID string
}

func (e *TabNotFoundError) Error() string {
	return fmt.Sprintf("tab not found: %s", e.TabID)
}

// Is reports ErrNotFound.
func (e *TabNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// HandlerNotFoundError is returned when no save handler is registered for a
// tab, typically because its editor is not mounted.
type HandlerNotFoundError struct {
	TabID string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("save handler not found for tab: %s", e.TabID)
}

// Is reports ErrNotFound.
func (e *HandlerNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StaleEventError describes an event nobody owns anymore.
type StaleEventError struct {
	ExecutionID string
	Type        EventType
}

func (e *StaleEventError) Error() string {
	return fmt.Sprintf("no tab owns execution %s (event %s)", e.ExecutionID, e.Type)
}

// Is reports ErrStale.
func (e *StaleEventError) Is(target error) bool {
	return target == ErrStale
}

// DuplicateEventError describes an event dropped by de-duplication.
type DuplicateEventError struct {
	ExecutionID string
	EventID     string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("duplicate event %s for execution %s", e.EventID, e.ExecutionID)
}

// Is reports ErrDuplicateEvent.
func (e *DuplicateEventError) Is(target error) bool {
	return target == ErrDuplicateEvent
}

// PersistenceError wraps a session store failure.
type PersistenceError struct {
	Op          string
	WorkspaceID string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s workspace %q: %v", e.Op, e.WorkspaceID, e.Err)
}

// Unwrap returns the store error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is reports ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// InvalidKeyError is returned for malformed composite keys.
type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid composite key %q: want collectionId::resourceId", e.Key)
}

// Is reports ErrInvalidKey.
func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}
