// Package savehandler keeps the close-time save callbacks that editors
// register for their tabs.
package savehandler

import (
	"context"
	"fmt"
	"sync"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/log"
)

// SaveFunc persists the editor state of one tab.
type SaveFunc func(ctx context.Context) error

type registration struct {
	fn  SaveFunc
	gen uint64
}

// Registry maps tab ids to save callbacks. At most one callback is held per
// tab; registering again replaces the previous one.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]registration
	nextGen  uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]registration)}
}

// Register stores fn as the save callback for tabID and returns a function
// that removes it. The returned function only removes this registration: if
// the editor was remounted and registered again, a late call from the old
// mount leaves the new callback in place.
func (r *Registry) Register(tabID string, fn SaveFunc) (unregister func()) {
	r.mu.Lock()
	r.nextGen++
	gen := r.nextGen
	r.handlers[tabID] = registration{fn: fn, gen: gen}
	r.mu.Unlock()

	log.Debug(log.CatSave, "handler registered", "tab_id", tabID, "gen", gen)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.handlers[tabID]; ok && cur.gen == gen {
			delete(r.handlers, tabID)
		}
	}
}

// Unregister removes whatever callback is registered for tabID.
func (r *Registry) Unregister(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, tabID)
}

// Forget is the tab close hook.
func (r *Registry) Forget(tabID string) {
	r.Unregister(tabID)
}

// Has reports whether a callback is registered for tabID.
func (r *Registry) Has(tabID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[tabID]
	return ok
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Invoke runs the save callback for tabID outside the registry lock.
// Returns HandlerNotFoundError when the editor never registered or was
// unmounted while a confirmation prompt was open.
func (r *Registry) Invoke(ctx context.Context, tabID string) error {
	r.mu.Lock()
	reg, ok := r.handlers[tabID]
	r.mu.Unlock()

	if !ok {
		log.Warn(log.CatSave, "no save handler", "tab_id", tabID)
		return &domain.HandlerNotFoundError{TabID: tabID}
	}

	if err := reg.fn(ctx); err != nil {
		return fmt.Errorf("saving tab %s: %w", tabID, err)
	}
	log.Debug(log.CatSave, "saved", "tab_id", tabID)
	return nil
}

// Reset removes every callback.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.handlers)
}
