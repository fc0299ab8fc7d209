// Package autosave debounces session and draft writes so that a burst of
// edits produces a single store update.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/log"
	"github.com/zjrosen/courier/internal/persistence"
)

// DefaultDebounce is the quiet period before a pending write is issued.
const DefaultDebounce = 500 * time.Millisecond

// sessionKey is the pending-write slot for the tab list.
const sessionKey = "\x00session"

// Writer is the persistence surface the saver feeds.
type Writer interface {
	SaveSession(ctx context.Context, workspaceID string) error
	SaveResourceState(ctx context.Context, workspaceID, key string, state json.RawMessage) error
}

type pendingWrite struct {
	gen   uint64
	timer *time.Timer
	write func(ctx context.Context) error
}

// Saver coalesces writes per key. The last scheduled write for a key wins.
type Saver struct {
	writer      Writer
	workspaceID string
	debounce    time.Duration

	mu      sync.Mutex
	pending map[string]*pendingWrite
	gen     uint64
	closed  bool
	wg      sync.WaitGroup
}

// New creates a saver for workspaceID. A debounce of zero or less writes
// synchronously.
func New(writer Writer, workspaceID string, debounce time.Duration) *Saver {
	return &Saver{
		writer:      writer,
		workspaceID: workspaceID,
		debounce:    debounce,
		pending:     make(map[string]*pendingWrite),
	}
}

// Session schedules a save of the open tab list.
func (s *Saver) Session() {
	s.schedule(sessionKey, func(ctx context.Context) error {
		err := s.writer.SaveSession(ctx, s.workspaceID)
		if errors.Is(err, persistence.ErrLoadInFlight) {
			return nil
		}
		return err
	})
}

// Draft schedules a save of the editor draft for key. Malformed keys are
// rejected immediately.
func (s *Saver) Draft(key string, state json.RawMessage) error {
	if _, err := domain.ParseCompositeKey(key); err != nil {
		return err
	}
	s.schedule(key, func(ctx context.Context) error {
		return s.writer.SaveResourceState(ctx, s.workspaceID, key, state)
	})
	return nil
}

// Discard drops a pending write for key, e.g. when the draft was cleared.
func (s *Saver) Discard(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
}

// Pending returns the number of writes waiting for their quiet period.
func (s *Saver) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush issues every pending write now and waits for writes already running.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	writes := make([]func(context.Context) error, 0, len(s.pending))
	for key, p := range s.pending {
		p.timer.Stop()
		writes = append(writes, p.write)
		delete(s.pending, key)
	}
	s.mu.Unlock()

	var errs []error
	for _, write := range writes {
		if err := write(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

// Close flushes and stops accepting writes.
func (s *Saver) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

func (s *Saver) schedule(key string, write func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Debug(log.CatSession, "autosave closed, dropping write", "key", key)
		return
	}

	if s.debounce <= 0 {
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()
		s.run(key, write)
		return
	}

	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending[key] = &pendingWrite{
		gen:   gen,
		write: write,
		timer: time.AfterFunc(s.debounce, func() { s.fire(key, gen) }),
	}
	s.mu.Unlock()
}

// fire runs the write if it is still the latest one scheduled for key.
func (s *Saver) fire(key string, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.run(key, p.write)
}

func (s *Saver) run(key string, write func(ctx context.Context) error) {
	if err := write(context.Background()); err != nil {
		log.ErrorErr(log.CatSession, "autosave failed", err, "workspace", s.workspaceID, "key", key)
	}
}
