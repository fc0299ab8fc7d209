// Package watcher notices writes to the session database made by another
// courier process. A burst of writes (the database plus its WAL) is reported
// once, after the files have been quiet for the debounce interval.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/courier/internal/log"
)

// DefaultDebounce is used when a watcher is created with a zero debounce.
const DefaultDebounce = time.Second

// Watcher reports changes to one sqlite database.
type Watcher struct {
	fs       *fsnotify.Watcher
	dbPath   string
	files    map[string]bool
	debounce time.Duration
	onChange func()

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

// New creates a watcher for dbPath and its -wal file. onChange runs on the
// watcher goroutine, once per settled burst of writes.
func New(dbPath string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	name := filepath.Base(dbPath)
	return &Watcher{
		fs:       fsw,
		dbPath:   dbPath,
		files:    map[string]bool{name: true, name + "-wal": true},
		debounce: debounce,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start watches the database directory until ctx ends or Stop is called.
// The directory must exist.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.dbPath)
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	log.Debug(log.CatWatcher, "watching session database", "path", w.dbPath, "debounce", w.debounce)

	go w.run(ctx)
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.fs.Close()
	})
	return err
}

// Done is closed once the goroutine started by Start has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.stopped
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)

	// quiet fires once the files have been idle for the debounce interval.
	quiet := time.NewTimer(w.debounce)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				quiet.Reset(w.debounce)
			}

		case <-quiet.C:
			log.Debug(log.CatWatcher, "session database changed", "path", w.dbPath)
			w.onChange()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err, "path", w.dbPath)

		case <-ctx.Done():
			return
		case <-w.stop:
			return
		}
	}
}

// relevant reports writes and creates of the database or its WAL.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	return w.files[filepath.Base(ev.Name)]
}
