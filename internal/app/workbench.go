package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/courier/internal/autosave"
	"github.com/zjrosen/courier/internal/cachemanager"
	"github.com/zjrosen/courier/internal/config"
	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/execution"
	"github.com/zjrosen/courier/internal/execution/mock"
	"github.com/zjrosen/courier/internal/infrastructure/memory"
	"github.com/zjrosen/courier/internal/infrastructure/sqlite"
	"github.com/zjrosen/courier/internal/log"
	"github.com/zjrosen/courier/internal/persistence"
	"github.com/zjrosen/courier/internal/savehandler"
	"github.com/zjrosen/courier/internal/status"
	"github.com/zjrosen/courier/internal/tabs"
	"github.com/zjrosen/courier/internal/tracing"
	"github.com/zjrosen/courier/internal/watcher"
)

// Choice is the answer to a close-confirmation prompt.
type Choice int

const (
	ChoiceCancel Choice = iota
	ChoiceSave
	ChoiceDiscard
)

func (c Choice) String() string {
	switch c {
	case ChoiceSave:
		return "save"
	case ChoiceDiscard:
		return "discard"
	default:
		return "cancel"
	}
}

// Prompter asks the user what to do with unsaved edits in a closing tab.
type Prompter interface {
	ConfirmClose(ctx context.Context, tab *domain.Tab, displayName string) (Choice, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, tab *domain.Tab, displayName string) (Choice, error)

// ConfirmClose calls f.
func (f PrompterFunc) ConfirmClose(ctx context.Context, tab *domain.Tab, displayName string) (Choice, error) {
	return f(ctx, tab, displayName)
}

// Option configures a Workbench.
type Option func(*Workbench)

// WithEngine replaces the simulated engine. The caller keeps ownership of e.
func WithEngine(e execution.Engine) Option {
	return func(w *Workbench) {
		w.engine = e
	}
}

// WithSessionStore replaces the configured session store. The workbench
// closes it on Close.
func WithSessionStore(s domain.SessionStore) Option {
	return func(w *Workbench) {
		w.inner = s
	}
}

// WithTabOptions passes options to the tab store.
func WithTabOptions(opts ...tabs.Option) Option {
	return func(w *Workbench) {
		w.tabOpts = append(w.tabOpts, opts...)
	}
}

// Workbench wires the tab, status, save-handler, persistence and execution
// components of one workspace.
type Workbench struct {
	cfg         config.Config
	workspaceID string

	tabs     *tabs.Store
	status   *status.Projector
	saves    *savehandler.Registry
	sessions *persistence.Manager
	autosave *autosave.Saver
	router   *execution.Router
	global   *execution.GlobalLog

	engine      execution.Engine
	ownedEngine *mock.Engine
	inner       domain.SessionStore
	db          *sqlite.DB
	cached      *persistence.CachedStore
	tracer      *tracing.Provider
	watcher     *watcher.Watcher
	tabOpts     []tabs.Option

	cancel context.CancelFunc
}

// New builds a workbench from cfg. Nothing is loaded until Start.
func New(cfg config.Config, opts ...Option) (*Workbench, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	w := &Workbench{cfg: cfg, workspaceID: cfg.Workspace}
	for _, opt := range opts {
		opt(w)
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracer: %w", err)
	}
	w.tracer = provider

	if w.inner == nil {
		if err := w.openStore(); err != nil {
			_ = provider.Shutdown(context.Background())
			return nil, err
		}
	}

	cache := cachemanager.NewInMemoryCacheManager[string, domain.SessionDocument](
		"sessions", cfg.Cache.TTL, cfg.Cache.CleanupInterval)
	w.cached = persistence.NewCachedStore(w.inner, cache, cfg.Cache.TTL)

	w.tabs = tabs.New(w.tabOpts...)
	w.status = status.New(w.tabs)
	w.saves = savehandler.New()
	w.sessions = persistence.New(w.cached, w.tabs, w.status, persistence.WithTracer(provider.Tracer()))
	w.autosave = autosave.New(w.sessions, w.workspaceID, cfg.Autosave.Debounce)

	if w.engine == nil {
		w.ownedEngine = mock.NewEngine(mock.WithStepDelay(cfg.Execution.StepDelay))
		w.engine = w.ownedEngine
	}
	w.global = execution.NewGlobalLog(cfg.Execution.GlobalLogSize)
	w.router = execution.NewRouter(w.tabs, w.engine,
		execution.WithLogSink(w.global),
		execution.WithTracer(provider.Tracer()),
	)

	w.tabs.OnClose(w.status.Forget)
	w.tabs.OnClose(w.saves.Forget)
	w.tabs.OnChange(func(c tabs.Change) {
		if c.Persistent() {
			w.autosave.Session()
		}
	})
	return w, nil
}

func (w *Workbench) openStore() error {
	if w.cfg.Ephemeral {
		w.inner = memory.NewSessionStore()
		return nil
	}
	db, err := sqlite.NewDB(w.cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening session database: %w", err)
	}
	w.db = db
	w.inner = db.SessionStore()
	return nil
}

// Start restores the workspace session, starts routing engine events and,
// for the sqlite store, watches the database for outside writes.
func (w *Workbench) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	if err := w.router.Start(runCtx); err != nil {
		return err
	}

	if _, err := w.sessions.LoadSession(ctx, w.workspaceID); err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			return err
		}
		// Start with no tabs. The stored session is not overwritten: the
		// next save or database change retries the restore.
		log.ErrorErr(log.CatSession, "restoring session", err, "workspace", w.workspaceID)
	}

	if w.db != nil && w.cfg.Watcher.Enabled {
		w.startWatcher(runCtx)
	}
	return nil
}

func (w *Workbench) startWatcher(ctx context.Context) {
	wt, err := watcher.New(w.db.Path(), w.cfg.Watcher.Debounce, func() { w.onDatabaseChange(ctx) })
	if err != nil {
		log.ErrorErr(log.CatWatcher, "creating watcher", err)
		return
	}
	if err := wt.Start(ctx); err != nil {
		_ = wt.Stop()
		log.ErrorErr(log.CatWatcher, "starting watcher", err)
		return
	}
	w.watcher = wt
}

// onDatabaseChange drops cached documents, which another process may have
// made stale, and retries a restore that failed earlier.
func (w *Workbench) onDatabaseChange(ctx context.Context) {
	w.cached.Flush(ctx)
	if !w.sessions.NeedsRestore() {
		return
	}
	if _, err := w.sessions.Recover(ctx, w.workspaceID); err != nil {
		log.ErrorErr(log.CatSession, "retrying restore", err, "workspace", w.workspaceID)
	}
}

// WorkspaceID returns the workspace this workbench serves.
func (w *Workbench) WorkspaceID() string { return w.workspaceID }

// Tabs returns the tab store.
func (w *Workbench) Tabs() *tabs.Store { return w.tabs }

// Status returns the status projector.
func (w *Workbench) Status() *status.Projector { return w.status }

// SaveHandlers returns the save handler registry.
func (w *Workbench) SaveHandlers() *savehandler.Registry { return w.saves }

// Sessions returns the session persistence manager.
func (w *Workbench) Sessions() *persistence.Manager { return w.sessions }

// Autosave returns the debounced writer.
func (w *Workbench) Autosave() *autosave.Saver { return w.autosave }

// Router returns the execution event router.
func (w *Workbench) Router() *execution.Router { return w.router }

// GlobalLog returns the log of forwarded execution events.
func (w *Workbench) GlobalLog() *execution.GlobalLog { return w.global }

// RequestClose closes tabID, asking p first when the tab has unsaved edits.
// It reports whether the tab was closed. A failed save, including an editor
// that is no longer mounted, keeps the tab open and returns the error.
func (w *Workbench) RequestClose(ctx context.Context, tabID string, p Prompter) (bool, error) {
	tab, ok := w.tabs.Tab(tabID)
	if !ok {
		return false, &domain.TabNotFoundError{TabID: tabID}
	}
	if !w.status.IsDirty(tabID) {
		return true, w.tabs.CloseTab(tabID)
	}

	choice, err := p.ConfirmClose(ctx, tab, w.displayName(tab))
	if err != nil {
		return false, fmt.Errorf("confirming close: %w", err)
	}
	return w.ResolveClose(ctx, tabID, choice)
}

// ResolveClose applies a close-confirmation answer for a dirty tab.
func (w *Workbench) ResolveClose(ctx context.Context, tabID string, choice Choice) (bool, error) {
	tab, ok := w.tabs.Tab(tabID)
	if !ok {
		return false, &domain.TabNotFoundError{TabID: tabID}
	}
	log.Debug(log.CatTabs, "close confirmed", "tab_id", tabID, "choice", choice)

	switch choice {
	case ChoiceSave:
		if err := w.saves.Invoke(ctx, tabID); err != nil {
			return false, err
		}
		w.status.SetDirty(tabID, false)
	case ChoiceDiscard:
		if err := w.discardDraft(ctx, tab); err != nil {
			return false, err
		}
	default:
		return false, nil
	}
	return true, w.tabs.CloseTab(tabID)
}

// discardDraft drops the pending and persisted draft of tab.
func (w *Workbench) discardDraft(ctx context.Context, tab *domain.Tab) error {
	if !tab.Type.Persistable() {
		return nil
	}
	key := tab.Key().String()
	w.autosave.Discard(key)
	err := w.sessions.ClearResourceState(ctx, w.workspaceID, key)
	if errors.Is(err, domain.ErrInvalidKey) {
		return nil
	}
	return err
}

// ErrNoCatalog is returned when the session store cannot list workspaces.
var ErrNoCatalog = errors.New("session store cannot list workspaces")

// Workspaces returns the ids of every workspace with stored state.
func (w *Workbench) Workspaces(ctx context.Context) ([]string, error) {
	catalog, ok := w.inner.(domain.WorkspaceCatalog)
	if !ok {
		return nil, ErrNoCatalog
	}
	ids, err := catalog.Workspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	return ids, nil
}

// DeleteWorkspace removes everything stored for another workspace. The open
// workspace is cleared with ResetSession instead.
func (w *Workbench) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if workspaceID == w.workspaceID {
		return fmt.Errorf("workspace %s is open, reset it instead", workspaceID)
	}
	catalog, ok := w.inner.(domain.WorkspaceCatalog)
	if !ok {
		return ErrNoCatalog
	}
	if err := catalog.DeleteWorkspace(ctx, workspaceID); err != nil {
		return &domain.PersistenceError{Op: "delete workspace", WorkspaceID: workspaceID, Err: err}
	}
	w.cached.Invalidate(ctx, workspaceID)
	log.Info(log.CatSession, "workspace deleted", "workspace", workspaceID)
	return nil
}

func (w *Workbench) displayName(tab *domain.Tab) string {
	if name := w.status.DisplayName(tab.ID); name != "" {
		return name
	}
	return tab.Name
}

// ResetSession closes every tab, drops all status and save handlers and
// clears the persisted session and drafts of the workspace.
func (w *Workbench) ResetSession(ctx context.Context) error {
	w.tabs.Reset()
	w.status.Reset()
	w.saves.Reset()
	w.global.Clear()

	// Reset queued a tab-list save; write it before the drafts are cleared.
	if err := w.autosave.Flush(ctx); err != nil {
		log.ErrorErr(log.CatSession, "flushing before reset", err)
	}
	if err := w.sessions.ClearAll(ctx, w.workspaceID); err != nil {
		return err
	}
	log.Info(log.CatSession, "session reset", "workspace", w.workspaceID)
	return nil
}

// Close flushes pending writes and releases every resource.
func (w *Workbench) Close(ctx context.Context) error {
	var errs []error

	if err := w.autosave.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing autosave: %w", err))
	}
	if w.watcher != nil {
		if err := w.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping watcher: %w", err))
		}
	}
	if w.ownedEngine != nil {
		w.ownedEngine.Close()
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.global.Close()
	w.tabs.Close()

	if err := w.cached.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing session store: %w", err))
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if err := w.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down tracer: %w", err))
	}
	return errors.Join(errs...)
}
