package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/courier/internal/config"
	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/infrastructure/memory"
	"github.com/zjrosen/courier/internal/tabs"
	"github.com/zjrosen/courier/internal/testutil"
)

const testWorkspace = "ws-test"

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Workspace = testWorkspace
	cfg.Ephemeral = true
	cfg.Autosave.Debounce = 0
	cfg.Watcher.Enabled = false
	cfg.Execution.StepDelay = 0
	return cfg
}

func newTestWorkbench(t *testing.T, store *memory.SessionStore, opts ...Option) *Workbench {
	t.Helper()
	opts = append([]Option{WithSessionStore(store)}, opts...)
	w, err := New(testConfig(), opts...)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

func answer(choice Choice) (Prompter, *int) {
	calls := 0
	return PrompterFunc(func(context.Context, *domain.Tab, string) (Choice, error) {
		calls++
		return choice, nil
	}), &calls
}

func storedDoc(t *testing.T, store *memory.SessionStore) domain.SessionDocument {
	t.Helper()
	doc, err := store.Get(context.Background(), testWorkspace)
	require.NoError(t, err)
	return doc
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Workspace = ""
	_, err := New(cfg)
	require.Error(t, err)
}

func TestWorkbench_CloseCleansStatusAndHandlers(t *testing.T) {
	w := newTestWorkbench(t, memory.NewSessionStore())
	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})

	w.Status().SetName(tab.ID, "named")
	w.SaveHandlers().Register(tab.ID, func(context.Context) error { return nil })

	require.NoError(t, w.Tabs().CloseTab(tab.ID))

	require.Empty(t, w.Status().All())
	require.False(t, w.SaveHandlers().Has(tab.ID))
}

func TestWorkbench_TabChangesArePersisted(t *testing.T) {
	store := memory.NewSessionStore()
	w := newTestWorkbench(t, store)

	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1", Name: "List"})
	w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r2", Temporary: true})

	doc := storedDoc(t, store)
	require.NotNil(t, doc.Tabs)
	require.Len(t, doc.Tabs.Tabs, 1, "temporary tabs are not persisted")
	require.Equal(t, tab.ID, doc.Tabs.Tabs[0].ID)
}

func TestWorkbench_StartRestoresSession(t *testing.T) {
	store := memory.NewSessionStore()
	testutil.NewSessionBuilder(t, testWorkspace).WithStandardSession().Build(store)

	w := newTestWorkbench(t, store)

	require.Equal(t, 4, w.Tabs().Len())
	require.Equal(t, "t-orders", w.Tabs().ActiveTabID())
	require.True(t, w.Status().IsDirty("t-users"))
	require.True(t, w.Status().IsDirty("t-health"))
	require.False(t, w.Status().IsDirty("t-orders"))
	require.Equal(t, "Users v2", w.Status().DisplayName("t-users"))
}

func TestWorkbench_StartSurvivesLoadFailure(t *testing.T) {
	store := memory.NewSessionStore()
	testutil.NewSessionBuilder(t, testWorkspace).WithStandardSession().Build(store)
	store.FailNext(errors.New("disk busy"))

	w := newTestWorkbench(t, store)
	require.Equal(t, 0, w.Tabs().Len())
	require.True(t, w.Sessions().NeedsRestore())

	// The retry before the first save fails too: the stored tabs are kept.
	store.FailNext(errors.New("disk busy"))
	first := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c9", ResourceID: "r1"})
	require.Len(t, storedDoc(t, store).Tabs.Tabs, 4)
	require.Equal(t, 1, w.Tabs().Len())

	// The next save restores the session and keeps the tabs opened meanwhile.
	second := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c9", ResourceID: "r2"})
	require.False(t, w.Sessions().NeedsRestore())
	require.Equal(t, 6, w.Tabs().Len())
	require.Equal(t, second.ID, w.Tabs().ActiveTabID())
	require.True(t, w.Status().IsDirty("t-users"))

	doc := storedDoc(t, store)
	require.Len(t, doc.Tabs.Tabs, 6)
	require.Equal(t, "t-users", doc.Tabs.Tabs[0].ID)
	require.Equal(t, first.ID, doc.Tabs.Tabs[4].ID)
	require.Equal(t, second.ID, doc.Tabs.Tabs[5].ID)
}

func TestRequestClose_CleanTabClosesWithoutPrompt(t *testing.T) {
	w := newTestWorkbench(t, memory.NewSessionStore())
	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	p, calls := answer(ChoiceCancel)

	closed, err := w.RequestClose(context.Background(), tab.ID, p)
	require.NoError(t, err)
	require.True(t, closed)
	require.Zero(t, *calls)
	require.Equal(t, 0, w.Tabs().Len())
}

func TestRequestClose_Save(t *testing.T) {
	w := newTestWorkbench(t, memory.NewSessionStore())
	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	w.Status().SetDirty(tab.ID, true)

	saved := false
	w.SaveHandlers().Register(tab.ID, func(context.Context) error {
		saved = true
		return nil
	})
	p, calls := answer(ChoiceSave)

	closed, err := w.RequestClose(context.Background(), tab.ID, p)
	require.NoError(t, err)
	require.True(t, closed)
	require.True(t, saved)
	require.Equal(t, 1, *calls)
	require.Equal(t, 0, w.Tabs().Len())
}

func TestRequestClose_SaveWithoutHandlerKeepsTab(t *testing.T) {
	w := newTestWorkbench(t, memory.NewSessionStore())
	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	w.Status().SetDirty(tab.ID, true)
	p, _ := answer(ChoiceSave)

	closed, err := w.RequestClose(context.Background(), tab.ID, p)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.False(t, closed)
	require.Equal(t, 1, w.Tabs().Len())
	require.True(t, w.Status().IsDirty(tab.ID))
}

func TestRequestClose_SaveErrorKeepsTab(t *testing.T) {
	w := newTestWorkbench(t, memory.NewSessionStore())
	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	w.Status().SetDirty(tab.ID, true)

	boom := errors.New("validation failed")
	w.SaveHandlers().Register(tab.ID, func(context.Context) error { return boom })
	p, _ := answer(ChoiceSave)

	closed, err := w.RequestClose(context.Background(), tab.ID, p)
	require.ErrorIs(t, err, boom)
	require.False(t, closed)
	require.Equal(t, 1, w.Tabs().Len())
}

func TestRequestClose_DiscardClearsDraft(t *testing.T) {
	store := memory.NewSessionStore()
	w := newTestWorkbench(t, store)
	ctx := context.Background()

	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	require.NoError(t, w.Sessions().SaveResourceState(ctx, testWorkspace, "c1::r1", json.RawMessage(`{"url":"/x"}`)))
	require.NoError(t, w.Sessions().SaveResourceState(ctx, testWorkspace, "c1::r2", json.RawMessage(`{"url":"/y"}`)))
	w.Status().SetDirty(tab.ID, true)
	p, _ := answer(ChoiceDiscard)

	closed, err := w.RequestClose(ctx, tab.ID, p)
	require.NoError(t, err)
	require.True(t, closed)

	doc := storedDoc(t, store)
	require.NotContains(t, doc.Resources, domain.CompositeKey("c1::r1"))
	require.Contains(t, doc.Resources, domain.CompositeKey("c1::r2"))
}

func TestRequestClose_DiscardClearsFolderDraft(t *testing.T) {
	store := memory.NewSessionStore()
	w := newTestWorkbench(t, store)
	ctx := context.Background()

	tab := w.Tabs().OpenFolder(tabs.OpenParams{CollectionID: "c1", ResourceID: "f1"})
	require.NoError(t, w.Sessions().SaveResourceState(ctx, testWorkspace, "c1::f1", json.RawMessage(`{"auth":"basic"}`)))
	w.Status().SetDirty(tab.ID, true)
	p, _ := answer(ChoiceDiscard)

	closed, err := w.RequestClose(ctx, tab.ID, p)
	require.NoError(t, err)
	require.True(t, closed)
	require.NotContains(t, storedDoc(t, store).Resources, domain.CompositeKey("c1::f1"))
}

func TestRequestClose_Cancel(t *testing.T) {
	w := newTestWorkbench(t, memory.NewSessionStore())
	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	w.Status().SetDirty(tab.ID, true)
	p, _ := answer(ChoiceCancel)

	closed, err := w.RequestClose(context.Background(), tab.ID, p)
	require.NoError(t, err)
	require.False(t, closed)
	require.Equal(t, 1, w.Tabs().Len())
}

func TestRequestClose_PrompterError(t *testing.T) {
	w := newTestWorkbench(t, memory.NewSessionStore())
	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})
	w.Status().SetDirty(tab.ID, true)

	boom := errors.New("terminal gone")
	p := PrompterFunc(func(context.Context, *domain.Tab, string) (Choice, error) { return ChoiceCancel, boom })

	closed, err := w.RequestClose(context.Background(), tab.ID, p)
	require.ErrorIs(t, err, boom)
	require.False(t, closed)
}

func TestRequestClose_MissingTab(t *testing.T) {
	w := newTestWorkbench(t, memory.NewSessionStore())
	p, _ := answer(ChoiceSave)

	_, err := w.RequestClose(context.Background(), "missing", p)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResetSession(t *testing.T) {
	store := memory.NewSessionStore()
	testutil.NewSessionBuilder(t, testWorkspace).WithStandardSession().Build(store)
	w := newTestWorkbench(t, store)
	w.SaveHandlers().Register("t-users", func(context.Context) error { return nil })

	require.NoError(t, w.ResetSession(context.Background()))

	require.Equal(t, 0, w.Tabs().Len())
	require.Empty(t, w.Status().All())
	require.Equal(t, 0, w.SaveHandlers().Len())

	doc := storedDoc(t, store)
	require.Empty(t, doc.Tabs.Tabs)
	require.Empty(t, doc.Resources)
}

func TestWorkbench_RunRequestEndToEnd(t *testing.T) {
	w := newTestWorkbench(t, memory.NewSessionStore())
	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1"})

	_, err := w.Router().RunRequest(context.Background(), tab.ID, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := w.Tabs().Tab(tab.ID)
		return ok && got.Execution.Status == domain.ExecutionComplete
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return w.GlobalLog().Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWorkbench_SQLiteRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Ephemeral = false
	cfg.DataDir = t.TempDir()
	cfg.Watcher.Enabled = true
	cfg.Watcher.Debounce = 10 * time.Millisecond
	ctx := context.Background()

	w, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))

	tab := w.Tabs().OpenRequest(tabs.OpenParams{CollectionID: "c1", ResourceID: "r1", Name: "Users"})
	w.Status().SetName(tab.ID, "List users")
	require.NoError(t, w.Autosave().Draft("c1::r1", json.RawMessage(`{"url":"/users"}`)))
	require.NoError(t, w.Close(ctx))

	reopened, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = reopened.Close(ctx) }()
	require.NoError(t, reopened.Start(ctx))

	got, ok := reopened.Tabs().Tab(tab.ID)
	require.True(t, ok)
	require.Equal(t, "List users", got.Name)
	require.True(t, reopened.Status().IsDirty(tab.ID), "a stored draft marks the tab dirty")
}
