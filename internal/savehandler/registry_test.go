package savehandler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/courier/internal/domain"
)

func TestRegistry_InvokeRunsHandler(t *testing.T) {
	r := New()
	calls := 0
	r.Register("t1", func(context.Context) error {
		calls++
		return nil
	})

	require.True(t, r.Has("t1"))
	require.NoError(t, r.Invoke(context.Background(), "t1"))
	require.Equal(t, 1, calls)
}

func TestRegistry_InvokeMissing(t *testing.T) {
	r := New()

	err := r.Invoke(context.Background(), "t1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	var notFound *domain.HandlerNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "t1", notFound.TabID)
}

func TestRegistry_InvokeWrapsHandlerError(t *testing.T) {
	r := New()
	boom := errors.New("write failed")
	r.Register("t1", func(context.Context) error { return boom })

	err := r.Invoke(context.Background(), "t1")
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "saving tab t1")
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := New()
	var got string
	r.Register("t1", func(context.Context) error { got = "first"; return nil })
	r.Register("t1", func(context.Context) error { got = "second"; return nil })

	require.NoError(t, r.Invoke(context.Background(), "t1"))
	require.Equal(t, "second", got)
	require.Equal(t, 1, r.Len())
}

func TestRegistry_StaleUnregisterKeepsRemount(t *testing.T) {
	r := New()

	unmountOld := r.Register("t1", func(context.Context) error { return nil })
	unmountNew := r.Register("t1", func(context.Context) error { return nil })

	// The old editor unmounts after the new one mounted.
	unmountOld()
	require.True(t, r.Has("t1"), "stale unregister must not remove the remounted handler")

	unmountNew()
	require.False(t, r.Has("t1"))
}

func TestRegistry_UnregisterAndForget(t *testing.T) {
	r := New()
	r.Register("t1", func(context.Context) error { return nil })
	r.Register("t2", func(context.Context) error { return nil })

	r.Unregister("t1")
	r.Forget("t2")

	require.False(t, r.Has("t1"))
	require.False(t, r.Has("t2"))
	require.Equal(t, 0, r.Len())
}

func TestRegistry_PassesContext(t *testing.T) {
	r := New()
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	r.Register("t1", func(ctx context.Context) error {
		require.Equal(t, "v", ctx.Value(key{}))
		return nil
	})
	require.NoError(t, r.Invoke(ctx, "t1"))
}

func TestRegistry_HandlerMayUnregisterItself(t *testing.T) {
	r := New()
	var unregister func()
	unregister = r.Register("t1", func(context.Context) error {
		unregister()
		return nil
	})

	require.NoError(t, r.Invoke(context.Background(), "t1"))
	require.False(t, r.Has("t1"))
}

func TestRegistry_Reset(t *testing.T) {
	r := New()
	r.Register("t1", func(context.Context) error { return nil })
	r.Reset()
	require.Equal(t, 0, r.Len())
}
