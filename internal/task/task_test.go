package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-robotray/logger"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	mgr := NewManager(context.Background(), logger.NewMockLogger().AllowAll())
	t.Cleanup(func() {
		mgr.Stop()
		mgr.Wait()
	})

	return mgr
}

func TestStart_RunsUntilFalse(t *testing.T) {
	require := require.New(t)

	mgr := newTestManager(t)
	var n atomic.Int32
	require.NoError(mgr.Start("count", func(context.Context) bool {
		return n.Add(1) < 5
	}))

	require.Eventually(func() bool { return mgr.TaskCount() == 0 }, time.Second, time.Millisecond)
	require.EqualValues(5, n.Load())
}

func TestStartInterval(t *testing.T) {
	require := require.New(t)

	mgr := newTestManager(t)
	var n atomic.Int32
	require.NoError(mgr.StartInterval("tick", func(context.Context) bool {
		n.Add(1)
		return true
	}, 5*time.Millisecond, true))

	require.Eventually(func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)

	// duplicate names are rejected while running
	require.Error(mgr.StartInterval("tick", func(context.Context) bool { return true }, time.Millisecond, false))

	require.NoError(mgr.StopInterval("tick"))
	require.Eventually(func() bool { return mgr.TaskCount() == 0 }, time.Second, time.Millisecond)
	require.Error(mgr.StopInterval("tick"))

	// the name can be reused once stopped
	require.NoError(mgr.StartInterval("tick", func(context.Context) bool { return false }, time.Millisecond, true))
}

func TestStartInterval_InvalidInterval(t *testing.T) {
	mgr := newTestManager(t)
	require.Error(t, mgr.StartInterval("bad", func(context.Context) bool { return true }, 0, false))
}

func TestStopAndWait(t *testing.T) {
	require := require.New(t)

	mgr := newTestManager(t)
	require.NoError(mgr.Start("block", func(ctx context.Context) bool {
		<-ctx.Done()
		return false
	}))
	require.NoError(mgr.StartInterval("tick", func(context.Context) bool { return true }, time.Hour, false))
	require.Equal(2, mgr.TaskCount())

	mgr.Stop()
	require.ErrorIs(mgr.Start("late", func(context.Context) bool { return false }), ErrStopped)

	mgr.Wait()
	require.Zero(mgr.TaskCount())

	// Wait re-arms the manager
	require.NoError(mgr.Start("again", func(context.Context) bool { return false }))
}

func TestPanicStopsTask(t *testing.T) {
	require := require.New(t)

	mgr := newTestManager(t)
	require.NoError(mgr.Start("panic", func(context.Context) bool {
		panic("boom")
	}))

	require.Eventually(func() bool { return mgr.TaskCount() == 0 }, time.Second, time.Millisecond)
}
