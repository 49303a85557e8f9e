// Package task runs named background goroutines, such as the analyzer heartbeat,
// with a shared cancellation scope.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-robotray/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Func is one iteration of a task. It returns false to stop the task.
type Func func(ctx context.Context) bool

// ErrStopped is returned when starting a task on a stopped Manager.
var ErrStopped = errors.New("task: manager stopped")

// Manager manages the lifecycle of goroutines.
//
// Stop cancels every task; Wait blocks until they return and makes the manager
// reusable.
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.StartInterval("heartbeat", beat, 5*time.Second, true)
//	...
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx      context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    logger.Logger
	count     atomic.Int32
	intervals *xsync.MapOf[string, *intervalTask]
	mu        sync.RWMutex // protects ctx and cancel
	taskMu    sync.RWMutex // blocks task creation during Wait
}

// NewManager creates a Manager whose tasks are canceled with ctx.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &Manager{pctx: ctx, logger: l, intervals: xsync.NewMapOf[string, *intervalTask]()}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *Manager) currentContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs fn in a loop until it returns false or the manager is stopped.
func (mgr *Manager) Start(name string, fn Func) error {
	mgr.logger.Debug("start task", "name", name)

	return mgr.spawn(name, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if !mgr.callWithRecover(ctx, name, fn) {
				return
			}
		}
	})
}

// StartInterval runs fn every interval until it returns false, the interval is
// stopped or the manager is stopped. When runNow is true fn also runs immediately.
func (mgr *Manager) StartInterval(name string, fn Func, interval time.Duration, runNow bool) error {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "runNow", runNow)

	if interval <= 0 {
		return fmt.Errorf("task: invalid interval %v", interval)
	}

	iv := &intervalTask{ticker: time.NewTicker(interval), stop: make(chan struct{})}
	if _, loaded := mgr.intervals.LoadOrStore(name, iv); loaded {
		iv.ticker.Stop()
		return fmt.Errorf("task: interval task %s already exists", name)
	}

	cleanup := func() {
		iv.halt()
		// only remove our own entry, a new task may reuse the name
		mgr.intervals.Compute(name, func(cur *intervalTask, loaded bool) (*intervalTask, bool) {
			return cur, !loaded || cur == iv
		})
	}

	err := mgr.spawn(name, func(ctx context.Context) {
		defer cleanup()

		if runNow && !mgr.callWithRecover(ctx, name, fn) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-iv.stop:
				return
			case <-iv.ticker.C:
				if !mgr.callWithRecover(ctx, name, fn) {
					return
				}
			}
		}
	})
	if err != nil {
		cleanup()
	}

	return err
}

type intervalTask struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (iv *intervalTask) halt() {
	iv.once.Do(func() {
		iv.ticker.Stop()
		close(iv.stop)
	})
}

// StopInterval stops the named interval task.
func (mgr *Manager) StopInterval(name string) error {
	iv, ok := mgr.intervals.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("task: interval task %s not found", name)
	}
	iv.halt()

	return nil
}

// Stop cancels every running task.
func (mgr *Manager) Stop() {
	mgr.intervals.Range(func(_ string, iv *intervalTask) bool {
		iv.halt()
		return true
	})

	mgr.mu.Lock()
	mgr.cancel()
	mgr.mu.Unlock()
}

// Wait blocks until every task returned, then re-arms the manager.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of running tasks.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) spawn(name string, body func(ctx context.Context)) error {
	mgr.taskMu.RLock()
	defer mgr.taskMu.RUnlock()

	ctx := mgr.currentContext()
	if ctx.Err() != nil {
		return ErrStopped
	}

	mgr.wg.Add(1)
	mgr.count.Add(1)
	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "taskCount", mgr.TaskCount())
		}()

		body(ctx)
	}()

	return nil
}

// callWithRecover runs fn, treating a panic as a request to stop the task.
func (mgr *Manager) callWithRecover(ctx context.Context, name string, fn Func) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			cont = false
		}
	}()

	return fn(ctx)
}
