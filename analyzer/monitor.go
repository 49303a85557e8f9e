package analyzer

import (
	"context"
	"sync/atomic"

	"github.com/arloliu/go-robotray/internal/task"
)

const heartbeatTaskName = "analyzer-heartbeat"

// Monitor runs the heartbeat of a Client in the background, on the client's
// heartbeat interval. It only issues identification requests, so it may run while a
// sequence is in progress.
type Monitor struct {
	client    *Client
	mgr       *task.Manager
	onFailure func(error)

	beats    atomic.Uint64
	failures atomic.Uint64
}

// NewMonitor creates a monitor for c. onFailure, when not nil, is called from the
// monitor goroutine after every failed heartbeat.
func NewMonitor(ctx context.Context, c *Client, onFailure func(error)) *Monitor {
	return &Monitor{
		client:    c,
		mgr:       task.NewManager(ctx, c.logger),
		onFailure: onFailure,
	}
}

// Start starts the heartbeat loop. The first heartbeat is sent after one interval.
func (m *Monitor) Start() error {
	return m.mgr.StartInterval(heartbeatTaskName, m.beat, m.client.cfg.heartbeatInterval, false)
}

// Stop stops the heartbeat loop and waits for it to return. The monitor can be
// started again afterwards.
func (m *Monitor) Stop() {
	m.mgr.Stop()
	m.mgr.Wait()
}

// Running reports whether the heartbeat loop is running.
func (m *Monitor) Running() bool { return m.mgr.TaskCount() > 0 }

// Beats returns the number of successful heartbeats.
func (m *Monitor) Beats() uint64 { return m.beats.Load() }

// Failures returns the number of failed heartbeats.
func (m *Monitor) Failures() uint64 { return m.failures.Load() }

func (m *Monitor) beat(ctx context.Context) bool {
	// nothing to check until the next Connect
	if !m.client.Connected() {
		return true
	}

	if err := m.client.Heartbeat(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		m.failures.Add(1)
		m.client.logger.Warn("heartbeat failed", "error", err)
		if m.onFailure != nil {
			m.onFailure(err)
		}

		return true
	}
	m.beats.Add(1)

	return true
}
