package analyzer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-robotray/internal/fakeanalyzer"
	"github.com/stretchr/testify/require"
)

func TestMonitor_DetectsLostLink(t *testing.T) {
	require := require.New(t)

	srv := fakeanalyzer.New(fakeanalyzer.WithLogger(quietLogger()))
	network := fakeanalyzer.NewNetwork()
	network.Attach(fakeAddr, srv.Handler())
	c := newTestClient(t, network, WithHeartbeatInterval(10*time.Millisecond))

	_, err := c.Connect(context.Background(), "", 0)
	require.NoError(err)

	var failed atomic.Int32
	m := NewMonitor(context.Background(), c, func(error) { failed.Add(1) })
	require.NoError(m.Start())
	require.Error(m.Start(), "a second heartbeat loop must be rejected")
	defer m.Stop()

	require.Eventually(func() bool { return m.Beats() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.True(m.Running())

	network.Detach(fakeAddr)
	require.Eventually(func() bool { return !c.Connected() }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(func() bool { return failed.Load() == 1 }, time.Second, 5*time.Millisecond)

	// no further heartbeats while disconnected
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(1, m.Failures())
	require.EqualValues(1, failed.Load())

	m.Stop()
	require.False(m.Running())
}
