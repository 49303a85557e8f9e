package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-robotray/analyzer"
	"github.com/arloliu/go-robotray/counter"
	"github.com/arloliu/go-robotray/internal/fakeanalyzer"
	"github.com/arloliu/go-robotray/logger"
	"github.com/arloliu/go-robotray/serialport"
	"github.com/arloliu/go-robotray/stage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const fakeAddr = "127.0.0.1:8080"

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() logger.Logger {
	return logger.NewMockLogger().AllowAll()
}

// boardPort answers every command like a Marlin board that acknowledges immediately.
type boardPort struct {
	mu      sync.Mutex
	in      []byte
	written []string
	closed  bool
}

func (p *boardPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.in) > 0 {
		n := copy(b, p.in)
		p.in = p.in[n:]
		p.mu.Unlock()

		return n, nil
	}
	p.mu.Unlock()
	time.Sleep(time.Millisecond)

	return 0, nil
}

func (p *boardPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("port closed")
	}
	for _, cmd := range strings.Split(strings.TrimSuffix(string(b), "\r\n"), "\r\n") {
		p.written = append(p.written, cmd)
		switch {
		case strings.HasPrefix(cmd, stage.CmdIdentify):
			p.in = append(p.in, "FIRMWARE_NAME:Marlin 2.1.2\r\nok\r\n"...)
		case strings.HasPrefix(cmd, stage.CmdPosition):
			p.in = append(p.in, "X:0.00 Y:0.00 Z:0.00 E:0.00\r\nok\r\n"...)
		default:
			p.in = append(p.in, "ok\r\n"...)
		}
	}

	return len(b), nil
}

func (p *boardPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	return nil
}

func (p *boardPort) SetDTR(bool) error { return nil }
func (p *boardPort) SetRTS(bool) error { return nil }

func (p *boardPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in = nil

	return nil
}

func (p *boardPort) ResetOutputBuffer() error            { return nil }
func (p *boardPort) SetReadTimeout(time.Duration) error { return nil }

func (p *boardPort) commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.written...)
}

func (p *boardPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

// rig is a bench with fake devices behind a session.
type rig struct {
	store   *counter.Store
	server  *fakeanalyzer.Server
	network *fakeanalyzer.Network
	dir     string

	devices []serialport.Descriptor
	scans   atomic.Int32

	mu     sync.Mutex
	ports  []*boardPort
	opened []string
}

func newRig(t *testing.T) *rig {
	t.Helper()

	dir := t.TempDir()
	store, err := counter.Open(filepath.Join(dir, "state.json"), counter.WithLogger(quietLogger()))
	require.NoError(t, err)

	srv := fakeanalyzer.New(fakeanalyzer.WithLogger(quietLogger()))
	network := fakeanalyzer.NewNetwork()
	network.Attach(fakeAddr, srv.Handler())

	return &rig{
		store:   store,
		server:  srv,
		network: network,
		dir:     dir,
		devices: []serialport.Descriptor{
			{Path: "/dev/ttyS0", Description: "Serial port"},
			{Path: "/dev/ttyUSB1", Description: "USB Serial", VID: "1A86", PID: "7523", SerialNumber: "A10K", IsUSB: true},
		},
	}
}

func (r *rig) enumerator() serialport.Enumerator {
	return serialport.EnumeratorFunc(func(context.Context) ([]serialport.Descriptor, error) {
		r.scans.Add(1)
		return r.devices, nil
	})
}

func (r *rig) open(path string, _ int) (stage.Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &boardPort{}
	r.ports = append(r.ports, p)
	r.opened = append(r.opened, path)

	return p, nil
}

func (r *rig) lastPort() *boardPort {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ports) == 0 {
		return nil
	}

	return r.ports[len(r.ports)-1]
}

func (r *rig) openedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.opened...)
}

// session returns a session over the rig's fake devices. Later options override earlier ones.
func (r *rig) session(t *testing.T, opts ...Option) *Session {
	t.Helper()

	base := []Option{
		WithLogger(quietLogger()),
		WithEnumerator(r.enumerator()),
		WithCriteria(serialport.Criteria{SerialNumber: "A10K"}),
		WithStageOptions(
			stage.WithOpener(r.open),
			stage.WithSettleDelay(0),
			stage.WithPollInterval(time.Millisecond),
			stage.WithHandshakeTimeout(100*time.Millisecond),
			stage.WithQueryTimeout(100*time.Millisecond),
			stage.WithMoveAckTimeout(100*time.Millisecond),
			stage.WithLongAckTimeout(100*time.Millisecond),
		),
		WithAnalyzerOptions(
			analyzer.WithTransport(r.network),
			analyzer.WithTriggerTimeout(time.Second),
		),
	}

	s, err := New(r.store, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}
