package stage

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-robotray/logger"
	"github.com/stretchr/testify/require"
)

// fakePort is an in-memory serial device. Every written line is passed to respond
// and the returned lines become readable.
type fakePort struct {
	mu          sync.Mutex
	in          []byte
	written     []string
	respond     func(cmd string) []string
	writeErr    error
	readErr     error
	closed      bool
	dtr         []bool
	rts         []bool
	readTimeout time.Duration
}

func newFakePort(respond func(cmd string) []string) *fakePort {
	return &fakePort{respond: respond, readTimeout: time.Millisecond}
}

// marlin answers like a Marlin board parked at pos.
func marlin(pos *Position) func(cmd string) []string {
	return func(cmd string) []string {
		switch {
		case strings.HasPrefix(cmd, CmdIdentify):
			return []string{"FIRMWARE_NAME:Marlin 2.1.2 (Creality)", "ok"}
		case strings.HasPrefix(cmd, CmdPosition):
			return []string{pos.String() + " E:0.00 Count X:800 Y:400 Z:0", "ok"}
		default:
			return []string{"ok"}
		}
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		p.mu.Unlock()
		return 0, p.readErr
	}
	if len(p.in) > 0 {
		n := copy(b, p.in)
		p.in = p.in[n:]
		p.mu.Unlock()

		return n, nil
	}
	timeout := p.readTimeout
	p.mu.Unlock()

	time.Sleep(timeout)

	return 0, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}

	for _, cmd := range strings.Split(strings.TrimSuffix(string(b), lineEnding), lineEnding) {
		p.written = append(p.written, cmd)
		if p.respond == nil {
			continue
		}
		for _, line := range p.respond(cmd) {
			p.in = append(p.in, line+lineEnding...)
		}
	}

	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

func (p *fakePort) SetDTR(v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dtr = append(p.dtr, v)

	return nil
}

func (p *fakePort) SetRTS(v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rts = append(p.rts, v)

	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in = nil

	return nil
}

func (p *fakePort) ResetOutputBuffer() error { return nil }

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t

	return nil
}

func (p *fakePort) setRespond(fn func(cmd string) []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.respond = fn
}

func (p *fakePort) commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.written...)
}

func (p *fakePort) lastCommand() string {
	cmds := p.commands()
	if len(cmds) == 0 {
		return ""
	}

	return cmds[len(cmds)-1]
}

func fastOptions(port Port) []Option {
	return []Option{
		WithOpener(func(string, int) (Port, error) { return port, nil }),
		WithLogger(logger.NewMockLogger().AllowAll()),
		WithSettleDelay(0),
		WithPollInterval(time.Millisecond),
		WithHandshakeTimeout(50 * time.Millisecond),
		WithQueryTimeout(50 * time.Millisecond),
		WithMoveAckTimeout(50 * time.Millisecond),
		WithLongAckTimeout(50 * time.Millisecond),
	}
}

// newConnectedClient returns a client connected to port.
func newConnectedClient(t *testing.T, port *fakePort, opts ...Option) *Client {
	t.Helper()

	c, err := NewClient("/dev/ttyUSB0", append(fastOptions(port), opts...)...)
	require.NoError(t, err)
	require.NoError(t, c.Connect(t.Context()))
	t.Cleanup(func() { _ = c.Close() })

	return c
}
