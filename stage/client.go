package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-robotray/logger"
)

// Client is a position-tracked stage on one serial device.
type Client struct {
	mu sync.Mutex

	path   string
	cfg    *Config
	logger logger.Logger

	port   Port
	reader *lineReader

	pos   Position
	known bool

	metrics Metrics
}

// NewClient creates a client for the serial device at path. It does not open the device.
func NewClient(path string, opts ...Option) (*Client, error) {
	if path == "" {
		return nil, errors.New("stage: device path is empty")
	}

	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		path:   path,
		cfg:    cfg,
		logger: cfg.logger.With("component", "stage", "port", path),
	}, nil
}

// Path returns the serial device path.
func (c *Client) Path() string { return c.path }

// Config returns the client configuration.
func (c *Client) Config() *Config { return c.cfg }

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics { return &c.metrics }

// Connected reports whether the serial handle is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.port != nil
}

// Position returns the believed position and whether it is known.
func (c *Client) Position() (Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pos, c.known
}

// PositionKnown reports whether the stage was homed or synchronized since connecting.
func (c *Client) PositionKnown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.known
}

// Connect opens the device and performs the handshake: DTR and RTS are pulsed low,
// pending boot output is discarded, and M115 must produce at least one line within
// the handshake timeout.
//
// alternatives are other detected device paths, reported in the *ConnectError.
// An already open handle is closed first.
func (c *Client) Connect(ctx context.Context, alternatives ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	fail := func(err error) error {
		return &ConnectError{Path: c.path, Alternatives: alternatives, Err: err}
	}

	port, err := c.cfg.opener(c.path, c.cfg.baudRate)
	if err != nil {
		return fail(err)
	}

	if err := c.handshake(ctx, port); err != nil {
		_ = port.Close()
		return fail(err)
	}

	c.metrics.incConnectCount()
	c.logger.Info("stage connected", "baudRate", c.cfg.baudRate)

	return nil
}

func (c *Client) handshake(ctx context.Context, port Port) error {
	// some CH340 boards only start talking after a DTR/RTS toggle
	if err := port.SetDTR(false); err != nil {
		return err
	}
	if err := port.SetRTS(false); err != nil {
		return err
	}
	if c.cfg.settleDelay > 0 {
		timer := time.NewTimer(c.cfg.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := port.SetDTR(true); err != nil {
		return err
	}
	if err := port.SetRTS(true); err != nil {
		return err
	}

	if err := port.ResetInputBuffer(); err != nil {
		return err
	}
	if err := port.ResetOutputBuffer(); err != nil {
		return err
	}

	if _, err := port.Write([]byte(CmdIdentify + lineEnding)); err != nil {
		return err
	}
	c.metrics.incCommandCount()

	reader := newLineReader(port, c.cfg.pollInterval)
	line, err := reader.readLine(ctx, time.Now().Add(c.cfg.handshakeTimeout))
	if errors.Is(err, errLineTimeout) {
		return fmt.Errorf("no response to %s within %v", CmdIdentify, c.cfg.handshakeTimeout)
	}
	if err != nil {
		return err
	}
	c.logger.Debug("handshake response", "line", line)

	c.port = port
	c.reader = reader
	c.known = false
	c.pos = Position{}

	return nil
}

// Close closes the serial handle. The believed position becomes unknown.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.port == nil {
		return nil
	}

	err := c.port.Close()
	c.port = nil
	c.reader = nil
	c.known = false
	c.logger.Info("stage disconnected")

	return err
}

// MoveTo moves to target, clamping negative axes to 0, and returns the position that
// was commanded. The believed position changes only after the firmware acknowledges.
func (c *Client) MoveTo(ctx context.Context, target Position) (Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.moveToLocked(ctx, target)
}

func (c *Client) moveToLocked(ctx context.Context, target Position) (Position, error) {
	target = target.Clamp()
	if _, err := c.exchange(ctx, FormatMove(target, c.cfg.feedRate), c.cfg.moveAckTimeout); err != nil {
		return target, err
	}

	c.pos = target
	c.known = true

	return target, nil
}

// MoveBy moves relative to the believed position. Before the stage was homed or
// synchronized the firmware's reported position is adopted first; when that report
// cannot be read the error wraps ErrPositionUnknown and nothing is moved.
func (c *Client) MoveBy(ctx context.Context, delta Position) (Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return Position{}, ErrNotConnected
	}
	if !c.known {
		pos, err := c.queryLocked(ctx)
		if err != nil {
			return Position{}, fmt.Errorf("%w: %w", ErrPositionUnknown, err)
		}
		c.logger.Info("adopted reported position", "position", pos)
		c.pos = pos
		c.known = true
	}

	return c.moveToLocked(ctx, c.pos.Add(delta))
}

// Home homes the configured axes and then, when ref is not nil, moves to ref.
// Afterwards the believed position is ref (clamped) or the origin.
func (c *Client) Home(ctx context.Context, ref *Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.exchange(ctx, FormatHome(c.cfg.homeAxes), c.cfg.longAckTimeout); err != nil {
		c.known = false
		return err
	}
	c.pos = Position{}
	c.known = true

	if ref == nil {
		return nil
	}

	_, err := c.moveToLocked(ctx, *ref)

	return err
}

// AutoLevel runs the bed-leveling routine. The believed position is unchanged.
func (c *Client) AutoLevel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.exchange(ctx, CmdLevel, c.cfg.longAckTimeout)

	return err
}

// QueryPosition asks the firmware for its position. The believed position is not
// changed; use SyncPosition to adopt the reported one.
func (c *Client) QueryPosition(ctx context.Context) (Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.queryLocked(ctx)
}

// SyncPosition queries the firmware and adopts the reported position as the believed one.
func (c *Client) SyncPosition(ctx context.Context) (Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.queryLocked(ctx)
	if err != nil {
		return pos, err
	}
	c.pos = pos
	c.known = true

	return pos, nil
}

func (c *Client) queryLocked(ctx context.Context) (Position, error) {
	lines, err := c.exchange(ctx, CmdPosition, c.cfg.queryTimeout)
	if err != nil && !errors.Is(err, ErrNoAck) {
		return Position{}, err
	}
	// a report without the trailing ok is still usable

	raw := strings.Join(lines, "\n")
	pos, perr := ParsePosition(raw)
	if perr != nil {
		c.metrics.incParseErrorCount()
		c.logger.Warn("unparseable position response", "raw", raw)

		return Position{}, perr
	}

	return pos, nil
}

// SendRaw sends one command line, as typed by an operator, and returns the response
// lines up to and including the acknowledgement.
func (c *Client) SendRaw(ctx context.Context, cmd string) ([]string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		return nil, fmt.Errorf("stage: invalid raw command %q", cmd)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exchange(ctx, cmd, c.cfg.moveAckTimeout)
}

// exchange writes cmd and collects response lines until one starts with "ok".
// When no acknowledgement arrives in time the collected lines are returned with an
// error wrapping ErrNoAck.
func (c *Client) exchange(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	if c.port == nil {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// stale output, such as a late ok of a timed-out command, must not be taken
	// as the response to cmd
	if err := c.reader.discard(); err != nil {
		return nil, c.transportFailure(cmd, err)
	}

	c.logger.Debug("send", "cmd", cmd)
	if _, err := c.port.Write([]byte(cmd + lineEnding)); err != nil {
		return nil, c.transportFailure(cmd, err)
	}
	c.metrics.incCommandCount()

	deadline := time.Now().Add(timeout)
	var lines []string
	for {
		line, err := c.reader.readLine(ctx, deadline)
		switch {
		case errors.Is(err, errLineTimeout):
			c.metrics.incAckTimeoutCount()
			c.logger.Warn("command not acknowledged", "cmd", cmd, "timeout", timeout, "lines", lines)

			return lines, fmt.Errorf("%w: %q within %v", ErrNoAck, cmd, timeout)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return lines, err
		case err != nil:
			return lines, c.transportFailure(cmd, err)
		}

		c.logger.Debug("recv", "line", line)
		lines = append(lines, line)
		if isAck(line) {
			c.metrics.incAckCount()
			return lines, nil
		}
	}
}

// transportFailure closes the handle and wraps err.
func (c *Client) transportFailure(cmd string, err error) error {
	c.metrics.incTransportErrorCount()
	c.logger.Error("transport failure, closing stage", "cmd", cmd, "error", err)
	_ = c.closeLocked()

	return &TransportError{Command: cmd, Err: err}
}
