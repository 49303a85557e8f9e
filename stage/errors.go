package stage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConnected is returned by commands issued without an open handle.
	ErrNotConnected = errors.New("stage: not connected")

	// ErrNoAck is returned when the firmware did not acknowledge a command in time.
	// The believed position is left unchanged.
	ErrNoAck = errors.New("stage: command not acknowledged")

	// ErrPositionUnknown is wrapped by relative moves when the position was never
	// established and the firmware's report could not be read.
	ErrPositionUnknown = errors.New("stage: position unknown")
)

// ConnectError reports a failed Connect. Alternatives lists the other serial devices
// the caller detected, to help pick the right one.
type ConnectError struct {
	Path         string
	Alternatives []string
	Err          error
}

func (e *ConnectError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "stage: connect %s: %v", e.Path, e.Err)
	if len(e.Alternatives) > 0 {
		fmt.Fprintf(&sb, " (other devices: %s)", strings.Join(e.Alternatives, ", "))
	}

	return sb.String()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError reports a serial I/O failure. The client closes its handle before
// returning it.
type TransportError struct {
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stage: transport failure on %q: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a position response that matched no accepted format.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stage: cannot parse position from response %q", e.Raw)
}
