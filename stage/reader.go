package stage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"
)

var errLineTimeout = errors.New("stage: line timeout")

// lineReader splits the serial byte stream into trimmed, non-empty lines.
type lineReader struct {
	port  Port
	poll  time.Duration
	buf   []byte
	chunk []byte
}

func newLineReader(port Port, poll time.Duration) *lineReader {
	return &lineReader{port: port, poll: poll, chunk: make([]byte, 256)}
}

// readLine returns the next non-empty line, errLineTimeout once deadline passes,
// ctx.Err() when ctx is done, or the port's read error.
func (r *lineReader) readLine(ctx context.Context, deadline time.Time) (string, error) {
	for {
		if idx := bytes.IndexByte(r.buf, '\n'); idx >= 0 {
			line := strings.TrimSpace(string(r.buf[:idx]))
			r.buf = r.buf[idx+1:]
			if line == "" {
				continue
			}

			return line, nil
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", errLineTimeout
		}

		if err := r.port.SetReadTimeout(min(remaining, r.poll)); err != nil {
			return "", err
		}
		n, err := r.port.Read(r.chunk)
		if err != nil {
			return "", err
		}
		r.buf = append(r.buf, r.chunk[:n]...)
	}
}

// discard drops buffered input, including bytes the driver already received.
func (r *lineReader) discard() error {
	r.buf = r.buf[:0]
	return r.port.ResetInputBuffer()
}
