package stage

import (
	"time"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port used by Client.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	// SetReadTimeout bounds a single Read; a Read that times out returns 0, nil.
	SetReadTimeout(t time.Duration) error
}

var _ Port = (serial.Port)(nil)

// Opener opens the device at path with the given baud rate.
type Opener func(path string, baudRate int) (Port, error)

// SerialOpener opens a real serial device with 8N1 framing.
func SerialOpener(path string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return p, nil
}
