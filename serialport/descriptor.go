package serialport

import (
	"fmt"
	"strings"
)

// Descriptor describes one serial device reported by the operating system.
type Descriptor struct {
	Path         string
	Description  string
	Manufacturer string
	// VID and PID are upper-case hexadecimal strings, empty for non-USB devices.
	VID          string
	PID          string
	SerialNumber string
	IsUSB        bool
}

// Signature returns the device's VID:PID signature, or the zero Signature for
// non-USB devices.
func (d Descriptor) Signature() Signature {
	if d.VID == "" || d.PID == "" {
		return Signature{}
	}

	return Signature{VID: strings.ToUpper(d.VID), PID: strings.ToUpper(d.PID)}
}

// Label formats the descriptor for device pickers, e.g. "/dev/ttyUSB0 - USB Serial".
func (d Descriptor) Label() string {
	if d.Description == "" {
		return d.Path
	}

	return d.Path + " - " + d.Description
}

// Signature identifies a USB-serial chip by vendor and product id.
type Signature struct {
	VID string
	PID string
}

// ParseSignature parses a "VID:PID" string such as "1A86:7523". Both parts must be
// four hexadecimal digits; the result is upper-cased.
func ParseSignature(s string) (Signature, error) {
	vid, pid, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || !isHex4(vid) || !isHex4(pid) {
		return Signature{}, fmt.Errorf("serialport: invalid VID:PID signature %q", s)
	}

	return Signature{VID: strings.ToUpper(vid), PID: strings.ToUpper(pid)}, nil
}

// MustParseSignature is like ParseSignature but panics on error.
func MustParseSignature(s string) Signature {
	sig, err := ParseSignature(s)
	if err != nil {
		panic(err)
	}

	return sig
}

func (s Signature) String() string {
	return s.VID + ":" + s.PID
}

// IsZero reports whether s is the zero Signature.
func (s Signature) IsZero() bool {
	return s.VID == "" && s.PID == ""
}

func isHex4(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}

	return true
}
