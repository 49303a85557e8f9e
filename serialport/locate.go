package serialport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reason tells which rule selected a device.
type Reason int

const (
	BySerialNumber Reason = iota + 1
	BySignature
	ByKeyword
)

func (r Reason) String() string {
	switch r {
	case BySerialNumber:
		return "serial number"
	case BySignature:
		return "VID:PID"
	case ByKeyword:
		return "keyword"
	default:
		return "unknown"
	}
}

// DefaultSignatures are the USB-serial chips found on common printer-derived stages:
// CH340, CP210x and FTDI FT232.
var DefaultSignatures = []Signature{
	{VID: "1A86", PID: "7523"},
	{VID: "10C4", PID: "EA60"},
	{VID: "0403", PID: "6001"},
}

// DefaultKeywords are matched against the device description and manufacturer.
var DefaultKeywords = []string{"CREALITY", "ENDER", "CH340", "CP210", "USB-SERIAL", "USB SERIAL", "UART"}

// Criteria configures Locate.
type Criteria struct {
	// SerialNumber, when set, is tried first and must match exactly.
	SerialNumber string
	// Signatures are matched against every device in enumeration order; the first
	// device matching any signature wins.
	Signatures []Signature
	// Keywords are matched case-insensitively against description and manufacturer.
	Keywords []string
}

// DefaultCriteria returns criteria using DefaultSignatures and DefaultKeywords.
func DefaultCriteria() Criteria {
	return Criteria{
		Signatures: append([]Signature(nil), DefaultSignatures...),
		Keywords:   append([]string(nil), DefaultKeywords...),
	}
}

// Selection is the result of a successful Locate.
type Selection struct {
	Device Descriptor
	Reason Reason
	// Match is the serial number, signature or keyword that matched.
	Match string
	// Detected is every device seen during the scan.
	Detected []Descriptor
}

// ErrNoDevice is wrapped by DiscoveryError.
var ErrNoDevice = errors.New("serialport: no matching device")

// DiscoveryError reports that no detected device satisfied the criteria.
type DiscoveryError struct {
	Criteria Criteria
	Detected []Descriptor
}

func (e *DiscoveryError) Error() string {
	if len(e.Detected) == 0 {
		return "serialport: no matching device, no serial devices detected"
	}

	labels := make([]string, 0, len(e.Detected))
	for _, d := range e.Detected {
		labels = append(labels, d.Label())
	}

	return fmt.Sprintf("serialport: no matching device, detected: %s", strings.Join(labels, "; "))
}

func (e *DiscoveryError) Unwrap() error { return ErrNoDevice }

// Locate enumerates the attached devices and selects the stage device.
//
// The scan is repeated on every call; results are never cached since device paths
// change when adapters are replugged.
func Locate(ctx context.Context, enum Enumerator, criteria Criteria) (Selection, error) {
	if enum == nil {
		enum = SystemEnumerator{}
	}

	devices, err := enum.Devices(ctx)
	if err != nil {
		return Selection{}, err
	}

	sel := Selection{Detected: devices}

	if criteria.SerialNumber != "" {
		for _, d := range devices {
			if d.SerialNumber == criteria.SerialNumber {
				sel.Device, sel.Reason, sel.Match = d, BySerialNumber, criteria.SerialNumber
				return sel, nil
			}
		}
	}

	for _, d := range devices {
		for _, sig := range criteria.Signatures {
			if sig.IsZero() {
				continue
			}
			if strings.EqualFold(d.VID, sig.VID) && strings.EqualFold(d.PID, sig.PID) {
				sel.Device, sel.Reason, sel.Match = d, BySignature, sig.String()
				return sel, nil
			}
		}
	}

	for _, d := range devices {
		text := strings.ToUpper(d.Description + " " + d.Manufacturer)
		for _, kw := range criteria.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(text, strings.ToUpper(kw)) {
				sel.Device, sel.Reason, sel.Match = d, ByKeyword, kw
				return sel, nil
			}
		}
	}

	return Selection{}, &DiscoveryError{Criteria: criteria, Detected: devices}
}
