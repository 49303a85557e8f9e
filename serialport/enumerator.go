package serialport

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Enumerator lists the serial devices currently attached.
type Enumerator interface {
	Devices(ctx context.Context) ([]Descriptor, error)
}

// EnumeratorFunc adapts a function to the Enumerator interface.
type EnumeratorFunc func(ctx context.Context) ([]Descriptor, error)

func (f EnumeratorFunc) Devices(ctx context.Context) ([]Descriptor, error) { return f(ctx) }

// SystemEnumerator enumerates devices through the operating system.
type SystemEnumerator struct{}

var _ Enumerator = SystemEnumerator{}

func (SystemEnumerator) Devices(ctx context.Context) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: enumerate devices: %w", err)
	}

	devices := make([]Descriptor, 0, len(ports))
	for _, p := range ports {
		if p == nil {
			continue
		}
		devices = append(devices, Descriptor{
			Path:         p.Name,
			Description:  p.Product,
			VID:          strings.ToUpper(p.VID),
			PID:          strings.ToUpper(p.PID),
			SerialNumber: p.SerialNumber,
			IsUSB:        p.IsUSB,
		})
	}

	return devices, nil
}
