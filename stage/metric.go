package stage

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a stage client.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// ConnectCount indicates the number of successful connects.
	ConnectCount atomic.Uint64
	// CommandCount indicates the number of command lines written.
	CommandCount atomic.Uint64
	// AckCount indicates the number of acknowledged commands.
	AckCount atomic.Uint64
	// AckTimeoutCount indicates the number of commands that were not acknowledged in time.
	AckTimeoutCount atomic.Uint64
	// ParseErrorCount indicates the number of unparseable position responses.
	ParseErrorCount atomic.Uint64
	// TransportErrorCount indicates the number of serial I/O failures.
	TransportErrorCount atomic.Uint64
}

func (m *Metrics) incConnectCount()        { m.ConnectCount.Add(1) }
func (m *Metrics) incCommandCount()        { m.CommandCount.Add(1) }
func (m *Metrics) incAckCount()            { m.AckCount.Add(1) }
func (m *Metrics) incAckTimeoutCount()     { m.AckTimeoutCount.Add(1) }
func (m *Metrics) incParseErrorCount()     { m.ParseErrorCount.Add(1) }
func (m *Metrics) incTransportErrorCount() { m.TransportErrorCount.Add(1) }
