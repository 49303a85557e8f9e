package sequence

import (
	"errors"
	"time"

	"github.com/arloliu/go-robotray/logger"
)

// Option is a functional option for configuring an Orchestrator.
type Option interface {
	apply(*Orchestrator) error
}

type optFunc func(*Orchestrator) error

func (f optFunc) apply(o *Orchestrator) error { return f(o) }

// WithArtifactSink sets where step artifacts are written. By default nothing is written.
func WithArtifactSink(sink ArtifactSink) Option {
	return optFunc(func(o *Orchestrator) error {
		if sink == nil {
			return errors.New("sequence: artifact sink must not be nil")
		}
		o.sink = sink

		return nil
	})
}

// WithLogger sets the logger for the orchestrator.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *Orchestrator) error {
		if l == nil {
			return errors.New("sequence: logger must not be nil")
		}
		o.logger = l

		return nil
	})
}

// WithClock sets the time source used for artifact timestamps.
func WithClock(now func() time.Time) Option {
	return optFunc(func(o *Orchestrator) error {
		if now == nil {
			return errors.New("sequence: clock must not be nil")
		}
		o.now = now

		return nil
	})
}
