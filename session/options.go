package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arloliu/go-robotray/analyzer"
	"github.com/arloliu/go-robotray/config"
	"github.com/arloliu/go-robotray/logger"
	"github.com/arloliu/go-robotray/sequence"
	"github.com/arloliu/go-robotray/serialport"
	"github.com/arloliu/go-robotray/stage"
)

// Option is a functional option for configuring a Session.
type Option interface {
	apply(*Session) error
}

type optFunc func(*Session) error

func (f optFunc) apply(s *Session) error { return f(s) }

// WithEnumerator sets how serial devices are enumerated. Defaults to the operating system.
func WithEnumerator(enum serialport.Enumerator) Option {
	return optFunc(func(s *Session) error {
		if enum == nil {
			return errors.New("session: enumerator must not be nil")
		}
		s.enum = enum

		return nil
	})
}

// WithCriteria sets the stage device selection rules. Defaults to serialport.DefaultCriteria.
func WithCriteria(c serialport.Criteria) Option {
	return optFunc(func(s *Session) error {
		s.criteria = c
		return nil
	})
}

// WithStagePort opens the stage at path without device discovery.
func WithStagePort(path string) Option {
	return optFunc(func(s *Session) error {
		s.stagePort = strings.TrimSpace(path)
		return nil
	})
}

// WithStageOptions adds options applied to every stage client the session creates.
func WithStageOptions(opts ...stage.Option) Option {
	return optFunc(func(s *Session) error {
		s.stageOpts = append(s.stageOpts, opts...)
		return nil
	})
}

// WithAnalyzerOptions adds options applied to the analyzer client.
func WithAnalyzerOptions(opts ...analyzer.Option) Option {
	return optFunc(func(s *Session) error {
		s.analyzerOpts = append(s.analyzerOpts, opts...)
		return nil
	})
}

// WithAnalyzerAddress sets the host probed first and, when port is positive, fixes the port.
func WithAnalyzerAddress(host string, port int) Option {
	return optFunc(func(s *Session) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("session: analyzer port %d out of range", port)
		}
		s.analyzerHost, s.analyzerPort = host, port

		return nil
	})
}

// WithOffsetTable sets the table used by the orchestrator to advance the stage.
func WithOffsetTable(table *sequence.OffsetTable) Option {
	return optFunc(func(s *Session) error {
		s.table = table
		return nil
	})
}

// WithArtifactSink sets where the orchestrator writes step artifacts.
func WithArtifactSink(sink sequence.ArtifactSink) Option {
	return optFunc(func(s *Session) error {
		if sink == nil {
			return errors.New("session: artifact sink must not be nil")
		}
		s.sink = sink

		return nil
	})
}

// WithHeartbeat starts the analyzer heartbeat once the analyzer is connected.
func WithHeartbeat(enabled bool) Option {
	return optFunc(func(s *Session) error {
		s.heartbeat = enabled
		return nil
	})
}

// WithLogger sets the logger of the session and of the clients it creates.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Session) error {
		if l == nil {
			return errors.New("session: logger must not be nil")
		}
		s.logger = l

		return nil
	})
}

// OptionsFromConfig translates the process configuration into session options.
func OptionsFromConfig(cfg *config.Config) ([]Option, error) {
	criteria, err := cfg.Stage.Criteria()
	if err != nil {
		return nil, err
	}

	return []Option{
		WithCriteria(criteria),
		WithStagePort(cfg.Stage.PortOverride),
		WithStageOptions(cfg.Stage.Options()...),
		WithAnalyzerOptions(cfg.Analyzer.Options()...),
		WithAnalyzerAddress(cfg.Analyzer.Host, cfg.Analyzer.Port),
	}, nil
}
