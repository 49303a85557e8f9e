// Package session owns the connections of one bench: the stage client, the analyzer
// client and the counter store. It locates and opens both devices, hands them to the
// sequence orchestrator and closes them again.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/go-robotray/analyzer"
	"github.com/arloliu/go-robotray/counter"
	"github.com/arloliu/go-robotray/logger"
	"github.com/arloliu/go-robotray/sequence"
	"github.com/arloliu/go-robotray/serialport"
	"github.com/arloliu/go-robotray/stage"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// Report is the outcome of Connect. A device that failed has its error set and the
// other device is still attempted.
type Report struct {
	StagePath string
	// StageReason tells how StagePath was chosen, e.g. "serial number FT123" or "reused".
	StageReason string
	StageErr    error
	AnalyzerURL string
	AnalyzerErr error
}

// OK reports whether both devices are connected.
func (r Report) OK() bool { return r.StageErr == nil && r.AnalyzerErr == nil }

// Err joins the device errors.
func (r Report) Err() error { return errors.Join(r.StageErr, r.AnalyzerErr) }

// Session is one bench: a single stage, a single analyzer and the counter store.
type Session struct {
	store    *counter.Store
	analyzer *analyzer.Client

	enum         serialport.Enumerator
	criteria     serialport.Criteria
	stagePort    string
	stageOpts    []stage.Option
	analyzerOpts []analyzer.Option
	analyzerHost string
	analyzerPort int
	table        *sequence.OffsetTable
	sink         sequence.ArtifactSink
	heartbeat    bool
	logger       logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stage   *stage.Client
	monitor *analyzer.Monitor
	orch    *sequence.Orchestrator
	closed  bool
}

// New creates a session over store. No device is touched until Connect.
func New(store *counter.Store, opts ...Option) (*Session, error) {
	if store == nil {
		return nil, errors.New("session: counter store is required")
	}

	s := &Session{
		store:    store,
		enum:     serialport.SystemEnumerator{},
		criteria: serialport.DefaultCriteria(),
		logger:   logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "session")

	client, err := analyzer.NewClient(append([]analyzer.Option{analyzer.WithLogger(s.logger)}, s.analyzerOpts...)...)
	if err != nil {
		return nil, err
	}
	s.analyzer = client
	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

// Counter returns the counter store.
func (s *Session) Counter() *counter.Store { return s.store }

// Analyzer returns the analyzer client. It exists whether or not it is connected.
func (s *Session) Analyzer() *analyzer.Client { return s.analyzer }

// Stage returns the current stage client, or nil before the first successful device
// selection.
func (s *Session) Stage() *stage.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stage
}

// Table returns the offset table, which may be nil.
func (s *Session) Table() *sequence.OffsetTable { return s.table }

// Monitor returns the heartbeat monitor, or nil when the heartbeat is disabled or has
// not started.
func (s *Session) Monitor() *analyzer.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.monitor
}

// Connect opens the stage and discovers the analyzer. Live connections are reused, so
// calling Connect again only repairs what is down.
func (s *Session) Connect(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Report{}, ErrClosed
	}

	var r Report
	s.connectStage(ctx, &r)
	s.connectAnalyzer(ctx, &r)

	if r.AnalyzerErr == nil && s.heartbeat && s.monitor == nil {
		s.monitor = analyzer.NewMonitor(s.ctx, s.analyzer, func(err error) {
			s.logger.Warn("analyzer heartbeat lost", "error", err)
		})
		if err := s.monitor.Start(); err != nil {
			s.logger.Warn("failed to start analyzer heartbeat", "error", err)
			s.monitor = nil
		}
	}

	s.logger.Info("session connect",
		"stagePath", r.StagePath, "stageReason", r.StageReason, "stageErr", r.StageErr,
		"analyzerURL", r.AnalyzerURL, "analyzerErr", r.AnalyzerErr,
	)

	return r, nil
}

func (s *Session) connectStage(ctx context.Context, r *Report) {
	if s.stage != nil && s.stage.Connected() {
		r.StagePath, r.StageReason = s.stage.Path(), "reused"
		return
	}

	var alternatives []string
	if s.stagePort != "" {
		r.StagePath, r.StageReason = s.stagePort, "port override"
	} else {
		sel, err := serialport.Locate(ctx, s.enum, s.criteria)
		if err != nil {
			r.StageErr = err
			return
		}
		r.StagePath = sel.Device.Path
		r.StageReason = fmt.Sprintf("%s %s", sel.Reason, sel.Match)
		for _, d := range sel.Detected {
			if d.Path != sel.Device.Path {
				alternatives = append(alternatives, d.Path)
			}
		}
	}

	if s.stage == nil || s.stage.Path() != r.StagePath {
		if s.stage != nil {
			_ = s.stage.Close()
		}
		opts := append([]stage.Option{stage.WithLogger(s.logger)}, s.stageOpts...)
		client, err := stage.NewClient(r.StagePath, opts...)
		if err != nil {
			r.StageErr = err
			return
		}
		s.stage = client
	}

	r.StageErr = s.stage.Connect(ctx, alternatives...)
}

func (s *Session) connectAnalyzer(ctx context.Context, r *Report) {
	if s.analyzer.Connected() {
		r.AnalyzerURL = s.analyzer.Endpoint().String()
		return
	}

	ep, err := s.analyzer.Connect(ctx, s.analyzerHost, s.analyzerPort)
	if err != nil {
		r.AnalyzerErr = err
		return
	}
	r.AnalyzerURL = ep.String()
}

// Home homes the stage and parks it over the first cup recorded in the counter store.
func (s *Session) Home(ctx context.Context) error {
	st := s.Stage()
	if st == nil {
		return stage.ErrNotConnected
	}

	refs := s.store.References()

	return st.Home(ctx, &stage.Position{X: refs.FirstX, Y: refs.FirstY})
}

// Orchestrator returns the sequence orchestrator of the session, creating it on the
// first call. opts are only applied then.
func (s *Session) Orchestrator(opts ...sequence.Option) (*sequence.Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.orch != nil {
		return s.orch, nil
	}

	base := []sequence.Option{sequence.WithLogger(s.logger)}
	if s.sink != nil {
		base = append(base, sequence.WithArtifactSink(s.sink))
	}

	o, err := sequence.New(s.store, stageHandle{s}, s.analyzer, s.table, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	s.orch = o

	return o, nil
}

// Close stops the heartbeat, closes the stage and forgets the analyzer endpoint.
// Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.monitor != nil {
		s.monitor.Stop()
		s.monitor = nil
	}
	s.cancel()

	var err error
	if s.stage != nil {
		err = s.stage.Close()
	}
	s.analyzer.Disconnect()

	return err
}

// stageHandle resolves the stage client at call time, so the orchestrator follows a
// reconnect to a different device path.
type stageHandle struct {
	s *Session
}

var _ sequence.Stage = stageHandle{}

func (h stageHandle) MoveBy(ctx context.Context, delta stage.Position) (stage.Position, error) {
	st := h.s.Stage()
	if st == nil {
		return stage.Position{}, stage.ErrNotConnected
	}

	return st.MoveBy(ctx, delta)
}
