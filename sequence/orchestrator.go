package sequence

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-robotray/analyzer"
	"github.com/arloliu/go-robotray/logger"
	"github.com/arloliu/go-robotray/stage"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrRunning is returned when a run or a cursor reset is requested while a run
	// is in progress.
	ErrRunning = errors.New("sequence: a run is in progress")

	// ErrAborted is returned by Run when the run was halted by Abort.
	ErrAborted = errors.New("sequence: run aborted")
)

// Counter issues test numbers and tracks the offset table cursor.
type Counter interface {
	NextTestNumber() (int64, error)
	SequenceCursor() int
	AdvanceCursor() (int, error)
	ResetCursor() error
}

// Stage moves the sample stage.
type Stage interface {
	MoveBy(ctx context.Context, delta stage.Position) (stage.Position, error)
}

// Analyzer triggers measurements.
type Analyzer interface {
	Connected() bool
	Reconnect(ctx context.Context) (analyzer.Endpoint, error)
	Trigger(ctx context.Context, mode string, kind analyzer.TestKind) (json.RawMessage, error)
	SetBeamDuration(ctx context.Context, mode string, d time.Duration) (*analyzer.AcquisitionParams, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Abort(ctx context.Context) error
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name string
	Mode string
	OK   bool
	// Err describes why the step failed; empty when OK.
	Err string
	// Warnings lists failures that did not fail the step, such as a missing screenshot.
	Warnings []string
	Files    []string
	Duration time.Duration
}

// RepetitionResult is the outcome of one repetition.
type RepetitionResult struct {
	// Index is 1-based.
	Index      int
	TestNumber int64
	StartedAt  time.Time
	Steps      []StepResult
	// Files lists the artifacts spanning every step, such as the chemistry table.
	Files []string
	// Row is the offset table row applied by the advance, -1 when no advance was attempted.
	Row      int
	Offset   stage.Position
	Advanced bool
	// AdvanceErr describes a failed advance.
	AdvanceErr string
	Done       bool
}

// OK reports whether every step of the repetition succeeded.
func (r RepetitionResult) OK() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}

	return len(r.Steps) > 0
}

func (r RepetitionResult) clone() RepetitionResult {
	r.Steps = slices.Clone(r.Steps)
	r.Files = slices.Clone(r.Files)

	return r
}

// Report summarizes a run.
type Report struct {
	State       RunState
	Repetitions []RepetitionResult
	StartCursor int
	EndCursor   int
}

// Advances returns the number of stage advances of the run.
func (r *Report) Advances() int {
	n := 0
	for _, rep := range r.Repetitions {
		if rep.Advanced {
			n++
		}
	}

	return n
}

// Orchestrator runs plans against a counter, a stage and an analyzer. Runs are
// strictly sequential; Results may be read while a run is in progress.
type Orchestrator struct {
	counter  Counter
	stage    Stage
	analyzer Analyzer
	table    *OffsetTable
	sink     ArtifactSink
	logger   logger.Logger
	now      func() time.Time

	runMu   sync.Mutex
	state   atomic.Uint32
	abort   atomic.Bool
	results *xsync.MapOf[int64, RepetitionResult]
}

// New creates an orchestrator. table may be nil, in which case every advance is
// recorded as failed and the stage does not move.
func New(counter Counter, st Stage, an Analyzer, table *OffsetTable, opts ...Option) (*Orchestrator, error) {
	if counter == nil || st == nil || an == nil {
		return nil, errors.New("sequence: counter, stage and analyzer are required")
	}

	o := &Orchestrator{
		counter:  counter,
		stage:    st,
		analyzer: an,
		table:    table,
		sink:     nopSink{},
		logger:   logger.GetLogger(),
		now:      time.Now,
		results:  xsync.NewMapOf[int64, RepetitionResult](),
	}
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "sequence")

	return o, nil
}

// State returns the run state.
func (o *Orchestrator) State() RunState { return RunState(o.state.Load()) }

// Table returns the offset table, nil when none is loaded.
func (o *Orchestrator) Table() *OffsetTable { return o.table }

// Run executes plan and blocks until it completes, is aborted or fails. The report is
// returned in every case once the plan was accepted.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) (*Report, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if !o.runMu.TryLock() {
		return nil, ErrRunning
	}
	defer o.runMu.Unlock()

	o.abort.Store(false)
	o.state.Store(uint32(RunRunning))

	report := &Report{StartCursor: o.counter.SequenceCursor()}
	finish := func(state RunState, err error) (*Report, error) {
		report.State = state
		report.EndCursor = o.counter.SequenceCursor()
		o.state.Store(uint32(state))
		o.logger.Info("run finished", "state", state, "repetitions", len(report.Repetitions),
			"advances", report.Advances(), "cursor", report.EndCursor)

		return report, err
	}

	o.logger.Info("run started", "repetitions", plan.Repetitions, "steps", len(plan.Steps), "cursor", report.StartCursor)

	for i := 1; i <= plan.Repetitions; i++ {
		if err := o.halted(ctx); err != nil {
			return finish(RunAborted, err)
		}

		num, err := o.counter.NextTestNumber()
		if err != nil {
			o.logger.Error("cannot issue test number, halting run", "repetition", i, "error", err)
			return finish(RunFailed, fmt.Errorf("sequence: repetition %d: %w", i, err))
		}

		rep, err := o.runRepetition(ctx, plan, i, num)
		report.Repetitions = append(report.Repetitions, rep)
		if err != nil {
			if errors.Is(err, ErrAborted) || ctx.Err() != nil {
				return finish(RunAborted, err)
			}

			return finish(RunFailed, err)
		}
	}

	return finish(RunCompleted, nil)
}

func (o *Orchestrator) runRepetition(ctx context.Context, plan Plan, index int, num int64) (RepetitionResult, error) {
	rep := RepetitionResult{Index: index, TestNumber: num, StartedAt: o.now(), Row: -1}
	o.publish(rep)

	log := o.logger.With("repetition", index, "testNumber", num)
	log.Info("repetition started")

	var artifacts []Artifact
	for j, step := range plan.Steps {
		if j > 0 {
			if err := o.halted(ctx); err != nil {
				return o.closeRepetition(ctx, rep, artifacts), err
			}
			if j == 1 && plan.SettleAfterFirst > 0 {
				if err := sleep(ctx, plan.SettleAfterFirst); err != nil {
					return o.closeRepetition(ctx, rep, artifacts), err
				}
			}
		}

		res, art := o.runStep(ctx, log, num, step)
		rep.Steps = append(rep.Steps, res)
		if art != nil {
			artifacts = append(artifacts, *art)
		}
		o.publish(rep)
	}
	rep = o.closeRepetition(ctx, rep, artifacts)

	if index == plan.Repetitions && !plan.AdvanceAfterFinal {
		return rep, nil
	}
	if err := o.halted(ctx); err != nil {
		return rep, err
	}

	err := o.advance(ctx, log, &rep)
	o.publish(rep)

	return rep, err
}

// closeRepetition saves the artifacts spanning the repetition's steps and marks it done.
func (o *Orchestrator) closeRepetition(ctx context.Context, rep RepetitionResult, artifacts []Artifact) RepetitionResult {
	if len(artifacts) > 0 {
		files, err := o.sink.SaveRepetition(ctx, rep.TestNumber, o.now(), artifacts)
		if err != nil {
			o.logger.Warn("cannot save repetition artifacts", "testNumber", rep.TestNumber, "error", err)
		}
		rep.Files = append(rep.Files, files...)
	}
	rep.Done = true
	o.publish(rep)

	return rep
}

func (o *Orchestrator) runStep(ctx context.Context, log logger.Logger, num int64, step Step) (StepResult, *Artifact) {
	start := o.now()
	res := StepResult{Name: step.Label(), Mode: step.Mode}
	fail := func(format string, args ...any) (StepResult, *Artifact) {
		res.Err = fmt.Sprintf(format, args...)
		res.Duration = o.now().Sub(start)
		log.Warn("step failed", "step", res.Name, "error", res.Err)

		return res, nil
	}

	if !o.analyzer.Connected() {
		log.Info("analyzer link down, reconnecting", "step", res.Name)
		if _, err := o.analyzer.Reconnect(ctx); err != nil {
			return fail("reconnect analyzer: %v", err)
		}
	}

	if step.BeamDuration > 0 {
		if _, err := o.analyzer.SetBeamDuration(ctx, step.Mode, step.BeamDuration); err != nil {
			return fail("set beam duration: %v", err)
		}
	}

	raw, err := o.analyzer.Trigger(ctx, step.Mode, step.Kind)
	if err != nil {
		return fail("trigger %s: %v", step.Mode, err)
	}

	art := &Artifact{TestNumber: num, Step: res.Name, Mode: step.Mode, At: start, Raw: raw}
	if step.Screenshot {
		img, err := o.analyzer.Screenshot(ctx)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("screenshot: %v", err))
		} else {
			art.Screenshot = img
		}
	}

	files, err := o.sink.SaveStep(ctx, *art)
	res.Files = files
	if err != nil {
		return fail("save artifacts: %v", err)
	}

	res.OK = true
	res.Duration = o.now().Sub(start)
	log.Info("step completed", "step", res.Name, "files", len(files), "duration", res.Duration)

	return res, art
}

// advance applies the offset row at the cursor. The cursor moves only when the move
// command reached the stage; a failed move is recorded and the run goes on. The
// returned error is a counter store failure, which halts the run.
func (o *Orchestrator) advance(ctx context.Context, log logger.Logger, rep *RepetitionResult) error {
	row := o.counter.SequenceCursor()
	rep.Row = row

	if o.table == nil {
		rep.AdvanceErr = "no offset table loaded"
		log.Warn("stage not advanced", "row", row, "error", rep.AdvanceErr)

		return nil
	}

	delta, err := o.table.Row(row)
	if err != nil {
		rep.AdvanceErr = err.Error()
		log.Warn("stage not advanced", "row", row, "error", err)

		return nil
	}
	rep.Offset = delta

	if _, err := o.stage.MoveBy(ctx, delta); err != nil {
		rep.AdvanceErr = err.Error()
		if !errors.Is(err, stage.ErrNoAck) {
			log.Warn("stage not advanced", "row", row, "error", err)
			return nil
		}
		// the command was written; the stage may have moved
		log.Warn("stage move not acknowledged, advancing cursor", "row", row)
	}

	next, err := o.counter.AdvanceCursor()
	if err != nil {
		rep.AdvanceErr = fmt.Sprintf("advance cursor: %v", err)
		log.Error("cannot persist cursor, halting run", "row", row, "error", err)

		return fmt.Errorf("sequence: advance cursor after row %d: %w", row, err)
	}
	rep.Advanced = true
	log.Info("stage advanced", "row", row, "offset", delta.String(), "cursor", next)

	return nil
}

// halted reports whether the run must stop before its next action.
func (o *Orchestrator) halted(ctx context.Context) error {
	if o.abort.Load() {
		return ErrAborted
	}

	return ctx.Err()
}

func (o *Orchestrator) publish(rep RepetitionResult) {
	o.results.Store(rep.TestNumber, rep.clone())
}

// Abort sends a best-effort abort to the analyzer and, when a sequence is running,
// asks it to stop before its next action. The analyzer abort is sent even when idle,
// so a measurement started outside Run can be stopped too. Test numbers and the
// cursor are not rewound.
func (o *Orchestrator) Abort(ctx context.Context) error {
	if o.State().IsActive() {
		o.abort.Store(true)
		o.logger.Warn("abort requested")
	} else {
		o.logger.Info("abort requested while idle, forwarding to analyzer")
	}

	if err := o.analyzer.Abort(ctx); err != nil {
		o.logger.Warn("analyzer abort failed", "error", err)
		return err
	}

	return nil
}

// ResetCursor returns the offset table cursor to its initial row.
func (o *Orchestrator) ResetCursor() error {
	if !o.runMu.TryLock() {
		return ErrRunning
	}
	defer o.runMu.Unlock()

	return o.counter.ResetCursor()
}

// Results returns every recorded repetition ordered by test number, including the
// repetition in progress.
func (o *Orchestrator) Results() []RepetitionResult {
	out := make([]RepetitionResult, 0, o.results.Size())
	o.results.Range(func(_ int64, r RepetitionResult) bool {
		out = append(out, r.clone())
		return true
	})
	slices.SortFunc(out, func(a, b RepetitionResult) int { return cmp.Compare(a.TestNumber, b.TestNumber) })

	return out
}

// Result returns the repetition that used testNumber.
func (o *Orchestrator) Result(testNumber int64) (RepetitionResult, bool) {
	r, ok := o.results.Load(testNumber)
	if !ok {
		return RepetitionResult{}, false
	}

	return r.clone(), true
}

// ClearResults forgets every recorded repetition.
func (o *Orchestrator) ClearResults() {
	o.results.Clear()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
