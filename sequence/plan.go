package sequence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-robotray/analyzer"
)

// Step is one analyzer trigger within a repetition.
type Step struct {
	// Name labels the step in results; defaults to the mode.
	Name string
	Mode string
	Kind analyzer.TestKind
	// Screenshot captures the analyzer screen after the trigger.
	Screenshot bool
	// BeamDuration, when positive, is written to the mode's acquisition parameters
	// before the trigger.
	BeamDuration time.Duration
}

// Label returns the step name, or the mode when the name is empty.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}

	return s.Mode
}

// Plan describes a run.
type Plan struct {
	Repetitions int
	// Steps are the triggers of every repetition, in order. All of them share the
	// repetition's test number.
	Steps []Step
	// AdvanceAfterFinal also advances the stage after the last repetition.
	AdvanceAfterFinal bool
	// SettleAfterFirst is waited between the first and the second step.
	SettleAfterFirst time.Duration
}

// DefaultComboPlan returns the combo plan of n repetitions: a Mining trigger followed
// by a Soil trigger with a screenshot, without an advance after the last repetition.
func DefaultComboPlan(n int) Plan {
	return Plan{
		Repetitions: n,
		Steps: []Step{
			{Name: "mining", Mode: "Mining", Kind: analyzer.KindFinal},
			{Name: "soil", Mode: "Soil", Kind: analyzer.KindFinal, Screenshot: true},
		},
	}
}

// Advances returns the number of stage advances a complete run performs.
func (p Plan) Advances() int {
	if p.AdvanceAfterFinal {
		return p.Repetitions
	}

	return max(0, p.Repetitions-1)
}

// Validate checks the plan.
func (p Plan) Validate() error {
	if p.Repetitions < 1 {
		return fmt.Errorf("sequence: repetitions %d must be positive", p.Repetitions)
	}
	if len(p.Steps) == 0 {
		return errors.New("sequence: plan has no steps")
	}
	if p.SettleAfterFirst < 0 {
		return fmt.Errorf("sequence: negative settle delay %v", p.SettleAfterFirst)
	}

	for i, s := range p.Steps {
		if strings.TrimSpace(s.Mode) == "" {
			return fmt.Errorf("sequence: step %d has no mode", i+1)
		}
		if s.Kind != analyzer.KindFinal && s.Kind != analyzer.KindAll {
			return fmt.Errorf("sequence: step %d has invalid kind %q", i+1, s.Kind)
		}
		if s.BeamDuration < 0 {
			return fmt.Errorf("sequence: step %d has negative beam duration", i+1)
		}
	}

	return nil
}
