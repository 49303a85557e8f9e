package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/arloliu/go-robotray/analyzer"
	"github.com/arloliu/go-robotray/sequence"
	"gopkg.in/yaml.v3"
)

// PlanConfig is the YAML form of a sequence plan:
//
//	repetitions: 10
//	advance_after_final: false
//	settle_after_first: 2s
//	steps:
//	  - mode: Mining
//	    kind: final
//	  - name: soil
//	    mode: Soil
//	    kind: final
//	    screenshot: true
//	    beam_duration: 30s
type PlanConfig struct {
	Repetitions       int          `yaml:"repetitions"`
	AdvanceAfterFinal bool         `yaml:"advance_after_final"`
	SettleAfterFirst  string       `yaml:"settle_after_first,omitempty"`
	Steps             []StepConfig `yaml:"steps"`
}

// StepConfig is the YAML form of a sequence step.
type StepConfig struct {
	Name         string `yaml:"name,omitempty"`
	Mode         string `yaml:"mode"`
	Kind         string `yaml:"kind,omitempty"`
	Screenshot   bool   `yaml:"screenshot,omitempty"`
	BeamDuration string `yaml:"beam_duration,omitempty"`
}

// LoadPlan reads a plan file. Unknown keys are rejected.
func LoadPlan(path string) (*PlanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read plan: %w", err)
	}

	return ParsePlan(data)
}

// ParsePlan decodes a YAML plan.
func ParsePlan(data []byte) (*PlanConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var pc PlanConfig
	if err := dec.Decode(&pc); err != nil {
		return nil, fmt.Errorf("config: decode plan: %w", err)
	}

	return &pc, nil
}

// ToPlan converts the configuration into a validated plan. A step without a kind
// requests the final result.
func (pc *PlanConfig) ToPlan() (sequence.Plan, error) {
	plan := sequence.Plan{
		Repetitions:       pc.Repetitions,
		AdvanceAfterFinal: pc.AdvanceAfterFinal,
	}

	var err error
	if plan.SettleAfterFirst, err = parseDuration(pc.SettleAfterFirst); err != nil {
		return sequence.Plan{}, fmt.Errorf("config: settle_after_first: %w", err)
	}

	for i, sc := range pc.Steps {
		step := sequence.Step{
			Name:       sc.Name,
			Mode:       sc.Mode,
			Kind:       analyzer.TestKind(sc.Kind),
			Screenshot: sc.Screenshot,
		}
		if step.Kind == "" {
			step.Kind = analyzer.KindFinal
		}
		if step.BeamDuration, err = parseDuration(sc.BeamDuration); err != nil {
			return sequence.Plan{}, fmt.Errorf("config: step %d beam_duration: %w", i+1, err)
		}
		plan.Steps = append(plan.Steps, step)
	}

	if err := plan.Validate(); err != nil {
		return sequence.Plan{}, err
	}

	return plan, nil
}

// PlanConfigFrom returns the YAML form of plan.
func PlanConfigFrom(plan sequence.Plan) *PlanConfig {
	pc := &PlanConfig{Repetitions: plan.Repetitions, AdvanceAfterFinal: plan.AdvanceAfterFinal}
	if plan.SettleAfterFirst > 0 {
		pc.SettleAfterFirst = plan.SettleAfterFirst.String()
	}
	for _, s := range plan.Steps {
		sc := StepConfig{Name: s.Name, Mode: s.Mode, Kind: string(s.Kind), Screenshot: s.Screenshot}
		if s.BeamDuration > 0 {
			sc.BeamDuration = s.BeamDuration.String()
		}
		pc.Steps = append(pc.Steps, sc)
	}

	return pc
}

// Marshal encodes the plan as YAML.
func (pc *PlanConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(pc)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("negative duration")
	}

	return d, nil
}
