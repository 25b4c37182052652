// Package rubric loads the static AIMS coaching rubric: per-step linguistic
// markers, scoring checklists, and aggregation weights. The rubric is parsed
// once at startup and is read-only afterwards, so it is safe for concurrent
// use without locking.
package rubric

import (
	"encoding/json"
	"errors"
	"fmt"

	"aims-coach/pkg"

	_ "embed"
)

//go:embed rubric.json
var rubricJSON []byte

// ErrConfig indicates the rubric source is missing or malformed. The process
// must not serve turns without a valid rubric.
var ErrConfig = errors.New("rubric: invalid configuration")

// StepDef is the rubric entry for a single AIMS step.
type StepDef struct {
	Name      pkg.Step `json:"name"`
	Weight    float64  `json:"weight"`
	Markers   []string `json:"markers"`
	Checklist []string `json:"checklist"`
}

// Rubric is the loaded, immutable rubric.
type Rubric struct {
	steps map[pkg.Step]StepDef
	order []pkg.Step

	// Shared cue lists used by the classifier and scorer.
	SmallTalk      []string
	EmotionCues    []string
	OptionCues     []string
	AccuracyChecks []string
	InviteCues     []string
	RationaleCues  []string
	SafetyNetCues  []string
}

type rubricFile struct {
	Steps          []StepDef `json:"steps"`
	SmallTalk      []string  `json:"smallTalk"`
	EmotionCues    []string  `json:"emotionCues"`
	OptionCues     []string  `json:"optionCues"`
	AccuracyChecks []string  `json:"accuracyChecks"`
	InviteCues     []string  `json:"inviteCues"`
	RationaleCues  []string  `json:"rationaleCues"`
	SafetyNetCues  []string  `json:"safetyNetCues"`
}

// Load parses the embedded rubric and validates that all four AIMS steps are
// defined with markers and positive weights.
func Load() (*Rubric, error) {
	return parse(rubricJSON)
}

func parse(data []byte) (*Rubric, error) {
	var f rubricFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	r := &Rubric{
		steps:          make(map[pkg.Step]StepDef, len(f.Steps)),
		SmallTalk:      f.SmallTalk,
		EmotionCues:    f.EmotionCues,
		OptionCues:     f.OptionCues,
		AccuracyChecks: f.AccuracyChecks,
		InviteCues:     f.InviteCues,
		RationaleCues:  f.RationaleCues,
		SafetyNetCues:  f.SafetyNetCues,
	}
	for _, s := range f.Steps {
		if !s.Name.Valid() {
			return nil, fmt.Errorf("%w: unknown step %q", ErrConfig, s.Name)
		}
		if len(s.Markers) == 0 {
			return nil, fmt.Errorf("%w: step %s has no markers", ErrConfig, s.Name)
		}
		if s.Weight <= 0 {
			return nil, fmt.Errorf("%w: step %s has non-positive weight", ErrConfig, s.Name)
		}
		if _, dup := r.steps[s.Name]; dup {
			return nil, fmt.Errorf("%w: step %s defined twice", ErrConfig, s.Name)
		}
		r.steps[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	if len(r.steps) != len(pkg.Steps) {
		return nil, fmt.Errorf("%w: expected %d steps, got %d", ErrConfig, len(pkg.Steps), len(r.steps))
	}
	return r, nil
}

// MarkersFor returns the ordered marker stems for a step. The returned slice
// must not be modified.
func (r *Rubric) MarkersFor(step pkg.Step) []string {
	return r.steps[step].Markers
}

// ChecklistFor returns the scoring checklist items for a step in
// rubric-declaration order.
func (r *Rubric) ChecklistFor(step pkg.Step) []string {
	return r.steps[step].Checklist
}

// WeightFor returns the aggregation weight for a step. Unknown steps weigh
// zero so they never contribute to the overall score.
func (r *Rubric) WeightFor(step pkg.Step) float64 {
	return r.steps[step].Weight
}
