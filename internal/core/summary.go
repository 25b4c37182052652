package core

import (
	"context"
	"fmt"
	"sort"

	"aims-coach/internal/rubric"
	"aims-coach/internal/store"
	"aims-coach/pkg"
)

// Aggregator derives the end-of-session summary from a session's retained
// turns. It is read-only and recomputes on every call; nothing is persisted.
type Aggregator struct {
	store  store.Store
	rubric *rubric.Rubric
}

// NewAggregator wires a summary aggregator over the session store.
func NewAggregator(st store.Store, r *rubric.Rubric) *Aggregator {
	return &Aggregator{store: st, rubric: r}
}

// Summarize computes the session summary. An unknown or expired session
// yields a zero summary, not an error: maps are non-nil and empty, the
// overall score is 0.
func (a *Aggregator) Summarize(ctx context.Context, sessionID string) (*pkg.SessionSummary, error) {
	sum := &pkg.SessionSummary{
		StepCoverage:   make(map[pkg.Step]int),
		Strengths:      []string{},
		GrowthAreas:    []string{},
		RunningAverage: make(map[pkg.Step]float64),
	}

	s, ok, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("core: load session: %w", err)
	}
	if !ok {
		return sum, nil
	}

	sum.TotalTurns = len(s.Turns)

	scoreSums := make(map[pkg.Step]int)
	var weightedSum, weightTotal float64
	for _, t := range s.Turns {
		step := t.Classification.Step
		if !step.Valid() {
			continue
		}
		sum.StepCoverage[step]++
		scoreSums[step] += t.Scoring.Score
		w := a.rubric.WeightFor(step)
		weightedSum += w * float64(t.Scoring.Score)
		weightTotal += w
	}
	if weightTotal > 0 {
		sum.OverallScore = weightedSum / weightTotal
	}
	for step, count := range sum.StepCoverage {
		sum.RunningAverage[step] = float64(scoreSums[step]) / float64(count)
	}

	// Steps are bucketed by average score, most-practiced first within a
	// bucket so the summary leads with what the clinician actually did.
	steps := make([]pkg.Step, 0, len(sum.StepCoverage))
	for step := range sum.StepCoverage {
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool {
		if sum.StepCoverage[steps[i]] != sum.StepCoverage[steps[j]] {
			return sum.StepCoverage[steps[i]] > sum.StepCoverage[steps[j]]
		}
		return steps[i] < steps[j]
	})
	for _, step := range steps {
		avg := sum.RunningAverage[step]
		switch {
		case avg >= 2:
			sum.Strengths = append(sum.Strengths, strengthLine(step))
		case avg <= 1:
			sum.GrowthAreas = append(sum.GrowthAreas, growthLine(step))
		}
	}

	return sum, nil
}

func strengthLine(step pkg.Step) string {
	switch step {
	case pkg.StepAnnounce:
		return "Announce: clear, presumptive recommendations with rationale"
	case pkg.StepInquire:
		return "Inquire: open, nonjudgmental questions that invite concerns"
	case pkg.StepMirror:
		return "Mirror: accurate reflections without rebuttal"
	default:
		return "Secure: autonomy-respecting closes with concrete options"
	}
}

func growthLine(step pkg.Step) string {
	switch step {
	case pkg.StepAnnounce:
		return "Announce: lead with a specific recommendation and a brief reason"
	case pkg.StepInquire:
		return "Inquire: prefer open what/how questions over leading ones"
	case pkg.StepMirror:
		return "Mirror: reflect the concern without adding counter-evidence"
	default:
		return "Secure: affirm the parent's autonomy and offer a next step"
	}
}
