package aims

import (
	"testing"

	"aims-coach/pkg"

	"github.com/stretchr/testify/assert"
)

func TestScoreRebuttalAfterReflectionCapsAtOne(t *testing.T) {
	r := loadRubric(t)

	got := Score(
		pkg.StepMirror,
		"I'm afraid of side effects.",
		"I get you're scared, but that's not true — the data shows it's safe. Did I get that right?",
		r,
	)
	assert.LessOrEqual(t, got.Score, 1, "rebuttal penalty is absolute")
}

func TestScore(t *testing.T) {
	r := loadRubric(t)

	tests := []struct {
		name    string
		step    pkg.Step
		prior   string
		current string
		want    int
	}{
		{
			name:    "full mirror",
			step:    pkg.StepMirror,
			prior:   "I'm worried about so many shots.",
			current: "It sounds like the schedule feels overwhelming — did I get that right?",
			want:    3,
		},
		{
			name:    "mirror without accuracy check",
			step:    pkg.StepMirror,
			prior:   "I'm worried.",
			current: "It sounds like this feels rushed for you.",
			want:    2,
		},
		{
			name:    "leading question capped",
			step:    pkg.StepInquire,
			prior:   "I read it causes problems.",
			current: "You know that's a myth, don't you?",
			want:    1,
		},
		{
			name:    "clean open question",
			step:    pkg.StepInquire,
			prior:   "We're unsure.",
			current: "What have you heard about the vaccine so far?",
			want:    3,
		},
		{
			name:    "announce with rationale and invite",
			step:    pkg.StepAnnounce,
			prior:   "",
			current: "It's time for the MMR today; it protects her from measles. How does that sound?",
			want:    3,
		},
		{
			name:    "announce without clear recommendation",
			step:    pkg.StepAnnounce,
			prior:   "",
			current: "Lots of families have opinions about shots.",
			want:    0,
		},
		{
			name:    "secure with options and safety-netting",
			step:    pkg.StepSecure,
			prior:   "I want to think it over.",
			current: "It's your decision and I'm here to support you. We can do it today or check in next week, and here's what to expect either way.",
			want:    3,
		},
		{
			name:    "secure missing autonomy and options",
			step:    pkg.StepSecure,
			prior:   "I want to think it over.",
			current: "Alright then.",
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.step, tt.prior, tt.current, r)
			assert.Equal(t, tt.want, got.Score)
			assert.GreaterOrEqual(t, got.Score, 0)
			assert.LessOrEqual(t, got.Score, 3)
			assert.Len(t, got.Reasons, 3, "one reason per checklist item")
		})
	}
}

func TestScoreRapportIsZeroNotError(t *testing.T) {
	r := loadRubric(t)

	got := Score("", "", "Hi there!", r)
	assert.Zero(t, got.Score)
	assert.NotEmpty(t, got.Reasons)
}

func TestEvaluateTipSelection(t *testing.T) {
	r := loadRubric(t)

	tests := []struct {
		name        string
		prior       string
		current     string
		wantTipPart string
	}{
		{
			name:        "mirror rebuttal tip",
			prior:       "I'm afraid of side effects.",
			current:     "I get you're scared, but that's not true — the data shows it's safe.",
			wantTipPart: "without adding new information",
		},
		{
			name:        "announce missing invite tip",
			prior:       "",
			current:     "I recommend the MMR today; it protects her from measles.",
			wantTipPart: "Invite dialogue",
		},
		{
			name:        "rapport tip",
			prior:       "",
			current:     "Hello! So good to see you.",
			wantTipPart: "lead with a brief Announce",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(tt.prior, tt.current, r)
			if assert.Len(t, ev.Tips, 1, "at most one tip, and one expected here") {
				assert.Contains(t, ev.Tips[0], tt.wantTipPart)
			}
		})
	}
}

func TestEvaluatePerfectTurnHasNoTip(t *testing.T) {
	r := loadRubric(t)

	ev := Evaluate("We're unsure.", "What have you heard about the vaccine so far?", r)
	assert.Equal(t, pkg.StepInquire, ev.Classification.Step)
	assert.Equal(t, 3, ev.Scoring.Score)
	assert.Empty(t, ev.Tips)
}
