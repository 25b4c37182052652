package aims

import (
	"strings"

	"aims-coach/internal/rubric"
	"aims-coach/pkg"
)

// rapportTip nudges the clinician toward the first step when no step was
// attempted.
const rapportTip = "When you're ready, lead with a brief Announce specific to the vaccine and timing."

// TipFor selects at most one coaching tip for a scored turn. A perfect score
// gets no tip; otherwise the most actionable improvement for the step is
// suggested.
func TipFor(step pkg.Step, score int, current string, r *rubric.Rubric) []string {
	if !step.Valid() {
		return []string{rapportTip}
	}
	if score >= 3 {
		return nil
	}

	lt := strings.ToLower(strings.TrimSpace(current))

	switch step {
	case pkg.StepInquire:
		open := isQuestion(lt)
		usedWhy := strings.HasPrefix(lt, "why ") || strings.Contains(lt, " why ")
		leading := leadingRe.MatchString(lt)
		switch {
		case usedWhy || !open:
			return []string{"Prefer what and how questions; avoid why when it can feel accusatory."}
		case leading:
			return []string{"Avoid leading or judgmental phrasing; use neutral, open framing."}
		default:
			return []string{"Ask, then pause. Silence helps."}
		}

	case pkg.StepMirror:
		if introducesNewInfo(lt) {
			return []string{"Reflect without adding new information or rebuttal; keep it brief and nonjudgmental."}
		}
		if checked, _ := matchAny(lt, r.AccuracyChecks); !checked {
			return []string{"End with a quick check for accuracy: 'Did I get that right?'"}
		}

	case pkg.StepAnnounce:
		reco, _ := matchAny(lt, r.MarkersFor(pkg.StepAnnounce))
		rationale, _ := matchAny(lt, r.RationaleCues)
		invite, _ := matchAny(lt, r.InviteCues)
		switch {
		case !reco:
			return []string{"Lead with a clear, brief recommendation specific to the vaccine and timing."}
		case !rationale:
			return []string{"Add a short, parent-relevant reason (safety/benefit) in plain language."}
		case !invite:
			return []string{"Invite dialogue with a brief opener, e.g., 'How does that sound?'"}
		}

	case pkg.StepSecure:
		autonomy, _ := matchAny(lt, r.MarkersFor(pkg.StepSecure))
		option, _ := matchAny(lt, r.OptionCues)
		safetyNet, _ := matchAny(lt, r.SafetyNetCues)
		switch {
		case !autonomy:
			return []string{"Affirm autonomy explicitly: 'It's your decision; I'm here to support you.'"}
		case !option:
			return []string{"Offer a concrete next step (e.g., do it today or review a handout and check in next week)."}
		case !safetyNet:
			return []string{"Add a quick safety-net about what to expect and how to reach you."}
		}
	}
	return nil
}

// Evaluation bundles the deterministic results for one turn.
type Evaluation struct {
	Classification pkg.ClassificationResult
	Scoring        pkg.ScoringResult
	Tips           []string
}

// Evaluate runs classification, scoring, and tip selection on an utterance
// pair. It is the deterministic fallback path when structured generation
// fails, and the reference behavior tests pin against.
func Evaluate(prior, current string, r *rubric.Rubric) Evaluation {
	cls := Classify(prior, current, r)
	scr := Score(cls.Step, prior, current, r)
	return Evaluation{
		Classification: cls,
		Scoring:        scr,
		Tips:           TipFor(cls.Step, scr.Score, current, r),
	}
}
