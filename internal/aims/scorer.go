package aims

import (
	"fmt"
	"regexp"
	"strings"

	"aims-coach/internal/rubric"
	"aims-coach/pkg"
)

// Rebuttal/new-information cues after a reflection. A reflection that argues
// back is the single worst Mirror failure, so its penalty is absolute.
var newInfoRe = regexp.MustCompile(`\b(data|evidence|study|studies|statistics|percent|risk)\b|%`)

// Leading/judgmental question cues.
var leadingRe = regexp.MustCompile(`\b(don't|isn't it)\b|right\?|\bmyth\b`)

// Score applies the rubric checklist for the classified step to the
// utterance pair. The score starts at the count of satisfied checklist items
// (capped at 3); absolute penalties then cap the result regardless of other
// checklist satisfaction. Reasons list every checklist item as met or missed
// in rubric-declaration order. The result is always clamped to [0,3].
func Score(step pkg.Step, prior, current string, r *rubric.Rubric) pkg.ScoringResult {
	if !step.Valid() {
		return pkg.ScoringResult{
			Score:   0,
			Reasons: []string{"Rapport/pleasantries — no AIMS step attempted (allowed anytime)."},
		}
	}

	lt := strings.ToLower(strings.TrimSpace(current))
	checklist := r.ChecklistFor(step)

	var met []bool
	cap1 := false // absolute cap at 1

	switch step {
	case pkg.StepMirror:
		stem, _ := matchAny(lt, r.MarkersFor(pkg.StepMirror))
		rebuttal := introducesNewInfo(lt)
		checked, _ := matchAny(lt, r.AccuracyChecks)
		met = []bool{stem, !rebuttal, checked}
		if rebuttal || !stem {
			cap1 = true
		}

	case pkg.StepInquire:
		open := isQuestion(lt)
		leading := leadingRe.MatchString(lt)
		concise := len(lt) < 180
		met = []bool{open, !leading, concise}
		if leading || !open {
			cap1 = true
		}

	case pkg.StepAnnounce:
		reco, _ := matchAny(lt, r.MarkersFor(pkg.StepAnnounce))
		rationale, _ := matchAny(lt, r.RationaleCues)
		invite, _ := matchAny(lt, r.InviteCues)
		met = []bool{reco, rationale, invite}
		if !reco {
			cap1 = true
		}

	case pkg.StepSecure:
		autonomy, _ := matchAny(lt, r.MarkersFor(pkg.StepSecure))
		option, _ := matchAny(lt, r.OptionCues)
		safetyNet, _ := matchAny(lt, r.SafetyNetCues)
		met = []bool{autonomy, option, safetyNet}
		if !autonomy && !option {
			cap1 = true
		}
	}

	score := 0
	reasons := make([]string, 0, len(checklist))
	for i, item := range checklist {
		if i < len(met) && met[i] {
			score++
			reasons = append(reasons, fmt.Sprintf("met: %s", item))
		} else {
			reasons = append(reasons, fmt.Sprintf("missed: %s", item))
		}
	}
	if score > 3 {
		score = 3
	}
	if cap1 && score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return pkg.ScoringResult{Score: score, Reasons: reasons}
}

// introducesNewInfo reports whether a reflection argues back or adds new
// factual claims instead of staying with the parent's words.
func introducesNewInfo(lt string) bool {
	if strings.Contains(lt, " but ") {
		return true
	}
	if strings.Contains(lt, "the data shows") || strings.Contains(lt, "that's not true") {
		return true
	}
	return newInfoRe.MatchString(lt)
}
