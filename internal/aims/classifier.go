// Package aims implements the deterministic AIMS engine: classification of a
// clinician utterance into one of the four steps and rubric-based scoring.
// Both are pure functions over the utterance pair and the loaded rubric, so
// re-running them on the same input always yields the same result.
package aims

import (
	"strings"

	"aims-coach/internal/rubric"
	"aims-coach/pkg"
)

// Classify assigns an AIMS step to the clinician's current message given the
// simulated parent's prior message. Priority order is Secure > Mirror >
// Inquire > Announce; frozen tie-breaks:
//
//   - autonomy language without a concrete option does not promote to Secure
//   - a reflective stem dominates a trailing clarifying question
//   - a leading question stays Inquire (penalized in scoring, not here)
//
// A rapport/small-talk message with no markers classifies as no step at all;
// any other unmatched message defaults to Announce with confidence 0.
func Classify(prior, current string, r *rubric.Rubric) pkg.ClassificationResult {
	lt := strings.ToLower(strings.TrimSpace(current))
	pt := strings.ToLower(strings.TrimSpace(prior))

	autonomy, autonomySpan := matchAny(lt, r.MarkersFor(pkg.StepSecure))
	option, optionSpan := matchAny(lt, r.OptionCues)
	mirror, mirrorSpan := matchAny(lt, r.MarkersFor(pkg.StepMirror))
	announce, announceSpan := matchAny(lt, r.MarkersFor(pkg.StepAnnounce))
	inquireMarker, inquireSpan := matchAny(lt, r.MarkersFor(pkg.StepInquire))
	question := isQuestion(lt)

	switch {
	case autonomy && option:
		return pkg.ClassificationResult{
			Step:          pkg.StepSecure,
			Confidence:    0.9,
			EvidenceSpans: []string{autonomySpan, optionSpan},
		}

	case mirror:
		conf := 0.75
		if emotional, _ := matchAny(pt, r.EmotionCues); emotional {
			conf = 0.9
		}
		return pkg.ClassificationResult{
			Step:          pkg.StepMirror,
			Confidence:    conf,
			EvidenceSpans: []string{mirrorSpan},
		}

	case (inquireMarker || question) && !announce:
		span := inquireSpan
		conf := 0.8
		if span == "" {
			span = "?"
			conf = 0.6
		}
		return pkg.ClassificationResult{
			Step:          pkg.StepInquire,
			Confidence:    conf,
			EvidenceSpans: []string{span},
		}

	case announce:
		spans := []string{announceSpan}
		if autonomy {
			// Autonomy framing alone does not promote to Secure.
			spans = append(spans, autonomySpan)
		}
		return pkg.ClassificationResult{
			Step:          pkg.StepAnnounce,
			Confidence:    0.8,
			EvidenceSpans: spans,
		}
	}

	if talk, span := matchAny(lt, r.SmallTalk); talk {
		return pkg.ClassificationResult{Step: "", Confidence: 0, EvidenceSpans: []string{span}}
	}

	// Safe baseline; never an error.
	return pkg.ClassificationResult{Step: pkg.StepAnnounce, Confidence: 0}
}

// matchAny reports whether any cue occurs in text and returns the first one
// that does, in cue-declaration order.
func matchAny(text string, cues []string) (bool, string) {
	for _, c := range cues {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if strings.Contains(text, c) {
			return true, c
		}
	}
	return false, ""
}

func isQuestion(lt string) bool {
	return strings.HasSuffix(lt, "?") ||
		strings.HasPrefix(lt, "what ") ||
		strings.HasPrefix(lt, "how ")
}
