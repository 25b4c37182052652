package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	_ "embed"
)

// The safety policy is data, not inline conditionals, so the pattern tables
// can be swapped without touching the pipeline.
//
//go:embed safety_patterns.json
var safetyPatternsJSON []byte

type safetyPolicy struct {
	AdvicePatterns      []string `json:"advicePatterns"`
	AdviceAllowPatterns []string `json:"adviceAllowPatterns"`
	JailbreakCues       []string `json:"jailbreakCues"`
}

// SafetyGate performs the two per-turn safety checks: jailbreak/meta
// detection on the incoming clinician message (before generation) and
// clinician-style advice detection on the generated patient reply (after
// generation). The checks are independent.
type SafetyGate struct {
	advice      []*regexp.Regexp
	adviceAllow []*regexp.Regexp
	jailbreak   []string
	log         *slog.Logger
}

// NewSafetyGate compiles the embedded safety policy.
func NewSafetyGate(log *slog.Logger) (*SafetyGate, error) {
	var pol safetyPolicy
	if err := json.Unmarshal(safetyPatternsJSON, &pol); err != nil {
		return nil, fmt.Errorf("core: safety policy: %w", err)
	}

	g := &SafetyGate{log: log}
	for _, p := range pol.AdvicePatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("core: safety policy pattern %q: %w", p, err)
		}
		g.advice = append(g.advice, re)
	}
	for _, p := range pol.AdviceAllowPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("core: safety policy pattern %q: %w", p, err)
		}
		g.adviceAllow = append(g.adviceAllow, re)
	}
	for _, c := range pol.JailbreakCues {
		g.jailbreak = append(g.jailbreak, strings.ToLower(c))
	}
	return g, nil
}

// SanitizeReply scans a candidate patient reply for clinician-style advice.
// If found, the reply is replaced with a neutral in-character deflection and
// rewritten=true; the original is logged truncated under a violation id.
func (g *SafetyGate) SanitizeReply(sessionID, candidate string) (string, bool) {
	if !g.adviceLike(candidate) {
		return candidate, false
	}
	violationID := uuid.NewString()
	g.log.Warn("patient reply rewritten",
		"event", "safety_violation",
		"sessionId", sessionID,
		"violationId", violationID,
		"original", truncateForLog(candidate, logPayloadCap),
	)
	return deflectionReply, true
}

// DetectJailbreak reports whether the incoming clinician message is a
// jailbreak/meta request and which cues matched.
func (g *SafetyGate) DetectJailbreak(message string) (bool, []string) {
	lt := strings.ToLower(message)
	var matched []string
	for _, cue := range g.jailbreak {
		if strings.Contains(lt, cue) {
			matched = append(matched, cue)
		}
	}
	return len(matched) > 0, matched
}

func (g *SafetyGate) adviceLike(text string) bool {
	for _, allow := range g.adviceAllow {
		if allow.MatchString(text) {
			return false
		}
	}
	for _, re := range g.advice {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
