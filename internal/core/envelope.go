package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"aims-coach/pkg"
)

// ErrInvalidEnvelope tags any validation failure of generated output:
// malformed JSON, a missing required field, an enum or range violation, or
// an unknown field. It is recovered locally (retry, then fallback) and is
// never surfaced to the caller of a turn.
var ErrInvalidEnvelope = errors.New("core: invalid generation envelope")

// Envelope is the structured-output contract a generation call must satisfy
// in one response. The schema is strict: unknown fields are rejected to
// catch model drift early.
type Envelope struct {
	PatientReply   string            `json:"patient_reply"`
	Classification EnvelopeClass     `json:"classification"`
	Scoring        EnvelopeScore     `json:"scoring"`
	Coaching       *EnvelopeCoaching `json:"coaching,omitempty"`
}

// EnvelopeClass is the classification block of the envelope. Confidence is
// optional; a pointer distinguishes absent from zero.
type EnvelopeClass struct {
	Step          pkg.Step `json:"step"`
	Confidence    *float64 `json:"confidence,omitempty"`
	EvidenceSpans []string `json:"evidence_spans,omitempty"`
}

// EnvelopeScore is the scoring block of the envelope. Score is required.
type EnvelopeScore struct {
	Score   *int     `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// EnvelopeCoaching is the optional coaching block.
type EnvelopeCoaching struct {
	Tips               []string `json:"tips,omitempty"`
	NextStepSuggestion string   `json:"next_step_suggestion,omitempty"`
}

// DecodeEnvelope parses raw model output as a strict envelope. Required
// minimum: non-empty patient_reply, a valid classification.step, and a
// scoring.score in [0,3].
func DecodeEnvelope(raw string) (*Envelope, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	// A trailing second JSON value is as suspect as an unknown field.
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after envelope", ErrInvalidEnvelope)
	}

	if strings.TrimSpace(env.PatientReply) == "" {
		return nil, fmt.Errorf("%w: patient_reply is empty", ErrInvalidEnvelope)
	}
	if !env.Classification.Step.Valid() {
		return nil, fmt.Errorf("%w: classification.step %q", ErrInvalidEnvelope, env.Classification.Step)
	}
	if c := env.Classification.Confidence; c != nil && (*c < 0 || *c > 1) {
		return nil, fmt.Errorf("%w: classification.confidence %v out of range", ErrInvalidEnvelope, *c)
	}
	if env.Scoring.Score == nil {
		return nil, fmt.Errorf("%w: scoring.score missing", ErrInvalidEnvelope)
	}
	if s := *env.Scoring.Score; s < 0 || s > 3 {
		return nil, fmt.Errorf("%w: scoring.score %d out of range", ErrInvalidEnvelope, s)
	}
	return &env, nil
}
