package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"aims-coach/pkg"
)

func TestDecodeEnvelopeMinimalValid(t *testing.T) {
	raw := `{
		"patient_reply": "I'm a little worried about side effects.",
		"classification": {"step": "Inquire"},
		"scoring": {"score": 2}
	}`

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	require.Equal(t, "I'm a little worried about side effects.", env.PatientReply)
	require.Equal(t, pkg.StepInquire, env.Classification.Step)
	require.Nil(t, env.Classification.Confidence)
	require.Equal(t, 2, *env.Scoring.Score)
	require.Nil(t, env.Coaching)
}

func TestDecodeEnvelopeFull(t *testing.T) {
	raw := `{
		"patient_reply": "Okay, that makes sense.",
		"classification": {"step": "Announce", "confidence": 0.9, "evidence_spans": ["it's time for"]},
		"scoring": {"score": 3, "reasons": ["met: clear recommendation"]},
		"coaching": {"tips": ["Invite dialogue with a brief opener."], "next_step_suggestion": "Inquire"}
	}`

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	require.Equal(t, 0.9, *env.Classification.Confidence)
	require.Equal(t, []string{"it's time for"}, env.Classification.EvidenceSpans)
	require.NotNil(t, env.Coaching)
	require.Len(t, env.Coaching.Tips, 1)
}

func TestDecodeEnvelopeRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"patient_reply": "hi"`},
		{"unknown top-level field", `{"patient_reply":"hi","classification":{"step":"Announce"},"scoring":{"score":1},"mood":"calm"}`},
		{"unknown nested field", `{"patient_reply":"hi","classification":{"step":"Announce","certainty":0.5},"scoring":{"score":1}}`},
		{"invalid step enum", `{"patient_reply":"hi","classification":{"step":"Persuade"},"scoring":{"score":1}}`},
		{"empty step", `{"patient_reply":"hi","classification":{"step":""},"scoring":{"score":1}}`},
		{"score above range", `{"patient_reply":"hi","classification":{"step":"Mirror"},"scoring":{"score":4}}`},
		{"score below range", `{"patient_reply":"hi","classification":{"step":"Mirror"},"scoring":{"score":-1}}`},
		{"missing score", `{"patient_reply":"hi","classification":{"step":"Mirror"},"scoring":{}}`},
		{"missing patient_reply", `{"classification":{"step":"Mirror"},"scoring":{"score":1}}`},
		{"blank patient_reply", `{"patient_reply":"  ","classification":{"step":"Mirror"},"scoring":{"score":1}}`},
		{"confidence out of range", `{"patient_reply":"hi","classification":{"step":"Mirror","confidence":1.5},"scoring":{"score":1}}`},
		{"trailing data", `{"patient_reply":"hi","classification":{"step":"Mirror"},"scoring":{"score":1}} {"extra":true}`},
		{"not an object", `"just a string"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEnvelope(tc.raw)
			require.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}
