package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"aims-coach/internal/aims"
	"aims-coach/internal/llm"
	"aims-coach/internal/rubric"
	"aims-coach/pkg"
)

// generationAttempts is the total number of structured-output attempts
// (initial call plus one retry) before the deterministic fallback engages.
const generationAttempts = 2

// TurnResult is the gateway's output for one clinician message: the patient
// reply plus the classification, score, and tips for that message, with
// flags recording which path produced them.
type TurnResult struct {
	PatientReply   string
	Classification pkg.ClassificationResult
	Scoring        pkg.ScoringResult
	Tips           []string
	JSONValid      bool
	RetryUsed      bool
	FallbackUsed   bool
}

// Gateway drives the generation contract: request a strict JSON envelope,
// retry once on invalid output, and degrade to the deterministic rubric
// evaluation plus a free-text salvage reply when the contract cannot be met.
// Backend failures (TransportError) are not recovered here; they surface to
// the caller. A timed-out attempt counts as invalid output, not a backend
// failure.
type Gateway struct {
	client  llm.Client
	rubric  *rubric.Rubric
	timeout time.Duration
	log     *slog.Logger
}

// NewGateway wires a gateway over the given transport. timeout bounds each
// individual generation attempt.
func NewGateway(client llm.Client, r *rubric.Rubric, timeout time.Duration, log *slog.Logger) *Gateway {
	return &Gateway{client: client, rubric: r, timeout: timeout, log: log}
}

// GenerateTurn produces the patient reply and per-turn analysis for one
// clinician message. history is the session's prior turns, oldest first.
func (g *Gateway) GenerateTurn(ctx context.Context, sessionID, persona, scene string, history []pkg.Turn, message string) (*TurnResult, error) {
	system := buildSystemInstruction(persona, scene)
	transcript := historyText(history)
	prompt := buildEnvelopePrompt(transcript, message)

	for attempt := 1; attempt <= generationAttempts; attempt++ {
		raw, err := g.generate(ctx, llm.Request{
			System:      system,
			Prompt:      prompt,
			JSONMode:    true,
			Temperature: 0.7,
		})
		if err != nil {
			var te *llm.TransportError
			if errors.As(err, &te) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Attempt deadline expired: same recovery as invalid output.
			g.log.Warn("generation attempt timed out",
				"event", "envelope_timeout",
				"sessionId", sessionID,
				"attempt", attempt,
			)
			continue
		}

		env, derr := DecodeEnvelope(raw)
		if derr != nil {
			g.log.Warn("generation envelope rejected",
				"event", "envelope_invalid",
				"sessionId", sessionID,
				"attempt", attempt,
				"error", derr.Error(),
				"raw", truncateForLog(raw, logPayloadCap),
			)
			continue
		}
		return resultFromEnvelope(env, attempt > 1), nil
	}

	return g.fallback(ctx, sessionID, system, transcript, history, message), nil
}

// fallback runs the deterministic rubric evaluation for the analysis fields
// and attempts one free-text salvage call for the patient reply. The reply
// degrades to a canned line if the salvage call also fails.
func (g *Gateway) fallback(ctx context.Context, sessionID, system, transcript string, history []pkg.Turn, message string) *TurnResult {
	prior := ""
	if len(history) > 0 {
		prior = history[len(history)-1].PatientReply
	}
	eval := aims.Evaluate(prior, message, g.rubric)

	reply := cannedFallbackReply
	raw, err := g.generate(ctx, llm.Request{
		System:      system,
		Prompt:      buildReplyPrompt(transcript, message),
		Temperature: 0.8,
	})
	if err != nil || strings.TrimSpace(raw) == "" {
		g.log.Warn("fallback salvage call failed, using canned reply",
			"event", "fallback_canned",
			"sessionId", sessionID,
		)
	} else {
		reply = strings.TrimSpace(raw)
	}

	g.log.Info("deterministic fallback engaged",
		"event", "fallback_used",
		"sessionId", sessionID,
		"step", string(eval.Classification.Step),
		"score", eval.Scoring.Score,
	)

	return &TurnResult{
		PatientReply:   reply,
		Classification: eval.Classification,
		Scoring:        eval.Scoring,
		Tips:           eval.Tips,
		RetryUsed:      true,
		FallbackUsed:   true,
	}
}

// generate runs one transport call under the per-attempt timeout.
func (g *Gateway) generate(ctx context.Context, req llm.Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return g.client.Generate(ctx, req)
}

func resultFromEnvelope(env *Envelope, retried bool) *TurnResult {
	res := &TurnResult{
		PatientReply: strings.TrimSpace(env.PatientReply),
		Classification: pkg.ClassificationResult{
			Step:          env.Classification.Step,
			EvidenceSpans: env.Classification.EvidenceSpans,
		},
		Scoring: pkg.ScoringResult{
			Score:   *env.Scoring.Score,
			Reasons: env.Scoring.Reasons,
		},
		JSONValid: true,
		RetryUsed: retried,
	}
	if env.Classification.Confidence != nil {
		res.Classification.Confidence = *env.Classification.Confidence
	}
	if env.Coaching != nil {
		res.Tips = env.Coaching.Tips
	}
	return res
}
