package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"aims-coach/internal/aims"
	"aims-coach/internal/rubric"
	"aims-coach/internal/store"
	"aims-coach/pkg"
)

// Orchestrator runs the single-turn pipeline: resolve the session, intercept
// jailbreak/meta requests, generate the patient reply and analysis, apply
// the safety rewrite, and persist the turn atomically.
type Orchestrator struct {
	store    store.Store
	gateway  *Gateway
	safety   *SafetyGate
	rubric   *rubric.Rubric
	maxTurns int
	log      *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires the turn pipeline. maxTurns bounds the retained
// history per session; zero or less means unbounded.
func NewOrchestrator(st store.Store, gw *Gateway, sg *SafetyGate, r *rubric.Rubric, maxTurns int, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		gateway:  gw,
		safety:   sg,
		rubric:   r,
		maxTurns: maxTurns,
		log:      log,
		now:      time.Now,
	}
}

// HandleTurn processes one clinician message end to end and returns the chat
// response. Coaching and session metrics are included only when requested.
func (o *Orchestrator) HandleTurn(ctx context.Context, req pkg.ChatRequest) (*pkg.ChatResponse, error) {
	// A turn runs to completion once started: a caller disconnect must not
	// abort the in-flight generation call or drop the persisted turn. The
	// per-attempt generation timeout still bounds each call.
	ctx = context.WithoutCancel(ctx)

	sid := req.SessionID
	if sid == "" {
		sid = uuid.NewString()
	}

	snapshot, ok, err := o.store.Get(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("core: load session: %w", err)
	}
	if !ok {
		snapshot = &pkg.Session{ID: sid}
	}

	persona := req.Character
	if persona == "" {
		persona = snapshot.Persona
	}
	if persona == "" {
		persona = DefaultCharacter
	}
	scene := req.Scene
	if scene == "" {
		scene = snapshot.Scene
	}
	if scene == "" {
		scene = DefaultScene
	}

	prior := snapshot.LastPatientReply()

	var res *TurnResult
	if hit, cues := o.safety.DetectJailbreak(req.Message); hit {
		o.log.Warn("jailbreak request intercepted",
			"event", "jailbreak_intercepted",
			"sessionId", sid,
			"cues", cues,
		)
		eval := aims.Evaluate(prior, req.Message, o.rubric)
		res = &TurnResult{
			PatientReply:   confusedReply,
			Classification: eval.Classification,
			Scoring:        eval.Scoring,
			Tips:           eval.Tips,
		}
	} else {
		res, err = o.gateway.GenerateTurn(ctx, sid, persona, scene, snapshot.Turns, req.Message)
		if err != nil {
			return nil, err
		}
		o.applyQuestionGuard(req.Message, res)
	}

	finalReply, rewritten := o.safety.SanitizeReply(sid, res.PatientReply)

	stored, err := o.store.Update(ctx, sid, func(s *pkg.Session) error {
		if req.Character != "" {
			s.Persona = req.Character
		}
		if req.Scene != "" {
			s.Scene = req.Scene
		}
		// Resolved under the lock: a racing turn may have appended since the
		// snapshot was taken, and the recorded prior must be the reply this
		// turn actually follows.
		prevReply := s.LastPatientReply()
		s.Turns = append(s.Turns, pkg.Turn{
			SessionID:      sid,
			Index:          len(s.Turns),
			PriorMessage:   prevReply,
			Message:        req.Message,
			Classification: res.Classification,
			Scoring:        res.Scoring,
			CoachingTips:   res.Tips,
			PatientReply:   finalReply,
			JSONValid:      res.JSONValid,
			RetryUsed:      res.RetryUsed,
			FallbackUsed:   res.FallbackUsed,
			SafetyRewrite:  rewritten,
			CreatedAt:      o.now().UTC(),
		})
		store.TrimTurns(s, o.maxTurns)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("core: persist turn: %w", err)
	}

	o.log.Info("turn processed",
		"event", "turn_processed",
		"sessionId", sid,
		"turnIndex", len(stored.Turns)-1,
		"step", string(res.Classification.Step),
		"score", res.Scoring.Score,
		"jsonValid", res.JSONValid,
		"fallbackUsed", res.FallbackUsed,
		"safetyRewrite", rewritten,
	)

	resp := &pkg.ChatResponse{Reply: finalReply, SessionID: sid}
	if req.Coach {
		resp.Coaching = &pkg.Coaching{
			Step:    string(res.Classification.Step),
			Score:   res.Scoring.Score,
			Reasons: res.Scoring.Reasons,
			Tips:    res.Tips,
		}
		resp.Session = metricsFor(stored)
	}
	return resp, nil
}

// applyQuestionGuard corrects a generated classification that labels an
// explicit question as Announce or Secure. Questions belong to Inquire, and
// a question that needed correcting is not a clean one, so its score is
// capped at 2.
func (o *Orchestrator) applyQuestionGuard(message string, res *TurnResult) {
	if !res.JSONValid {
		return
	}
	if !strings.HasSuffix(strings.TrimSpace(message), "?") {
		return
	}
	step := res.Classification.Step
	if step != pkg.StepAnnounce && step != pkg.StepSecure {
		return
	}
	res.Classification.Step = pkg.StepInquire
	if res.Scoring.Score > 2 {
		res.Scoring.Score = 2
	}
	res.Scoring.Reasons = append(res.Scoring.Reasons, "corrected: question phrasing indicates Inquire")
}

// metricsFor computes the running per-step counts and score averages over a
// session's retained turns. Rapport turns (no step) count toward the total
// only.
func metricsFor(s *pkg.Session) *pkg.SessionMetrics {
	m := &pkg.SessionMetrics{
		TotalTurns:     len(s.Turns),
		PerStepCounts:  make(map[pkg.Step]int),
		RunningAverage: make(map[pkg.Step]float64),
	}
	sums := make(map[pkg.Step]int)
	for _, t := range s.Turns {
		step := t.Classification.Step
		if !step.Valid() {
			continue
		}
		m.PerStepCounts[step]++
		sums[step] += t.Scoring.Score
	}
	for step, count := range m.PerStepCounts {
		m.RunningAverage[step] = float64(sums[step]) / float64(count)
	}
	return m
}
