package pkg

import "time"

// Step is one of the four AIMS conversational moves a clinician can make in
// a vaccine-hesitancy conversation.
type Step string

const (
	StepAnnounce Step = "Announce"
	StepInquire  Step = "Inquire"
	StepMirror   Step = "Mirror"
	StepSecure   Step = "Secure"
)

// Steps lists the canonical steps in rubric-declaration order.
var Steps = []Step{StepAnnounce, StepInquire, StepMirror, StepSecure}

// Valid reports whether s is one of the four canonical steps. The empty
// string (rapport/small talk, no step attempted) is not a valid step.
func (s Step) Valid() bool {
	switch s {
	case StepAnnounce, StepInquire, StepMirror, StepSecure:
		return true
	}
	return false
}

// ClassificationResult is the step label assigned to a single clinician
// message. Produced once per turn and never mutated afterwards.
type ClassificationResult struct {
	// Step is empty when the message was rapport/small talk and no AIMS
	// step was attempted.
	Step          Step     `json:"step"`
	Confidence    float64  `json:"confidence"`
	EvidenceSpans []string `json:"evidence_spans,omitempty"`
}

// ScoringResult is the 0–3 quality score for a classified message, paired
// 1:1 with a ClassificationResult.
type ScoringResult struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// Turn records one processed clinician message: the utterance pair, the
// classification and score, the simulated patient's reply, and flags
// describing how the generation contract played out. Turns are append-only
// within a session.
type Turn struct {
	SessionID      string               `json:"session_id"`
	Index          int                  `json:"index"`
	PriorMessage   string               `json:"prior_message"`
	Message        string               `json:"message"`
	Classification ClassificationResult `json:"classification"`
	Scoring        ScoringResult        `json:"scoring"`
	CoachingTips   []string             `json:"coaching_tips,omitempty"`
	PatientReply   string               `json:"patient_reply"`
	JSONValid      bool                 `json:"json_valid"`
	RetryUsed      bool                 `json:"retry_used"`
	FallbackUsed   bool                 `json:"fallback_used"`
	SafetyRewrite  bool                 `json:"safety_rewrite"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Session is the per-conversation state owned by the session store. Turns
// are bounded; the store trims the oldest entries beyond the configured
// maximum.
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Persona    string    `json:"persona,omitempty"`
	Scene      string    `json:"scene,omitempty"`
	Turns      []Turn    `json:"turns"`
}

// LastPatientReply returns the patient reply from the most recent turn, or
// the empty string for a fresh session. It is the "prior message" for the
// next classification.
func (s *Session) LastPatientReply() string {
	if s == nil || len(s.Turns) == 0 {
		return ""
	}
	return s.Turns[len(s.Turns)-1].PatientReply
}

// SessionMetrics is the running snapshot returned alongside each coached
// turn.
type SessionMetrics struct {
	TotalTurns     int              `json:"totalTurns"`
	PerStepCounts  map[Step]int     `json:"perStepCounts"`
	RunningAverage map[Step]float64 `json:"runningAverage"`
}

// SessionSummary is the end-of-session view derived from the accumulated
// turns. It is recomputed on each request and never persisted.
type SessionSummary struct {
	OverallScore   float64          `json:"overallScore"`
	StepCoverage   map[Step]int     `json:"stepCoverage"`
	Strengths      []string         `json:"strengths"`
	GrowthAreas    []string         `json:"growthAreas"`
	RunningAverage map[Step]float64 `json:"runningAverage"`
	TotalTurns     int              `json:"totalTurns"`
}

// Coaching is the per-turn coaching payload included in chat responses when
// the caller requests coaching.
type Coaching struct {
	Step    string   `json:"step,omitempty"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
	Tips    []string `json:"tips"`
}

// ChatRequest is the body for POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	Character string `json:"character,omitempty"`
	Scene     string `json:"scene,omitempty"`
	Coach     bool   `json:"coach,omitempty"`
}

// ChatResponse is the reply for POST /chat. Coaching and Session are only
// present when coaching was requested.
type ChatResponse struct {
	Reply     string          `json:"reply"`
	SessionID string          `json:"sessionId"`
	Coaching  *Coaching       `json:"coaching,omitempty"`
	Session   *SessionMetrics `json:"session,omitempty"`
}
