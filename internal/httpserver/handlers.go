// Package httpserver exposes the coaching engine over a small JSON API. It
// implements http.Handler directly; routing is a path/method switch to keep
// dependencies light.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"aims-coach/internal/core"
	"aims-coach/internal/llm"
	"aims-coach/internal/store"
	"aims-coach/pkg"
)

// sessionCookie carries the session id between requests when the client does
// not send one in the body.
const sessionCookie = "aims_sid"

// maxMessageBytes bounds a single clinician message.
const maxMessageBytes = 2048

// maxBodyBytes bounds the whole request body, which may also carry a persona
// and scene override.
const maxBodyBytes = 64 << 10

// Server bundles the dependencies required by the HTTP handlers. It
// implements http.Handler so it can be passed to http.ListenAndServe.
type Server struct {
	orchestrator *core.Orchestrator
	summaries    *core.Aggregator
	sessions     store.Store
	sessionTTL   time.Duration
	log          *slog.Logger
}

// NewServer constructs a Server. sessionTTL sets the session cookie max-age
// to match the store's expiry.
func NewServer(o *core.Orchestrator, a *core.Aggregator, st store.Store, sessionTTL time.Duration, log *slog.Logger) *Server {
	return &Server{
		orchestrator: o,
		summaries:    a,
		sessions:     st,
		sessionTTL:   sessionTTL,
		log:          log,
	}
}

// ServeHTTP dispatches incoming requests based on the URL path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/chat" && r.Method == http.MethodPost:
		s.handleChat(w, r)
	case r.URL.Path == "/summary" && r.Method == http.MethodGet:
		s.handleSummary(w, r)
	case r.URL.Path == "/session" && r.Method == http.MethodDelete:
		s.handleReset(w, r)
	case r.URL.Path == "/healthz" && r.Method == http.MethodGet:
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

// handleChat processes one clinician message. The session id resolves in
// order: request body, session cookie, a fresh id minted by the engine; the
// resolved id is always echoed back in the cookie.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req pkg.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(req.Message) > maxMessageBytes {
		writeError(w, http.StatusBadRequest, "message too long")
		return
	}
	if req.SessionID == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			req.SessionID = c.Value
		}
	}

	resp, err := s.orchestrator.HandleTurn(r.Context(), req)
	if err != nil {
		var te *llm.TransportError
		if errors.As(err, &te) {
			s.log.Error("generation backend unavailable", "error", err.Error())
			writeError(w, http.StatusBadGateway, "generation backend unavailable")
			return
		}
		s.log.Error("turn failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.setSessionCookie(w, resp.SessionID)
	writeJSON(w, http.StatusOK, resp)
}

// handleSummary returns the end-of-session view. The session id comes from
// the sessionId query parameter or the session cookie. An unknown session
// yields an empty summary, not an error.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sessionId")
	if sid == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			sid = c.Value
		}
	}
	if sid == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	sum, err := s.summaries.Summarize(r.Context(), sid)
	if err != nil {
		s.log.Error("summary failed", "sessionId", sid, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleReset evicts the session and clears the cookie so the next message
// starts a fresh conversation.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sessionId")
	if sid == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			sid = c.Value
		}
	}
	if sid == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := s.sessions.Delete(r.Context(), sid); err != nil {
		s.log.Error("session delete failed", "sessionId", sid, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(s.sessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
