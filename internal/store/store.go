// Package store persists per-session turn history and metrics with
// TTL-bound expiry. Two implementations exist: a process-local map for
// development and a Postgres-backed store for shared deployments; the
// orchestrator is agnostic to which one it gets.
package store

import (
	"context"

	"aims-coach/pkg"
)

// Store is the session persistence boundary. Sessions are owned exclusively
// by the store; callers receive snapshots and must treat them as immutable.
//
// Update serializes concurrent writers for the same session id: the callback
// runs with the latest session state under per-session mutual exclusion, so
// turn indices assigned inside it are strictly increasing with no gaps. If
// the session is absent (never created or expired) the callback receives a
// fresh one. Every Update refreshes the TTL.
type Store interface {
	// Get returns a snapshot of the session, or ok=false when it does not
	// exist or has expired. Absence is not an error.
	Get(ctx context.Context, sessionID string) (*pkg.Session, bool, error)

	// Update applies fn to the session under per-session exclusion and
	// persists the result, returning a snapshot of the stored state.
	Update(ctx context.Context, sessionID string, fn func(*pkg.Session) error) (*pkg.Session, error)

	// Delete evicts the session immediately.
	Delete(ctx context.Context, sessionID string) error
}

// cloneSession deep-copies a session so store internals are never aliased by
// callers, including the slices nested inside each turn.
func cloneSession(s *pkg.Session) *pkg.Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = make([]pkg.Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.Classification.EvidenceSpans = append([]string(nil), t.Classification.EvidenceSpans...)
		t.Scoring.Reasons = append([]string(nil), t.Scoring.Reasons...)
		t.CoachingTips = append([]string(nil), t.CoachingTips...)
		out.Turns[i] = t
	}
	return &out
}

// TrimTurns drops the oldest turns beyond max. A max of zero or less means
// unbounded.
func TrimTurns(s *pkg.Session, max int) {
	if max > 0 && len(s.Turns) > max {
		s.Turns = append(s.Turns[:0:0], s.Turns[len(s.Turns)-max:]...)
	}
}
