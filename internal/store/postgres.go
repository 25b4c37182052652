package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aims-coach/pkg"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the session-store schema. It executes the statements in
// schema.sql which create the table and index if they do not already exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

// Postgres is the shared session store backed by a sessions table with a
// per-row expiry. Per-session serialization comes from SELECT ... FOR UPDATE
// row locks inside the Update transaction.
type Postgres struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgres constructs a Postgres-backed store from an existing sql.DB.
// The caller is responsible for the connection lifecycle.
func NewPostgres(db *sql.DB, ttl time.Duration) *Postgres {
	return &Postgres{db: db, ttl: ttl}
}

// Get returns a snapshot of the session, treating expired rows as absent.
func (p *Postgres) Get(ctx context.Context, sessionID string) (*pkg.Session, bool, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE sid = $1 AND expires_at > NOW()`,
		sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get session: %w", err)
	}
	var s pkg.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, fmt.Errorf("store: decode session: %w", err)
	}
	return &s, true, nil
}

// Update applies fn to the session inside a transaction holding the row
// lock, then upserts the result with a refreshed expiry.
func (p *Postgres) Update(ctx context.Context, sessionID string, fn func(*pkg.Session) error) (*pkg.Session, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin update: %w", err)
	}
	defer tx.Rollback()

	// Ensure a row exists so the FOR UPDATE lock below always has a target.
	seed, err := json.Marshal(&pkg.Session{ID: sessionID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("store: seed session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (sid, data, expires_at)
		 VALUES ($1, $2, NOW() + $3 * INTERVAL '1 second')
		 ON CONFLICT (sid) DO NOTHING`,
		sessionID, seed, int(p.ttl.Seconds()),
	); err != nil {
		return nil, fmt.Errorf("store: seed session: %w", err)
	}

	var (
		raw     []byte
		expired bool
	)
	if err := tx.QueryRowContext(ctx,
		`SELECT data, expires_at <= NOW() FROM sessions WHERE sid = $1 FOR UPDATE`,
		sessionID,
	).Scan(&raw, &expired); err != nil {
		return nil, fmt.Errorf("store: lock session: %w", err)
	}

	now := time.Now().UTC()
	s := pkg.Session{ID: sessionID, CreatedAt: now}
	if !expired {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("store: decode session: %w", err)
		}
	}

	if err := fn(&s); err != nil {
		return nil, err
	}
	s.LastSeenAt = now

	out, err := json.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("store: encode session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions
		 SET data = $2, expires_at = NOW() + $3 * INTERVAL '1 second'
		 WHERE sid = $1`,
		sessionID, out, int(p.ttl.Seconds()),
	); err != nil {
		return nil, fmt.Errorf("store: write session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit update: %w", err)
	}
	return &s, nil
}

// Delete evicts the session immediately.
func (p *Postgres) Delete(ctx context.Context, sessionID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE sid = $1`, sessionID); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// PruneExpired removes rows past their expiry and reports how many were
// dropped. Intended for a periodic background sweep.
func (p *Postgres) PruneExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return res.RowsAffected()
}
