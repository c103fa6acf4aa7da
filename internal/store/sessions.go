package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// InsertSession records a new short-lived operator/API-client session,
// supplemented from the original implementation's session bookkeeping (§9).
func (s *Store) InsertSession(ctx context.Context, sess *types.Session) error {
	now := time.Now().UTC()
	tier := sess.Tier
	if tier == "" {
		tier = types.TierStandard
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, tenant_id, label, tier, revoked, created_at, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
	`, sess.ID, sess.TenantID, sess.Label, tier, sess.Revoked, now)
	return storageErr("insert session", err)
}

// GetSession fetches a session by id, or nil if absent.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var sess types.Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, label, tier, revoked, created_at, last_seen FROM sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.TenantID, &sess.Label, &sess.Tier, &sess.Revoked, &sess.CreatedAt, &sess.LastSeen)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get session", err)
	}
	return &sess, nil
}

// TouchSession advances last_seen to now.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET last_seen = $2 WHERE id = $1`, id, time.Now().UTC())
	return storageErr("touch session", err)
}

// RevokeSession marks a session unusable without deleting its audit row.
func (s *Store) RevokeSession(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET revoked = true WHERE id = $1`, id)
	return storageErr("revoke session", err)
}
