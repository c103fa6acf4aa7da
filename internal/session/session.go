// Package session implements the Session & Admin Surface (C9): short-lived
// operator/API-client sessions distinct from the job/tenant model, used by
// the HTTP ingress layer for admin authentication and the recovery
// supervisor's diagnostics endpoint.
//
// Supplemented from the original implementation's SessionManager
// (src/cache/session.py), which tracked Redis-backed upload sessions with
// presigned URLs, temp-file dedup, and a background cleanup loop. That
// domain (file-upload staging) has no counterpart here — blob staging is
// owned by C2/C7 directly — so only the session-lifecycle shape survives:
// create, fetch-with-expiry-check, touch-on-access, and revoke, adapted to
// the simpler Session entity (§3) backed by the relational store instead of
// Redis. There is no periodic sweep: an idle-expired session is revoked
// when it is next presented to Authenticate.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
	"github.com/Onegaishimas/bin2nlp/internal/obsmetrics"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// DefaultIdleTimeout is how long a session may go untouched before it is
// treated as expired, mirroring the original's DEFAULT_UPLOAD_SESSION_TTL
// (one hour) even though our Session carries no explicit expires_at column.
const DefaultIdleTimeout = time.Hour

// Store is the subset of the metadata store the manager drives.
type Store interface {
	InsertSession(ctx context.Context, sess *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	TouchSession(ctx context.Context, id string) error
	RevokeSession(ctx context.Context, id string) error
}

// Manager is the session lifecycle authority for C9.
type Manager struct {
	store       Store
	idleTimeout time.Duration
}

// New constructs a Manager. idleTimeout <= 0 selects DefaultIdleTimeout.
func New(store Store, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Manager{store: store, idleTimeout: idleTimeout}
}

// Create issues a new session for tenantID, optionally labeled for operator
// identification (e.g. "cli: jdoe@laptop"). tier selects the ingress
// rate-limit tier requests under this session are admitted against; an
// empty tier defaults to types.TierStandard at the store boundary.
func (m *Manager) Create(ctx context.Context, tenantID, label string, tier types.RateTier) (*types.Session, error) {
	now := time.Now().UTC()
	sess := &types.Session{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Label:     label,
		Tier:      tier,
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := m.store.InsertSession(ctx, sess); err != nil {
		return nil, err
	}
	obsmetrics.SessionsTotal.WithLabelValues("created").Inc()
	obslog.WithComponent("session").Info().Str("session_id", sess.ID).Str("tenant_id", tenantID).
		Msg("session created")
	return sess, nil
}

// errNotFound is returned by Authenticate for both a missing row and a
// revoked/idle-expired one; callers must not distinguish the two cases, to
// avoid leaking whether a given id ever existed.
var errNotFound = bin2nlperr.New(bin2nlperr.Authentication, "session", "session not found or expired")

// Authenticate fetches id, rejecting it if revoked or idle-expired, and
// otherwise touches its last-seen timestamp before returning it.
//
// An idle-expired session is revoked in place rather than silently ignored,
// so it cannot be reused if the idle timeout is later widened.
func (m *Manager) Authenticate(ctx context.Context, id string) (*types.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		obsmetrics.SessionsTotal.WithLabelValues("not_found").Inc()
		return nil, errNotFound
	}
	if sess.Revoked {
		obsmetrics.SessionsTotal.WithLabelValues("revoked").Inc()
		return nil, errNotFound
	}
	if time.Since(sess.LastSeen) > m.idleTimeout {
		obsmetrics.SessionsTotal.WithLabelValues("expired").Inc()
		if err := m.store.RevokeSession(ctx, id); err != nil {
			obslog.WithComponent("session").Error().Str("session_id", id).Err(err).
				Msg("failed to revoke idle-expired session")
		}
		return nil, errNotFound
	}

	if err := m.store.TouchSession(ctx, id); err != nil {
		return nil, err
	}
	sess.LastSeen = time.Now().UTC()
	return sess, nil
}

// Revoke immediately invalidates a session, e.g. on operator logout or
// admin-initiated credential rotation.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if err := m.store.RevokeSession(ctx, id); err != nil {
		return err
	}
	obsmetrics.SessionsTotal.WithLabelValues("revoked").Inc()
	obslog.WithComponent("session").Info().Str("session_id", id).Msg("session revoked")
	return nil
}
