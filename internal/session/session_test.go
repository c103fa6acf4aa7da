package session

import (
	"context"
	"testing"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

type fakeStore struct {
	sessions map[string]*types.Session
	touched  map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string]*types.Session{}, touched: map[string]int{}}
}

func (f *fakeStore) InsertSession(ctx context.Context, sess *types.Session) error {
	cp := *sess
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeStore) TouchSession(ctx context.Context, id string) error {
	f.touched[id]++
	if sess, ok := f.sessions[id]; ok {
		sess.LastSeen = time.Now().UTC()
	}
	return nil
}

func (f *fakeStore) RevokeSession(ctx context.Context, id string) error {
	if sess, ok := f.sessions[id]; ok {
		sess.Revoked = true
	}
	return nil
}

func TestCreateThenAuthenticate(t *testing.T) {
	store := newFakeStore()
	m := New(store, time.Hour)

	sess, err := m.Create(context.Background(), "tenant-1", "cli session", types.TierStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("expected a generated id")
	}

	got, err := m.Authenticate(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("unexpected error authenticating fresh session: %v", err)
	}
	if got.TenantID != "tenant-1" {
		t.Fatalf("expected tenant-1, got %s", got.TenantID)
	}
	if store.touched[sess.ID] != 1 {
		t.Fatalf("expected authenticate to touch the session once, got %d", store.touched[sess.ID])
	}
}

func TestAuthenticateRejectsUnknownSession(t *testing.T) {
	m := New(newFakeStore(), time.Hour)
	if _, err := m.Authenticate(context.Background(), "nope"); err == nil {
		t.Fatalf("expected an error for an unknown session")
	}
}

func TestAuthenticateRejectsRevokedSession(t *testing.T) {
	store := newFakeStore()
	m := New(store, time.Hour)

	sess, _ := m.Create(context.Background(), "tenant-1", "", types.TierStandard)
	if err := m.Revoke(context.Background(), sess.ID); err != nil {
		t.Fatalf("unexpected error revoking: %v", err)
	}
	if _, err := m.Authenticate(context.Background(), sess.ID); err == nil {
		t.Fatalf("expected an error for a revoked session")
	}
}

func TestAuthenticateExpiresIdleSession(t *testing.T) {
	store := newFakeStore()
	m := New(store, time.Millisecond)

	sess, _ := m.Create(context.Background(), "tenant-1", "", types.TierStandard)
	time.Sleep(5 * time.Millisecond)

	if _, err := m.Authenticate(context.Background(), sess.ID); err == nil {
		t.Fatalf("expected an error for an idle-expired session")
	}
	if !store.sessions[sess.ID].Revoked {
		t.Fatalf("expected idle-expired session to be revoked in place")
	}
}

func TestNewDefaultsIdleTimeout(t *testing.T) {
	m := New(newFakeStore(), 0)
	if m.idleTimeout != DefaultIdleTimeout {
		t.Fatalf("expected default idle timeout, got %v", m.idleTimeout)
	}
}
