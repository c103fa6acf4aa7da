package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// InsertCredential stores a tenant-scoped provider credential. The
// EncryptedKey field must already hold vault ciphertext; the store never
// sees plaintext.
func (s *Store) InsertCredential(ctx context.Context, c *types.ProviderCredential) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provider_credentials (
			id, tenant_id, display_name, kind, encrypted_key, endpoint, config_json, active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
	`, c.ID, c.TenantID, c.DisplayName, c.Kind, c.EncryptedKey, c.Endpoint, c.ConfigJSON, c.Active, now)
	return storageErr("insert credential", err)
}

// GetCredential fetches one credential row scoped to tenantID.
func (s *Store) GetCredential(ctx context.Context, tenantID, id string) (*types.ProviderCredential, error) {
	var c types.ProviderCredential
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, display_name, kind, encrypted_key, endpoint, config_json, active, created_at, updated_at
		FROM provider_credentials WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&c.ID, &c.TenantID, &c.DisplayName, &c.Kind, &c.EncryptedKey, &c.Endpoint, &c.ConfigJSON, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get credential", err)
	}
	return &c, nil
}

// GetCredentialByKind returns tenantID's most recently updated active
// credential of kind, or (nil, nil) if none exists. This is how the
// pipeline executor resolves a job's provider from a tenant's own stored
// credential without the submitter needing to know a credential's id
// (§4.3, §4.7).
func (s *Store) GetCredentialByKind(ctx context.Context, tenantID string, kind types.ProviderKind) (*types.ProviderCredential, error) {
	var c types.ProviderCredential
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, display_name, kind, encrypted_key, endpoint, config_json, active, created_at, updated_at
		FROM provider_credentials
		WHERE tenant_id = $1 AND kind = $2 AND active = true
		ORDER BY updated_at DESC LIMIT 1
	`, tenantID, kind).Scan(&c.ID, &c.TenantID, &c.DisplayName, &c.Kind, &c.EncryptedKey, &c.Endpoint, &c.ConfigJSON, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get credential by kind", err)
	}
	return &c, nil
}

// ListCredentials returns all active credentials for a tenant.
func (s *Store) ListCredentials(ctx context.Context, tenantID string) ([]*types.ProviderCredential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, display_name, kind, encrypted_key, endpoint, config_json, active, created_at, updated_at
		FROM provider_credentials WHERE tenant_id = $1 AND active = true
	`, tenantID)
	if err != nil {
		return nil, storageErr("list credentials", err)
	}
	defer rows.Close()
	var out []*types.ProviderCredential
	for rows.Next() {
		var c types.ProviderCredential
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DisplayName, &c.Kind, &c.EncryptedKey, &c.Endpoint, &c.ConfigJSON, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, storageErr("scan credential", err)
		}
		out = append(out, &c)
	}
	return out, nil
}

// DeactivateCredential flips the active flag off without deleting the row.
func (s *Store) DeactivateCredential(ctx context.Context, tenantID, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE provider_credentials SET active = false, updated_at = $3 WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, time.Now().UTC())
	return storageErr("deactivate credential", err)
}

// DeadLetterEntry is one row of the dead-letter log.
type DeadLetterEntry struct {
	JobID     string
	TenantID  string
	Reason    string
	CreatedAt time.Time
}

// ListDeadLetters returns the dead-letter log, newest first, for operator
// inspection.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, tenant_id, reason, created_at FROM dead_letters ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, storageErr("list dead letters", err)
	}
	defer rows.Close()
	var out []DeadLetterEntry
	for rows.Next() {
		var d DeadLetterEntry
		if err := rows.Scan(&d.JobID, &d.TenantID, &d.Reason, &d.CreatedAt); err != nil {
			return nil, storageErr("scan dead letter", err)
		}
		out = append(out, d)
	}
	return out, nil
}
