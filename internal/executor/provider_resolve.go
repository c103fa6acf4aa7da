package executor

import (
	"context"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/llmprovider"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// Credentials resolves a tenant's own stored provider credential, per §4.3's
// per-tenant credential binding.
type Credentials interface {
	GetCredentialByKind(ctx context.Context, tenantID string, kind types.ProviderKind) (*types.ProviderCredential, error)
}

// Decryptor unseals vault ciphertext. Both a submission's inline
// provider_api_key override and a stored ProviderCredential's encrypted key
// go through it.
type Decryptor interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// resolveProvider binds a job to a Provider, trying in order: (1) a
// per-submission inline override (provider_endpoint/provider_api_key,
// sealed at submission time), (2) the tenant's own stored credential for
// the requested kind, (3) the deployment-wide registry built from operator
// configuration. A job naming no provider kind resolves to (nil, false,
// nil): Stage B is skipped and the job finalizes as decompilation-only
// (§8 scenario 1). A job that names a kind none of the three tiers can
// serve is an error. Credentials are decrypted once per job and never
// retained past this call.
func (e *Executor) resolveProvider(ctx context.Context, job *types.Job) (llmprovider.Provider, bool, error) {
	if job.Config.ProviderID == "" {
		return nil, false, nil
	}
	kind := types.ProviderKind(job.Config.ProviderID)

	if cfg, ok, err := e.inlineOverrideConfig(job, kind); err != nil {
		return nil, false, err
	} else if ok {
		p, err := e.buildProvider(ctx, cfg)
		if err != nil {
			return nil, false, err
		}
		return p, true, nil
	}

	if e.credentials != nil && job.TenantID != "" {
		cred, err := e.credentials.GetCredentialByKind(ctx, job.TenantID, kind)
		if err != nil {
			return nil, false, err
		}
		if cred != nil {
			if e.vault == nil {
				return nil, false, bin2nlperr.New(bin2nlperr.Internal, "executor", "credential vault not configured")
			}
			plainKey, err := e.vault.Decrypt(cred.EncryptedKey)
			if err != nil {
				return nil, false, err
			}
			p, err := e.buildProvider(ctx, llmprovider.Config{
				Kind:     kind,
				APIKey:   string(plainKey),
				Endpoint: cred.Endpoint,
				Model:    job.Config.ProviderModel,
			})
			if err != nil {
				return nil, false, err
			}
			return p, true, nil
		}
	}

	if p, ok := e.providers.Get(kind); ok {
		return p, true, nil
	}
	return nil, false, bin2nlperr.New(bin2nlperr.Validation, "executor", "no provider available for the requested kind").
		WithDetail("provider_id", job.Config.ProviderID)
}

// inlineOverrideConfig builds a Config from a submission's inline
// provider_endpoint/provider_api_key fields, unsealing the vault-encrypted
// key. ok is false when the job carries no such override.
func (e *Executor) inlineOverrideConfig(job *types.Job, kind types.ProviderKind) (llmprovider.Config, bool, error) {
	if len(job.Config.ProviderAPIKeyCiphertext) == 0 {
		return llmprovider.Config{}, false, nil
	}
	if e.vault == nil {
		return llmprovider.Config{}, false, bin2nlperr.New(bin2nlperr.Internal, "executor", "credential vault not configured")
	}
	plainKey, err := e.vault.Decrypt(job.Config.ProviderAPIKeyCiphertext)
	if err != nil {
		return llmprovider.Config{}, false, err
	}
	return llmprovider.Config{
		Kind:     kind,
		APIKey:   string(plainKey),
		Endpoint: job.Config.ProviderEndpoint,
		Model:    job.Config.ProviderModel,
	}, true, nil
}

// buildProvider constructs a fresh, breaker-wrapped Provider for a
// per-job credential. Unlike the deployment registry, this provider is
// built and discarded for a single job rather than held for reuse, since
// the key behind it is per-tenant or per-submission.
func (e *Executor) buildProvider(ctx context.Context, cfg llmprovider.Config) (llmprovider.Provider, error) {
	return e.newProvider(ctx, cfg)
}
