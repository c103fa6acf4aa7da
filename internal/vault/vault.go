// Package vault implements the credential vault (C3): a symmetric-encryption
// facade over provider API keys. Plaintext never leaves the vault's direct
// callers.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
)

// Vault encrypts and decrypts provider credentials with AES-256-GCM under a
// single process-wide key.
type Vault struct {
	key []byte // 32 bytes for AES-256
}

// New creates a Vault from a raw 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault: encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &Vault{key: key}, nil
}

// NewFromPassphrase derives a 32-byte key from an operator-supplied
// passphrase via SHA-256. Used when no raw key is configured.
func NewFromPassphrase(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("vault: passphrase cannot be empty")
	}
	hash := sha256.Sum256([]byte(passphrase))
	return New(hash[:])
}

// Encrypt authenticates and encrypts plaintext, returning the nonce-prefixed
// ciphertext suitable for storage in a ProviderCredential row.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("vault: cannot encrypt empty data")
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. Callers must not retry a failure here: the
// ciphertext is corrupt or the vault key has changed, so this surfaces as a
// terminal CredentialUnavailable condition (internal/bin2nlperr Validation
// class — there is nothing a retry can fix).
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, bin2nlperr.New(bin2nlperr.Validation, "vault", "cannot decrypt empty data")
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Internal, "vault", "failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Internal, "vault", "failed to create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, bin2nlperr.New(bin2nlperr.Validation, "vault", "ciphertext too short")
	}

	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Validation, "vault", "credential unavailable: decryption failed", err).
			WithDetail("reason", "ciphertext corrupt or vault key rotated")
	}

	return plaintext, nil
}
