// Package vault manages the encrypted lifecycle of aggregator access tokens.
// Keys live in an external key service; the vault itself is stateless.
package vault

import (
	"context"
	"encoding/base64"
	"fmt"
)

// KeyService is the external encryption collaborator. Implementations must be
// safe for concurrent use.
type KeyService interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// EncryptionError wraps a key-service failure during encryption. There is no
// plaintext fallback: callers must fail the operation.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("token encryption failed: %v", e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// DecryptionError wraps a key-service failure during decryption.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("token decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Vault encrypts and decrypts access tokens through the key service.
type Vault struct {
	keys KeyService
}

// New creates a vault over the given key service.
func New(keys KeyService) *Vault {
	return &Vault{keys: keys}
}

// EncryptToken encrypts a plaintext access token for storage.
func (v *Vault) EncryptToken(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", &EncryptionError{Err: fmt.Errorf("empty token")}
	}

	ciphertext, err := v.keys.Encrypt(ctx, []byte(plaintext))
	if err != nil {
		return "", &EncryptionError{Err: err}
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptToken recovers the plaintext access token from its stored form.
func (v *Vault) DecryptToken(ctx context.Context, encoded string) (string, error) {
	if encoded == "" {
		return "", &DecryptionError{Err: fmt.Errorf("empty ciphertext")}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &DecryptionError{Err: fmt.Errorf("invalid base64: %w", err)}
	}

	plaintext, err := v.keys.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}

	return string(plaintext), nil
}
