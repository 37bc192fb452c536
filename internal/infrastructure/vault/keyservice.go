package vault

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidKey is returned when the local key service is given a key of the
// wrong length.
var ErrInvalidKey = errors.New("encryption key must be exactly 32 bytes")

// LocalKeyService implements KeyService with XChaCha20-Poly1305 using a
// process-local key. Intended for development and tests; production deploys
// point the vault at the remote key service instead.
type LocalKeyService struct {
	key []byte
}

// NewLocalKeyService creates a local key service from a 32-byte key.
func NewLocalKeyService(key string) (*LocalKeyService, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return &LocalKeyService{key: []byte(key)}, nil
}

// Encrypt seals the plaintext with a random nonce prefix.
func (s *LocalKeyService) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (s *LocalKeyService) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ciphertext: %w", err)
	}

	return plaintext, nil
}

// RemoteKeyService implements KeyService against the external key service's
// HTTP API. Keys never leave the service.
type RemoteKeyService struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewRemoteKeyService creates a client for the external key service.
func NewRemoteKeyService(baseURL, apiKey string, timeout time.Duration) *RemoteKeyService {
	return &RemoteKeyService{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type keyServiceRequest struct {
	Data string `json:"data"` // base64
}

type keyServiceResponse struct {
	Data  string `json:"data"` // base64
	Error string `json:"error,omitempty"`
}

// Encrypt sends the plaintext to the key service's encrypt endpoint.
func (s *RemoteKeyService) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	return s.call(ctx, "/v1/encrypt", plaintext)
}

// Decrypt sends the ciphertext to the key service's decrypt endpoint.
func (s *RemoteKeyService) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return s.call(ctx, "/v1/decrypt", ciphertext)
}

func (s *RemoteKeyService) call(ctx context.Context, path string, data []byte) ([]byte, error) {
	payload, err := json.Marshal(keyServiceRequest{Data: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("key service unavailable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out keyServiceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("key service error: %s", out.Error)
	}

	decoded, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return nil, fmt.Errorf("key service returned invalid base64: %w", err)
	}

	return decoded, nil
}
