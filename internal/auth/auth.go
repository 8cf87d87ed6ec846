package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCostFactor = 12
)

// HashAPIKey generates a bcrypt hash for the given API key secret.
// The hash, not the key, goes into API_KEY_HASH.
func HashAPIKey(apiKeySecret string) (string, error) {
	if apiKeySecret == "" {
		return "", errors.New("api key must not be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(apiKeySecret), bcryptCostFactor)
	if err != nil {
		slog.Error("Failed to generate bcrypt hash for API key", slog.Any("error", err))
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckAPIKey compares a plaintext API key secret with a stored bcrypt hash.
func CheckAPIKey(apiKeySecret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKeySecret))
	if err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			slog.Warn("Error comparing API key hash", slog.Any("error", err))
		}
		return false
	}
	return true
}

// KeyVerifier checks management API keys against one bcrypt hash. Keys that
// matched once are remembered by digest so later requests skip bcrypt.
type KeyVerifier struct {
	hash     string
	accepted sync.Map // [32]byte -> struct{}
}

// NewKeyVerifier returns nil when hash is empty, meaning no key is required.
func NewKeyVerifier(hash string) *KeyVerifier {
	if hash == "" {
		return nil
	}
	return &KeyVerifier{hash: hash}
}

// Verify reports whether key matches the configured hash.
func (v *KeyVerifier) Verify(key string) bool {
	if key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))
	if _, ok := v.accepted.Load(digest); ok {
		return true
	}
	if !CheckAPIKey(key, v.hash) {
		return false
	}
	v.accepted.Store(digest, struct{}{})
	return true
}
