package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const keyNamespace = "av"

// GeneratedKey holds a freshly minted API key. PlainKey is shown once and
// never stored; only Hash is persisted.
type GeneratedKey struct {
	Prefix   string
	PlainKey string
	Hash     string
}

// GenerateAPIKey mints a new API key of the form av_<prefix>_<secret>.
// The prefix is the public lookup handle, the secret is bcrypt-hashed.
func GenerateAPIKey() (*GeneratedKey, error) {
	prefixBytes := make([]byte, 4)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, fmt.Errorf("failed to generate key prefix: %w", err)
	}

	secretBytes := make([]byte, 16)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("failed to generate key secret: %w", err)
	}

	prefix := hex.EncodeToString(prefixBytes)
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash key secret: %w", err)
	}

	return &GeneratedKey{
		Prefix:   prefix,
		PlainKey: fmt.Sprintf("%s_%s_%s", keyNamespace, prefix, secret),
		Hash:     string(hash),
	}, nil
}

// SplitKey splits a presented key into its prefix and secret parts
func SplitKey(key string) (prefix, secret string, err error) {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 || parts[0] != keyNamespace || parts[1] == "" || parts[2] == "" {
		return "", "", ErrInvalidKey
	}
	return parts[1], parts[2], nil
}
