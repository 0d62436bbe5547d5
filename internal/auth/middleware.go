package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/olexisomar/ai-visibility/internal/db"
)

// ErrInvalidKey is returned when an API key fails validation
var ErrInvalidKey = errors.New("invalid api key")

// KeyStore looks up API keys by their public prefix
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*db.APIKey, *db.User, error)
	TouchAPIKey(ctx context.Context, keyID string)
}

// Identity is the authenticated caller attached to the request context
type Identity struct {
	UserID    string
	AccountID string
	Email     string
	Role      string
	KeyID     string
}

// AuthClient abstracts API key validation for testing
type AuthClient interface {
	ValidateKey(ctx context.Context, key string) (*Identity, error)
	ExtractKeyFromRequest(r *http.Request) (string, error)
	SetIdentityInContext(r *http.Request, identity *Identity) *http.Request
}

// APIKeyAuthClient validates keys against stored bcrypt hashes
type APIKeyAuthClient struct {
	store KeyStore
}

// NewAPIKeyAuthClient creates an auth client backed by the given store
func NewAPIKeyAuthClient(store KeyStore) *APIKeyAuthClient {
	return &APIKeyAuthClient{store: store}
}

// ValidateKey checks a presented key against the stored hash for its prefix
func (c *APIKeyAuthClient) ValidateKey(ctx context.Context, key string) (*Identity, error) {
	prefix, secret, err := SplitKey(key)
	if err != nil {
		return nil, err
	}

	apiKey, user, err := c.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, db.ErrAPIKeyNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(apiKey.KeyHash), []byte(secret)); err != nil {
		return nil, ErrInvalidKey
	}

	// Best-effort usage tracking, never blocks the request
	c.store.TouchAPIKey(ctx, apiKey.ID)

	return &Identity{
		UserID:    user.ID,
		AccountID: user.AccountID,
		Email:     user.Email,
		Role:      user.Role,
		KeyID:     apiKey.ID,
	}, nil
}

// ExtractKeyFromRequest extracts the API key from the Authorization header
func (c *APIKeyAuthClient) ExtractKeyFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	return strings.TrimPrefix(authHeader, "Bearer "), nil
}

// SetIdentityInContext adds the identity to the request context
func (c *APIKeyAuthClient) SetIdentityInContext(r *http.Request, identity *Identity) *http.Request {
	ctx := context.WithValue(r.Context(), IdentityKey, identity)
	return r.WithContext(ctx)
}

// IdentityContextKey is used for context value storage
type IdentityContextKey string

const (
	// IdentityKey holds the authenticated Identity in request contexts
	IdentityKey IdentityContextKey = "identity"
)

// AuthMiddleware validates API keys using the given store
func AuthMiddleware(store KeyStore) func(http.Handler) http.Handler {
	return AuthMiddlewareWithClient(NewAPIKeyAuthClient(store))
}

// AuthMiddlewareWithClient validates API keys using the provided AuthClient
func AuthMiddlewareWithClient(authClient AuthClient) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := authClient.ExtractKeyFromRequest(r)
			if err != nil {
				writeAuthError(w, r, "Missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}

			identity, err := authClient.ValidateKey(r.Context(), key)
			if err != nil {
				if errors.Is(err, ErrInvalidKey) {
					log.Warn().Str("key_prefix", safePrefix(key)).Msg("API key validation failed")
					writeAuthError(w, r, "Invalid API key", http.StatusUnauthorized)
					return
				}
				log.Error().Err(err).Msg("API key lookup failed")
				writeAuthError(w, r, "Authentication service unavailable", http.StatusInternalServerError)
				return
			}

			r = authClient.SetIdentityInContext(r, identity)
			next.ServeHTTP(w, r)
		})
	}
}

// GetIdentityFromContext extracts the authenticated identity from the context
func GetIdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(*Identity)
	return identity, ok
}

// safePrefix returns the public prefix of a key for logging, never the secret
func safePrefix(key string) string {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) < 3 {
		return "malformed"
	}
	return parts[1]
}

// writeAuthError writes a standardised authentication error response
func writeAuthError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	var requestID string
	if r != nil && r.Context() != nil {
		if rid := r.Context().Value("request_id"); rid != nil {
			if ridStr, ok := rid.(string); ok {
				requestID = ridStr
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"status":     statusCode,
		"message":    message,
		"code":       "UNAUTHORISED",
		"request_id": requestID,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode unauthorised response")
	}
}
