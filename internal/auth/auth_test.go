package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olexisomar/ai-visibility/internal/db"
)

type fakeKeyStore struct {
	keys    map[string]*db.APIKey
	users   map[string]*db.User
	touched []string
}

func (f *fakeKeyStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*db.APIKey, *db.User, error) {
	key, ok := f.keys[prefix]
	if !ok {
		return nil, nil, db.ErrAPIKeyNotFound
	}
	return key, f.users[key.UserID], nil
}

func (f *fakeKeyStore) TouchAPIKey(ctx context.Context, keyID string) {
	f.touched = append(f.touched, keyID)
}

func newStoreWithKey(t *testing.T) (*fakeKeyStore, *GeneratedKey) {
	t.Helper()

	generated, err := GenerateAPIKey()
	require.NoError(t, err)

	store := &fakeKeyStore{
		keys: map[string]*db.APIKey{
			generated.Prefix: {
				ID:      "key-1",
				UserID:  "user-1",
				Prefix:  generated.Prefix,
				KeyHash: generated.Hash,
			},
		},
		users: map[string]*db.User{
			"user-1": {
				ID:        "user-1",
				AccountID: "account-1",
				Email:     "owner@example.com",
				Role:      db.RoleAdmin,
			},
		},
	}
	return store, generated
}

func TestGenerateAPIKeyRoundTrip(t *testing.T) {
	generated, err := GenerateAPIKey()
	require.NoError(t, err)

	prefix, secret, err := SplitKey(generated.PlainKey)
	require.NoError(t, err)
	assert.Equal(t, generated.Prefix, prefix)
	assert.NotEmpty(t, secret)
	assert.NotContains(t, generated.Hash, secret)
}

func TestSplitKeyRejectsMalformedKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"wrong namespace", "sk_abcd_efgh"},
		{"missing secret", "av_abcd_"},
		{"missing prefix", "av__secret"},
		{"no separators", "avabcdefgh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := SplitKey(tt.key)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestValidateKey(t *testing.T) {
	store, generated := newStoreWithKey(t)
	client := NewAPIKeyAuthClient(store)

	identity, err := client.ValidateKey(context.Background(), generated.PlainKey)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "account-1", identity.AccountID)
	assert.Equal(t, db.RoleAdmin, identity.Role)
	assert.Equal(t, []string{"key-1"}, store.touched)
}

func TestValidateKeyWrongSecret(t *testing.T) {
	store, generated := newStoreWithKey(t)
	client := NewAPIKeyAuthClient(store)

	_, err := client.ValidateKey(context.Background(), "av_"+generated.Prefix+"_wrongsecret")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Empty(t, store.touched)
}

func TestValidateKeyUnknownPrefix(t *testing.T) {
	store, _ := newStoreWithKey(t)
	client := NewAPIKeyAuthClient(store)

	_, err := client.ValidateKey(context.Background(), "av_deadbeef_secret")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestAuthMiddleware(t *testing.T) {
	store, generated := newStoreWithKey(t)

	var gotIdentity *Identity
	handler := AuthMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = GetIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/automation/settings", nil)
		req.Header.Set("Authorization", "Bearer "+generated.PlainKey)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotIdentity)
		assert.Equal(t, "account-1", gotIdentity.AccountID)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/automation/settings", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHORISED")
	})

	t.Run("invalid key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/automation/settings", nil)
		req.Header.Set("Authorization", "Bearer av_nope_nope")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
