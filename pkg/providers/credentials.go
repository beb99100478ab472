package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// Durable keys written by providers.
const (
	MockUserKey        = "mock_auth_user"
	OryCredentialKey   = "ory_session_credential"
	OAuthStateKey      = "oauth_state"
	oidcTokenKeyPrefix = "oidc_token:"
)

// TokenKey is the durable key holding the OAuth tokens of a hosted provider.
func TokenKey(t auth.ProviderType) string {
	return oidcTokenKeyPrefix + string(t)
}

// tokenRecord is what a hosted provider keeps between requests.
type tokenRecord struct {
	Token   *oauth2.Token `json:"token"`
	IDToken string        `json:"id_token,omitempty"`
}

// loadJSON decodes the value at key into dest. It reports false when the key is absent.
func loadJSON(ctx context.Context, kv storage.KV, key string, dest interface{}) (bool, error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func saveJSON(ctx context.Context, kv storage.KV, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func loadToken(ctx context.Context, kv storage.KV, t auth.ProviderType) (*tokenRecord, error) {
	var rec tokenRecord
	ok, err := loadJSON(ctx, kv, TokenKey(t), &rec)
	if err != nil || !ok || rec.Token == nil {
		return nil, err
	}
	return &rec, nil
}

func saveToken(ctx context.Context, kv storage.KV, t auth.ProviderType, rec *tokenRecord) error {
	return saveJSON(ctx, kv, TokenKey(t), rec)
}

func deleteToken(ctx context.Context, kv storage.KV, t auth.ProviderType) error {
	return kv.Delete(ctx, TokenKey(t))
}
