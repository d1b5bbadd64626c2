package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/itinera-ai/itinera/internal/cache"
	"github.com/itinera-ai/itinera/internal/models"
)

// KeyStore answers which API keys a traveler has supplied for direct
// provider access. Implementations must treat keys as secrets and never
// log them.
type KeyStore interface {
	// UserKey returns the traveler's key for a provider, if one is on
	// file. An empty key with ok=true is treated as absent.
	UserKey(ctx context.Context, userID string, provider models.Provider) (string, bool, error)
}

// StaticKeyStore is an in-memory KeyStore keyed by user then provider.
// The config loader produces one for deployments without a real key
// vault; tests use it directly.
type StaticKeyStore struct {
	keys map[string]map[models.Provider]string
}

func NewStaticKeyStore() *StaticKeyStore {
	return &StaticKeyStore{keys: make(map[string]map[models.Provider]string)}
}

// SetKey stores a key for a user and provider.
func (s *StaticKeyStore) SetKey(userID string, provider models.Provider, key string) {
	if s.keys[userID] == nil {
		s.keys[userID] = make(map[models.Provider]string)
	}
	s.keys[userID][provider] = key
}

func (s *StaticKeyStore) UserKey(_ context.Context, userID string, provider models.Provider) (string, bool, error) {
	key, ok := s.keys[userID][provider]
	if !ok || key == "" {
		return "", false, nil
	}
	return key, true, nil
}

const byokKeyPrefix = "byok:"

// CacheKeyStore persists traveler keys in the shared cache store, so
// every instance sees a key as soon as it is saved. Keys never expire;
// removal is explicit.
type CacheKeyStore struct {
	store cache.Store
}

func NewCacheKeyStore(store cache.Store) *CacheKeyStore {
	return &CacheKeyStore{store: store}
}

func byokKey(userID string, provider models.Provider) string {
	return byokKeyPrefix + userID + ":" + string(provider)
}

func (s *CacheKeyStore) UserKey(ctx context.Context, userID string, provider models.Provider) (string, bool, error) {
	key, ok, err := s.store.Get(ctx, byokKey(userID, provider))
	if err != nil {
		return "", false, fmt.Errorf("key lookup for %s: %w", provider, err)
	}
	if !ok || key == "" {
		return "", false, nil
	}
	return key, true, nil
}

// SetUserKey stores or replaces a traveler's provider key.
func (s *CacheKeyStore) SetUserKey(ctx context.Context, userID string, provider models.Provider, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key must not be empty")
	}
	return s.store.Set(ctx, byokKey(userID, provider), key, 0)
}

// DeleteUserKey removes a traveler's provider key. Deleting an absent
// key is not an error.
func (s *CacheKeyStore) DeleteUserKey(ctx context.Context, userID string, provider models.Provider) error {
	return s.store.Delete(ctx, byokKey(userID, provider))
}
