package service

import (
	"context"
	"time"

	"smile-ai/backend/pkg/cache"
)

// IdentityCache stores resolved user ids by channel address
type IdentityCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryIdentityCache adapts the in-process cache for single-instance deployments
type MemoryIdentityCache struct {
	cache *cache.Cache
}

func NewMemoryIdentityCache(c *cache.Cache) *MemoryIdentityCache {
	return &MemoryIdentityCache{cache: c}
}

func (m *MemoryIdentityCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	id, ok := v.(string)
	return id, ok, nil
}

func (m *MemoryIdentityCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.cache.SetWithExpiration(key, value, ttl)
	return nil
}
