package tenant

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"engagement-engine/internal/models"

	"github.com/go-redis/redis/v8"
)

// Cache stores tenant settings by tenant id.
type Cache interface {
	Get(ctx context.Context, tenantID string) (models.TenantSettings, bool, error)
	Set(ctx context.Context, settings models.TenantSettings) error
	Invalidate(ctx context.Context, tenantID string) error
}

const DefaultTTL = 5 * time.Minute

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to url (redis://host:port/db). An empty password
// keeps the one in the URL.
func NewRedisCache(url, password string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *RedisCache) key(tenantID string) string {
	return "tenant:settings:" + tenantID
}

func (c *RedisCache) Get(ctx context.Context, tenantID string) (models.TenantSettings, bool, error) {
	val, err := c.client.Get(ctx, c.key(tenantID)).Result()
	if err == redis.Nil {
		return models.TenantSettings{}, false, nil
	} else if err != nil {
		return models.TenantSettings{}, false, err
	}

	var settings models.TenantSettings
	if err := json.Unmarshal([]byte(val), &settings); err != nil {
		return models.TenantSettings{}, false, nil
	}
	return settings, true, nil
}

func (c *RedisCache) Set(ctx context.Context, settings models.TenantSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(settings.OwnerID), data, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, c.key(tenantID)).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache is a process-local cache without expiry. It is used when no
// Redis is configured.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]models.TenantSettings
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]models.TenantSettings)}
}

func (c *MemoryCache) Get(_ context.Context, tenantID string) (models.TenantSettings, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.items[tenantID]
	return s, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, settings models.TenantSettings) error {
	c.mu.Lock()
	c.items[settings.OwnerID] = settings
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, tenantID string) error {
	c.mu.Lock()
	delete(c.items, tenantID)
	c.mu.Unlock()
	return nil
}
