// Package cache provides a Redis-backed read cache for tenant entitlement
// expiration dates. The subscriptions table remains the source of truth; the
// cache only accelerates the hot "is this tenant entitled" lookup.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrMiss is returned when the requested key is not cached.
var ErrMiss = errors.New("cache miss")

// EntitlementCache caches per-tenant entitlement expiration dates.
type EntitlementCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(addr string) Config {
	return Config{
		Addr: addr,
		TTL:  time.Hour,
	}
}

// New connects to Redis and returns an EntitlementCache.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*EntitlementCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &EntitlementCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger.With().Str("component", "entitlement_cache").Logger(),
	}, nil
}

// Close closes the Redis connection.
func (c *EntitlementCache) Close() error {
	return c.client.Close()
}

func entitlementKey(tenantID string) string {
	return "tenant:" + tenantID + ":entitlement_expires_at"
}

// Get returns the cached expiration date for a tenant, or ErrMiss.
func (c *EntitlementCache) Get(ctx context.Context, tenantID string) (time.Time, error) {
	val, err := c.client.Get(ctx, entitlementKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrMiss
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get entitlement: %w", err)
	}

	expires, err := time.Parse(time.RFC3339, val)
	if err != nil {
		// Unparseable entries are treated as misses and dropped.
		c.logger.Warn().Str("tenant_id", tenantID).Str("value", val).Msg("invalid cached entitlement, evicting")
		c.client.Del(ctx, entitlementKey(tenantID))
		return time.Time{}, ErrMiss
	}
	return expires, nil
}

// Set writes the expiration date for a tenant.
func (c *EntitlementCache) Set(ctx context.Context, tenantID string, expiresAt time.Time) error {
	err := c.client.Set(ctx, entitlementKey(tenantID), expiresAt.UTC().Format(time.RFC3339), c.ttl).Err()
	if err != nil {
		return fmt.Errorf("set entitlement: %w", err)
	}
	return nil
}

// Invalidate removes a tenant's cached expiration date.
func (c *EntitlementCache) Invalidate(ctx context.Context, tenantID string) error {
	if err := c.client.Del(ctx, entitlementKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("invalidate entitlement: %w", err)
	}
	return nil
}
