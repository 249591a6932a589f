package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/auth"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

var _ auth.TokenCache = (*RedisTokenCache)(nil)

// RedisTokenCache holds bearer tokens keyed by (site, account). The redis
// TTL mirrors the token expiry, and reads still check expires_at so a token
// that outlived its TTL bookkeeping is never handed out.
type RedisTokenCache struct {
	client *goredis.Client
	now    func() time.Time
}

func NewRedisTokenCache(client *goredis.Client) (*RedisTokenCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisTokenCache{client: client, now: time.Now}, nil
}

func tokenKey(site, account string) string {
	return fmt.Sprintf("token:%s:%s", site, account)
}

// Get returns the live token for the key, or (nil, nil) on miss. A present
// but expired record is treated identically to an absent one and is evicted.
func (c *RedisTokenCache) Get(ctx context.Context, site, account string) (*domain.Token, error) {
	key := tokenKey(site, account)
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("token cache read failed: %w", err)
	}

	var token domain.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		// Unreadable entries are dropped rather than surfaced; the caller
		// falls through to a fresh login.
		_ = c.client.Del(ctx, key).Err()
		return nil, nil
	}

	if token.Expired(c.now()) {
		_ = c.client.Del(ctx, key).Err()
		return nil, nil
	}
	return &token, nil
}

// Put stores the token with a TTL matching its remaining validity.
// Last writer wins.
func (c *RedisTokenCache) Put(ctx context.Context, token *domain.Token) error {
	if token == nil {
		return fmt.Errorf("token is required")
	}
	ttl := token.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return fmt.Errorf("refusing to cache an already-expired token")
	}

	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := c.client.Set(ctx, tokenKey(token.Site, token.Account), payload, ttl).Err(); err != nil {
		return fmt.Errorf("token cache write failed: %w", err)
	}
	return nil
}

// Invalidate drops the cached token for the key, if any.
func (c *RedisTokenCache) Invalidate(ctx context.Context, site, account string) error {
	if err := c.client.Del(ctx, tokenKey(site, account)).Err(); err != nil {
		return fmt.Errorf("token cache delete failed: %w", err)
	}
	return nil
}
