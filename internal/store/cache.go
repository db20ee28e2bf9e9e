package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"checkout-service/internal/model"
)

// Cached is a read-through Redis cache in front of a CartStore.
// Saves go to the primary store first, then overwrite the cached copy with the
// saved cart. A load that misses only fills an empty key, so it never replaces
// a cart written by a save that finished in the meantime.
type Cached struct {
	primary CartStore
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCached wraps primary with a cache whose entries live for ttl.
func NewCached(primary CartStore, client *redis.Client, ttl time.Duration, log *slog.Logger) *Cached {
	if log == nil {
		log = slog.Default()
	}
	return &Cached{primary: primary, client: client, ttl: ttl, logger: log}
}

// CacheKey returns the Redis key holding the owner's cart.
func CacheKey(owner model.Owner) string {
	return "cart:" + owner.CacheKey()
}

// Load implements CartStore.
func (s *Cached) Load(ctx context.Context, owner model.Owner) (*model.CartState, error) {
	if owner.IsZero() {
		return s.primary.Load(ctx, owner)
	}
	key := CacheKey(owner)

	cached, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var c model.CartState
		if err := json.Unmarshal(cached, &c); err == nil {
			return &c, nil
		}
		s.logger.Warn("discarding unreadable cached cart", "key", key)
	} else if err != redis.Nil {
		s.logger.Warn("cart cache unavailable", "error", err)
	}

	c, err := s.primary.Load(ctx, owner)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(c); err == nil {
		if err := s.client.SetNX(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Warn("caching cart failed", "key", key, "error", err)
		}
	}
	return c, nil
}

// Save implements CartStore.
func (s *Cached) Save(ctx context.Context, owner model.Owner, c *model.CartState) error {
	if err := s.primary.Save(ctx, owner, c); err != nil {
		return err
	}
	key := CacheKey(owner)

	data, err := json.Marshal(c)
	if err == nil {
		err = s.client.Set(ctx, key, data, s.ttl).Err()
	}
	if err == nil {
		return nil
	}
	s.logger.Warn("caching saved cart failed", "key", key, "error", err)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("invalidating cached cart failed", "key", key, "error", err)
	}
	return nil
}
