package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"userlifecycle/pkg/models"
)

const keyPrefix = "user:"

// UserCache is a read-through cache for user lookups by id. Cache failures
// are never fatal: a miss or a Redis error just falls through to the store.
type UserCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewUserCache connects a cache over the given Redis client.
func NewUserCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *UserCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &UserCache{client: client, ttl: ttl, log: log}
}

// Get returns the cached user and true on a hit.
func (c *UserCache) Get(ctx context.Context, id string) (models.User, bool) {
	data, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("cache get failed", zap.String("user_id", id), zap.Error(err))
		}
		return models.User{}, false
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		c.log.Warn("cache entry corrupt, dropping", zap.String("user_id", id), zap.Error(err))
		c.Invalidate(ctx, id)
		return models.User{}, false
	}
	return user, true
}

// Set stores the user under its id.
func (c *UserCache) Set(ctx context.Context, user models.User) {
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+user.ID, data, c.ttl).Err(); err != nil {
		c.log.Debug("cache set failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// Invalidate drops the cached entry for the user id. Safe to call for ids
// that were never cached.
func (c *UserCache) Invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		c.log.Debug("cache invalidate failed", zap.String("user_id", id), zap.Error(err))
	}
}
