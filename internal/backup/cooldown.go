package backup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cooldown admits at most one manual backup per organization per window.
// Release gives back a window whose backup was never recorded.
type Cooldown interface {
	Acquire(ctx context.Context, orgID uuid.UUID) (bool, error)
	Release(ctx context.Context, orgID uuid.UUID) error
}

// RedisCooldown claims the window with SET NX and lets the key expire.
type RedisCooldown struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCooldown(client redis.UniversalClient, ttl time.Duration) *RedisCooldown {
	return &RedisCooldown{client: client, ttl: ttl}
}

func (c *RedisCooldown) Acquire(ctx context.Context, orgID uuid.UUID) (bool, error) {
	return c.client.SetNX(ctx, cooldownKey(orgID), 1, c.ttl).Result()
}

func (c *RedisCooldown) Release(ctx context.Context, orgID uuid.UUID) error {
	return c.client.Del(ctx, cooldownKey(orgID)).Err()
}

func cooldownKey(orgID uuid.UUID) string {
	return "backup:cooldown:" + orgID.String()
}
