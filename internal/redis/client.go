package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/call-relay/config"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "relay:"
	presenceTTL = 24 * time.Hour
)

// Presence mirrors online identities into a Redis set. Keys are namespaced
// by the relay instance so two processes never share state.
type Presence struct {
	client *redis.Client
	key    string
}

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// NewPresence returns a presence mirror for relay instance instanceID.
func NewPresence(client *redis.Client, instanceID string) *Presence {
	return &Presence{
		client: client,
		key:    keyPrefix + instanceID + ":online",
	}
}

// Key is the Redis set holding online identities.
func (p *Presence) Key() string { return p.key }

func (p *Presence) SetOnline(ctx context.Context, identity string) error {
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, p.key, identity)
	pipe.Expire(ctx, p.key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark %s online: %w", identity, err)
	}
	return nil
}

func (p *Presence) SetOffline(ctx context.Context, identity string) error {
	if err := p.client.SRem(ctx, p.key, identity).Err(); err != nil {
		return fmt.Errorf("mark %s offline: %w", identity, err)
	}
	return nil
}

func (p *Presence) IsOnline(ctx context.Context, identity string) (bool, error) {
	online, err := p.client.SIsMember(ctx, p.key, identity).Result()
	if err != nil {
		return false, fmt.Errorf("check presence of %s: %w", identity, err)
	}
	return online, nil
}

// Count is the number of identities currently marked online.
func (p *Presence) Count(ctx context.Context) (int64, error) {
	return p.client.SCard(ctx, p.key).Result()
}

// Reset removes this instance's presence set.
func (p *Presence) Reset(ctx context.Context) error {
	return p.client.Del(ctx, p.key).Err()
}
