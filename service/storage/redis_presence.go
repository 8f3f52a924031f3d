// Package storage mirrors local presence into Redis so other processes can
// see which gateway a user is connected to. The mirror is advisory: the
// in-process registry stays the source of truth for delivery.
package storage

import (
	"context"
	"fmt"
	"time"

	"PPRelay/tools/errs"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var ErrRedisNotInitialized = errs.NewCodeError(5101, "redis not initialized")

// presence key: im:presence:<user>
// Value: gateway_id, TTL controls the online validity period
func presenceKey(user string) string { return "im:presence:" + user }

// Deletes the key only while it still names this gateway, so a gateway whose
// user moved elsewhere cannot mark them offline.
// KEYS[1] = presence key, ARGV[1] = gateway id
// 返回：1 已删除；0 不存在或属于其他网关
const luaOfflineIfOwner = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var offlineIfOwner = redis.NewScript(luaOfflineIfOwner)

type RedisPresence struct {
	rdb       redis.UniversalClient
	gatewayID string
	ttl       time.Duration
	channel   string // optional Pub/Sub channel for ONLINE/OFFLINE events
}

func NewRedisPresence(rdb redis.UniversalClient, gatewayID string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisPresence{rdb: rdb, gatewayID: gatewayID, ttl: ttl}
}

// WithChannel publishes "ONLINE:<user>:<gateway>" and "OFFLINE:<user>:<gateway>"
// on channel after each change.
func (p *RedisPresence) WithChannel(channel string) *RedisPresence {
	p.channel = channel
	return p
}

func (p *RedisPresence) GatewayID() string  { return p.gatewayID }
func (p *RedisPresence) TTL() time.Duration { return p.ttl }

// Online marks user as connected to this gateway and renews the TTL.
func (p *RedisPresence) Online(ctx context.Context, user string) error {
	if p == nil || p.rdb == nil {
		return ErrRedisNotInitialized.Wrap()
	}
	if err := p.rdb.Set(ctx, presenceKey(user), p.gatewayID, p.ttl).Err(); err != nil {
		return errs.WrapMsg(err, "presence online", "user", user)
	}
	p.publish(ctx, "ONLINE", user)
	return nil
}

// Offline removes user's key if this gateway still owns it.
func (p *RedisPresence) Offline(ctx context.Context, user string) error {
	if p == nil || p.rdb == nil {
		return ErrRedisNotInitialized.Wrap()
	}
	n, err := offlineIfOwner.Run(ctx, p.rdb, []string{presenceKey(user)}, p.gatewayID).Int64()
	if err != nil {
		return errs.WrapMsg(err, "presence offline", "user", user)
	}
	if n == 1 {
		p.publish(ctx, "OFFLINE", user)
	}
	return nil
}

// Lookup returns the gateway user is connected to, if any.
func (p *RedisPresence) Lookup(ctx context.Context, user string) (gatewayID string, online bool, err error) {
	if p == nil || p.rdb == nil {
		return "", false, ErrRedisNotInitialized.Wrap()
	}
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.WrapMsg(err, "presence lookup", "user", user)
	}
	return val, true, nil
}

// Refresh renews the TTL of users still bound here in one pipeline, so long
// connections outlive PresenceTTL.
func (p *RedisPresence) Refresh(ctx context.Context, users []string) error {
	if p == nil || p.rdb == nil {
		return ErrRedisNotInitialized.Wrap()
	}
	if len(users) == 0 {
		return nil
	}
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			pipe.Set(ctx, presenceKey(u), p.gatewayID, p.ttl)
		}
		return nil
	})
	if err != nil {
		return errs.WrapMsg(err, "presence refresh", "users", len(users))
	}
	return nil
}

func (p *RedisPresence) publish(ctx context.Context, event, user string) {
	if p.channel == "" {
		return
	}
	_ = p.rdb.Publish(ctx, p.channel, fmt.Sprintf("%s:%s:%s", event, user, p.gatewayID)).Err()
}
