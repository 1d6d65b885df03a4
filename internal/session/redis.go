package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "battle:session:"

// compare-and-delete
var unbindScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// set-if-absent, returning the holder; ARGV[2] is the TTL in milliseconds, 0 for none
var claimScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
	return cur
end
if tonumber(ARGV[2]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return ARGV[1]
`)

// Redis keeps bindings in Redis so they survive a process restart and can be shared
// by several instances. Each binding expires after TTL unless refreshed by Bind.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Bind(ctx context.Context, playerID, code string) error {
	if err := r.rdb.Set(ctx, keyPrefix+playerID, code, r.ttl).Err(); err != nil {
		return fmt.Errorf("session: bind %s: %w", playerID, err)
	}
	return nil
}

func (r *Redis) Resolve(ctx context.Context, playerID string) (string, bool, error) {
	code, err := r.rdb.Get(ctx, keyPrefix+playerID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session: resolve %s: %w", playerID, err)
	}
	return code, true, nil
}

func (r *Redis) Claim(ctx context.Context, playerID, code string) (string, error) {
	holder, err := claimScript.Run(ctx, r.rdb, []string{keyPrefix + playerID}, code, r.ttl.Milliseconds()).Text()
	if err != nil {
		return "", fmt.Errorf("session: claim %s: %w", playerID, err)
	}
	return holder, nil
}

func (r *Redis) Unbind(ctx context.Context, playerID, code string) error {
	if err := unbindScript.Run(ctx, r.rdb, []string{keyPrefix + playerID}, code).Err(); err != nil {
		return fmt.Errorf("session: unbind %s: %w", playerID, err)
	}
	return nil
}
