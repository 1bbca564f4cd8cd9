package adapter

import (
	"checkout/internal/pkg/redis"
	"context"
	"errors"
	"fmt"
	"time"
)

const claimScriptName = "idempotency_claim"

// RedisIdempotencyStore 是 port.IdempotencyStore 的 Redis 实现，多个服务实例共享同一份去重状态。
type RedisIdempotencyStore struct {
	redisClient *redis.Client
}

// NewRedisIdempotencyStore 创建适配器，并在创建时加载 Lua 脚本
func NewRedisIdempotencyStore(redisClient *redis.Client) (*RedisIdempotencyStore, error) {
	if err := redisClient.LoadScriptFromContent(claimScriptName, claimScript); err != nil {
		return nil, fmt.Errorf("failed to load idempotency script: %w", err)
	}
	return &RedisIdempotencyStore{redisClient: redisClient}, nil
}

func idempotencyKey(scope, key string) string {
	return fmt.Sprintf("checkout:idem:{%s}:%s", scope, key)
}

// Claim 原子地占用 scope/key
func (a *RedisIdempotencyStore) Claim(ctx context.Context, scope, key string, ttl time.Duration) (bool, error) {
	result, err := a.redisClient.RunScript(ctx, claimScriptName, []string{idempotencyKey(scope, key)}, time.Now().UnixMilli(), ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("idempotency claim failed: %w", err)
	}
	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	return code == 1, nil
}

func (a *RedisIdempotencyStore) Release(ctx context.Context, scope, key string) error {
	return a.redisClient.Del(ctx, idempotencyKey(scope, key)).Err()
}

func (a *RedisIdempotencyStore) Remember(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error {
	return a.redisClient.Set(ctx, idempotencyKey(scope, key)+":value", value, ttl).Err()
}

func (a *RedisIdempotencyStore) Recall(ctx context.Context, scope, key string) ([]byte, bool, error) {
	raw, err := a.redisClient.Get(ctx, idempotencyKey(scope, key)+":value").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

var claimScript = `
-- KEYS[1]: 去重键, 例如: checkout:idem:{expire}:<order_id>
-- ARGV[1]: 占用时间 (毫秒时间戳), 仅用于排查
-- ARGV[2]: 占用时长 (毫秒)

-- 已被占用则返回 0
if redis.call('exists', KEYS[1]) == 1 then
    return 0
end

redis.call('set', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`
