package port

import (
	"context"
	"time"
)

// IdempotencyStore 跨实例的去重存储
type IdempotencyStore interface {
	// Claim 原子地占用 scope/key，ttl 内的后续调用返回 false
	Claim(ctx context.Context, scope, key string, ttl time.Duration) (bool, error)
	// Release 提前释放占用，用于处理失败后允许重试
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error
	// Recall 未命中时返回 (nil, false, nil)
	Recall(ctx context.Context, scope, key string) ([]byte, bool, error)
}
