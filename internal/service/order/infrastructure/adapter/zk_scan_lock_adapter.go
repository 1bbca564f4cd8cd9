package adapter

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/zookeeper"
	"context"
)

// ZookeeperScanLock 实现了 port.ScanLock 接口，让多个扫描器实例轮流执行扫描
type ZookeeperScanLock struct {
	conn     *zookeeper.Conn
	resource string
}

func NewZookeeperScanLock(conn *zookeeper.Conn, resource string) *ZookeeperScanLock {
	return &ZookeeperScanLock{conn: conn, resource: resource}
}

// Acquire 阻塞直到获得锁或 ctx 结束。每次获取都使用新的锁实例，DistributedLock 不可跨 goroutine 复用。
func (l *ZookeeperScanLock) Acquire(ctx context.Context) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, l.resource)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.L().Error().Err(err).Str("resource", l.resource).Msg("failed to release scan lock")
		}
	}, nil
}
