package port

import (
	"context"
	"time"
)

// DeadlineScheduler 在支付截止时间投递一次到期检查，轮询扫描器是兜底
type DeadlineScheduler interface {
	ScheduleExpiration(ctx context.Context, orderID string, deadline time.Time) error
}

// ScanLock 让多个扫描器实例串行执行扫描；未配置时扫描器并发运行，依赖幂等保证正确性
type ScanLock interface {
	Acquire(ctx context.Context) (release func(), err error)
}
