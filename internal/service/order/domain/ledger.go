// internal/service/order/domain/ledger.go
package domain

import (
	"context"
	"time"
)

// Ledger 是订单状态的权威存储。所有写入都经过 ApplyIfVersion，
// 这是唯一的并发控制原语：同一 expectedVersion 的并发调用至多一个成功。
type Ledger interface {
	Create(ctx context.Context, o *Order) error
	// Read 返回最近一次提交的快照（含支付尝试）
	Read(ctx context.Context, orderID string) (*Order, error)
	ReadByNumber(ctx context.Context, orderNumber string) (*Order, error)
	// ApplyIfVersion 版本匹配时原子地应用 m 并返回新快照，否则返回 ErrConflict
	ApplyIfVersion(ctx context.Context, orderID string, expectedVersion int64, m Mutation) (*Order, error)
	// ListDue 返回截止时间早于等于 now 且仍在等待支付的订单
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Order, error)
	History(ctx context.Context, orderID string) ([]StatusChange, error)
}

// OutboxMessage 是与账本写入同事务落库、等待投递的信号
type OutboxMessage struct {
	ID          string
	OrderID     string
	Kind        SignalKind
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Outbox 由账本实现提供，供 relay 读取并标记已投递
type Outbox interface {
	PendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}
