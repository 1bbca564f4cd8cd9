package infrastructure

import (
	"database/sql"
	"time"
)

// OrderModel 对应数据库中的 orders 表，version 是乐观锁字段
type OrderModel struct {
	ID                 string `gorm:"primaryKey;type:varchar(36)"`
	OrderNumber        string `gorm:"type:varchar(32);uniqueIndex"`
	CustomerID         string `gorm:"type:varchar(64);index"`
	Amount             int64
	Currency           string    `gorm:"type:varchar(8)"`
	State              string    `gorm:"type:varchar(32);index:idx_orders_state_deadline,priority:1"`
	PaymentDeadline    time.Time `gorm:"index:idx_orders_state_deadline,priority:2"`
	PaidAt             sql.NullTime
	CancellationReason string `gorm:"type:text"`
	RefundReason       string `gorm:"type:text"`
	RefundRef          string `gorm:"type:varchar(64)"`
	Version            int64  `gorm:"not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	// 关联关系
	Attempts []PaymentAttemptModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}

// PaymentAttemptModel 对应 payment_attempts 表，gateway_ref 唯一保证同一回调只落一条
type PaymentAttemptModel struct {
	ID               uint   `gorm:"primaryKey"`
	OrderID          string `gorm:"type:varchar(36);index"`
	GatewayRef       string `gorm:"type:varchar(64);uniqueIndex"`
	GatewayTradeNo   string `gorm:"type:varchar(64)"`
	Status           string `gorm:"type:varchar(16)"`
	ReportedAmount   int64
	ReportedCurrency string `gorm:"type:varchar(8)"`
	ResponseCode     string `gorm:"type:varchar(8)"`
	BankCode         string `gorm:"type:varchar(32)"`
	CreatedAt        time.Time
	VerifiedAt       sql.NullTime
}

func (PaymentAttemptModel) TableName() string {
	return "payment_attempts"
}

// StatusHistoryModel 对应 order_status_history 表，只追加
type StatusHistoryModel struct {
	ID         uint   `gorm:"primaryKey"`
	OrderID    string `gorm:"type:varchar(36);index"`
	FromStatus string `gorm:"type:varchar(32)"`
	ToStatus   string `gorm:"type:varchar(32)"`
	Trigger    string `gorm:"column:trigger_type;type:varchar(32)"`
	Note       string `gorm:"type:text"`
	CreatedAt  time.Time
}

func (StatusHistoryModel) TableName() string {
	return "order_status_history"
}

// OutboxModel 对应 order_outbox 表，与订单写入同事务落库
// OutboxModel 按 Seq 投递；同一毫秒内写入的信号共享 CreatedAt，不能用它排序
type OutboxModel struct {
	Seq         uint64 `gorm:"primaryKey;autoIncrement"`
	ID          string `gorm:"type:varchar(36);uniqueIndex"`
	OrderID     string `gorm:"type:varchar(36);index"`
	Kind        string `gorm:"type:varchar(32)"`
	Payload     []byte `gorm:"type:blob"`
	CreatedAt   time.Time
	PublishedAt sql.NullTime `gorm:"index"`
}

func (OutboxModel) TableName() string {
	return "order_outbox"
}
