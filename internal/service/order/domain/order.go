// internal/service/order/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Money 以最小货币单位保存金额，避免浮点误差
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && strings.EqualFold(m.Currency, other.Currency)
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

// PaymentAttempt 是订单的一次网关支付尝试。
// VerifiedAt 只会被写入一次，写入后该记录不再变化。
type PaymentAttempt struct {
	GatewayRef     string        `json:"gateway_ref"`
	GatewayTradeNo string        `json:"gateway_trade_no,omitempty"`
	Status         AttemptStatus `json:"status"`
	ReportedAmount Money         `json:"reported_amount"`
	ResponseCode   string        `json:"response_code,omitempty"`
	BankCode       string        `json:"bank_code,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	VerifiedAt     *time.Time    `json:"verified_at,omitempty"`
}

// Order 是对账状态机的聚合根
type Order struct {
	ID                 string
	Number             string
	CustomerID         string
	Amount             Money
	State              State
	PaymentDeadline    time.Time
	PaidAt             *time.Time
	CancellationReason string
	RefundReason       string
	RefundRef          string
	Attempts           []PaymentAttempt
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewOrder 创建一个处于 AwaitingPayment 的订单，支付截止时间在创建时确定且此后不再延长
func NewOrder(id, number, customerID string, amount Money, now time.Time, window time.Duration) (*Order, error) {
	if id == "" || number == "" {
		return nil, fmt.Errorf("%w: id and number are required", ErrInvalidOrder)
	}
	if amount.Amount <= 0 || amount.Currency == "" {
		return nil, fmt.Errorf("%w: amount must be positive with a currency", ErrInvalidOrder)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: payment window must be positive", ErrInvalidOrder)
	}
	now = now.UTC()
	return &Order{
		ID:              id,
		Number:          number,
		CustomerID:      customerID,
		Amount:          amount,
		State:           StateAwaitingPayment,
		PaymentDeadline: now.Add(window),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// DeadlinePassed 截止时刻本身即视为已过期
func (o *Order) DeadlinePassed(now time.Time) bool {
	return !now.Before(o.PaymentDeadline)
}

// SecondsRemaining 仅供客户端倒计时展示，权威判断在服务端扫描器
func (o *Order) SecondsRemaining(now time.Time) int64 {
	if o.State != StateAwaitingPayment || o.DeadlinePassed(now) {
		return 0
	}
	return int64(o.PaymentDeadline.Sub(now).Seconds())
}

// VerifiedAttempt 返回已确认的支付尝试，不存在时返回 nil
func (o *Order) VerifiedAttempt() *PaymentAttempt {
	for i := range o.Attempts {
		if o.Attempts[i].Status == AttemptVerified {
			return &o.Attempts[i]
		}
	}
	return nil
}

// Attempt 按网关流水号查找支付尝试
func (o *Order) Attempt(gatewayRef string) *PaymentAttempt {
	for i := range o.Attempts {
		if o.Attempts[i].GatewayRef == gatewayRef {
			return &o.Attempts[i]
		}
	}
	return nil
}

// Clone 深拷贝，快照之间不共享可变状态
func (o *Order) Clone() *Order {
	c := *o
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	c.Attempts = make([]PaymentAttempt, len(o.Attempts))
	for i, a := range o.Attempts {
		if a.VerifiedAt != nil {
			t := *a.VerifiedAt
			a.VerifiedAt = &t
		}
		c.Attempts[i] = a
	}
	return &c
}
