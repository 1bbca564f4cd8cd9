// internal/service/order/application/dto.go
package application

import (
	"checkout/internal/service/order/domain"
	"time"
)

// CreateOrderRequest 是创建订单用例的输入数据
type CreateOrderRequest struct {
	CustomerID string
	Amount     int64
	Currency   string
}

// AttemptView 是支付尝试的对外摘要
type AttemptView struct {
	GatewayRef string               `json:"gateway_ref"`
	Status     domain.AttemptStatus `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
	VerifiedAt *time.Time           `json:"verified_at,omitempty"`
}

// OrderView 是订单详情/轮询接口的输出。SecondsRemaining 只用于客户端倒计时展示。
type OrderView struct {
	ID                 string        `json:"id"`
	OrderNumber        string        `json:"order_number"`
	State              domain.State  `json:"state"`
	Amount             domain.Money  `json:"amount"`
	PaymentDeadline    time.Time     `json:"payment_deadline"`
	SecondsRemaining   int64         `json:"seconds_remaining"`
	PaidAt             *time.Time    `json:"paid_at,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	RefundReason       string        `json:"refund_reason,omitempty"`
	RefundRef          string        `json:"refund_ref,omitempty"`
	Version            int64         `json:"version"`
	Attempts           []AttemptView `json:"attempts"`
}

// ToOrderView 从领域快照转换为输出 DTO
func ToOrderView(o *domain.Order, now time.Time) *OrderView {
	v := &OrderView{
		ID:                 o.ID,
		OrderNumber:        o.Number,
		State:              o.State,
		Amount:             o.Amount,
		PaymentDeadline:    o.PaymentDeadline,
		SecondsRemaining:   o.SecondsRemaining(now),
		PaidAt:             o.PaidAt,
		CancellationReason: o.CancellationReason,
		RefundReason:       o.RefundReason,
		RefundRef:          o.RefundRef,
		Version:            o.Version,
		Attempts:           make([]AttemptView, 0, len(o.Attempts)),
	}
	for _, a := range o.Attempts {
		v.Attempts = append(v.Attempts, AttemptView{
			GatewayRef: a.GatewayRef,
			Status:     a.Status,
			CreatedAt:  a.CreatedAt,
			VerifiedAt: a.VerifiedAt,
		})
	}
	return v
}

type StatusChangeView struct {
	From      domain.State   `json:"from"`
	To        domain.State   `json:"to"`
	Trigger   domain.Trigger `json:"trigger"`
	Note      string         `json:"note,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func ToStatusChangeViews(changes []domain.StatusChange) []StatusChangeView {
	views := make([]StatusChangeView, 0, len(changes))
	for _, c := range changes {
		views = append(views, StatusChangeView{From: c.From, To: c.To, Trigger: c.Trigger, Note: c.Note, CreatedAt: c.CreatedAt})
	}
	return views
}

// PaymentLink 是发起支付的输出：带签名的网关跳转链接
type PaymentLink struct {
	OrderID    string    `json:"order_id"`
	GatewayRef string    `json:"gateway_ref"`
	PaymentURL string    `json:"payment_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CallbackResult 是回调处理的结论，浏览器侧只看到 Success 与通用的 Message
type CallbackResult struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	OrderID string              `json:"order_id,omitempty"`
	State   domain.State        `json:"state,omitempty"`
	Outcome VerificationOutcome `json:"outcome"`
	// Duplicate 表示该网关流水号此前已经处理过
	Duplicate bool `json:"duplicate"`
	// ManualRefund 表示钱已到账但订单无法履约，已转人工退款
	ManualRefund bool `json:"manual_refund"`
}

const (
	MessagePaymentSucceeded = "Payment successful"
	MessagePaymentFailed    = "Payment failed. Please try again."
)
