// internal/service/order/domain/event.go
package domain

import "time"

// Trigger 是驱动状态机的事件类型
type Trigger string

const (
	TriggerPaymentInitiated Trigger = "PAYMENT_INITIATED" // 生成网关跳转链接，登记一笔 Pending 尝试
	TriggerPaymentSucceeded Trigger = "PAYMENT_SUCCEEDED" // 校验通过的网关成功回调
	TriggerPaymentFailed    Trigger = "PAYMENT_FAILED"    // 校验通过的网关失败回调，或网关超时
	TriggerAmountMismatch   Trigger = "AMOUNT_MISMATCH"   // 签名正确但金额与订单不符
	TriggerExpire           Trigger = "EXPIRE_ORDER"
	TriggerCancel           Trigger = "CANCEL_REQUESTED"
	TriggerRefundRequest    Trigger = "REFUND_REQUESTED"
	TriggerRefundCompleted  Trigger = "REFUND_COMPLETED"
)

// Event 是进入编排器的一条输入
type Event struct {
	OrderID string
	Trigger Trigger
	// Reason 取消/退款原因，仅客户触发的事件使用
	Reason string
	// Attempt 网关相关事件携带的支付尝试
	Attempt *PaymentAttempt
	// RefundRef 退款完成时网关返回的退款流水号
	RefundRef string
}

// IdempotencyKey 网关事件以网关流水号为键，其余事件以 订单ID+触发类型 为键
func (e Event) IdempotencyKey() string {
	if e.Attempt != nil && e.Attempt.GatewayRef != "" {
		return e.Attempt.GatewayRef
	}
	return e.OrderID + ":" + string(e.Trigger)
}

// SignalKind 是状态变更后需要通知外部协作方的信号类型
type SignalKind string

const (
	// SignalRefundRequired 已支付订单进入 RefundRequested，需要向网关发起补偿退款
	SignalRefundRequired SignalKind = "REFUND_REQUIRED"
	// SignalManualRefund 钱已收到但订单不能履约（如过期后才支付成功），需要人工退款
	SignalManualRefund SignalKind = "REQUIRES_MANUAL_REFUND"
	// SignalStatusChanged 生命周期状态发生变化
	SignalStatusChanged SignalKind = "STATUS_CHANGED"
)

// Signal 与账本写入在同一事务中落入 outbox，由 relay 投递
type Signal struct {
	Kind        SignalKind `json:"kind"`
	OrderID     string     `json:"order_id"`
	OrderNumber string     `json:"order_number"`
	GatewayRef  string     `json:"gateway_ref,omitempty"`
	Amount      Money      `json:"amount"`
	From        State      `json:"from,omitempty"`
	To          State      `json:"to,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	At          time.Time  `json:"at"`
}

// StatusChange 订单状态历史的一条记录
type StatusChange struct {
	OrderID   string
	From      State
	To        State
	Trigger   Trigger
	Note      string
	CreatedAt time.Time
}
