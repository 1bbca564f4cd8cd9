// internal/service/order/domain/state.go
package domain

// State 定义了订单的生命周期状态
type State string

const (
	StateAwaitingPayment State = "AWAITING_PAYMENT" // 已创建，等待网关支付结果，受支付截止时间约束
	StatePaid            State = "PAID"             // 网关确认支付成功
	StateFulfilling      State = "FULFILLING"       // 履约中，由下游履约系统推进，本服务不产生该迁移
	StateCancelled       State = "CANCELLED"        // 未支付时被客户取消 (终态)
	StateRefundRequested State = "REFUND_REQUESTED" // 已支付订单申请退款或被取消，等待退款完成
	StateRefunded        State = "REFUNDED"         // 退款完成 (终态)
	StateExpired         State = "EXPIRED"          // 超过支付截止时间未支付 (终态)
)

// IsTerminal 终态不再接受任何生命周期写入
func (s State) IsTerminal() bool {
	switch s {
	case StateCancelled, StateRefunded, StateExpired:
		return true
	}
	return false
}

// Valid 判断是否为已定义的状态，用于持久化数据的反序列化校验
func (s State) Valid() bool {
	switch s {
	case StateAwaitingPayment, StatePaid, StateFulfilling, StateCancelled,
		StateRefundRequested, StateRefunded, StateExpired:
		return true
	}
	return false
}

// AttemptStatus 支付尝试的状态
type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "PENDING"
	AttemptVerified AttemptStatus = "VERIFIED"
	AttemptRejected AttemptStatus = "REJECTED"
)
