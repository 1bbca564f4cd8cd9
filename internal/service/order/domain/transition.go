package domain

import (
	"fmt"
	"strings"
	"time"
)

// RefundPolicy 判断已支付订单当前是否仍可申请退款
type RefundPolicy interface {
	Eligible(o *Order, now time.Time) (bool, error)
}

// edges 是生命周期允许的全部有向边，终态没有出边
var edges = map[State][]State{
	StateAwaitingPayment: {StatePaid, StateExpired, StateCancelled},
	StatePaid:            {StateRefundRequested},
	StateRefundRequested: {StateRefunded},
}

// EdgeAllowed 判断 from -> to 是否为合法的生命周期迁移
func EdgeAllowed(from, to State) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Decision 是状态机对一个事件的裁决。Mutation 为 nil 表示幂等的空操作，Skip 说明原因。
type Decision struct {
	Mutation *Mutation
	Skip     string
}

// Decide 针对订单的当前快照评估守卫条件。它是纯函数：不做 I/O，不修改 o。
// 重复投递的事件会因守卫不再成立而得到空操作，而不是第二次迁移。
func Decide(o *Order, ev Event, now time.Time, policy RefundPolicy) (Decision, error) {
	now = now.UTC()
	switch ev.Trigger {
	case TriggerPaymentInitiated:
		return decideInitiated(o, ev, now)
	case TriggerPaymentSucceeded:
		return decideSucceeded(o, ev, now)
	case TriggerPaymentFailed, TriggerAmountMismatch:
		return decideRejected(o, ev, now)
	case TriggerExpire:
		return decideExpire(o, now)
	case TriggerCancel:
		return decideCancel(o, ev, now)
	case TriggerRefundRequest:
		return decideRefundRequest(o, ev, now, policy)
	case TriggerRefundCompleted:
		return decideRefundCompleted(o, ev, now)
	}
	return Decision{}, fmt.Errorf("%w: unknown trigger %q", ErrIllegalTransition, ev.Trigger)
}

func decideInitiated(o *Order, ev Event, now time.Time) (Decision, error) {
	if ev.Attempt == nil || ev.Attempt.GatewayRef == "" {
		return Decision{}, fmt.Errorf("%w: payment initiation without gateway reference", ErrMalformedPayload)
	}
	if o.State != StateAwaitingPayment {
		return Decision{}, fmt.Errorf("%w: order is %s, not awaiting payment", ErrIllegalTransition, o.State)
	}
	if o.DeadlinePassed(now) {
		return Decision{}, fmt.Errorf("%w: payment window has closed", ErrIllegalTransition)
	}
	if o.Attempt(ev.Attempt.GatewayRef) != nil {
		return Decision{Skip: "duplicate attempt"}, nil
	}
	a := *ev.Attempt
	a.Status = AttemptPending
	a.CreatedAt = now
	a.VerifiedAt = nil
	return Decision{Mutation: &Mutation{
		Trigger: ev.Trigger,
		From:    o.State,
		To:      o.State,
		Attempt: &a,
		At:      now,
	}}, nil
}

func decideSucceeded(o *Order, ev Event, now time.Time) (Decision, error) {
	if ev.Attempt == nil || ev.Attempt.GatewayRef == "" {
		return Decision{}, fmt.Errorf("%w: callback without gateway reference", ErrMalformedPayload)
	}
	if existing := o.Attempt(ev.Attempt.GatewayRef); existing != nil && existing.Status != AttemptPending {
		return Decision{Skip: "duplicate callback"}, nil
	}

	verified := settledAttempt(o, *ev.Attempt, AttemptVerified, now)
	m := &Mutation{Trigger: ev.Trigger, From: o.State, To: o.State, Attempt: &verified, At: now}

	// 已有确认记录时，同一订单的第二笔成功付款只能记为 Rejected，并交给人工退款
	if prior := o.VerifiedAttempt(); prior != nil {
		rejected := settledAttempt(o, *ev.Attempt, AttemptRejected, now)
		m.Attempt = &rejected
		m.Note = "duplicate payment for already verified order"
		m.Signals = []Signal{signal(o, SignalManualRefund, ev.Attempt.GatewayRef, o.State, o.State, m.Note, now)}
		return Decision{Mutation: m}, nil
	}

	switch {
	case o.State == StateAwaitingPayment && !o.DeadlinePassed(now):
		m.To = StatePaid
		m.PaidAt = &now
		m.Note = "payment verified"
		m.Signals = []Signal{signal(o, SignalStatusChanged, ev.Attempt.GatewayRef, o.State, StatePaid, "", now)}
	case o.State == StateAwaitingPayment:
		// 截止时间已过但扫描器尚未处理：先按过期落定，再按迟到付款处理
		m.To = StateExpired
		m.Note = "payment arrived after deadline"
		m.Signals = []Signal{
			signal(o, SignalStatusChanged, ev.Attempt.GatewayRef, o.State, StateExpired, "", now),
			signal(o, SignalManualRefund, ev.Attempt.GatewayRef, StateExpired, StateExpired, m.Note, now),
		}
	default:
		// 终态（过期、取消）下到账的钱不能悄悄留下，也不能复活订单
		m.Note = fmt.Sprintf("payment arrived while order is %s", o.State)
		m.Signals = []Signal{signal(o, SignalManualRefund, ev.Attempt.GatewayRef, o.State, o.State, m.Note, now)}
	}
	return Decision{Mutation: m}, nil
}

func decideRejected(o *Order, ev Event, now time.Time) (Decision, error) {
	if ev.Attempt == nil || ev.Attempt.GatewayRef == "" {
		return Decision{}, fmt.Errorf("%w: callback without gateway reference", ErrMalformedPayload)
	}
	if existing := o.Attempt(ev.Attempt.GatewayRef); existing != nil && existing.Status != AttemptPending {
		return Decision{Skip: "duplicate callback"}, nil
	}
	if o.State != StateAwaitingPayment {
		return Decision{Skip: "order no longer awaiting payment"}, nil
	}
	rejected := settledAttempt(o, *ev.Attempt, AttemptRejected, now)
	m := &Mutation{Trigger: ev.Trigger, From: o.State, To: o.State, Attempt: &rejected, At: now, Note: "payment declined"}
	if ev.Trigger == TriggerAmountMismatch {
		m.Note = fmt.Sprintf("gateway reported %s, order amount %s", ev.Attempt.ReportedAmount, o.Amount)
	}
	return Decision{Mutation: m}, nil
}

func decideExpire(o *Order, now time.Time) (Decision, error) {
	if o.State != StateAwaitingPayment {
		return Decision{Skip: "order no longer awaiting payment"}, nil
	}
	if !o.DeadlinePassed(now) {
		return Decision{Skip: "deadline not reached"}, nil
	}
	if o.VerifiedAttempt() != nil {
		return Decision{Skip: "order has a verified payment"}, nil
	}
	return Decision{Mutation: &Mutation{
		Trigger: TriggerExpire,
		From:    o.State,
		To:      StateExpired,
		Note:    "payment deadline passed",
		Signals: []Signal{signal(o, SignalStatusChanged, "", o.State, StateExpired, "", now)},
		At:      now,
	}}, nil
}

func decideCancel(o *Order, ev Event, now time.Time) (Decision, error) {
	reason := strings.TrimSpace(ev.Reason)
	if reason == "" {
		return Decision{}, ErrInvalidReason
	}
	switch o.State {
	case StateAwaitingPayment:
		if o.VerifiedAttempt() != nil {
			return Decision{}, fmt.Errorf("%w: order is already paid", ErrIllegalTransition)
		}
		return Decision{Mutation: &Mutation{
			Trigger:            ev.Trigger,
			From:               o.State,
			To:                 StateCancelled,
			CancellationReason: reason,
			Note:               reason,
			Signals:            []Signal{signal(o, SignalStatusChanged, "", o.State, StateCancelled, reason, now)},
			At:                 now,
		}}, nil
	case StatePaid:
		// 已支付订单的取消等同于申请退款，不会直接进入 Cancelled
		return Decision{Mutation: refundRequested(o, ev.Trigger, reason, now)}, nil
	}
	return Decision{}, fmt.Errorf("%w: cannot cancel an order in state %s", ErrIllegalTransition, o.State)
}

func decideRefundRequest(o *Order, ev Event, now time.Time, policy RefundPolicy) (Decision, error) {
	reason := strings.TrimSpace(ev.Reason)
	if reason == "" {
		return Decision{}, ErrInvalidReason
	}
	if o.State != StatePaid {
		return Decision{}, fmt.Errorf("%w: cannot request a refund for an order in state %s", ErrIllegalTransition, o.State)
	}
	if policy != nil {
		ok, err := policy.Eligible(o, now)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			return Decision{}, fmt.Errorf("%w: refund window has closed", ErrIllegalTransition)
		}
	}
	return Decision{Mutation: refundRequested(o, ev.Trigger, reason, now)}, nil
}

func decideRefundCompleted(o *Order, ev Event, now time.Time) (Decision, error) {
	if o.State != StateRefundRequested {
		return Decision{Skip: "order not awaiting refund"}, nil
	}
	return Decision{Mutation: &Mutation{
		Trigger:   ev.Trigger,
		From:      o.State,
		To:        StateRefunded,
		RefundRef: ev.RefundRef,
		Note:      "refund completed " + ev.RefundRef,
		Signals:   []Signal{signal(o, SignalStatusChanged, "", o.State, StateRefunded, "", now)},
		At:        now,
	}}, nil
}

func refundRequested(o *Order, trigger Trigger, reason string, now time.Time) *Mutation {
	ref := ""
	if v := o.VerifiedAttempt(); v != nil {
		ref = v.GatewayRef
	}
	return &Mutation{
		Trigger:      trigger,
		From:         o.State,
		To:           StateRefundRequested,
		RefundReason: reason,
		Note:         reason,
		Signals: []Signal{
			signal(o, SignalStatusChanged, ref, o.State, StateRefundRequested, reason, now),
			signal(o, SignalRefundRequired, ref, o.State, StateRefundRequested, reason, now),
		},
		At: now,
	}
}

// settledAttempt 以回调内容生成一条已落定的支付尝试，沿用已有 Pending 记录的创建时间
func settledAttempt(o *Order, in PaymentAttempt, status AttemptStatus, now time.Time) PaymentAttempt {
	a := in
	a.Status = status
	a.CreatedAt = now
	if existing := o.Attempt(in.GatewayRef); existing != nil {
		a.CreatedAt = existing.CreatedAt
	}
	a.VerifiedAt = nil
	if status == AttemptVerified {
		t := now
		a.VerifiedAt = &t
	}
	return a
}

func signal(o *Order, kind SignalKind, gatewayRef string, from, to State, reason string, now time.Time) Signal {
	return Signal{
		Kind:        kind,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		GatewayRef:  gatewayRef,
		Amount:      o.Amount,
		From:        from,
		To:          to,
		Reason:      reason,
		At:          now,
	}
}
