package domain

import (
	"fmt"
	"time"
)

// Mutation 是一次被状态机接受的账本写入。账本实现负责在版本匹配时原子地应用它，
// 并把 Signals 与写入放在同一个事务里。
type Mutation struct {
	Trigger Trigger
	From    State
	To      State
	// Attempt 按 GatewayRef 新增或更新 (仅限未确认的记录)
	Attempt            *PaymentAttempt
	PaidAt             *time.Time
	CancellationReason string
	RefundReason       string
	RefundRef          string
	Note               string
	Signals            []Signal
	At                 time.Time
}

// ChangesState 是否写入生命周期状态
func (m *Mutation) ChangesState() bool {
	return m.From != m.To
}

// ApplyTo 在 o 的副本上应用变更并返回新快照，版本号加一。
// 这里再次校验不变量，任何账本实现都不会写入违反不变量的快照。
func (m *Mutation) ApplyTo(o *Order) (*Order, error) {
	if o.State != m.From {
		return nil, fmt.Errorf("%w: mutation expects %s but order is %s", ErrIllegalTransition, m.From, o.State)
	}
	if m.ChangesState() && !EdgeAllowed(m.From, m.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.From, m.To)
	}

	next := o.Clone()
	if m.Attempt != nil {
		if err := upsertAttempt(next, *m.Attempt); err != nil {
			return nil, err
		}
	}
	if m.PaidAt != nil {
		if next.PaidAt != nil {
			return nil, fmt.Errorf("%w: paid_at already set", ErrIllegalTransition)
		}
		t := *m.PaidAt
		next.PaidAt = &t
	}
	if m.CancellationReason != "" {
		if next.CancellationReason != "" {
			return nil, fmt.Errorf("%w: cancellation reason already recorded", ErrIllegalTransition)
		}
		next.CancellationReason = m.CancellationReason
	}
	if m.RefundReason != "" {
		if next.RefundReason != "" {
			return nil, fmt.Errorf("%w: refund reason already recorded", ErrIllegalTransition)
		}
		next.RefundReason = m.RefundReason
	}
	if m.RefundRef != "" {
		next.RefundRef = m.RefundRef
	}

	next.State = m.To
	next.Version = o.Version + 1
	next.UpdatedAt = m.At
	return next, nil
}

func upsertAttempt(o *Order, a PaymentAttempt) error {
	if a.GatewayRef == "" {
		return fmt.Errorf("%w: payment attempt without gateway reference", ErrMalformedPayload)
	}
	if a.Status == AttemptVerified {
		if v := o.VerifiedAttempt(); v != nil && v.GatewayRef != a.GatewayRef {
			return fmt.Errorf("%w: order already has verified attempt %s", ErrIllegalTransition, v.GatewayRef)
		}
	}
	existing := o.Attempt(a.GatewayRef)
	if existing == nil {
		o.Attempts = append(o.Attempts, a)
		return nil
	}
	if existing.VerifiedAt != nil || existing.Status != AttemptPending {
		return fmt.Errorf("%w: attempt %s is already settled", ErrIllegalTransition, a.GatewayRef)
	}
	a.CreatedAt = existing.CreatedAt
	*existing = a
	return nil
}
