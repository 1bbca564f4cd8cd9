package domain

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type fixedPolicy struct {
	ok  bool
	err error
}

func (p fixedPolicy) Eligible(*Order, time.Time) (bool, error) { return p.ok, p.err }

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder("o-1", "DH20250601080000123", "c-1", Money{Amount: 250000, Currency: "VND"}, t0, 900*time.Second)
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	return o
}

func attempt(ref string) *PaymentAttempt {
	return &PaymentAttempt{GatewayRef: ref, ReportedAmount: Money{Amount: 250000, Currency: "VND"}, ResponseCode: "00"}
}

// apply 模拟账本：裁决并应用，返回新快照
func apply(t *testing.T, o *Order, ev Event, now time.Time) (*Order, Decision) {
	t.Helper()
	d, err := Decide(o, ev, now, fixedPolicy{ok: true})
	if err != nil {
		t.Fatalf("Decide(%s) error = %v", ev.Trigger, err)
	}
	if d.Mutation == nil {
		return o, d
	}
	next, err := d.Mutation.ApplyTo(o)
	if err != nil {
		t.Fatalf("ApplyTo(%s) error = %v", ev.Trigger, err)
	}
	return next, d
}

func hasSignal(m *Mutation, kind SignalKind) bool {
	if m == nil {
		return false
	}
	for _, s := range m.Signals {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

func TestDecide_TransitionTable(t *testing.T) {
	paid := func(t *testing.T) *Order {
		o, _ := apply(t, newTestOrder(t), Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T1")}, t0.Add(30*time.Second))
		return o
	}

	tests := []struct {
		name    string
		order   func(t *testing.T) *Order
		event   Event
		now     time.Time
		want    State
		noop    bool
		wantErr error
	}{
		{"awaiting + success before deadline -> paid", newTestOrder, Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T1")}, t0.Add(30 * time.Second), StatePaid, false, nil},
		{"awaiting + failure -> unchanged", newTestOrder, Event{Trigger: TriggerPaymentFailed, Attempt: attempt("T1")}, t0.Add(time.Minute), StateAwaitingPayment, false, nil},
		{"awaiting + amount mismatch -> unchanged", newTestOrder, Event{Trigger: TriggerAmountMismatch, Attempt: attempt("T1")}, t0.Add(time.Minute), StateAwaitingPayment, false, nil},
		{"awaiting + expire after deadline -> expired", newTestOrder, Event{Trigger: TriggerExpire}, t0.Add(901 * time.Second), StateExpired, false, nil},
		{"awaiting + expire exactly at deadline -> expired", newTestOrder, Event{Trigger: TriggerExpire}, t0.Add(900 * time.Second), StateExpired, false, nil},
		{"awaiting + expire before deadline -> noop", newTestOrder, Event{Trigger: TriggerExpire}, t0.Add(899 * time.Second), StateAwaitingPayment, true, nil},
		{"awaiting + cancel -> cancelled", newTestOrder, Event{Trigger: TriggerCancel, Reason: "changed mind"}, t0.Add(time.Minute), StateCancelled, false, nil},
		{"awaiting + refund request -> illegal", newTestOrder, Event{Trigger: TriggerRefundRequest, Reason: "x"}, t0.Add(time.Minute), "", false, ErrIllegalTransition},
		{"awaiting + refund completed -> noop", newTestOrder, Event{Trigger: TriggerRefundCompleted}, t0.Add(time.Minute), StateAwaitingPayment, true, nil},
		{"paid + refund request -> refund requested", paid, Event{Trigger: TriggerRefundRequest, Reason: "damaged"}, t0.Add(time.Hour), StateRefundRequested, false, nil},
		{"paid + cancel -> refund requested", paid, Event{Trigger: TriggerCancel, Reason: "changed mind"}, t0.Add(time.Hour), StateRefundRequested, false, nil},
		{"paid + expire -> noop", paid, Event{Trigger: TriggerExpire}, t0.Add(time.Hour), StatePaid, true, nil},
		{"paid + failure -> noop", paid, Event{Trigger: TriggerPaymentFailed, Attempt: attempt("T2")}, t0.Add(time.Hour), StatePaid, true, nil},
		{"cancel with blank reason -> invalid reason", newTestOrder, Event{Trigger: TriggerCancel, Reason: "  \t "}, t0, "", false, ErrInvalidReason},
		{"refund with blank reason -> invalid reason", paid, Event{Trigger: TriggerRefundRequest, Reason: ""}, t0.Add(time.Hour), "", false, ErrInvalidReason},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.order(t)
			d, err := Decide(o, tt.event, tt.now, fixedPolicy{ok: true})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decide() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if tt.noop {
				if d.Mutation != nil {
					t.Fatalf("expected no-op, got mutation to %s", d.Mutation.To)
				}
				return
			}
			next, err := d.Mutation.ApplyTo(o)
			if err != nil {
				t.Fatalf("ApplyTo() error = %v", err)
			}
			if next.State != tt.want {
				t.Fatalf("state = %s, want %s", next.State, tt.want)
			}
			if next.Version != o.Version+1 {
				t.Fatalf("version = %d, want %d", next.Version, o.Version+1)
			}
		})
	}
}

func TestDecide_TerminalStatesRejectEverything(t *testing.T) {
	terminal := map[string]func(t *testing.T) *Order{
		"cancelled": func(t *testing.T) *Order {
			o, _ := apply(t, newTestOrder(t), Event{Trigger: TriggerCancel, Reason: "r"}, t0)
			return o
		},
		"expired": func(t *testing.T) *Order {
			o, _ := apply(t, newTestOrder(t), Event{Trigger: TriggerExpire}, t0.Add(time.Hour))
			return o
		},
		"refunded": func(t *testing.T) *Order {
			o, _ := apply(t, newTestOrder(t), Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T1")}, t0)
			o, _ = apply(t, o, Event{Trigger: TriggerCancel, Reason: "r"}, t0)
			o, _ = apply(t, o, Event{Trigger: TriggerRefundCompleted, RefundRef: "R1"}, t0)
			return o
		},
	}
	events := []Event{
		{Trigger: TriggerExpire},
		{Trigger: TriggerCancel, Reason: "again"},
		{Trigger: TriggerRefundRequest, Reason: "again"},
		{Trigger: TriggerRefundCompleted, RefundRef: "R2"},
		{Trigger: TriggerPaymentFailed, Attempt: attempt("T9")},
		{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T9")},
	}
	for name, build := range terminal {
		for _, ev := range events {
			t.Run(name+"/"+string(ev.Trigger), func(t *testing.T) {
				o := build(t)
				if !o.State.IsTerminal() {
					t.Fatalf("fixture is %s, not terminal", o.State)
				}
				d, err := Decide(o, ev, t0.Add(2*time.Hour), fixedPolicy{ok: true})
				if err != nil {
					if !IsClientInput(err) {
						t.Fatalf("unexpected error class: %v", err)
					}
					return
				}
				if d.Mutation != nil && d.Mutation.ChangesState() {
					t.Fatalf("terminal %s moved to %s", o.State, d.Mutation.To)
				}
			})
		}
	}
}

func TestDecide_LateSuccessAfterExpiry(t *testing.T) {
	o := newTestOrder(t)
	o, _ = apply(t, o, Event{Trigger: TriggerExpire}, t0.Add(901*time.Second))

	next, d := apply(t, o, Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("LATE")}, t0.Add(905*time.Second))
	if next.State != StateExpired {
		t.Fatalf("state = %s, want EXPIRED", next.State)
	}
	v := next.VerifiedAttempt()
	if v == nil || v.GatewayRef != "LATE" || v.VerifiedAt == nil {
		t.Fatalf("expected verified attempt LATE, got %+v", next.Attempts)
	}
	if !hasSignal(d.Mutation, SignalManualRefund) {
		t.Fatal("expected RequiresManualRefund signal")
	}
}

func TestDecide_SuccessAfterDeadlineBeforeScan(t *testing.T) {
	next, d := apply(t, newTestOrder(t), Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T1")}, t0.Add(20*time.Minute))
	if next.State != StateExpired {
		t.Fatalf("state = %s, want EXPIRED", next.State)
	}
	if next.PaidAt != nil {
		t.Fatal("late payment must not set paid_at")
	}
	if !hasSignal(d.Mutation, SignalManualRefund) {
		t.Fatal("expected RequiresManualRefund signal")
	}
}

func TestDecide_DuplicateCallbackIsNoop(t *testing.T) {
	o, _ := apply(t, newTestOrder(t), Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T1")}, t0.Add(time.Minute))
	again, d := apply(t, o, Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T1")}, t0.Add(2*time.Minute))
	if d.Mutation != nil {
		t.Fatal("redelivered callback should be a no-op")
	}
	if again.Version != o.Version || again.State != StatePaid {
		t.Fatalf("unexpected snapshot after redelivery: %s v%d", again.State, again.Version)
	}
}

func TestDecide_SecondSuccessWithOtherRefStaysSingleVerified(t *testing.T) {
	o, _ := apply(t, newTestOrder(t), Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T1")}, t0.Add(time.Minute))
	next, d := apply(t, o, Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T2")}, t0.Add(2*time.Minute))

	verified := 0
	for _, a := range next.Attempts {
		if a.Status == AttemptVerified {
			verified++
		}
	}
	if verified != 1 {
		t.Fatalf("verified attempts = %d, want 1", verified)
	}
	if next.Attempt("T2").Status != AttemptRejected {
		t.Fatalf("second payment should be recorded as rejected")
	}
	if !hasSignal(d.Mutation, SignalManualRefund) {
		t.Fatal("duplicate payment should require a manual refund")
	}
}

func TestDecide_ExpireAfterPaidNeverFlips(t *testing.T) {
	o, _ := apply(t, newTestOrder(t), Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T1")}, t0.Add(time.Minute))
	next, _ := apply(t, o, Event{Trigger: TriggerExpire}, t0.Add(time.Hour))
	if next.State != StatePaid {
		t.Fatalf("state = %s, want PAID", next.State)
	}
}

func TestDecide_PaidCancelSchedulesRefund(t *testing.T) {
	o, _ := apply(t, newTestOrder(t), Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T1")}, t0.Add(time.Minute))
	next, d := apply(t, o, Event{Trigger: TriggerCancel, Reason: " changed mind "}, t0.Add(time.Hour))
	if next.State != StateRefundRequested {
		t.Fatalf("state = %s, want REFUND_REQUESTED", next.State)
	}
	if next.RefundReason != "changed mind" || next.CancellationReason != "" {
		t.Fatalf("reasons = %q / %q", next.RefundReason, next.CancellationReason)
	}
	if !hasSignal(d.Mutation, SignalRefundRequired) {
		t.Fatal("paid cancellation must schedule a compensating refund")
	}
}

func TestDecide_UnpaidCancelHasNoCompensation(t *testing.T) {
	_, d := apply(t, newTestOrder(t), Event{Trigger: TriggerCancel, Reason: "r"}, t0)
	if hasSignal(d.Mutation, SignalRefundRequired) || hasSignal(d.Mutation, SignalManualRefund) {
		t.Fatal("unpaid cancellation must not trigger a refund")
	}
}

func TestDecide_RefundWindowClosed(t *testing.T) {
	o, _ := apply(t, newTestOrder(t), Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("T1")}, t0)
	_, err := Decide(o, Event{Trigger: TriggerRefundRequest, Reason: "late"}, t0.Add(30*24*time.Hour), fixedPolicy{ok: false})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("error = %v, want ErrIllegalTransition", err)
	}
}

func TestDecide_PaymentInitiated(t *testing.T) {
	o := newTestOrder(t)
	next, d := apply(t, o, Event{Trigger: TriggerPaymentInitiated, Attempt: attempt("P1")}, t0.Add(time.Minute))
	if d.Mutation == nil || next.State != StateAwaitingPayment || next.Attempt("P1").Status != AttemptPending {
		t.Fatalf("expected pending attempt, got %+v", next.Attempts)
	}

	// 回调把 Pending 记录落定为 Verified
	paid, _ := apply(t, next, Event{Trigger: TriggerPaymentSucceeded, Attempt: attempt("P1")}, t0.Add(2*time.Minute))
	if paid.State != StatePaid || len(paid.Attempts) != 1 || paid.Attempts[0].Status != AttemptVerified {
		t.Fatalf("unexpected attempts after callback: %+v", paid.Attempts)
	}
	if !paid.Attempts[0].CreatedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("attempt creation time should be kept, got %v", paid.Attempts[0].CreatedAt)
	}

	if _, err := Decide(o, Event{Trigger: TriggerPaymentInitiated, Attempt: attempt("P2")}, t0.Add(time.Hour), nil); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("initiation after deadline: error = %v", err)
	}
}
