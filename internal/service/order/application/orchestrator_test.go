package application

import (
	"checkout/internal/service/order/domain"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func successEvent(orderID, ref string) domain.Event {
	return domain.Event{
		OrderID: orderID,
		Trigger: domain.TriggerPaymentSucceeded,
		Attempt: &domain.PaymentAttempt{GatewayRef: ref, ReportedAmount: domain.Money{Amount: 250000, Currency: "VND"}},
	}
}

func TestOrchestrator_SuccessWithinDeadline(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1")
	f.clock.Set(t0.Add(30 * time.Second))

	out, err := f.orch.Apply(context.Background(), successEvent("O1", "T1"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Applied || out.Order.State != domain.StatePaid {
		t.Fatalf("unexpected outcome: applied=%v state=%s", out.Applied, out.Order.State)
	}
	if n := countVerified(f.read(t, "O1")); n != 1 {
		t.Fatalf("verified attempts = %d, want 1", n)
	}
}

func TestOrchestrator_RedeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1")
	f.clock.Set(t0.Add(30 * time.Second))
	ctx := context.Background()

	first, err := f.orch.Apply(ctx, successEvent("O1", "T1"))
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	second, err := f.orch.Apply(ctx, successEvent("O1", "T1"))
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if second.Applied {
		t.Fatal("redelivered callback must not produce a second write")
	}
	if second.Order.Version != first.Order.Version || second.Order.State != first.Order.State {
		t.Fatalf("redelivery changed the order: v%d %s", second.Order.Version, second.Order.State)
	}
	if n := countVerified(second.Order); n != 1 {
		t.Fatalf("verified attempts = %d", n)
	}
}

func TestOrchestrator_LateSuccessAfterExpiry(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O2")
	ctx := context.Background()

	f.clock.Set(t0.Add(901 * time.Second))
	out, err := f.orch.Apply(ctx, domain.Event{OrderID: "O2", Trigger: domain.TriggerExpire})
	if err != nil || out.Order.State != domain.StateExpired {
		t.Fatalf("expire: %v %+v", err, out)
	}

	f.clock.Set(t0.Add(905 * time.Second))
	out, err = f.orch.Apply(ctx, successEvent("O2", "T9"))
	if err != nil {
		t.Fatalf("late success: %v", err)
	}
	o := f.read(t, "O2")
	if o.State != domain.StateExpired {
		t.Fatalf("late success resurrected the order: %s", o.State)
	}
	if a := o.Attempt("T9"); a == nil || a.Status != domain.AttemptVerified {
		t.Fatalf("late payment should be recorded as verified: %+v", o.Attempts)
	}
	if !hasKind(f.pendingKinds(t), domain.SignalManualRefund) {
		t.Fatal("late payment must raise a manual refund signal")
	}
}

func TestOrchestrator_SuccessAfterDeadlineBeforeScan(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O2")
	f.clock.Set(t0.Add(901 * time.Second))

	out, err := f.orch.Apply(context.Background(), successEvent("O2", "T1"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Order.State != domain.StateExpired || out.Order.PaidAt != nil {
		t.Fatalf("payment after deadline must not mark the order paid: %s", out.Order.State)
	}
	if !hasKind(f.pendingKinds(t), domain.SignalManualRefund) {
		t.Fatal("missing manual refund signal")
	}
}

func TestOrchestrator_ExpireAfterPaymentIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1")
	ctx := context.Background()
	f.clock.Set(t0.Add(30 * time.Second))
	if _, err := f.orch.Apply(ctx, successEvent("O1", "T1")); err != nil {
		t.Fatalf("pay: %v", err)
	}

	f.clock.Set(t0.Add(2000 * time.Second))
	out, err := f.orch.Apply(ctx, domain.Event{OrderID: "O1", Trigger: domain.TriggerExpire})
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if out.Applied || out.Order.State != domain.StatePaid {
		t.Fatalf("expiration tick flipped a paid order: %s", out.Order.State)
	}
}

func TestOrchestrator_TerminalStatesRejectEverything(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O3")
	ctx := context.Background()
	if _, err := f.coord.Cancel(ctx, "c-1", "O3", "changed mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before := f.read(t, "O3")

	events := []domain.Event{
		{OrderID: "O3", Trigger: domain.TriggerExpire},
		{OrderID: "O3", Trigger: domain.TriggerRefundCompleted, RefundRef: "RF"},
		{OrderID: "O3", Trigger: domain.TriggerPaymentFailed, Attempt: &domain.PaymentAttempt{GatewayRef: "T2"}},
		{OrderID: "O3", Trigger: domain.TriggerCancel, Reason: "again"},
	}
	for _, ev := range events {
		_, _ = f.orch.Apply(ctx, ev)
	}
	after := f.read(t, "O3")
	if after.State != domain.StateCancelled || after.Version != before.Version {
		t.Fatalf("terminal order was modified: %s v%d -> v%d", after.State, before.Version, after.Version)
	}
}

func TestOrchestrator_RetriesOnConflict(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O5")
	flaky := &flakyLedger{Ledger: f.ledger, conflicts: 2}
	orch := NewOrchestrator(flaky, nil, f.clock.Now, 5, nil)

	out, err := orch.Apply(context.Background(), domain.Event{OrderID: "O5", Trigger: domain.TriggerCancel, Reason: "no longer needed"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Order.State != domain.StateCancelled || out.Order.Version != 2 {
		t.Fatalf("unexpected outcome: %s v%d", out.Order.State, out.Order.Version)
	}

	f.seed(t, "O6")
	stuck := NewOrchestrator(&flakyLedger{Ledger: f.ledger, conflicts: 100}, nil, f.clock.Now, 3, nil)
	if _, err := stuck.Apply(context.Background(), domain.Event{OrderID: "O6", Trigger: domain.TriggerCancel, Reason: "x"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Apply() error = %v, want ErrConflict", err)
	}
}

func TestOrchestrator_ConcurrentEventsSerialize(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O7")
	f.clock.Set(t0.Add(30 * time.Second))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.orch.Apply(ctx, successEvent("O7", "T1"))
		}()
		go func() {
			defer wg.Done()
			_, _ = f.orch.Apply(ctx, domain.Event{OrderID: "O7", Trigger: domain.TriggerExpire})
		}()
	}
	wg.Wait()

	o := f.read(t, "O7")
	if o.State != domain.StatePaid || countVerified(o) != 1 || o.Version != 2 {
		t.Fatalf("unexpected final order: %s verified=%d v%d", o.State, countVerified(o), o.Version)
	}
}
