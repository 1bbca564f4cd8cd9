package application

import (
	"checkout/internal/service/order/domain"
	"context"
	"errors"
	"testing"
	"time"
)

func TestCoordinator_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("empty reason leaves order untouched", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "O1")
		if _, err := f.coord.Cancel(ctx, "c-1", "O1", "   "); !errors.Is(err, domain.ErrInvalidReason) {
			t.Fatalf("Cancel() error = %v, want ErrInvalidReason", err)
		}
		if o := f.read(t, "O1"); o.Version != 1 || o.State != domain.StateAwaitingPayment {
			t.Fatalf("order changed: %s v%d", o.State, o.Version)
		}
	})

	t.Run("unpaid order is cancelled", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "O1")
		o, err := f.coord.Cancel(ctx, "c-1", "O1", "changed my mind")
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if o.State != domain.StateCancelled || o.CancellationReason != "changed my mind" {
			t.Fatalf("unexpected order: %s %q", o.State, o.CancellationReason)
		}
		if hasKind(f.pendingKinds(t), domain.SignalRefundRequired) {
			t.Fatal("unpaid cancellation must not require a refund")
		}
	})

	t.Run("paid order becomes refund requested", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "O1")
		f.clock.Set(t0.Add(30 * time.Second))
		if _, err := f.orch.Apply(ctx, successEvent("O1", "T1")); err != nil {
			t.Fatalf("pay: %v", err)
		}
		o, err := f.coord.Cancel(ctx, "c-1", "O1", "wrong size")
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if o.State != domain.StateRefundRequested || o.RefundReason != "wrong size" {
			t.Fatalf("unexpected order: %s %q", o.State, o.RefundReason)
		}
		if !hasKind(f.pendingKinds(t), domain.SignalRefundRequired) {
			t.Fatal("refund signal missing from outbox")
		}
	})

	t.Run("foreign order looks missing", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "O1")
		if _, err := f.coord.Cancel(ctx, "c-2", "O1", "nope"); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("Cancel() error = %v, want ErrOrderNotFound", err)
		}
	})

	t.Run("terminal order cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "O1")
		f.clock.Set(t0.Add(901 * time.Second))
		if _, err := f.orch.Apply(ctx, domain.Event{OrderID: "O1", Trigger: domain.TriggerExpire}); err != nil {
			t.Fatalf("expire: %v", err)
		}
		if _, err := f.coord.Cancel(ctx, "c-1", "O1", "too late"); !errors.Is(err, domain.ErrIllegalTransition) {
			t.Fatalf("Cancel() error = %v, want ErrIllegalTransition", err)
		}
	})
}

func TestCoordinator_RequestRefund(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		pay     bool
		at      time.Duration
		wantErr error
	}{
		{"unpaid order", false, time.Minute, domain.ErrIllegalTransition},
		{"inside refund window", true, 24 * time.Hour, nil},
		{"refund window closed", true, 169 * time.Hour, domain.ErrIllegalTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "O1")
			if tt.pay {
				f.clock.Set(t0.Add(30 * time.Second))
				if _, err := f.orch.Apply(ctx, successEvent("O1", "T1")); err != nil {
					t.Fatalf("pay: %v", err)
				}
			}
			f.clock.Set(t0.Add(tt.at))
			o, err := f.coord.RequestRefund(ctx, "c-1", "O1", "not as described")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RequestRefund() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && o.State != domain.StateRefundRequested {
				t.Fatalf("state = %s", o.State)
			}
		})
	}
}
