package application

import (
	"checkout/internal/service/order/domain"
	"context"
	"testing"
	"time"
)

func newSettler(f *fixture) *RefundSettler {
	s := NewRefundSettler(f.ledger, f.orch, f.gateway, f.queue, 3, time.Second, f.clock.Now, nil)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

// refundRequested 创建一个已支付并申请退款的订单
func (f *fixture) refundRequested(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	f.seed(t, id)
	f.clock.Set(t0.Add(30 * time.Second))
	if _, err := f.orch.Apply(ctx, successEvent(id, "T-"+id)); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := f.coord.RequestRefund(ctx, "c-1", id, "damaged"); err != nil {
		t.Fatalf("refund request: %v", err)
	}
}

func TestRefundSettler_Settle(t *testing.T) {
	f := newFixture(t)
	f.refundRequested(t, "O1")
	f.gateway.refundErrs = []error{errGatewayDown}

	if err := newSettler(f).Settle(context.Background(), domain.Signal{Kind: domain.SignalRefundRequired, OrderID: "O1"}); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	o := f.read(t, "O1")
	if o.State != domain.StateRefunded || o.RefundRef != "RF-DHO1" {
		t.Fatalf("unexpected order: %s ref=%q", o.State, o.RefundRef)
	}
	if len(f.gateway.refunds) != 2 || f.gateway.refunds[0].GatewayRef != "T-O1" {
		t.Fatalf("refund calls: %+v", f.gateway.refunds)
	}
	if len(f.queue.items) != 0 {
		t.Fatalf("unexpected escalation: %+v", f.queue.items)
	}
}

func TestRefundSettler_EscalatesAfterRetries(t *testing.T) {
	f := newFixture(t)
	f.refundRequested(t, "O1")
	f.gateway.refundErrs = []error{errGatewayDown, errGatewayDown, errGatewayDown}

	if err := newSettler(f).Settle(context.Background(), domain.Signal{Kind: domain.SignalRefundRequired, OrderID: "O1"}); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if o := f.read(t, "O1"); o.State != domain.StateRefundRequested {
		t.Fatalf("state = %s, want RefundRequested", o.State)
	}
	if len(f.queue.items) != 1 {
		t.Fatalf("escalations = %d, want 1", len(f.queue.items))
	}
	item := f.queue.items[0]
	if item.Kind != InterventionRefundFailed || item.Attempts != 3 || item.GatewayRef != "T-O1" {
		t.Fatalf("unexpected escalation: %+v", item)
	}
}

func TestRefundSettler_IgnoresSettledOrders(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1")
	if err := newSettler(f).Settle(context.Background(), domain.Signal{Kind: domain.SignalRefundRequired, OrderID: "O1"}); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(f.gateway.refunds) != 0 {
		t.Fatalf("gateway called for an order not awaiting refund")
	}
}

func TestRefundSettler_EscalateManualRefund(t *testing.T) {
	f := newFixture(t)
	sig := domain.Signal{Kind: domain.SignalManualRefund, OrderID: "O9", OrderNumber: "DHO9", GatewayRef: "T9", Reason: "payment arrived after deadline"}
	if err := newSettler(f).EscalateManualRefund(context.Background(), sig); err != nil {
		t.Fatalf("EscalateManualRefund: %v", err)
	}
	if len(f.queue.items) != 1 {
		t.Fatalf("escalations = %d", len(f.queue.items))
	}
	item := f.queue.items[0]
	if item.Kind != InterventionManualRefund || item.Signal == nil || item.Signal.GatewayRef != "T9" {
		t.Fatalf("unexpected escalation: %+v", item)
	}
}

// 重试参数在每条信号处理前读取，运行期调整后下一条信号即生效
func TestRefundSettler_ReadsSettingsPerSignal(t *testing.T) {
	f := newFixture(t)
	f.refundRequested(t, "O1")
	f.gateway.refundErrs = []error{errGatewayDown, errGatewayDown, errGatewayDown, errGatewayDown, errGatewayDown}

	settings := RefundSettings{MaxAttempts: 5, Backoff: 3 * time.Second}
	var slept []time.Duration
	s := newSettler(f).WithSettings(func() RefundSettings { return settings })
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if err := s.Settle(context.Background(), domain.Signal{Kind: domain.SignalRefundRequired, OrderID: "O1"}); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(f.gateway.refunds) != 5 {
		t.Fatalf("refund calls = %d, want 5", len(f.gateway.refunds))
	}
	if len(slept) != 4 || slept[0] != 3*time.Second {
		t.Fatalf("backoffs = %v", slept)
	}
	if len(f.queue.items) != 1 || f.queue.items[0].Attempts != 5 {
		t.Fatalf("unexpected escalation: %+v", f.queue.items)
	}
}
