package application

import (
	"checkout/internal/service/order/domain"
	"checkout/internal/service/order/domain/port"
	"checkout/internal/service/order/infrastructure"
	"checkout/internal/service/order/infrastructure/adapter"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeGateway 以明文参数模拟网关：sig=ok 视为签名正确
type fakeGateway struct {
	mu         sync.Mutex
	seq        int
	block      bool
	refundErrs []error
	refunds    []port.RefundRequest
}

func (g *fakeGateway) Authenticate(ctx context.Context, params map[string]string) (*port.CallbackData, error) {
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if params["sig"] != "ok" {
		return nil, domain.ErrInvalidSignature
	}
	amount, err := strconv.ParseInt(params["amount"], 10, 64)
	if err != nil || params["ref"] == "" {
		return nil, domain.ErrMalformedPayload
	}
	return &port.CallbackData{
		OrderNumber:  params["number"],
		GatewayRef:   params["ref"],
		TradeNo:      "TN-" + params["ref"],
		ResponseCode: params["code"],
		Amount:       domain.Money{Amount: amount, Currency: "VND"},
		Success:      params["code"] == "00",
	}, nil
}

func (g *fakeGateway) NewGatewayRef(o *domain.Order, _ time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s_%d", o.Number, g.seq)
}

func (g *fakeGateway) PaymentURL(_ context.Context, req port.PaymentURLRequest) (string, error) {
	return "https://pay.example/?ref=" + req.GatewayRef, nil
}

func (g *fakeGateway) Refund(_ context.Context, req port.RefundRequest) (*port.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	if len(g.refundErrs) > 0 {
		err := g.refundErrs[0]
		g.refundErrs = g.refundErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &port.RefundResult{RefundRef: "RF-" + req.OrderNumber}, nil
}

func (g *fakeGateway) SupportsCurrency(currency string) bool { return currency == "VND" }

type fakeQueue struct {
	mu    sync.Mutex
	items []port.ManualIntervention
}

func (q *fakeQueue) Escalate(_ context.Context, item port.ManualIntervention) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

// flakyLedger 在前 conflicts 次写入时返回版本冲突
type flakyLedger struct {
	domain.Ledger
	mu        sync.Mutex
	conflicts int
}

func (l *flakyLedger) ApplyIfVersion(ctx context.Context, id string, v int64, m domain.Mutation) (*domain.Order, error) {
	l.mu.Lock()
	if l.conflicts > 0 {
		l.conflicts--
		l.mu.Unlock()
		return nil, domain.ErrConflict
	}
	l.mu.Unlock()
	return l.Ledger.ApplyIfVersion(ctx, id, v, m)
}

type fixture struct {
	ledger  *infrastructure.MemoryLedger
	clock   *fakeClock
	gateway *fakeGateway
	idem    *adapter.MemoryIdempotencyStore
	queue   *fakeQueue
	orch    *Orchestrator
	svc     *OrderService
	coord   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  infrastructure.NewMemoryLedger(),
		clock:   &fakeClock{now: t0},
		gateway: &fakeGateway{},
		idem:    adapter.NewMemoryIdempotencyStore(),
		queue:   &fakeQueue{},
	}
	policy, err := adapter.NewCELRefundPolicy("")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	f.orch = NewOrchestrator(f.ledger, policy, f.clock.Now, 5, nil)
	f.svc = NewOrderService(OrderServiceDeps{
		Ledger:        f.ledger,
		Orchestrator:  f.orch,
		Verifier:      NewVerifier(f.gateway, time.Second),
		Gateway:       f.gateway,
		Idempotency:   f.idem,
		PaymentWindow: 900 * time.Second,
		Clock:         f.clock.Now,
	})
	f.coord = NewCoordinator(f.ledger, f.orch, nil)
	return f
}

// seed 直接在账本中创建一个订单，创建时间为 t0
func (f *fixture) seed(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(id, "DH"+id, "c-1", domain.Money{Amount: 250000, Currency: "VND"}, t0, 900*time.Second)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	if err := f.ledger.Create(context.Background(), o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return o
}

func (f *fixture) read(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := f.ledger.Read(context.Background(), id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return o
}

func callback(o *domain.Order, ref, code string, amount int64) map[string]string {
	return map[string]string{
		"sig":    "ok",
		"number": o.Number,
		"ref":    ref,
		"code":   code,
		"amount": strconv.FormatInt(amount, 10),
	}
}

func (f *fixture) pendingKinds(t *testing.T) []domain.SignalKind {
	t.Helper()
	pending, err := f.ledger.PendingOutbox(context.Background(), 0)
	if err != nil {
		t.Fatalf("PendingOutbox: %v", err)
	}
	kinds := make([]domain.SignalKind, 0, len(pending))
	for _, m := range pending {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}

func hasKind(kinds []domain.SignalKind, want domain.SignalKind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func countVerified(o *domain.Order) int {
	n := 0
	for _, a := range o.Attempts {
		if a.Status == domain.AttemptVerified {
			n++
		}
	}
	return n
}

var errGatewayDown = errors.New("gateway unavailable")
