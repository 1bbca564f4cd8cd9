// internal/service/order/application/service.go
package application

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/service/order/domain"
	"checkout/internal/service/order/domain/port"
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// sharedReadTimeout 限制合并读取的耗时；合并读取不随任何单个调用方取消
const sharedReadTimeout = 5 * time.Second

// OrderService 承载面向客户的订单用例：创建、查询、发起支付以及网关回调。
// 所有状态写入都委托给 Orchestrator。
type OrderService struct {
	ledger    domain.Ledger
	orch      *Orchestrator
	verifier  *Verifier
	gateway   port.PaymentGateway
	scheduler port.DeadlineScheduler // 可为 nil，此时只依赖轮询扫描器
	idem      port.IdempotencyStore  // 可为 nil
	window    time.Duration
	clock     Clock
	tracer    trace.Tracer

	reads singleflight.Group
}

type OrderServiceDeps struct {
	Ledger        domain.Ledger
	Orchestrator  *Orchestrator
	Verifier      *Verifier
	Gateway       port.PaymentGateway
	Scheduler     port.DeadlineScheduler
	Idempotency   port.IdempotencyStore
	PaymentWindow time.Duration
	Clock         Clock
	Tracer        trace.Tracer
}

func NewOrderService(d OrderServiceDeps) *OrderService {
	s := &OrderService{
		ledger:    d.Ledger,
		orch:      d.Orchestrator,
		verifier:  d.Verifier,
		gateway:   d.Gateway,
		scheduler: d.Scheduler,
		idem:      d.Idempotency,
		window:    d.PaymentWindow,
		clock:     d.Clock,
		tracer:    tracerOrNoop(d.Tracer),
	}
	// 写入之后开始的轮询不能加入写入之前发起的合并读取
	if s.orch != nil {
		s.orch.OnCommit(func(o *domain.Order) { s.reads.Forget(o.ID) })
	}
	return s
}

// NewOrderNumber 生成形如 DH20250601150405xxxx 的订单号
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("DH%s%04d", now.Format("20060102150405"), rand.IntN(10000))
}

// CreateOrder 创建一个等待支付的订单，并按支付截止时间投递一次到期检查
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder")
	defer span.End()

	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidOrder)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency != "" && !s.gateway.SupportsCurrency(currency) {
		return nil, fmt.Errorf("%w: currency %s is not accepted", domain.ErrInvalidOrder, currency)
	}
	now := s.clock.Now()
	o, err := domain.NewOrder(uuid.NewString(), NewOrderNumber(now), req.CustomerID,
		domain.Money{Amount: req.Amount, Currency: currency}, now, s.window)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Create(ctx, o); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save order")
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.String("order.number", o.Number))

	if s.scheduler != nil {
		if err := s.scheduler.ScheduleExpiration(ctx, o.ID, o.PaymentDeadline); err != nil {
			// 扫描器会兜底处理到期订单
			span.RecordError(err)
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", o.ID).Msg("failed to schedule expiration check")
		}
	}

	logger.Ctx(ctx).Info().
		Str("order_id", o.ID).
		Str("order_number", o.Number).
		Str("customer_id", o.CustomerID).
		Time("deadline", o.PaymentDeadline).
		Msg("order created, awaiting payment")
	return ToOrderView(o, now), nil
}

// GetOrder 返回订单详情；并发的轮询请求合并为一次账本读取
func (s *OrderService) GetOrder(ctx context.Context, customerID, orderID string) (*OrderView, error) {
	o, err := s.readShared(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(o, customerID); err != nil {
		return nil, err
	}
	return ToOrderView(o, s.clock.Now()), nil
}

// History 返回订单的状态历史
func (s *OrderService) History(ctx context.Context, customerID, orderID string) ([]StatusChangeView, error) {
	if _, err := s.readOwned(ctx, customerID, orderID); err != nil {
		return nil, err
	}
	changes, err := s.ledger.History(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return ToStatusChangeViews(changes), nil
}

// InitiatePayment 生成带签名的网关跳转链接，并登记一笔 Pending 支付尝试
func (s *OrderService) InitiatePayment(ctx context.Context, customerID, orderID, clientIP string) (*PaymentLink, error) {
	ctx, span := s.tracer.Start(ctx, "app.InitiatePayment", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	o, err := s.readOwned(ctx, customerID, orderID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	ref := s.gateway.NewGatewayRef(o, now)

	outcome, err := s.orch.Apply(ctx, domain.Event{
		OrderID: orderID,
		Trigger: domain.TriggerPaymentInitiated,
		Attempt: &domain.PaymentAttempt{GatewayRef: ref},
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	url, err := s.gateway.PaymentURL(ctx, port.PaymentURLRequest{Order: outcome.Order, GatewayRef: ref, ClientIP: clientIP, Now: now})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to build payment url")
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("gateway_ref", ref).Msg("payment url generated")
	return &PaymentLink{OrderID: orderID, GatewayRef: ref, PaymentURL: url, ExpiresAt: outcome.Order.PaymentDeadline}, nil
}

// readOwned 读取订单并校验归属
func (s *OrderService) readOwned(ctx context.Context, customerID, orderID string) (*domain.Order, error) {
	o, err := s.ledger.Read(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(o, customerID); err != nil {
		return nil, err
	}
	return o, nil
}

// readShared 合并同一订单的并发读取。每个调用方只等待自己的 ctx，
// 某个轮询请求被取消不会让其它加入同一次读取的请求失败。
func (s *OrderService) readShared(ctx context.Context, orderID string) (*domain.Order, error) {
	ch := s.reads.DoChan(orderID, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()
		return s.ledger.Read(readCtx, orderID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Order).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// checkOwner 不属于该客户的订单按不存在处理。customerID 为空表示内部调用。
func checkOwner(o *domain.Order, customerID string) error {
	if customerID != "" && o.CustomerID != customerID {
		return domain.ErrOrderNotFound
	}
	return nil
}
