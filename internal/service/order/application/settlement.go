// internal/service/order/application/settlement.go
package application

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/metrics"
	"checkout/internal/service/order/domain"
	"checkout/internal/service/order/domain/port"
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	InterventionRefundFailed    = "REFUND_FAILED"
	InterventionManualRefund    = "REQUIRES_MANUAL_REFUND"
	refundRequestedBySettlement = "refund-worker"
)

// RefundSettler 执行补偿退款：调用网关退款接口，有限次重试，成功后记录 RefundCompleted，
// 重试耗尽后转入人工处理队列。不会静默丢弃任何一笔需要退款的订单。
type RefundSettler struct {
	ledger      domain.Ledger
	orch        *Orchestrator
	gateway     port.PaymentGateway
	escalation  port.ManualInterventionQueue
	maxAttempts int
	backoff     time.Duration
	settings    func() RefundSettings
	clock       Clock
	tracer      trace.Tracer
	// sleep 可在测试中替换
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRefundSettler(ledger domain.Ledger, orch *Orchestrator, gateway port.PaymentGateway, escalation port.ManualInterventionQueue,
	maxAttempts int, backoff time.Duration, clock Clock, tracer trace.Tracer) *RefundSettler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RefundSettler{
		ledger:      ledger,
		orch:        orch,
		gateway:     gateway,
		escalation:  escalation,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		clock:       clock,
		tracer:      tracerOrNoop(tracer),
		sleep:       sleepCtx,
	}
}

// RefundSettings 是可以在运行期调整的退款重试参数
type RefundSettings struct {
	MaxAttempts int
	Backoff     time.Duration
}

// WithSettings 每处理一条信号前读取最新的重试次数与退避间隔，非正值沿用构造时的配置
func (s *RefundSettler) WithSettings(fn func() RefundSettings) *RefundSettler {
	s.settings = fn
	return s
}

func (s *RefundSettler) current() RefundSettings {
	cfg := RefundSettings{MaxAttempts: s.maxAttempts, Backoff: s.backoff}
	if s.settings == nil {
		return cfg
	}
	next := s.settings()
	if next.MaxAttempts > 0 {
		cfg.MaxAttempts = next.MaxAttempts
	}
	if next.Backoff > 0 {
		cfg.Backoff = next.Backoff
	}
	return cfg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle 处理一条 REFUND_REQUIRED 信号。订单已不在 RefundRequested 时视为已处理。
// 返回错误表示信号应被重新投递。
func (s *RefundSettler) Settle(ctx context.Context, sig domain.Signal) error {
	ctx, span := s.tracer.Start(ctx, "app.RefundSettler.Settle", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("order.id", sig.OrderID)))
	defer span.End()

	o, err := s.ledger.Read(ctx, sig.OrderID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if o.State != domain.StateRefundRequested {
		span.AddEvent("order not awaiting refund", trace.WithAttributes(attribute.String("state", string(o.State))))
		return nil
	}

	gatewayRef := sig.GatewayRef
	if v := o.VerifiedAttempt(); v != nil {
		gatewayRef = v.GatewayRef
	}
	req := port.RefundRequest{
		OrderNumber: o.Number,
		GatewayRef:  gatewayRef,
		Amount:      o.Amount,
		Reason:      o.RefundReason,
		RequestedBy: refundRequestedBySettlement,
	}

	cfg := s.current()
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		req.Now = s.clock.Now()
		result, err := s.gateway.Refund(ctx, req)
		if err == nil {
			return s.complete(ctx, o.ID, result.RefundRef)
		}
		lastErr = err
		span.AddEvent("refund attempt failed", trace.WithAttributes(attribute.Int("attempt", attempt)))
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", o.ID).Int("attempt", attempt).Msg("gateway refund failed")
		if attempt < cfg.MaxAttempts {
			if err := s.sleep(ctx, cfg.Backoff); err != nil {
				return err
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "refund retries exhausted")
	return s.escalate(ctx, port.ManualIntervention{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Kind:        InterventionRefundFailed,
		GatewayRef:  gatewayRef,
		Amount:      o.Amount,
		Reason:      lastErr.Error(),
		Attempts:    cfg.MaxAttempts,
		At:          s.clock.Now(),
	})
}

// EscalateManualRefund 处理 REQUIRES_MANUAL_REFUND 信号：直接转人工
func (s *RefundSettler) EscalateManualRefund(ctx context.Context, sig domain.Signal) error {
	return s.escalate(ctx, port.ManualIntervention{
		OrderID:     sig.OrderID,
		OrderNumber: sig.OrderNumber,
		Kind:        InterventionManualRefund,
		GatewayRef:  sig.GatewayRef,
		Amount:      sig.Amount,
		Reason:      sig.Reason,
		At:          s.clock.Now(),
		Signal:      &sig,
	})
}

func (s *RefundSettler) complete(ctx context.Context, orderID, refundRef string) error {
	outcome, err := s.orch.Apply(ctx, domain.Event{OrderID: orderID, Trigger: domain.TriggerRefundCompleted, RefundRef: refundRef})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Str("refund_ref", refundRef).
			Msg("CRITICAL: gateway refunded but ledger update failed")
		return err
	}
	if outcome.Applied {
		logger.Ctx(ctx).Info().Str("order_id", orderID).Str("refund_ref", refundRef).Msg("💸 refund completed")
	}
	return nil
}

func (s *RefundSettler) escalate(ctx context.Context, item port.ManualIntervention) error {
	metrics.ManualInterventions.WithLabelValues(item.Kind).Inc()
	logger.Ctx(ctx).Error().
		Str("order_id", item.OrderID).
		Str("kind", item.Kind).
		Str("reason", item.Reason).
		Msg("CRITICAL: order escalated for manual intervention")
	return s.escalation.Escalate(ctx, item)
}
