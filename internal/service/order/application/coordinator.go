// internal/service/order/application/coordinator.go
package application

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/service/order/domain"
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Coordinator 处理客户发起的取消与退款申请。
// 已支付订单进入 RefundRequested 时，补偿退款信号随账本写入进入 outbox，由退款 worker 执行；
// 本组件的职责止于记录 RefundRequested。
type Coordinator struct {
	ledger domain.Ledger
	orch   *Orchestrator
	tracer trace.Tracer
}

func NewCoordinator(ledger domain.Ledger, orch *Orchestrator, tracer trace.Tracer) *Coordinator {
	return &Coordinator{ledger: ledger, orch: orch, tracer: tracerOrNoop(tracer)}
}

// Cancel 未支付订单直接取消；已支付订单的取消等同于申请退款
func (c *Coordinator) Cancel(ctx context.Context, customerID, orderID, reason string) (*domain.Order, error) {
	return c.apply(ctx, "app.Coordinator.Cancel", customerID, orderID, domain.TriggerCancel, reason)
}

// RequestRefund 已支付订单在退款窗口内申请退款
func (c *Coordinator) RequestRefund(ctx context.Context, customerID, orderID, reason string) (*domain.Order, error) {
	return c.apply(ctx, "app.Coordinator.RequestRefund", customerID, orderID, domain.TriggerRefundRequest, reason)
}

func (c *Coordinator) apply(ctx context.Context, spanName, customerID, orderID string, trigger domain.Trigger, reason string) (*domain.Order, error) {
	ctx, span := c.tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		span.SetStatus(codes.Error, "empty reason")
		return nil, domain.ErrInvalidReason
	}

	o, err := c.ledger.Read(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if customerID != "" && o.CustomerID != customerID {
		return nil, domain.ErrOrderNotFound
	}

	outcome, err := c.orch.Apply(ctx, domain.Event{OrderID: orderID, Trigger: trigger, Reason: reason})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition rejected")
		logger.Ctx(ctx).Info().Err(err).Str("order_id", orderID).Str("trigger", string(trigger)).Msg("customer request rejected")
		return nil, err
	}
	if outcome.Order.State == domain.StateRefundRequested {
		span.AddEvent("compensating refund scheduled")
	}
	return outcome.Order, nil
}
