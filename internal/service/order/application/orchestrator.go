// internal/service/order/application/orchestrator.go
package application

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/metrics"
	"checkout/internal/service/order/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Clock 返回当前时间，测试中注入固定时钟
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

func tracerOrNoop(t trace.Tracer) trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return t
}

// Outcome 是一次事件编排的结果
type Outcome struct {
	// Order 是事件处理之后的最新快照
	Order *domain.Order
	// Applied 为 false 表示守卫不成立，事件被当作重复投递忽略
	Applied bool
	Skip    string
	// Mutation 仅在 Applied 时有值
	Mutation *domain.Mutation
}

// Orchestrator 是账本唯一的写入者：读取快照、评估守卫、按版本号写入，冲突时重读重试。
type Orchestrator struct {
	ledger      domain.Ledger
	policy      domain.RefundPolicy
	clock       Clock
	maxAttempts int
	tracer      trace.Tracer
	// committed 在每次成功写入后按注册顺序调用
	committed []func(o *domain.Order)
}

func NewOrchestrator(ledger domain.Ledger, policy domain.RefundPolicy, clock Clock, maxAttempts int, tracer trace.Tracer) *Orchestrator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Orchestrator{ledger: ledger, policy: policy, clock: clock, maxAttempts: maxAttempts, tracer: tracerOrNoop(tracer)}
}

// OnCommit 注册写入成功后的回调，须在开始处理事件之前完成注册
func (o *Orchestrator) OnCommit(fn func(order *domain.Order)) {
	o.committed = append(o.committed, fn)
}

// Apply 把事件应用到订单上。守卫不成立时返回 Applied=false 的结果而不是错误；
// 版本冲突在内部重试，超过次数后才返回 domain.ErrConflict。
func (o *Orchestrator) Apply(ctx context.Context, ev domain.Event) (*Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "app.Orchestrator.Apply", trace.WithAttributes(
		attribute.String("order.id", ev.OrderID),
		attribute.String("order.trigger", string(ev.Trigger)),
	))
	defer span.End()

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		current, err := o.ledger.Read(ctx, ev.OrderID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read order failed")
			return nil, err
		}

		decision, err := domain.Decide(current, ev, o.clock.Now(), o.policy)
		if err != nil {
			metrics.RejectedEvents.WithLabelValues(string(ev.Trigger), rejectReason(err)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "event rejected")
			return nil, err
		}
		if decision.Mutation == nil {
			metrics.RejectedEvents.WithLabelValues(string(ev.Trigger), "noop").Inc()
			span.AddEvent("guard no longer holds", trace.WithAttributes(attribute.String("skip", decision.Skip)))
			logger.Ctx(ctx).Debug().
				Str("order_id", ev.OrderID).
				Str("trigger", string(ev.Trigger)).
				Str("state", string(current.State)).
				Str("skip", decision.Skip).
				Msg("event ignored")
			return &Outcome{Order: current, Skip: decision.Skip}, nil
		}

		m := decision.Mutation
		next, err := o.ledger.ApplyIfVersion(ctx, ev.OrderID, current.Version, *m)
		if errors.Is(err, domain.ErrConflict) {
			metrics.LedgerConflicts.Inc()
			span.AddEvent("version conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ledger write failed")
			return nil, err
		}

		for _, fn := range o.committed {
			fn(next)
		}
		metrics.Transitions.WithLabelValues(string(m.Trigger), string(m.From), string(m.To)).Inc()
		span.SetAttributes(attribute.Int64("order.version", next.Version), attribute.String("order.state", string(next.State)))
		if m.ChangesState() {
			logger.Ctx(ctx).Info().
				Str("order_id", ev.OrderID).
				Str("trigger", string(m.Trigger)).
				Str("from", string(m.From)).
				Str("to", string(m.To)).
				Int64("version", next.Version).
				Msg("✅ order transitioned")
		}
		return &Outcome{Order: next, Applied: true, Mutation: m}, nil
	}

	err := fmt.Errorf("%w: gave up after %d attempts", domain.ErrConflict, o.maxAttempts)
	span.RecordError(err)
	span.SetStatus(codes.Error, "conflict retries exhausted")
	logger.Ctx(ctx).Error().Err(err).Str("order_id", ev.OrderID).Str("trigger", string(ev.Trigger)).Msg("ledger contention")
	return nil, err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidReason):
		return "invalid_reason"
	case errors.Is(err, domain.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, domain.ErrMalformedPayload):
		return "malformed_payload"
	}
	return "error"
}
