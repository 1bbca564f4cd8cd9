// internal/service/order/application/callback.go
package application

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/metrics"
	"checkout/internal/service/order/domain"
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	callbackScope = "callback"
	// callbackMemory 回调结论的缓存时长，覆盖网关 IPN 的重试窗口
	callbackMemory = 24 * time.Hour
)

// HandleCallback 处理一次网关回调（浏览器跳转或服务端 IPN），两者走同一条校验与编排路径。
// 完整性类错误与网关超时以错误返回且不写账本；金额不符记录为 Rejected 尝试并在结果中体现。
func (s *OrderService) HandleCallback(ctx context.Context, endpoint string, params map[string]string) (res *CallbackResult, err error) {
	ctx, span := s.tracer.Start(ctx, "app.HandleCallback", trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("callback.endpoint", endpoint)))
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "error"
		if res != nil {
			outcome = string(res.Outcome)
		}
		metrics.CallbackDuration.WithLabelValues(endpoint, outcome).Observe(time.Since(start).Seconds())
	}()

	cb, err := s.verifier.Authenticate(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "callback authentication failed")
		switch {
		case domain.IsIntegrity(err):
			metrics.IntegrityFailures.WithLabelValues(integrityKind(err)).Inc()
			logger.Ctx(ctx).Warn().Err(err).Bool("security", true).Str("endpoint", endpoint).Msg("🚨 gateway callback rejected")
		case errors.Is(err, domain.ErrGatewayTimeout):
			logger.Ctx(ctx).Warn().Err(err).Str("endpoint", endpoint).Msg("gateway verification timed out, treating as failure")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("gateway.ref", cb.GatewayRef), attribute.String("order.number", cb.OrderNumber))

	o, err := s.ledger.ReadByNumber(ctx, cb.OrderNumber)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	vr := Classify(cb, o.Amount)
	ev := vr.Event(o.ID)
	key := ev.IdempotencyKey()
	if cached, ok := s.recall(ctx, key); ok {
		span.AddEvent("callback replay served from cache")
		return cached, nil
	}

	if vr.Outcome == OutcomeAmountMismatch {
		metrics.IntegrityFailures.WithLabelValues("amount_mismatch").Inc()
		logger.Ctx(ctx).Warn().
			Bool("security", true).
			Str("order_id", o.ID).
			Str("gateway_ref", vr.GatewayRef).
			Str("reported", vr.RawAmount.String()).
			Str("expected", o.Amount.String()).
			Msg("🚨 gateway reported amount does not match order")
	}

	outcome, err := s.orch.Apply(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply callback failed")
		return nil, err
	}

	res = &CallbackResult{
		Message:   MessagePaymentFailed,
		OrderID:   outcome.Order.ID,
		State:     outcome.Order.State,
		Outcome:   vr.Outcome,
		Duplicate: !outcome.Applied,
	}
	if vr.Outcome == OutcomeSuccess {
		v := outcome.Order.VerifiedAttempt()
		res.Success = outcome.Order.PaidAt != nil && v != nil && v.GatewayRef == vr.GatewayRef
		res.ManualRefund = !res.Success
	}
	if res.Success {
		res.Message = MessagePaymentSucceeded
	}
	if res.ManualRefund {
		logger.Ctx(ctx).Error().
			Str("order_id", o.ID).
			Str("gateway_ref", vr.GatewayRef).
			Str("state", string(outcome.Order.State)).
			Msg("CRITICAL: payment received for an order that cannot be fulfilled, manual refund required")
	}

	s.remember(ctx, key, res)
	return res, nil
}

// recall 以事件的幂等键 (即网关交易号) 查找已处理过的回调结论
func (s *OrderService) recall(ctx context.Context, key string) (*CallbackResult, bool) {
	if s.idem == nil {
		return nil, false
	}
	raw, ok, err := s.idem.Recall(ctx, callbackScope, key)
	if err != nil || !ok {
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("idempotency_key", key).Msg("idempotency store unavailable")
		}
		return nil, false
	}
	var res CallbackResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false
	}
	res.Duplicate = true
	return &res, true
}

func (s *OrderService) remember(ctx context.Context, key string, res *CallbackResult) {
	if s.idem == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.idem.Remember(ctx, callbackScope, key, raw, callbackMemory); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("idempotency_key", key).Msg("failed to remember callback outcome")
	}
}

func integrityKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, domain.ErrMalformedPayload):
		return "malformed_payload"
	}
	return "amount_mismatch"
}
