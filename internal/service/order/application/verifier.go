// internal/service/order/application/verifier.go
package application

import (
	"checkout/internal/service/order/domain"
	"checkout/internal/service/order/domain/port"
	"context"
	"errors"
	"time"
)

// VerificationOutcome 是一次回调的业务结论
type VerificationOutcome string

const (
	OutcomeSuccess        VerificationOutcome = "SUCCESS"
	OutcomeFailure        VerificationOutcome = "FAILURE"
	OutcomeAmountMismatch VerificationOutcome = "AMOUNT_MISMATCH"
)

// VerificationResult 通过签名校验后对回调的解释
type VerificationResult struct {
	OrderRef     string
	GatewayRef   string
	TradeNo      string
	Outcome      VerificationOutcome
	RawAmount    domain.Money
	ResponseCode string
	BankCode     string
}

// Verifier 校验网关回调。签名校验委托给网关适配器，并受超时约束；
// 超时按失败处理，绝不默认成功。
type Verifier struct {
	gateway port.PaymentGateway
	timeout time.Duration
}

func NewVerifier(gateway port.PaymentGateway, timeout time.Duration) *Verifier {
	return &Verifier{gateway: gateway, timeout: timeout}
}

// Authenticate 校验签名并解析回调内容
func (v *Verifier) Authenticate(ctx context.Context, params map[string]string) (*port.CallbackData, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	type result struct {
		data *port.CallbackData
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := v.gateway.Authenticate(ctx, params)
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		if errors.Is(r.err, context.DeadlineExceeded) {
			return nil, domain.ErrGatewayTimeout
		}
		return r.data, r.err
	case <-ctx.Done():
		return nil, domain.ErrGatewayTimeout
	}
}

// Classify 是纯函数：把已认证的回调与订单的存储金额比对，得出结论。金额零容差。
func Classify(cb *port.CallbackData, orderAmount domain.Money) VerificationResult {
	r := VerificationResult{
		OrderRef:     cb.OrderNumber,
		GatewayRef:   cb.GatewayRef,
		TradeNo:      cb.TradeNo,
		RawAmount:    cb.Amount,
		ResponseCode: cb.ResponseCode,
		BankCode:     cb.BankCode,
		Outcome:      OutcomeFailure,
	}
	switch {
	case !cb.Amount.Equal(orderAmount):
		r.Outcome = OutcomeAmountMismatch
	case cb.Success:
		r.Outcome = OutcomeSuccess
	}
	return r
}

// Event 把结论转换为编排器的输入事件
func (r VerificationResult) Event(orderID string) domain.Event {
	trigger := domain.TriggerPaymentFailed
	switch r.Outcome {
	case OutcomeSuccess:
		trigger = domain.TriggerPaymentSucceeded
	case OutcomeAmountMismatch:
		trigger = domain.TriggerAmountMismatch
	}
	return domain.Event{
		OrderID: orderID,
		Trigger: trigger,
		Attempt: &domain.PaymentAttempt{
			GatewayRef:     r.GatewayRef,
			GatewayTradeNo: r.TradeNo,
			ReportedAmount: r.RawAmount,
			ResponseCode:   r.ResponseCode,
			BankCode:       r.BankCode,
		},
	}
}
