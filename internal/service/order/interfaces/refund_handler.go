package interfaces

import (
	"checkout/internal/service/order/application"
	"checkout/internal/service/order/domain"
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// RefundHandler 消费 REFUND_REQUIRED 信号，驱动补偿退款
type RefundHandler struct {
	settler *application.RefundSettler
}

func NewRefundHandler(settler *application.RefundSettler) *RefundHandler {
	return &RefundHandler{settler: settler}
}

func (h *RefundHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var sig domain.Signal
	if err := json.Unmarshal(msg.Value, &sig); err != nil {
		return fmt.Errorf("failed to unmarshal refund signal: %w", err)
	}
	switch sig.Kind {
	case domain.SignalRefundRequired:
		return h.settler.Settle(ctx, sig)
	case domain.SignalManualRefund:
		return h.settler.EscalateManualRefund(ctx, sig)
	}
	return fmt.Errorf("unexpected signal kind %q on refund topic", sig.Kind)
}
