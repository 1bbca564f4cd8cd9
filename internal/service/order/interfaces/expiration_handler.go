package interfaces

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/service/order/application"
	"checkout/internal/service/order/infrastructure/adapter"
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// ExpirationHandler 处理 delay-scheduler 到期转发的订单到期检查
type ExpirationHandler struct {
	scanner *application.ExpirationScanner
}

func NewExpirationHandler(scanner *application.ExpirationScanner) *ExpirationHandler {
	return &ExpirationHandler{scanner: scanner}
}

// Handle 反序列化消息并调用应用服务。订单已支付或已取消时到期检查是空操作
func (h *ExpirationHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var event adapter.ExpirationCheckEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal expiration check: %w", err)
	}
	if event.OrderID == "" {
		return fmt.Errorf("expiration check without order id")
	}

	applied, err := h.scanner.ExpireOrder(ctx, event.OrderID)
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Debug().Str("order_id", event.OrderID).Bool("expired", applied).Msg("expiration check handled")
	return nil
}
