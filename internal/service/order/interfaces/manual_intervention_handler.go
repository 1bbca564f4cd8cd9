package interfaces

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/mq"
	"checkout/internal/service/order/domain/port"
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// ManualInterventionHandler 记录所有需要人工处理的订单。
// 这里的消息总是被视为已处理，因为它们的去向就是运维的告警与日志。
type ManualInterventionHandler struct{}

func NewManualInterventionHandler() *ManualInterventionHandler {
	return &ManualInterventionHandler{}
}

func (h *ManualInterventionHandler) Handle(ctx context.Context, msg kafka.Message) error {
	// 其他消费者处理失败转移过来的消息带有来源头
	if mq.Header(msg.Headers, mq.HeaderOriginalTopic) != "" {
		logDeadLetter(ctx, msg)
		return nil
	}
	var item port.ManualIntervention
	if err := json.Unmarshal(msg.Value, &item); err != nil {
		logDeadLetter(ctx, msg)
		return nil
	}
	logger.Ctx(ctx).Error().
		Str("order_id", item.OrderID).
		Str("order_number", item.OrderNumber).
		Str("kind", item.Kind).
		Str("gateway_ref", item.GatewayRef).
		Str("amount", item.Amount.String()).
		Str("reason", item.Reason).
		Int("attempts", item.Attempts).
		Time("at", item.At).
		Msg("🚨 CRITICAL: order requires manual intervention")
	return nil
}

// logDeadLetter 记录无法解析的消息及其来源
func logDeadLetter(ctx context.Context, msg kafka.Message) {
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", mq.Header(msg.Headers, mq.HeaderOriginalTopic)).
		Str("original_partition", mq.Header(msg.Headers, mq.HeaderOriginalPartition)).
		Str("original_offset", mq.Header(msg.Headers, mq.HeaderOriginalOffset)).
		Str("exception_fqcn", mq.Header(msg.Headers, mq.HeaderExceptionFqcn)).
		Str("exception_message", mq.Header(msg.Headers, mq.HeaderExceptionMessage)).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("🚨 CRITICAL: Dead letter message received")
}
