package adapter

import (
	"checkout/internal/pkg/mq"
	"checkout/internal/service/order/domain"
	"checkout/internal/service/order/domain/port"
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// HeaderSignalKind 标识消息承载的信号类型
const HeaderSignalKind = "x-signal-kind"

// SignalTopics 信号类型到 Kafka 主题的路由
type SignalTopics struct {
	RefundRequests     string
	ManualIntervention string
	StatusChanged      string
}

// SignalKafkaAdapter 实现了 port.SignalPublisher 与 port.ManualInterventionQueue 接口。
// 所有消息以订单 ID 为 key，同一订单的信号落在同一分区、保持顺序。
type SignalKafkaAdapter struct {
	writers map[string]mq.MessageWriter
	topics  SignalTopics
}

// NewSignalKafkaAdapter newWriter 为每个目标主题创建一个 writer
func NewSignalKafkaAdapter(topics SignalTopics, newWriter func(topic string) mq.MessageWriter) *SignalKafkaAdapter {
	a := &SignalKafkaAdapter{writers: make(map[string]mq.MessageWriter), topics: topics}
	for _, t := range []string{topics.RefundRequests, topics.ManualIntervention, topics.StatusChanged} {
		if t != "" {
			a.writers[t] = newWriter(t)
		}
	}
	return a
}

// Publish 按信号类型路由；REQUIRES_MANUAL_REFUND 直接进入人工处理主题
func (a *SignalKafkaAdapter) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	switch msg.Kind {
	case domain.SignalRefundRequired:
		return a.produce(ctx, a.topics.RefundRequests, msg.OrderID, msg.Payload, msg.Kind)
	case domain.SignalStatusChanged:
		return a.produce(ctx, a.topics.StatusChanged, msg.OrderID, msg.Payload, msg.Kind)
	case domain.SignalManualRefund:
		var sig domain.Signal
		if err := json.Unmarshal(msg.Payload, &sig); err != nil {
			return fmt.Errorf("failed to decode outbox signal %s: %w", msg.ID, err)
		}
		return a.Escalate(ctx, port.ManualIntervention{
			OrderID:     sig.OrderID,
			OrderNumber: sig.OrderNumber,
			Kind:        string(domain.SignalManualRefund),
			GatewayRef:  sig.GatewayRef,
			Amount:      sig.Amount,
			Reason:      sig.Reason,
			At:          sig.At,
			Signal:      &sig,
		})
	}
	return fmt.Errorf("no route for signal kind %q", msg.Kind)
}

// Escalate 把需要人工处理的订单写入人工处理主题
func (a *SignalKafkaAdapter) Escalate(ctx context.Context, item port.ManualIntervention) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal manual intervention: %w", err)
	}
	return a.produce(ctx, a.topics.ManualIntervention, item.OrderID, payload, domain.SignalKind(item.Kind))
}

func (a *SignalKafkaAdapter) produce(ctx context.Context, topic, key string, payload []byte, kind domain.SignalKind) error {
	w, ok := a.writers[topic]
	if !ok {
		return fmt.Errorf("no writer configured for topic %q", topic)
	}
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	return mq.ProduceMessage(ctx, w, []byte(key), payload, kafka.Header{Key: HeaderSignalKind, Value: []byte(kind)})
}

// Close 关闭底层的Kafka writer。
func (a *SignalKafkaAdapter) Close() error {
	var firstErr error
	for _, w := range a.writers {
		if c, ok := w.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
