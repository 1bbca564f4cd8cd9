package adapter

import (
	"checkout/internal/pkg/mq"
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

// ExpirationCheckEvent 是到期后投递到业务主题的订单到期检查任务
type ExpirationCheckEvent struct {
	TraceID  string    `json:"trace_id"`
	OrderID  string    `json:"order_id"`
	Deadline time.Time `json:"deadline"`
}

// SchedulerKafkaAdapter 实现了 port.DeadlineScheduler 接口：
// 向延迟主题写入一条带 real-topic / delay-timestamp 头的消息，由 delay-scheduler 到期转发。
type SchedulerKafkaAdapter struct {
	delayWriter mq.MessageWriter
	realTopic   string
}

// NewSchedulerKafkaAdapter 创建一个新的延迟任务调度器适配器。
func NewSchedulerKafkaAdapter(delayWriter mq.MessageWriter, realTopic string) *SchedulerKafkaAdapter {
	return &SchedulerKafkaAdapter{delayWriter: delayWriter, realTopic: realTopic}
}

// ScheduleExpiration 在支付截止时间投递一次到期检查
func (a *SchedulerKafkaAdapter) ScheduleExpiration(ctx context.Context, orderID string, deadline time.Time) error {
	taskEvent := ExpirationCheckEvent{
		TraceID:  trace.SpanFromContext(ctx).SpanContext().TraceID().String(),
		OrderID:  orderID,
		Deadline: deadline,
	}
	taskBytes, err := json.Marshal(taskEvent)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(orderID),
		Value: taskBytes,
		Headers: []kafka.Header{
			{Key: mq.HeaderRealTopic, Value: []byte(a.realTopic)},
			{Key: mq.HeaderDelayTimestamp, Value: []byte(deadline.UTC().Format(time.RFC3339))},
		},
	}
	mq.InjectTraceContext(ctx, &msg.Headers)

	return a.delayWriter.WriteMessages(ctx, msg)
}

// Close 关闭底层的Kafka writer。
func (a *SchedulerKafkaAdapter) Close() error {
	if c, ok := a.delayWriter.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
