package mq

import (
	"context"
	"fmt"
	"strconv"

	"checkout/internal/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// 转移到人工处理/死信主题时附带的消息头
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// MessageWriter 是 *kafka.Writer 的最小子集，便于测试替换
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// FailureHandler 把处理失败的消息连同原始位置与异常信息转移到目标主题
type FailureHandler struct {
	writer MessageWriter
}

func NewFailureHandler(writer MessageWriter) *FailureHandler {
	return &FailureHandler{writer: writer}
}

// Handle 转移失败消息；转移本身失败时返回错误，调用方不应提交 offset
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	out := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: FailureHeaders(msg, cause),
	}
	InjectTraceContext(ctx, &out.Headers)
	if err := h.writer.WriteMessages(ctx, out); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("original_topic", msg.Topic).Msg("❌ Failed to move message to failure topic")
		return err
	}
	logger.Ctx(ctx).Warn().
		Str("original_topic", msg.Topic).
		Int64("original_offset", msg.Offset).
		Str("cause", cause.Error()).
		Msg("⚠️ Message moved to failure topic")
	return nil
}

// FailureHeaders 生成描述失败来源的消息头
func FailureHeaders(msg kafka.Message, cause error) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", cause))},
		{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
	}
}
