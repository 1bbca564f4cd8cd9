package infrastructure

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/mq"
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageHandler 处理一条消息。返回错误时消息被转移到失败主题后提交
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// KafkaConsumer 是一个驱动适配器：拉取消息、恢复追踪上下文并交给 handler，处理完成后显式提交 offset。
type KafkaConsumer struct {
	topic    string
	reader   mq.MessageFetcher
	handle   MessageHandler
	failures *mq.FailureHandler // 可为 nil

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaConsumer failures 为 nil 时，处理失败的消息只记录日志后提交
func NewKafkaConsumer(topic string, reader mq.MessageFetcher, handle MessageHandler, failures *mq.FailureHandler) *KafkaConsumer {
	return &KafkaConsumer{topic: topic, reader: reader, handle: handle, failures: failures}
}

// Start 开始监听 Kafka 主题
func (c *KafkaConsumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.topic).Msg("✅ Kafka consumer started")
		for {
			// 使用 FetchMessage 而不是 ReadMessage，以便处理完成后再提交
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.L().Info().Str("topic", c.topic).Msg("🛑 Kafka consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Str("topic", c.topic).Msg("could not fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}
			c.Process(ctx, msg)
		}
	}()
	return nil
}

// Process 处理单条消息并决定是否提交 offset
func (c *KafkaConsumer) Process(parent context.Context, msg kafka.Message) {
	ctx := mq.ExtractTraceContext(parent, msg.Headers)

	if err := c.handle(ctx, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("topic", c.topic).Str("key", string(msg.Key)).Msg("failed to handle message")
		if c.failures != nil {
			if ferr := c.failures.Handle(ctx, msg, err); ferr != nil {
				// 转移失败时不提交，重启或再均衡后会重新投递
				return
			}
		}
	}

	if err := c.reader.CommitMessages(parent, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("topic", c.topic).Msg("failed to commit message")
	}
}

// Stop 停止拉取并等待当前消息处理完成
func (c *KafkaConsumer) Stop(ctx context.Context) {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if err := c.reader.Close(); err != nil {
		logger.L().Warn().Err(err).Str("topic", c.topic).Msg("failed to close kafka reader")
	}
	logger.L().Info().Str("topic", c.topic).Msg("✅ Kafka consumer stopped")
}
