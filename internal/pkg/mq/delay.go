package mq

import (
	"context"
	"errors"
	"sync"
	"time"

	"checkout/internal/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MessageFetcher 是 *kafka.Reader 中延迟转发需要的部分
type MessageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DelayForwarder 轮询一个延迟级别的主题，把到期消息转发到 real-topic 头指定的业务主题。
// 队头消息未到期时本轮停止，因为同一级别内消息按写入时间有序。
type DelayForwarder struct {
	level     string
	delay     time.Duration
	reader    MessageFetcher
	newWriter func(topic string) MessageWriter
	now       func() time.Time
	tracer    trace.Tracer

	writers    map[string]MessageWriter
	writerLock sync.Mutex
	// pending 保存本轮已取出但尚未到期的队头消息，下一轮优先处理
	pending *kafka.Message
}

func NewDelayForwarder(level string, delay time.Duration, reader MessageFetcher, newWriter func(topic string) MessageWriter) *DelayForwarder {
	return &DelayForwarder{
		level:     level,
		delay:     delay,
		reader:    reader,
		newWriter: newWriter,
		now:       time.Now,
		tracer:    otel.Tracer("delay-scheduler"),
		writers:   make(map[string]MessageWriter),
	}
}

// DueAt 计算消息的投递时间：取 写入时间+级别延迟 与 delay-timestamp 头 中较晚者
func DueAt(msg kafka.Message, levelDelay time.Duration) time.Time {
	due := msg.Time.Add(levelDelay)
	if raw := Header(msg.Headers, HeaderDelayTimestamp); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil && ts.After(due) {
			due = ts
		}
	}
	return due
}

// Run 按 interval 轮询直到 ctx 结束
func (f *DelayForwarder) Run(ctx context.Context, interval time.Duration) {
	logger.Ctx(ctx).Info().Str("level", f.level).Dur("interval", interval).Msg("✅ Delay forwarder started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer f.reader.Close()
	defer f.closeWriters()

	for {
		select {
		case <-ticker.C:
			f.ForwardDue(ctx)
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Str("level", f.level).Msg("🛑 Delay forwarder stopped")
			return
		}
	}
}

// ForwardDue 转发所有已到期的队头消息，返回本轮转发的数量
func (f *DelayForwarder) ForwardDue(parent context.Context) int {
	forwarded := 0
	for {
		msg, ok := f.next(parent)
		if !ok {
			return forwarded
		}

		ctx, span := f.tracer.Start(ExtractTraceContext(parent, msg.Headers), "scheduler.ForwardDue", trace.WithAttributes(
			attribute.String("delay.level", f.level),
			attribute.String("msg.time", msg.Time.Format(time.DateTime)),
		))

		due := DueAt(msg, f.delay)
		if f.now().Before(due) {
			f.pending = &msg
			span.AddEvent("HeadMessageNotDue", trace.WithAttributes(attribute.String("due", due.Format(time.DateTime))))
			span.End()
			return forwarded
		}

		realTopic := Header(msg.Headers, HeaderRealTopic)
		if realTopic == "" {
			logger.Ctx(ctx).Error().Str("level", f.level).Msg("'real-topic' header missing, skipping message")
			// 无法投递的消息也要提交，否则会被无限重复消费
			if err := f.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit skipped message")
			}
			span.End()
			continue
		}

		if err := f.publish(ctx, realTopic, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("real_topic", realTopic).Msg("Failed to forward delayed message")
			span.RecordError(err)
			span.SetStatus(codes.Error, "forward failed")
			span.End()
			// 不提交 offset，保留为队头，下一轮重试
			f.pending = &msg
			return forwarded
		}

		if err := f.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("level", f.level).Msg("Failed to commit forwarded message")
			span.RecordError(err)
		}
		span.AddEvent("MessageForwarded", trace.WithAttributes(attribute.String("real.topic", realTopic)))
		span.End()
		forwarded++
	}
}

func (f *DelayForwarder) next(ctx context.Context) (kafka.Message, bool) {
	if f.pending != nil {
		msg := *f.pending
		f.pending = nil
		return msg, true
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	msg, err := f.reader.FetchMessage(fetchCtx)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			logger.Ctx(ctx).Warn().Err(err).Str("level", f.level).Msg("Fetch from delay topic failed")
		}
		return kafka.Message{}, false
	}
	return msg, true
}

func (f *DelayForwarder) publish(ctx context.Context, realTopic string, msg kafka.Message) error {
	f.writerLock.Lock()
	writer, ok := f.writers[realTopic]
	if !ok {
		writer = f.newWriter(realTopic)
		f.writers[realTopic] = writer
	}
	f.writerLock.Unlock()

	out := kafka.Message{Key: msg.Key, Value: msg.Value}
	InjectTraceContext(ctx, &out.Headers)
	return writer.WriteMessages(ctx, out)
}

func (f *DelayForwarder) closeWriters() {
	f.writerLock.Lock()
	defer f.writerLock.Unlock()
	for topic, w := range f.writers {
		if c, ok := w.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				logger.L().Error().Err(err).Str("topic", topic).Msg("Failed to close writer")
			}
		}
	}
}
