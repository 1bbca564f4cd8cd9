// internal/service/order/application/outbox_relay.go
package application

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/service/order/domain"
	"checkout/internal/service/order/domain/port"
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OutboxRelay 按写入顺序投递 outbox 中的信号。遇到投递失败即停止本轮，下一轮从失败处继续，
// 因此同一订单的信号不会乱序；消费方需容忍至少一次投递。
type OutboxRelay struct {
	outbox    domain.Outbox
	publisher port.SignalPublisher
	interval  time.Duration
	batchSize int
	clock     Clock
	tracer    trace.Tracer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOutboxRelay(outbox domain.Outbox, publisher port.SignalPublisher, interval time.Duration, batchSize int, clock Clock, tracer trace.Tracer) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{outbox: outbox, publisher: publisher, interval: interval, batchSize: batchSize, clock: clock, tracer: tracerOrNoop(tracer)}
}

func (r *OutboxRelay) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
					logger.Ctx(ctx).Warn().Err(err).Msg("outbox relay cycle incomplete")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (r *OutboxRelay) Stop(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// RelayOnce 投递一批待发送的信号，返回成功投递的数量
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	pending, err := r.outbox.PendingOutbox(ctx, r.batchSize)
	if err != nil || len(pending) == 0 {
		return 0, err
	}

	ctx, span := r.tracer.Start(ctx, "app.OutboxRelay.RelayOnce", trace.WithAttributes(attribute.Int("outbox.pending", len(pending))))
	defer span.End()

	published := make([]string, 0, len(pending))
	var publishErr error
	for _, msg := range pending {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			span.RecordError(err)
			logger.Ctx(ctx).Error().Err(err).Str("order_id", msg.OrderID).Str("kind", string(msg.Kind)).Msg("failed to publish signal")
			publishErr = err
			break
		}
		published = append(published, msg.ID)
	}

	if err := r.outbox.MarkPublished(ctx, published, r.clock.Now()); err != nil {
		span.RecordError(err)
		return 0, err
	}
	return len(published), publishErr
}
