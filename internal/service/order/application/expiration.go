// internal/service/order/application/expiration.go
package application

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/metrics"
	"checkout/internal/service/order/domain"
	"checkout/internal/service/order/domain/port"
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const expireScope = "expire"

// ExpirationScanner 周期性地找出已过截止时间仍在等待支付的订单，向编排器发出 ExpireOrder。
// 多实例并发运行时，按订单的 Claim 保证同一订单在 claimTTL 内只发出一次；
// 即便 Claim 失效导致重复发出，编排器的守卫也会把重复事件变成空操作。
type ExpirationScanner struct {
	ledger    domain.Ledger
	orch      *Orchestrator
	claims    port.IdempotencyStore // 可为 nil
	lock      port.ScanLock         // 可为 nil
	interval  time.Duration
	batchSize int
	claimTTL  time.Duration
	settings  func() ScannerConfig
	clock     Clock
	tracer    trace.Tracer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ScannerConfig struct {
	Interval  time.Duration
	BatchSize int
	ClaimTTL  time.Duration
}

func NewExpirationScanner(ledger domain.Ledger, orch *Orchestrator, claims port.IdempotencyStore, lock port.ScanLock,
	cfg ScannerConfig, clock Clock, tracer trace.Tracer) *ExpirationScanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &ExpirationScanner{
		ledger:    ledger,
		orch:      orch,
		claims:    claims,
		lock:      lock,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		claimTTL:  cfg.ClaimTTL,
		clock:     clock,
		tracer:    tracerOrNoop(tracer),
	}
}

// WithSettings 让扫描器每轮读取最新的扫描间隔、批大小和认领时长，非正值沿用构造时的配置
func (s *ExpirationScanner) WithSettings(fn func() ScannerConfig) *ExpirationScanner {
	s.settings = fn
	return s
}

func (s *ExpirationScanner) current() ScannerConfig {
	cfg := ScannerConfig{Interval: s.interval, BatchSize: s.batchSize, ClaimTTL: s.claimTTL}
	if s.settings == nil {
		return cfg
	}
	next := s.settings()
	if next.Interval > 0 {
		cfg.Interval = next.Interval
	}
	if next.BatchSize > 0 {
		cfg.BatchSize = next.BatchSize
	}
	if next.ClaimTTL > 0 {
		cfg.ClaimTTL = next.ClaimTTL
	}
	return cfg
}

// Start 启动后台扫描循环
func (s *ExpirationScanner) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		interval := s.current().Interval
		logger.Ctx(ctx).Info().Dur("interval", interval).Msg("✅ Expiration scanner started")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.ScanOnce(ctx); err != nil && ctx.Err() == nil {
					logger.Ctx(ctx).Error().Err(err).Msg("expiration scan failed")
				}
				if next := s.current().Interval; next != interval {
					interval = next
					ticker.Reset(interval)
					logger.Ctx(ctx).Info().Dur("interval", interval).Msg("expiration scan interval changed")
				}
			case <-ctx.Done():
				logger.L().Info().Msg("🛑 Expiration scanner stopped")
				return
			}
		}
	}()
	return nil
}

func (s *ExpirationScanner) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// ScanOnce 执行一轮扫描，返回本轮实际过期的订单数
func (s *ExpirationScanner) ScanOnce(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.ExpirationScanner.ScanOnce")
	defer span.End()

	if s.lock != nil {
		release, err := s.lock.Acquire(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "acquire scan lock failed")
			return 0, err
		}
		defer release()
	}

	cfg := s.current()
	due, err := s.ledger.ListDue(ctx, s.clock.Now(), cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due orders failed")
		return 0, err
	}
	span.SetAttributes(attribute.Int("scan.due", len(due)))

	expired := 0
	for _, o := range due {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		ok, err := s.claim(ctx, o.ID, cfg.ClaimTTL)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", o.ID).Msg("claim failed, skipping this cycle")
			continue
		}
		if !ok {
			continue
		}
		applied, err := s.expire(ctx, o.ID)
		if err != nil {
			s.release(ctx, o.ID)
			logger.Ctx(ctx).Error().Err(err).Str("order_id", o.ID).Msg("failed to expire order")
			continue
		}
		if applied {
			expired++
		}
	}
	span.SetAttributes(attribute.Int("scan.expired", expired))
	return expired, nil
}

// ExpireOrder 处理按截止时间投递的单个订单到期检查
func (s *ExpirationScanner) ExpireOrder(ctx context.Context, orderID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "app.ExpirationScanner.ExpireOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()
	applied, err := s.expire(ctx, orderID)
	if err != nil {
		span.RecordError(err)
	}
	return applied, err
}

func (s *ExpirationScanner) expire(ctx context.Context, orderID string) (bool, error) {
	outcome, err := s.orch.Apply(ctx, domain.Event{OrderID: orderID, Trigger: domain.TriggerExpire})
	if err != nil {
		return false, err
	}
	if outcome.Applied {
		metrics.ExpirationsEmitted.Inc()
		logger.Ctx(ctx).Warn().Str("order_id", orderID).Msg("⏰ order expired without payment")
	}
	return outcome.Applied, nil
}

func expireKey(orderID string) string {
	return domain.Event{OrderID: orderID, Trigger: domain.TriggerExpire}.IdempotencyKey()
}

func (s *ExpirationScanner) claim(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	if s.claims == nil {
		return true, nil
	}
	return s.claims.Claim(ctx, expireScope, expireKey(orderID), ttl)
}

func (s *ExpirationScanner) release(ctx context.Context, orderID string) {
	if s.claims == nil {
		return
	}
	if err := s.claims.Release(ctx, expireScope, expireKey(orderID)); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("failed to release expiration claim")
	}
}
