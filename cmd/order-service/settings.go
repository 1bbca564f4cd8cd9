// cmd/order-service/settings.go
package main

import (
	"checkout/internal/pkg/bootstrap"
	"checkout/internal/service/order/application"
	"checkout/internal/service/order/domain"
	"checkout/internal/service/order/domain/port"
	"checkout/internal/service/order/infrastructure/adapter"

	"go.opentelemetry.io/otel/trace"
)

// 以下函数在使用时读取 bootstrap.GetCurrentConfig()，Nacos 推送的变更无需重启即可生效

func scannerSettings() application.ScannerConfig {
	s := bootstrap.GetCurrentConfig().Scheduler
	return application.ScannerConfig{
		Interval:  s.Interval.Duration,
		BatchSize: s.BatchSize,
		ClaimTTL:  s.ClaimTTL.Duration,
	}
}

func refundPolicyExpr() string {
	return bootstrap.GetCurrentConfig().Order.RefundPolicy
}

func newExpirationScanner(ledger domain.Ledger, orch *application.Orchestrator, idem port.IdempotencyStore,
	lock port.ScanLock, clock application.Clock, tracer trace.Tracer) *application.ExpirationScanner {
	return application.NewExpirationScanner(ledger, orch, idem, lock, scannerSettings(), clock, tracer).
		WithSettings(scannerSettings)
}

func newRefundPolicy() (domain.RefundPolicy, error) {
	return adapter.NewReloadingRefundPolicy(refundPolicyExpr)
}
