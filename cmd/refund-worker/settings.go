// cmd/refund-worker/settings.go
package main

import (
	"checkout/internal/pkg/bootstrap"
	"checkout/internal/service/order/application"
)

// 退款重试参数与退款规则在使用时读取当前配置，Nacos 推送的变更即时生效

func refundSettings() application.RefundSettings {
	r := bootstrap.GetCurrentConfig().Refund
	return application.RefundSettings{MaxAttempts: r.MaxAttempts, Backoff: r.Backoff.Duration}
}

func refundPolicyExpr() string {
	return bootstrap.GetCurrentConfig().Order.RefundPolicy
}
