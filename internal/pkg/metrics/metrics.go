// Package metrics 汇总订单对账服务的 Prometheus 指标，通过 /metrics 暴露。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "checkout"

var (
	// Transitions 记录每一次被接受的状态迁移
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_transitions_total",
		Help:      "Accepted order ledger mutations by trigger and lifecycle edge.",
	}, []string{"trigger", "from", "to"})

	// RejectedEvents 记录被守卫拒绝或判定为重复的事件
	RejectedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_rejected_events_total",
		Help:      "Events that produced no ledger write, by trigger and reason.",
	}, []string{"trigger", "reason"})

	LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_conflicts_total",
		Help:      "Optimistic concurrency conflicts observed by the orchestrator.",
	})

	// IntegrityFailures 签名错误、报文错误、金额不符
	IntegrityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_integrity_failures_total",
		Help:      "Gateway callbacks rejected for integrity reasons.",
	}, []string{"kind"})

	ManualInterventions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "manual_interventions_total",
		Help:      "Orders escalated for manual handling.",
	}, []string{"kind"})

	ExpirationsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "expirations_emitted_total",
		Help:      "ExpireOrder events emitted by the expiration scanner.",
	})

	CallbackDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_callback_duration_seconds",
		Help:      "Latency of gateway callback handling.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint", "outcome"})
)
