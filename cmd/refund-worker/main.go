// cmd/refund-worker/main.go
package main

import (
	"checkout/internal/pkg/bootstrap"
	"checkout/internal/pkg/httpclient"
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/mq"
	"checkout/internal/service/order/application"
	"checkout/internal/service/order/infrastructure"
	"checkout/internal/service/order/infrastructure/adapter"
	"checkout/internal/service/order/interfaces"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
)

const serviceName = "refund-worker"

// main 组装补偿退款 worker：消费 REFUND_REQUIRED 信号，调用网关退款，失败转人工
func main() {
	cfg, err := bootstrap.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel, cfg.App.LogFile)
	log := logger.L()

	nacosClient, err := bootstrap.ConnectNacos(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect nacos")
	}
	cfg = bootstrap.GetCurrentConfig()

	if cfg.Infra.Ledger == "memory" {
		log.Warn().Msg("refund-worker is running on an in-memory ledger, it will not see orders written by order-service")
	}

	tracer := otel.Tracer(serviceName)
	var clock application.Clock

	ledger, closeLedger, err := infrastructure.OpenLedger(cfg.Infra.Ledger, cfg.Infra.MySQL.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger")
	}
	policy, err := adapter.NewReloadingRefundPolicy(refundPolicyExpr)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid refund policy")
	}
	orch := application.NewOrchestrator(ledger, policy, clock, cfg.Order.ConflictRetries, tracer)

	gateway := adapter.NewVNPayGateway(adapter.VNPayConfig{
		TmnCode:    cfg.Gateway.TmnCode,
		HashSecret: cfg.Gateway.HashSecret,
		PayURL:     cfg.Gateway.PayURL,
		RefundURL:  cfg.Gateway.RefundURL,
		ReturnURL:  cfg.Gateway.ReturnURL,
	}, httpclient.NewClient(tracer, cfg.Order.GatewayTimeout.Duration))

	brokers := cfg.Infra.Kafka.Brokers
	topics := cfg.Infra.Kafka.Topics
	writers := infrastructure.NewWriterPool(brokers)
	escalation := adapter.NewSignalKafkaAdapter(adapter.SignalTopics{ManualIntervention: topics.ManualIntervention}, writers.Writer)

	settler := application.NewRefundSettler(ledger, orch, gateway, escalation,
		cfg.Refund.MaxAttempts, cfg.Refund.Backoff.Duration, clock, tracer).WithSettings(refundSettings)

	consumer := infrastructure.NewKafkaConsumer(topics.RefundRequests,
		mq.NewKafkaReader(brokers, topics.RefundRequests, serviceName+"-group"),
		interfaces.NewRefundHandler(settler).Handle,
		mq.NewFailureHandler(writers.Writer(topics.ManualIntervention)))

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		Nacos:       nacosClient,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		Components: []bootstrap.Component{consumer},
		Cleanup:    []func() error{writers.Close, closeLedger},
	})
}
