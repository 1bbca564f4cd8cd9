// cmd/order-service/main.go
package main

import (
	"checkout/internal/pkg/bootstrap"
	"checkout/internal/pkg/httpclient"
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/mq"
	"checkout/internal/pkg/redis"
	"checkout/internal/service/order/application"
	"checkout/internal/service/order/domain/port"
	"checkout/internal/service/order/infrastructure"
	"checkout/internal/service/order/infrastructure/adapter"
	"checkout/internal/service/order/interfaces"
	"checkout/internal/zookeeper"
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

const (
	serviceName      = "order-service"
	scanLockResource = "order-expiration-scan"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := bootstrap.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel, cfg.App.LogFile)
	log := logger.L()

	// 远程配置需在组装依赖之前叠加
	nacosClient, err := bootstrap.ConnectNacos(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect nacos")
	}
	cfg = bootstrap.GetCurrentConfig()

	tracer := otel.Tracer(serviceName)
	var clock application.Clock // nil 表示系统时钟 (UTC)
	var cleanup []func() error

	// 1. 账本与状态机
	ledger, closeLedger, err := infrastructure.OpenLedger(cfg.Infra.Ledger, cfg.Infra.MySQL.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger")
	}
	cleanup = append(cleanup, closeLedger)

	policy, err := newRefundPolicy()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid refund policy")
	}
	orch := application.NewOrchestrator(ledger, policy, clock, cfg.Order.ConflictRetries, tracer)

	// 2. 外部协作方
	gateway := adapter.NewVNPayGateway(adapter.VNPayConfig{
		TmnCode:    cfg.Gateway.TmnCode,
		HashSecret: cfg.Gateway.HashSecret,
		PayURL:     cfg.Gateway.PayURL,
		RefundURL:  cfg.Gateway.RefundURL,
		ReturnURL:  cfg.Gateway.ReturnURL,
	}, httpclient.NewClient(tracer, cfg.Order.GatewayTimeout.Duration))

	var idem port.IdempotencyStore = adapter.NewMemoryIdempotencyStore()
	if cfg.Infra.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := redis.NewClient(ctx, cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis client")
		}
		cleanup = append(cleanup, redisClient.Close)
		if idem, err = adapter.NewRedisIdempotencyStore(redisClient); err != nil {
			log.Fatal().Err(err).Msg("failed to load idempotency scripts")
		}
	}

	var scanLock port.ScanLock
	if cfg.Scheduler.ZookeeperLock {
		zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 10*time.Second)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to zookeeper")
		}
		cleanup = append(cleanup, func() error { zkConn.Close(); return nil })
		scanLock = adapter.NewZookeeperScanLock(zkConn, scanLockResource)
	}

	brokers := cfg.Infra.Kafka.Brokers
	topics := cfg.Infra.Kafka.Topics
	writers := infrastructure.NewWriterPool(brokers)
	signals := adapter.NewSignalKafkaAdapter(adapter.SignalTopics{
		RefundRequests:     topics.RefundRequests,
		ManualIntervention: topics.ManualIntervention,
		StatusChanged:      topics.StatusChanged,
	}, writers.Writer)
	deadlines := adapter.NewSchedulerKafkaAdapter(writers.Writer(topics.Delay), topics.ExpirationCheck)

	// 3. 应用服务
	svc := application.NewOrderService(application.OrderServiceDeps{
		Ledger:        ledger,
		Orchestrator:  orch,
		Verifier:      application.NewVerifier(gateway, cfg.Order.GatewayTimeout.Duration),
		Gateway:       gateway,
		Scheduler:     deadlines,
		Idempotency:   idem,
		PaymentWindow: cfg.Order.PaymentWindow.Duration,
		Clock:         clock,
		Tracer:        tracer,
	})
	coord := application.NewCoordinator(ledger, orch, tracer)
	scanner := newExpirationScanner(ledger, orch, idem, scanLock, clock, tracer)
	relay := application.NewOutboxRelay(ledger, signals, cfg.Outbox.Interval.Duration, cfg.Outbox.BatchSize, clock, tracer)
	hub := interfaces.NewWatchHub()

	// 4. 驱动适配器
	failures := mq.NewFailureHandler(writers.Writer(topics.ManualIntervention))
	expirationConsumer := infrastructure.NewKafkaConsumer(topics.ExpirationCheck,
		mq.NewKafkaReader(brokers, topics.ExpirationCheck, serviceName+"-expiration-group"),
		interfaces.NewExpirationHandler(scanner).Handle, failures)
	manualConsumer := infrastructure.NewKafkaConsumer(topics.ManualIntervention,
		mq.NewKafkaReader(brokers, topics.ManualIntervention, serviceName+"-manual-intervention-group"),
		interfaces.NewManualInterventionHandler().Handle, nil)
	// 每个实例独立的消费组，所有实例上的 websocket 连接都能收到推送
	watchConsumer := infrastructure.NewKafkaConsumer(topics.StatusChanged,
		mq.NewKafkaReader(brokers, topics.StatusChanged, serviceName+"-watch-"+uuid.NewString()[:8]),
		hub.HandleStatusChange, nil)

	cleanup = append(cleanup,
		func() error { hub.Close(); return nil },
		writers.Close,
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		Nacos:       nacosClient,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewOrderHandler(svc, coord, hub, clock).RegisterRoutes(appCtx.Mux)
		},
		Components: []bootstrap.Component{scanner, relay, expirationConsumer, manualConsumer, watchConsumer},
		Cleanup:    cleanup,
	})
}
