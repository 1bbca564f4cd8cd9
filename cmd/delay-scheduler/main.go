// cmd/delay-scheduler/main.go
package main

import (
	"checkout/internal/pkg/bootstrap"
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/mq"
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	serviceName  = "delay-scheduler"
	pollInterval = time.Second
)

// forwarder 让 DelayForwarder 以后台组件的方式随服务启停
type forwarder struct {
	*mq.DelayForwarder
	cancel context.CancelFunc
	done   chan struct{}
}

func (f *forwarder) Start(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go func() {
		defer close(f.done)
		f.Run(ctx, pollInterval)
	}()
	return nil
}

func (f *forwarder) Stop(ctx context.Context) {
	if f.cancel != nil {
		f.cancel()
	}
	select {
	case <-f.done:
	case <-ctx.Done():
	}
}

func main() {
	cfg, err := bootstrap.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel, cfg.App.LogFile)

	nacosClient, err := bootstrap.ConnectNacos(cfg)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to connect nacos")
	}
	cfg = bootstrap.GetCurrentConfig()

	brokers := cfg.Infra.Kafka.Brokers
	// 延迟级别 -> 级别延迟；订单到期检查消息自带 delay-timestamp，级别延迟只是下限
	delayLevels := map[string]time.Duration{
		cfg.Infra.Kafka.Topics.Delay: cfg.Order.PaymentWindow.Duration,
	}

	var components []bootstrap.Component
	for level, delay := range delayLevels {
		reader := mq.NewKafkaReader(brokers, level, serviceName+"-group-"+level)
		f := mq.NewDelayForwarder(level, delay, reader, func(topic string) mq.MessageWriter {
			return mq.NewKafkaWriter(brokers, topic)
		})
		components = append(components, &forwarder{DelayForwarder: f})
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		Nacos:       nacosClient,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		Components: components,
	})
}
