// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/pkg/nacos"
	"checkout/internal/pkg/tracing"
	"checkout/internal/pkg/utils"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Component 是随服务一起启动、关停的后台组件（消费者、扫描器、relay 等）
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未启用 Nacos 时为 nil
	Config *Config
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 一个函数，允许每个服务注册自己独特的 HTTP 路由
	// Nacos 由 ConnectNacos 创建；非 nil 时用于服务注册，关停时由 StartService 关闭
	Nacos            *nacos.Client
	Components       []Component
	// Cleanup 在所有组件停止之后执行，用于关闭数据库、Redis、Kafka writer 等
	Cleanup []func() error
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	log := logger.L()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.App.SampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. Nacos (可选)：注册服务。远程配置已在 ConnectNacos 中加载
	namingClient := info.Nacos
	var ip string
	if namingClient != nil {
		if ip, err = utils.GetOutboundIP(); err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 3. 后台组件
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	for _, c := range info.Components {
		if err := c.Start(runCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to start component")
		}
	}

	// 4. HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient, Config: cfg})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("🚀 listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Str("service", info.ServiceName).Msg("Shutting down service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// a. 先从注册中心摘除，避免新流量进入
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		namingClient.Close()
	}

	// b. 停止接收 HTTP 请求
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	}

	// c. 并发停止所有后台组件
	stopRun()
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range info.Components {
		c := c
		g.Go(func() error {
			c.Stop(gctx)
			return nil
		})
	}
	_ = g.Wait()

	for _, fn := range info.Cleanup {
		if err := fn(); err != nil {
			log.Error().Err(err).Msg("Error during cleanup")
		}
	}

	// d. 确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	log.Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
}

// RemoteConfigSource 是远程配置中心的最小接口，*nacos.Client 实现了它
type RemoteConfigSource interface {
	GetConfig(dataID string) (string, error)
	ListenConfig(dataID string, onChange func(content string)) error
}

// ConnectNacos 在组装依赖之前调用：启用 Nacos 时创建客户端，把远程配置叠加到当前配置并订阅变更。
// 未启用时返回 nil。调用方应在之后通过 GetCurrentConfig 读取叠加后的配置。
func ConnectNacos(cfg *Config) (*nacos.Client, error) {
	if !cfg.Infra.Nacos.Enabled {
		return nil, nil
	}
	client, err := nacos.NewClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		return nil, fmt.Errorf("init nacos client: %w", err)
	}
	if cfg.Infra.Nacos.DataID != "" {
		if err := WatchRemoteConfig(client, cfg.Infra.Nacos.DataID); err != nil {
			client.Close()
			return nil, fmt.Errorf("load remote config %s: %w", cfg.Infra.Nacos.DataID, err)
		}
	}
	return client, nil
}

// ApplyRemote 把一段 YAML 叠加到当前配置上并发布；校验失败时当前配置不变
func ApplyRemote(content string) (*Config, error) {
	next, err := mergeYAML(GetCurrentConfig(), content)
	if err != nil {
		return nil, err
	}
	setCurrentConfig(next)
	return next, nil
}

// WatchRemoteConfig 把远程 YAML 叠加到当前配置，并在变更时热更新
func WatchRemoteConfig(src RemoteConfigSource, dataID string) error {
	content, err := src.GetConfig(dataID)
	if err != nil {
		return err
	}
	if content != "" {
		if _, err := ApplyRemote(content); err != nil {
			return err
		}
	}
	return src.ListenConfig(dataID, func(content string) {
		if _, err := ApplyRemote(content); err != nil {
			logger.L().Error().Err(err).Str("data_id", dataID).Msg("Ignoring invalid remote config")
			return
		}
		logger.L().Info().Str("data_id", dataID).Msg("🔄 Remote config reloaded")
	})
}
