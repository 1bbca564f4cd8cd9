package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 支持在 YAML 中以 "15m"、"30s" 的形式书写时长
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config 是所有进程共享的配置结构
type Config struct {
	App       AppConfig       `yaml:"app"`
	Order     OrderConfig     `yaml:"order"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Refund    RefundConfig    `yaml:"refund"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Infra     InfraConfig     `yaml:"infra"`
}

type AppConfig struct {
	Name        string  `yaml:"name"`
	Port        int     `yaml:"port"`
	LogLevel    string  `yaml:"log_level"`
	LogFile     string  `yaml:"log_file"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type OrderConfig struct {
	PaymentWindow   Duration `yaml:"payment_window"`
	RefundPolicy    string   `yaml:"refund_policy"`
	ConflictRetries int      `yaml:"conflict_retries"`
	GatewayTimeout  Duration `yaml:"gateway_timeout"`
}

type SchedulerConfig struct {
	Interval      Duration `yaml:"interval"`
	BatchSize     int      `yaml:"batch_size"`
	ClaimTTL      Duration `yaml:"claim_ttl"`
	ZookeeperLock bool     `yaml:"zookeeper_lock"`
}

type RefundConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
}

type OutboxConfig struct {
	Interval  Duration `yaml:"interval"`
	BatchSize int      `yaml:"batch_size"`
}

type GatewayConfig struct {
	TmnCode    string `yaml:"tmn_code"`
	HashSecret string `yaml:"hash_secret"`
	PayURL     string `yaml:"pay_url"`
	RefundURL  string `yaml:"refund_url"`
	ReturnURL  string `yaml:"return_url"`
}

type InfraConfig struct {
	Ledger    string          `yaml:"ledger"` // mysql | memory
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

type KafkaTopics struct {
	Delay              string `yaml:"delay"`
	ExpirationCheck    string `yaml:"expiration_check"`
	RefundRequests     string `yaml:"refund_requests"`
	ManualIntervention string `yaml:"manual_intervention"`
	StatusChanged      string `yaml:"status_changed"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type ZookeeperConfig struct {
	Servers []string `yaml:"servers"`
}

type NacosConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addrs     string `yaml:"addrs"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`
	DataID    string `yaml:"data_id"`
}

// DefaultConfig 返回可以直接在本地 (memory ledger) 运行的默认配置
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Name: "order-service", Port: 8080, LogLevel: "info", SampleRatio: 1},
		Order: OrderConfig{
			PaymentWindow:   Duration{15 * time.Minute},
			RefundPolicy:    `now - paid_at <= duration("168h")`,
			ConflictRetries: 5,
			GatewayTimeout:  Duration{15 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Interval:  Duration{30 * time.Second},
			BatchSize: 100,
			ClaimTTL:  Duration{2 * time.Minute},
		},
		Refund: RefundConfig{MaxAttempts: 3, Backoff: Duration{5 * time.Second}},
		Outbox: OutboxConfig{Interval: Duration{time.Second}, BatchSize: 100},
		Infra: InfraConfig{
			Ledger: "memory",
			Redis:  RedisConfig{Addr: "localhost:6379"},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: KafkaTopics{
					Delay:              "delay_topic_15m",
					ExpirationCheck:    "order-expiration-check",
					RefundRequests:     "order-refund-requests",
					ManualIntervention: "order-manual-intervention",
					StatusChanged:      "order-status-changed",
				},
			},
			Nacos: NacosConfig{Addrs: "localhost:8848", Group: "DEFAULT_GROUP"},
		},
	}
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置；Load 之前返回默认配置
func GetCurrentConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	cfg := DefaultConfig()
	return &cfg
}

// setCurrentConfig 原子替换配置，供 Nacos 热更新使用
func setCurrentConfig(cfg *Config) {
	current.Store(cfg)
}

// Load 依次叠加 默认值 -> YAML 文件 -> 环境变量，并校验结果。path 为空时跳过文件。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setCurrentConfig(&cfg)
	return &cfg, nil
}

// mergeYAML 把一段 YAML 叠加到 base 的副本上
func mergeYAML(base *Config, content string) (*Config, error) {
	next := *base
	if err := yaml.Unmarshal([]byte(content), &next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

func applyEnv(cfg *Config) {
	cfg.App.Name = getEnv("SERVICE_NAME", cfg.App.Name)
	if port, err := strconv.Atoi(getEnv("PORT", "")); err == nil {
		cfg.App.Port = port
	}
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFile = getEnv("LOG_FILE", cfg.App.LogFile)

	cfg.Gateway.TmnCode = getEnv("VNPAY_TMN_CODE", cfg.Gateway.TmnCode)
	cfg.Gateway.HashSecret = getEnv("VNPAY_HASH_SECRET", cfg.Gateway.HashSecret)
	cfg.Gateway.PayURL = getEnv("VNPAY_PAY_URL", cfg.Gateway.PayURL)
	cfg.Gateway.RefundURL = getEnv("VNPAY_REFUND_URL", cfg.Gateway.RefundURL)
	cfg.Gateway.ReturnURL = getEnv("VNPAY_RETURN_URL", cfg.Gateway.ReturnURL)

	cfg.Infra.Ledger = getEnv("LEDGER_DRIVER", cfg.Infra.Ledger)
	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", cfg.Infra.MySQL.DSN)
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", cfg.Infra.Redis.Addr)
	cfg.Infra.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Infra.Redis.Password)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if servers := getEnv("ZOOKEEPER_SERVERS", ""); servers != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(servers, ",")
	}
	if enabled, err := strconv.ParseBool(getEnv("NACOS_ENABLED", "")); err == nil {
		cfg.Infra.Nacos.Enabled = enabled
	}
	cfg.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.Addrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	cfg.Infra.Nacos.DataID = getEnv("NACOS_DATA_ID", cfg.Infra.Nacos.DataID)
}

// Validate 检查会导致运行期错误的配置
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port out of range: %d", c.App.Port)
	}
	if c.Order.PaymentWindow.Duration <= 0 {
		return fmt.Errorf("order.payment_window must be positive")
	}
	if c.Order.GatewayTimeout.Duration <= 0 {
		return fmt.Errorf("order.gateway_timeout must be positive")
	}
	if c.Order.ConflictRetries < 1 {
		return fmt.Errorf("order.conflict_retries must be at least 1")
	}
	if c.Scheduler.Interval.Duration <= 0 || c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.interval and scheduler.batch_size must be positive")
	}
	if c.Refund.MaxAttempts < 1 {
		return fmt.Errorf("refund.max_attempts must be at least 1")
	}
	switch c.Infra.Ledger {
	case "memory":
	case "mysql":
		if c.Infra.MySQL.DSN == "" {
			return fmt.Errorf("infra.mysql.dsn is required for the mysql ledger")
		}
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Infra.Ledger)
	}
	return nil
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
