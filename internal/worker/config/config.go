package config

import (
	"fmt"
	"treasury-worker/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config 定义整个配置的结构
type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
	Chain         ChainConfig         `mapstructure:"chain"`
	Pricing       PricingConfig       `mapstructure:"pricing"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
	GasTopUp      GasTopUpConfig      `mapstructure:"gas_topup"`
	Rebalance     RebalanceConfig     `mapstructure:"rebalance"`
	Batch         BatchConfig         `mapstructure:"batch"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	TopicEvents string `mapstructure:"topic_events"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	DBMetrics int    `mapstructure:"db_metrics"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ElasticsearchConfig struct {
	Addresses       []string `mapstructure:"addresses"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	EventsIndexName string   `mapstructure:"events_index_name"`
}

// LogConfig Log 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MonitorConfig struct {
	Enable         bool   `mapstructure:"enable"`
	PrometheusAddr string `mapstructure:"prometheus_addr"`
}

// ChainConfig 链扫描配置
type ChainConfig struct {
	RPCURL            string   `mapstructure:"rpc_url"`
	ChainID           int64    `mapstructure:"chain_id"`
	NativeSymbol      string   `mapstructure:"native_symbol"`
	PollIntervalSec   int      `mapstructure:"poll_interval_sec"`    // 扫描周期，默认15s
	ErrorBackoffSec   int      `mapstructure:"error_backoff_sec"`    // 整周期失败后的退避，默认60s
	BlockBatchSize    uint64   `mapstructure:"block_batch_size"`     // 子区间大小，默认10
	InterBatchDelayMs int      `mapstructure:"inter_batch_delay_ms"` // 子区间之间的限速间隔，默认200ms
	QueueCapacity     int      `mapstructure:"queue_capacity"`       // 事件队列容量，默认1000
	FlushBatchSize    int      `mapstructure:"flush_batch_size"`     // 单次落库批量，默认50
	FlushIntervalSec  int      `mapstructure:"flush_interval_sec"`   // 落库周期，默认5s
	WatchedAddresses  []string `mapstructure:"watched_addresses"`    // 启动时预置的监控地址
}

// PricingConfig 外部报价源与分层缓存配置
type PricingConfig struct {
	BaseURL         string             `mapstructure:"base_url"`
	APIKey          string             `mapstructure:"api_key"`
	RateLimit       int                `mapstructure:"rate_limit"` // 每分钟请求次数
	TimeoutSec      int                `mapstructure:"timeout_sec"`
	CacheTTLSec     int                `mapstructure:"cache_ttl_sec"` // 新鲜阈值，默认60s
	FetchTimeoutSec int                `mapstructure:"fetch_timeout_sec"`
	ChunkSize       int                `mapstructure:"chunk_size"`     // 批量拉取分块大小，默认20
	ChunkDelayMs    int                `mapstructure:"chunk_delay_ms"` // 分块之间的间隔，默认200ms
	FallbackPrices  map[string]float64 `mapstructure:"fallback_prices"`
}

// JobsConfig 作业编排通用配置
type JobsConfig struct {
	MaxConcurrentJobs int  `mapstructure:"max_concurrent_jobs"`
	DryRun            bool `mapstructure:"dry_run"`
	RetentionHours    int  `mapstructure:"retention_hours"` // 终态作业保留时长，默认720h
}

// GasTopUpConfig gas 补充域配置，余额单位为原生币
type GasTopUpConfig struct {
	Enable     bool     `mapstructure:"enable"`
	MinBalance float64  `mapstructure:"min_balance"`
	Buffer     float64  `mapstructure:"buffer"`
	MaxBalance float64  `mapstructure:"max_balance"`
	Wallets    []string `mapstructure:"wallets"`
}

// RebalanceConfig 调仓域配置，目标配比为百分比且总和必须为100
type RebalanceConfig struct {
	Enable               bool               `mapstructure:"enable"`
	Group                string             `mapstructure:"group"`
	Targets              map[string]float64 `mapstructure:"targets"`
	TolerancePercent     float64            `mapstructure:"tolerance_percent"`
	MinPortfolioValueUSD float64            `mapstructure:"min_portfolio_value_usd"`
	MaxSingleTradeUSD    float64            `mapstructure:"max_single_trade_usd"`
	MinTradeValueUSD     float64            `mapstructure:"min_trade_value_usd"`
}

// BatchConfig 批处理域配置
type BatchConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

func InitConfig() Config {
	var config Config

	viper.SetConfigName("config.worker")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config/")

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}

	if err := mapstructure.Decode(viper.AllSettings(), &config); err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}

	return config
}

func WatchConfig(config *Config) {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := InitConfig()
		*config = newConfig
		logger.SetLogLevel(config.Log.Level)
	})
}
