package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Service     string           `yaml:"service" default:"quant-engine"`
	Server      ServerConfig     `yaml:"server"`
	Log         LogConfig        `yaml:"log"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Engine      EngineConfig     `yaml:"engine"`
	Pricing     PricingConfig    `yaml:"pricing"`
	Sentiment   SentimentConfig  `yaml:"sentiment"`
	Redis       RedisConfig      `yaml:"redis"`
	Queue       QueueConfig      `yaml:"queue"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8000"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"90s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	CORSOrigins     []string      `yaml:"cors_origins" default:"[\"http://localhost:5173\",\"http://localhost:3000\"]"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json"`
	Output string `yaml:"output" default:"stdout"`
	// Error aggregation shipped to Kafka; only active when kafka is enabled.
	CollectInterval  time.Duration `yaml:"collect_interval" default:"30s"`
	CollectThreshold int           `yaml:"collect_threshold" default:"100"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"/metrics"`
}

type EngineConfig struct {
	RiskFreeRate    float64       `yaml:"risk_free_rate" default:"0.03"`
	TradingDays     int           `yaml:"trading_days" default:"252"`
	LookbackDays    int           `yaml:"lookback_days" default:"730"`
	MinObservations int           `yaml:"min_observations" default:"30"`
	FrontierSeed    int64         `yaml:"frontier_seed" default:"42"`
	ComputeWorkers  int           `yaml:"compute_workers"` // 0 means GOMAXPROCS
	ComputeQueue    int           `yaml:"compute_queue" default:"64"`
	ComputeTimeout  time.Duration `yaml:"compute_timeout" default:"60s"`
	MaxIterations   int           `yaml:"max_iterations" default:"2000"`
}

type AlphaVantageConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url" default:"https://www.alphavantage.co"`
}

type RateLimitConfig struct {
	Capacity     float64 `yaml:"capacity" default:"5"`
	RefillPerSec float64 `yaml:"refill_per_sec" default:"2"`
}

type PricingConfig struct {
	// Sources lists price sources in fallback order.
	Sources      []string           `yaml:"sources" default:"[\"clickhouse\",\"backend\",\"yahoo\",\"alphavantage\"]"`
	Timeout      time.Duration      `yaml:"timeout" default:"10s"`
	BackendURL   string             `yaml:"backend_url" default:"http://localhost:3001/api"`
	BackendToken string             `yaml:"backend_token"`
	YahooPeriods []string           `yaml:"yahoo_periods" default:"[\"2y\",\"1y\",\"6mo\"]"`
	AlphaVantage AlphaVantageConfig `yaml:"alphavantage"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	// StoreFetched writes series fetched from external sources back to ClickHouse.
	StoreFetched bool `yaml:"store_fetched"`
}

type SentimentConfig struct {
	Trees        int           `yaml:"trees" default:"150"`
	MaxDepth     int           `yaml:"max_depth" default:"10"`
	MinLeaf      int           `yaml:"min_leaf" default:"2"`
	Seed         int64         `yaml:"seed" default:"42"`
	TestFraction float64       `yaml:"test_fraction" default:"0.2"`
	Horizon      int           `yaml:"horizon" default:"5"`
	Threshold    float64       `yaml:"threshold" default:"0.02"`
	MinRows      int           `yaml:"min_rows" default:"30"`
	TrainDays    int           `yaml:"train_days" default:"365"`
	PredictDays  int           `yaml:"predict_days" default:"240"`
	CacheTTL     time.Duration `yaml:"cache_ttl" default:"30m"`
	ModelVersion string        `yaml:"model_version" default:"rf-tech-1"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"quant"`
	// MemoryCapacity sizes the in-process cache used alone or as the first layer.
	MemoryCapacity int `yaml:"memory_capacity" default:"1000"`
}

type QueueConfig struct {
	Name       string        `yaml:"name" default:"sentiment-train"`
	Workers    int           `yaml:"workers" default:"1"`
	RetryLimit int           `yaml:"retry_limit" default:"2"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
}

type KafkaTopics struct {
	Events string `yaml:"events" default:"quant.engine.events"`
	Logs   string `yaml:"logs" default:"quant.engine.logs"`
	Bars   string `yaml:"bars" default:"quant.daily_bars"`
}

type KafkaProducerConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"5"`
	Linger       time.Duration `yaml:"linger" default:"50ms"`
	BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
}

type KafkaConsumerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	GroupID    string        `yaml:"group_id" default:"quant-engine"`
	Workers    int           `yaml:"workers" default:"4"`
	BufferSize int           `yaml:"buffer_size" default:"256"`
	RetryMax   int           `yaml:"retry_max" default:"3"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
	DLQTopic   string        `yaml:"dlq_topic" default:"quant.daily_bars.dlq"`
	MinBytes   int           `yaml:"min_bytes" default:"1"`
	MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
}

type KafkaConfig struct {
	Enabled      bool                `yaml:"enabled"`
	Brokers      []string            `yaml:"brokers" default:"[\"localhost:9092\"]"`
	RequiredAcks int                 `yaml:"required_acks" default:"-1"`
	Compression  string              `yaml:"compression" default:"snappy"`
	Topics       KafkaTopics         `yaml:"topics"`
	Producer     KafkaProducerConfig `yaml:"producer"`
	Consumer     KafkaConsumerConfig `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"quant"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	InitSchema       bool          `yaml:"init_schema"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	flag := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("APP_ENV", &c.Environment)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	if v := getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}

	str("BACKEND_API_URL", &c.Pricing.BackendURL)
	str("BACKEND_API_TOKEN", &c.Pricing.BackendToken)
	str("ALPHAVANTAGE_API_KEY", &c.Pricing.AlphaVantage.APIKey)
	list("PRICE_SOURCES", &c.Pricing.Sources)

	flag("REDIS_ENABLED", &c.Redis.Enabled)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)

	flag("KAFKA_ENABLED", &c.Kafka.Enabled)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)

	flag("CLICKHOUSE_ENABLED", &c.ClickHouse.Enabled)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_USER", &c.ClickHouse.User)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var knownSources = map[string]bool{
	"clickhouse":   true,
	"backend":      true,
	"yahoo":        true,
	"alphavantage": true,
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if len(c.Pricing.Sources) == 0 {
		return fmt.Errorf("pricing.sources cannot be empty")
	}
	for _, s := range c.Pricing.Sources {
		if !knownSources[s] {
			return fmt.Errorf("pricing.sources: unknown source %q", s)
		}
	}
	if c.Pricing.Timeout <= 0 {
		return fmt.Errorf("pricing.timeout must be positive")
	}
	if c.Engine.TradingDays <= 0 {
		return fmt.Errorf("engine.trading_days must be positive")
	}
	if c.Engine.MinObservations < 2 {
		return fmt.Errorf("engine.min_observations must be at least 2")
	}
	if c.Sentiment.Trees <= 0 {
		return fmt.Errorf("sentiment.trees must be positive")
	}
	if c.Sentiment.TestFraction <= 0 || c.Sentiment.TestFraction >= 1 {
		return fmt.Errorf("sentiment.test_fraction must be in (0,1), got %v", c.Sentiment.TestFraction)
	}
	if c.Sentiment.Horizon <= 0 {
		return fmt.Errorf("sentiment.horizon must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	return nil
}
