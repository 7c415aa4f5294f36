package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"FixedTime/pkg/logger"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"required"`
	Server      ServerConfig  `yaml:"server"`
	Log         logger.Config `yaml:"log"`
	Metrics     struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Engine     EngineConfig     `yaml:"engine"`
	Limits     LimitsConfig     `yaml:"limits"`
	Amount     AmountConfig     `yaml:"amount"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Ensemble   EnsembleConfig   `yaml:"ensemble"`
	Storage    StorageConfig    `yaml:"storage"`
	Connector  ConnectorConfig  `yaml:"connector"`
	Accounts   []AccountConfig  `yaml:"accounts" validate:"dive"`
	Products   []ProductConfig  `yaml:"products" validate:"dive"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Features   struct {
		TradeEnabled bool `yaml:"trade_enabled" default:"true"`
		PaperMode    bool `yaml:"paper_mode" default:"true"`
	} `yaml:"features"`
	Catalog struct {
		AutoThreshold bool    `yaml:"auto_threshold"`
		Margin        float64 `yaml:"margin" default:"0.02" validate:"gte=0,lte=0.2"`
	} `yaml:"catalog"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	CORS            bool          `yaml:"cors"`

	// OpsRateLimit caps mutating ops calls per client IP and minute.
	OpsRateLimit int `yaml:"ops_rate_limit" default:"60" validate:"gte=1"`
}

type EngineConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" default:"250ms"`
	Lookback     int           `yaml:"lookback" default:"300" validate:"gte=30,lte=5000"`
	MinCandles   int           `yaml:"min_candles" default:"30" validate:"gte=1"`
	Grace        time.Duration `yaml:"grace" default:"500ms"`
	Jitter       time.Duration `yaml:"jitter" default:"100ms"`

	// MaxBacktestBars caps the candles one backtest may replay.
	MaxBacktestBars int `yaml:"max_backtest_bars" default:"5000" validate:"gte=100,lte=100000"`
}

type LimitsConfig struct {
	MaxDailyLoss         float64       `yaml:"max_daily_loss" default:"5" validate:"gt=0"`
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses" default:"5" validate:"gte=1"`
	CooldownBase         time.Duration `yaml:"cooldown_base" default:"30s"`
	CooldownCap          time.Duration `yaml:"cooldown_cap" default:"5m"`
}

type AmountConfig struct {
	Mode        string  `yaml:"mode" default:"fixed" validate:"oneof=fixed fraction kelly_lite"`
	FixedAmount float64 `yaml:"fixed_amount" default:"1" validate:"gt=0"`
	Fraction    float64 `yaml:"fraction" default:"0.02" validate:"gt=0,lte=1"`
	KellyScale  float64 `yaml:"kelly_scale" default:"0.2" validate:"gt=0,lte=1"`
	AMin        float64 `yaml:"a_min" default:"1" validate:"gt=0"`
	ACap        float64 `yaml:"a_cap" default:"10" validate:"gtefield=AMin"`
}

type GuardrailsConfig struct {
	KillSwitch          bool          `yaml:"kill_switch"`
	CBConsecutiveLosses int           `yaml:"cb_consecutive_losses" default:"5" validate:"gte=1"`
	CBCooldown          time.Duration `yaml:"cb_cooldown" default:"10m"`
}

type ExecutorConfig struct {
	MaxSendAttempts     int           `yaml:"max_send_attempts" default:"3" validate:"gte=1,lte=10"`
	SendBaseDelay       time.Duration `yaml:"send_base_delay" default:"500ms"`
	SendMaxDelay        time.Duration `yaml:"send_max_delay" default:"8s"`
	JitterPercent       uint64        `yaml:"jitter_percent" default:"15" validate:"lte=100"`
	ConfirmInterval     time.Duration `yaml:"confirm_interval" default:"1s"`
	ConfirmSlowInterval time.Duration `yaml:"confirm_slow_interval" default:"2s"`
	ConfirmSlowAfter    int           `yaml:"confirm_slow_after" default:"10"`
	ConfirmTimeout      time.Duration `yaml:"confirm_timeout" default:"120s"`
	PushCountsAsWin     bool          `yaml:"push_counts_as_win"`
	LockTTL             time.Duration `yaml:"lock_ttl" default:"5m"`
}

type EnsembleConfig struct {
	SCap                  float64 `yaml:"s_cap" default:"2" validate:"gt=0"`
	A                     float64 `yaml:"a" default:"1"`
	B                     float64 `yaml:"b"`
	Alpha                 float64 `yaml:"alpha" default:"0.1" validate:"gt=0,lte=1"`
	WMax                  float64 `yaml:"w_max" default:"0.4" validate:"gt=0,lte=1"`
	MinCalibrationSamples int     `yaml:"min_calibration_samples" default:"10" validate:"gte=10"`
}

type StorageConfig struct {
	Driver     string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres"`
	SQLitePath string `yaml:"sqlite_path" default:"data/fixedtime.db"`
	Postgres   struct {
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"5432"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database" default:"fixedtime"`
		SSLMode  string `yaml:"ssl_mode" default:"disable"`
	} `yaml:"postgres"`
}

type ConnectorConfig struct {
	Type                string        `yaml:"type" default:"mock" validate:"oneof=mock http"`
	BaseURL             string        `yaml:"base_url"`
	Timeout             time.Duration `yaml:"timeout" default:"10s"`
	RateLimitPerAccount int           `yaml:"rate_limit_per_account" default:"15" validate:"gte=1"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval" default:"30s"`
	Seed                int64         `yaml:"seed" default:"42"`
}

type AccountConfig struct {
	ID       string  `yaml:"id" validate:"required"`
	Username string  `yaml:"username"`
	Password string  `yaml:"password"`
	Balance  float64 `yaml:"balance" default:"1000" validate:"gte=0"`
	Disabled bool    `yaml:"disabled"`
}

type ProductConfig struct {
	Product    string            `yaml:"product" validate:"required"`
	Strategies []int             `yaml:"strategies"`
	Timeframes []TimeframeConfig `yaml:"timeframes" validate:"dive"`
}

type TimeframeConfig struct {
	TF           int     `yaml:"tf" default:"1" validate:"oneof=1 5 15"`
	WinThreshold float64 `yaml:"win_threshold" default:"0.70" validate:"gte=0.5,lte=0.99"`
	PermitMin    float64 `yaml:"permit_min" default:"89" validate:"gte=0,lte=100"`
	PermitMax    float64 `yaml:"permit_max" default:"93" validate:"gtefield=PermitMin,lte=100"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	EventsTopic   string   `yaml:"events_topic" default:"fixedtime.events"`
	AlertsTopic   string   `yaml:"alerts_topic" default:"fixedtime.alerts"`
	CommandsTopic string   `yaml:"commands_topic" default:"fixedtime.commands"`
	GroupID       string   `yaml:"group_id" default:"fixedtime-engine"`
	Compression   string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
	RequiredAcks  int      `yaml:"required_acks" default:"-1"`

	BatchSize    int           `yaml:"batch_size" default:"100" validate:"gte=1"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
	Async        bool          `yaml:"async"`
}

type ClickHouseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Host        string        `yaml:"host" default:"localhost"`
	Port        int           `yaml:"port" default:"9000"`
	Database    string        `yaml:"database" default:"fixedtime"`
	User        string        `yaml:"user" default:"default"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
	BatchSize   int           `yaml:"batch_size" default:"200"`
	FlushEvery  time.Duration `yaml:"flush_every" default:"2s"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"fixedtime"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	// Entry limit of the in-process cache used when Redis is disabled.
	MemoryMaxSize int `yaml:"memory_max_size" default:"1000" validate:"gte=1"`
	// Reconcile queue settings.
	Workers    int           `yaml:"workers" default:"2"`
	RetryLimit int           `yaml:"retry_limit" default:"10"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
}

var validate = validator.New()

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes raw YAML, applies defaults and validates.
func Parse(raw []byte) (*Config, error) {
	var c Config
	// Defaults go in first so an explicit false in YAML is not overwritten.
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i := range c.Accounts {
		if err := defaults.Set(&c.Accounts[i]); err != nil {
			return nil, fmt.Errorf("config defaults: %w", err)
		}
	}
	for i := range c.Products {
		if err := defaults.Set(&c.Products[i]); err != nil {
			return nil, fmt.Errorf("config defaults: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads .env (if present), the YAML file, and applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FT_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("FT_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("FT_CONNECTOR_TYPE"); v != "" {
		c.Connector.Type = v
	}
	if v := os.Getenv("FT_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("FT_REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("FT_PAPER_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Features.PaperMode = b
		}
	}
	if v := os.Getenv("FT_KILL_SWITCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Guardrails.KillSwitch = b
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Connector.Type == "http" && c.Connector.BaseURL == "" {
		return fmt.Errorf("connector.base_url is required for http connector")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Storage.Driver == "postgres" && c.Storage.Postgres.User == "" {
		return fmt.Errorf("storage.postgres.user is required")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if seen[a.ID] {
			return fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// Account returns the account config by id.
func (c *Config) Account(id string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// TimeframeFor returns the per-product timeframe settings, or defaults when absent.
func (c *Config) TimeframeFor(product string, tf int) TimeframeConfig {
	for _, p := range c.Products {
		if p.Product != product {
			continue
		}
		for _, t := range p.Timeframes {
			if t.TF == tf {
				return t
			}
		}
	}
	t := TimeframeConfig{TF: tf}
	_ = defaults.Set(&t)
	return t
}

// StrategiesFor returns configured provider ids for product.
func (c *Config) StrategiesFor(product string) []int {
	for _, p := range c.Products {
		if p.Product == product {
			return p.Strategies
		}
	}
	return nil
}
