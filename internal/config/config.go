package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/deal-audit/internal/dealmath"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig         `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig         `yaml:"redis" mapstructure:"redis"`
	Audit      AuditConfig         `yaml:"audit" mapstructure:"audit"`
	Governance dealmath.Governance `yaml:"governance" mapstructure:"governance"`
	Persist    PersistConfig       `yaml:"persist" mapstructure:"persist"`
	Monitoring MonitoringConfig    `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig        `yaml:"server" mapstructure:"server"`
	Log        LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the optional dedup hash cache. An empty URL
// disables it.
type RedisConfig struct {
	URL             string `yaml:"url" mapstructure:"url"`
	KeyPrefix       string `yaml:"key_prefix" mapstructure:"key_prefix"`
	PoolSize        int    `yaml:"pool_size" mapstructure:"pool_size"`
	DialTimeoutSecs int    `yaml:"dial_timeout_secs" mapstructure:"dial_timeout_secs"`
	HashTTLHours    int    `yaml:"hash_ttl_hours" mapstructure:"hash_ttl_hours"`
}

// AuditConfig holds the built-in pipeline thresholds. Values stored in the
// scraper_config table override these per invocation.
type AuditConfig struct {
	PassThreshold        int                 `yaml:"pass_threshold" mapstructure:"pass_threshold"`
	DedupPriceVariance   float64             `yaml:"dedup_price_variance" mapstructure:"dedup_price_variance"`
	RelevanceThreshold   int                 `yaml:"relevance_threshold" mapstructure:"relevance_threshold"`
	MinDescriptionLength int                 `yaml:"min_description_length" mapstructure:"min_description_length"`
	MinRequiredFields    int                 `yaml:"min_required_fields" mapstructure:"min_required_fields"`
	MaxResults           int                 `yaml:"max_results" mapstructure:"max_results"`
	FetchTimeoutSecs     int                 `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	BaselineWindow       int                 `yaml:"baseline_window" mapstructure:"baseline_window"`
	Weights              WeightsConfig       `yaml:"weights" mapstructure:"weights"`
	EntityWeights        EntityWeightsConfig `yaml:"entity_weights" mapstructure:"entity_weights"`
}

// WeightsConfig sets each agent's share of the overall score. Must sum to 1.
type WeightsConfig struct {
	Integrity  float64 `yaml:"integrity" mapstructure:"integrity"`
	Structural float64 `yaml:"structural" mapstructure:"structural"`
	Relevance  float64 `yaml:"relevance" mapstructure:"relevance"`
	CrossCheck float64 `yaml:"crosscheck" mapstructure:"crosscheck"`
	Dedup      float64 `yaml:"dedup" mapstructure:"dedup"`
}

// EntityWeightsConfig scales relevance deductions and bonuses by entity.
type EntityWeightsConfig struct {
	Location     float64 `yaml:"location" mapstructure:"location"`
	DealType     float64 `yaml:"deal_type" mapstructure:"deal_type"`
	PropertyType float64 `yaml:"property_type" mapstructure:"property_type"`
	Condition    float64 `yaml:"condition" mapstructure:"condition"`
	PriceRange   float64 `yaml:"price_range" mapstructure:"price_range"`
	Financial    float64 `yaml:"financial" mapstructure:"financial"`
}

// PersistConfig configures the background persistence worker.
type PersistConfig struct {
	QueueSize        int     `yaml:"queue_size" mapstructure:"queue_size"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	ReplayMaxRetries int     `yaml:"replay_max_retries" mapstructure:"replay_max_retries"`
}

// MonitoringConfig configures operational alerting over audit history.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinAvgScore            float64 `yaml:"min_avg_score" mapstructure:"min_avg_score"`
	CriticalAlertThreshold int     `yaml:"critical_alert_threshold" mapstructure:"critical_alert_threshold"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	gov := dealmath.DefaultGovernance()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "deal-audit.db")
	v.SetDefault("redis.key_prefix", "dealaudit")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout_secs", 5)
	v.SetDefault("redis.hash_ttl_hours", 24*90)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("audit.pass_threshold", 60)
	v.SetDefault("audit.dedup_price_variance", 5.0)
	v.SetDefault("audit.relevance_threshold", 30)
	v.SetDefault("audit.min_description_length", 20)
	v.SetDefault("audit.min_required_fields", 4)
	v.SetDefault("audit.max_results", 500)
	v.SetDefault("audit.fetch_timeout_secs", 5)
	v.SetDefault("audit.baseline_window", 20)
	v.SetDefault("audit.weights.integrity", 0.25)
	v.SetDefault("audit.weights.structural", 0.20)
	v.SetDefault("audit.weights.relevance", 0.20)
	v.SetDefault("audit.weights.crosscheck", 0.20)
	v.SetDefault("audit.weights.dedup", 0.15)
	v.SetDefault("audit.entity_weights.location", 2.0)
	v.SetDefault("audit.entity_weights.deal_type", 3.0)
	v.SetDefault("audit.entity_weights.property_type", 2.5)
	v.SetDefault("audit.entity_weights.condition", 1.5)
	v.SetDefault("audit.entity_weights.price_range", 2.0)
	v.SetDefault("audit.entity_weights.financial", 1.8)
	v.SetDefault("governance.closing_costs_pct", gov.ClosingCostsPct)
	v.SetDefault("governance.holding_costs_pct", gov.HoldingCostsPct)
	v.SetDefault("governance.mao_factor", gov.MAOFactor)
	v.SetDefault("governance.high_roi_warning_threshold", gov.HighROIWarningThreshold)
	v.SetDefault("governance.low_equity_threshold", gov.LowEquityThreshold)
	v.SetDefault("persist.queue_size", 256)
	v.SetDefault("persist.rate_per_sec", 20.0)
	v.SetDefault("persist.burst", 5)
	v.SetDefault("persist.max_attempts", 3)
	v.SetDefault("persist.initial_backoff_ms", 200)
	v.SetDefault("persist.max_backoff_ms", 5000)
	v.SetDefault("persist.timeout_secs", 10)
	v.SetDefault("persist.breaker_threshold", 5)
	v.SetDefault("persist.breaker_reset_secs", 30)
	v.SetDefault("persist.replay_max_retries", 5)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_avg_score", 60.0)
	v.SetDefault("monitoring.critical_alert_threshold", 25)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	var errs []string

	w := c.Audit.Weights
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"integrity", w.Integrity},
		{"structural", w.Structural},
		{"relevance", w.Relevance},
		{"crosscheck", w.CrossCheck},
		{"dedup", w.Dedup},
	} {
		if f.value < 0 {
			errs = append(errs, "audit.weights."+f.name+" must be non-negative")
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > 1e-6 {
		errs = append(errs, "audit.weights must sum to 1.0")
	}
	if c.Audit.PassThreshold < 0 || c.Audit.PassThreshold > 100 {
		errs = append(errs, "audit.pass_threshold must be within [0, 100]")
	}
	if c.Audit.RelevanceThreshold < 0 || c.Audit.RelevanceThreshold > 100 {
		errs = append(errs, "audit.relevance_threshold must be within [0, 100]")
	}
	if c.Audit.DedupPriceVariance < 0 {
		errs = append(errs, "audit.dedup_price_variance must be non-negative")
	}
	if c.Governance.MAOFactor <= 0 || c.Governance.MAOFactor > 1 {
		errs = append(errs, "governance.mao_factor must be within (0, 1]")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Sum returns the total of all agent weights.
func (w WeightsConfig) Sum() float64 {
	return w.Integrity + w.Structural + w.Relevance + w.CrossCheck + w.Dedup
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
