// Package config loads application settings from config.yaml and OUTLIER_*
// environment variables.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/outlier-sync/internal/model"
	"github.com/sells-group/outlier-sync/internal/reconcile"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Input      InputConfig      `yaml:"input" mapstructure:"input"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns       int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32  `yaml:"min_conns" mapstructure:"min_conns"`
	RetryAttempts  int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// ReconcileConfig configures matching, comparison and bookkeeping. The
// embedded schema names the key, client and bookkeeping fields.
type ReconcileConfig struct {
	model.Schema `yaml:",inline" mapstructure:",squash"`

	RelTolerance       float64 `yaml:"rel_tolerance" mapstructure:"rel_tolerance"`
	AbsTolerance       float64 `yaml:"abs_tolerance" mapstructure:"abs_tolerance"`
	Actor              string  `yaml:"actor" mapstructure:"actor"`
	BaselineDuplicates string  `yaml:"baseline_duplicates" mapstructure:"baseline_duplicates"`
	TimestampFormat    string  `yaml:"timestamp_format" mapstructure:"timestamp_format"`
}

// InputConfig configures how table files are read.
type InputConfig struct {
	Encoding  string `yaml:"encoding" mapstructure:"encoding"`
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"` // empty picks by file extension
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxBodyMB      int      `yaml:"max_body_mb" mapstructure:"max_body_mb"`
}

// MonitoringConfig configures run log health checks and alert delivery.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MissingRateThreshold float64 `yaml:"missing_rate_threshold" mapstructure:"missing_rate_threshold"`
	StuckRunMinutes      int     `yaml:"stuck_run_minutes" mapstructure:"stuck_run_minutes"`
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
	v.SetEnvPrefix("OUTLIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	schema := model.DefaultSchema()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outlier-sync.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.retry_attempts", 3)
	v.SetDefault("store.retry_backoff_ms", 500)
	v.SetDefault("reconcile.rel_tolerance", 1e-6)
	v.SetDefault("reconcile.abs_tolerance", 1e-8)
	v.SetDefault("reconcile.actor", model.DefaultActor)
	v.SetDefault("reconcile.baseline_duplicates", string(reconcile.DuplicateReject))
	v.SetDefault("reconcile.timestamp_format", reconcile.DefaultTimestampFormat)
	v.SetDefault("reconcile.key_separator", schema.KeySeparator)
	v.SetDefault("reconcile.key_fields", schema.KeyFields)
	v.SetDefault("reconcile.client_fields", schema.ClientFields)
	v.SetDefault("input.encoding", "utf-8")
	v.SetDefault("input.delimiter", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 10)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_mb", 32)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.missing_rate_threshold", 0.50)
	v.SetDefault("monitoring.stuck_run_minutes", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
	cfg.Reconcile.Schema = cfg.Reconcile.Schema.WithDefaults()

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "sync":
		if err := c.validateReconcile(); err != nil {
			return err
		}
	case "store":
		if err := c.validateStore(); err != nil {
			return err
		}
		if err := c.validateReconcile(); err != nil {
			return err
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return eris.Errorf("config: server.port %d out of range", c.Server.Port)
		}
		if c.Server.RateLimitRPS < 0 {
			return eris.New("config: server.rate_limit_rps must not be negative")
		}
		if err := c.validateStore(); err != nil {
			return err
		}
		if err := c.validateReconcile(); err != nil {
			return err
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DatabaseURL == "" {
		return eris.New("config: missing required fields: store.database_url")
	}
	return nil
}

func (c *Config) validateReconcile() error {
	r := c.Reconcile
	if len(r.KeyFields) == 0 {
		return eris.New("config: reconcile.key_fields must not be empty")
	}
	for _, k := range r.KeyFields {
		if r.IsClient(k) {
			return eris.Errorf("config: key field %q is also a client field", k)
		}
	}
	if r.RelTolerance < 0 || r.AbsTolerance < 0 {
		return eris.New("config: tolerances must not be negative")
	}
	if _, ok := reconcile.ParseDuplicatePolicy(r.BaselineDuplicates); !ok {
		return eris.Errorf("config: unknown reconcile.baseline_duplicates %q", r.BaselineDuplicates)
	}
	return nil
}

// Options converts the settings into reconciler options. The reconciler logs
// per-record decisions through the named global logger.
func (r ReconcileConfig) Options() []reconcile.Option {
	policy, _ := reconcile.ParseDuplicatePolicy(r.BaselineDuplicates)
	return []reconcile.Option{
		reconcile.WithSchema(r.Schema),
		reconcile.WithTolerance(reconcile.Tolerance{Rel: r.RelTolerance, Abs: r.AbsTolerance}),
		reconcile.WithActor(r.Actor),
		reconcile.WithDuplicatePolicy(policy),
		reconcile.WithTimestampFormat(r.TimestampFormat),
		reconcile.WithLogger(zap.L().Named("reconcile")),
	}
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
