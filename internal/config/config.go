package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"aave-rate-digest/internal/logging"
	"aave-rate-digest/internal/tracing"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Aave      AaveConfig      `mapstructure:"aave"`
	Digest    DigestConfig    `mapstructure:"digest"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// AaveConfig covers on-chain market access.
type AaveConfig struct {
	Network           string        `mapstructure:"network"`
	RPCURL            string        `mapstructure:"rpc_url"`
	RegistryFile      string        `mapstructure:"registry_file"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Cache             CacheConfig   `mapstructure:"cache"`
	Retry             RetryConfig   `mapstructure:"retry"`
	TargetTokens      []string      `mapstructure:"target_tokens"`
	TopN              int           `mapstructure:"top_n"`
}

// CacheConfig controls the reserve cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RetryConfig controls retries of contract reads.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// DigestConfig selects the message sections.
type DigestConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Message string `mapstructure:"message"`
	Title   string `mapstructure:"title"`
}

// TelegramConfig 描述 Telegram 投递参数。
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	ParseMode      string        `mapstructure:"parse_mode"`
	DisablePreview bool          `mapstructure:"disable_preview"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SchedulerConfig governs the send cadence. Cron takes precedence over Interval.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// DatabaseConfig holds the archive pool settings. Empty DSN disables the archive.
// MinConns is the number of connections the pool keeps open between writes.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Error marks a configuration problem.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "configuration error: " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AAVEDIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, &Error{Err: err}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, &Error{Err: err}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, &Error{Err: fmt.Errorf("unmarshal config: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &Error{Err: err}
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv accepts the unprefixed variable names used by existing deployments.
// The prefixed form wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"telegram.bot_token":       {"AAVEDIGEST_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"},
		"telegram.chat_id":         {"AAVEDIGEST_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID"},
		"telegram.max_retries":     {"AAVEDIGEST_TELEGRAM_MAX_RETRIES", "MAX_RETRIES"},
		"telegram.request_timeout": {"AAVEDIGEST_TELEGRAM_REQUEST_TIMEOUT", "REQUEST_TIMEOUT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "aavedigest")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("aave.network", "base")
	v.SetDefault("aave.rpc_url", "")
	v.SetDefault("aave.registry_file", "")
	v.SetDefault("aave.request_timeout", "30s")
	v.SetDefault("aave.requests_per_second", 10.0)
	v.SetDefault("aave.cache.enabled", true)
	v.SetDefault("aave.cache.ttl", "5m")
	v.SetDefault("aave.retry.max_retries", 3)
	v.SetDefault("aave.retry.base_delay", "1s")
	v.SetDefault("aave.retry.max_delay", "60s")
	v.SetDefault("aave.target_tokens", []string{"ETH", "USDC", "cbBTC"})
	v.SetDefault("aave.top_n", 3)

	v.SetDefault("digest.enabled", true)
	v.SetDefault("digest.message", "")
	v.SetDefault("digest.title", "")

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.parse_mode", "Markdown")
	v.SetDefault("telegram.disable_preview", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.request_timeout", "30s")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x61617665))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")

	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "aavedigest")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.service_name", "aavedigest")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// secondsToDurationHook accepts bare numbers for durations, read as seconds. REQUEST_TIMEOUT=30
// has always meant thirty seconds.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		}
		return data, nil
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Telegram.MaxRetries <= 0 {
		return fmt.Errorf("telegram.max_retries must be greater than zero")
	}
	if c.Telegram.RequestTimeout <= 0 {
		return fmt.Errorf("telegram.request_timeout must be greater than zero")
	}
	if c.Aave.Network == "" {
		return fmt.Errorf("aave.network must be set")
	}
	if c.Aave.RequestTimeout <= 0 {
		return fmt.Errorf("aave.request_timeout must be greater than zero")
	}
	if c.Aave.Cache.Enabled && c.Aave.Cache.TTL <= 0 {
		return fmt.Errorf("aave.cache.ttl must be greater than zero")
	}
	if c.Aave.Retry.MaxRetries < 0 {
		return fmt.Errorf("aave.retry.max_retries cannot be negative")
	}
	if c.Aave.Retry.BaseDelay <= 0 || c.Aave.Retry.MaxDelay <= 0 {
		return fmt.Errorf("aave.retry delays must be greater than zero")
	}
	if c.Aave.RequestsPerSecond < 0 {
		return fmt.Errorf("aave.requests_per_second cannot be negative")
	}
	if len(c.Aave.TargetTokens) == 0 {
		return fmt.Errorf("aave.target_tokens must not be empty")
	}
	if c.Scheduler.Cron == "" && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 {
		return fmt.Errorf("database pool sizes cannot be negative")
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) exceeds database.max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// ValidateDelivery checks the Telegram credentials needed to send messages.
func (c *Config) ValidateDelivery() error {
	if c.Telegram.BotToken == "" {
		return &Error{Err: fmt.Errorf("telegram.bot_token 必须配置 (TELEGRAM_BOT_TOKEN)")}
	}
	if c.Telegram.ChatID == "" {
		return &Error{Err: fmt.Errorf("telegram.chat_id 必须配置 (TELEGRAM_CHAT_ID)")}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
