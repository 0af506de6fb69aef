package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr      string `mapstructure:"addr"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
		Migrate      bool   `mapstructure:"migrate"`
	} `mapstructure:"postgres"`

	// Redis is optional. Without an address run state is kept in process
	// and the per-user cycle lease is disabled.
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Meta struct {
		BaseURL        string `mapstructure:"base_url"`
		Token          string `mapstructure:"token"`
		AccountID      string `mapstructure:"account_id"` // used until a session selects another
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
		MaxRetries     int    `mapstructure:"max_retries"`
	} `mapstructure:"meta"`

	Attribution struct {
		BaseURL        string `mapstructure:"base_url"`
		APIKey         string `mapstructure:"api_key"`
		Timezone       string `mapstructure:"timezone"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
		MaxRetries     int    `mapstructure:"max_retries"`
	} `mapstructure:"attribution"`

	Automation struct {
		PollIntervalSeconds   int    `mapstructure:"poll_interval_seconds"`
		ErrorBackoffSeconds   int    `mapstructure:"error_backoff_seconds"`
		CacheFreshnessMinutes int    `mapstructure:"cache_freshness_minutes"`
		SessionIdleMinutes    int    `mapstructure:"session_idle_minutes"`
		DefaultPeriod         string `mapstructure:"default_period"`
		ActivityLimit         int    `mapstructure:"activity_limit"`
	} `mapstructure:"automation"`
}

// Load reads configs/application.yaml, then the overlay configs/<ENV>.yaml
// (ENV defaults to dev), then APP_* environment variables. Both files are
// optional.
func Load() Config {
	return load("configs")
}

func load(dir string) Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	_ = v.ReadInConfig() // optional; env can fully configure

	env := strings.ToLower(os.Getenv("ENV"))
	if env == "" {
		env = "dev"
	}
	v.SetConfigFile(filepath.Join(dir, env+".yaml"))
	_ = v.MergeInConfig()

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

// bindEnv registers every key so AutomaticEnv can resolve nested values
// that are absent from the config file.
func bindEnv(v *viper.Viper) {
	for _, k := range []string{
		"server.addr", "server.log_level", "server.log_format",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password",
		"postgres.db_name", "postgres.ssl_mode", "postgres.max_open_conns",
		"postgres.max_idle_conns", "postgres.migrate",
		"redis.addr", "redis.password", "redis.db",
		"listener.channel", "listener.reconnect_seconds",
		"meta.base_url", "meta.token", "meta.account_id", "meta.timeout_seconds", "meta.max_retries",
		"attribution.base_url", "attribution.api_key", "attribution.timezone",
		"attribution.timeout_seconds", "attribution.max_retries",
		"automation.poll_interval_seconds", "automation.error_backoff_seconds",
		"automation.cache_freshness_minutes", "automation.session_idle_minutes",
		"automation.default_period", "automation.activity_limit",
	} {
		_ = v.BindEnv(k)
	}
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 2 }
	if c.Listener.Channel == "" { c.Listener.Channel = "rule_assignment_change" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Meta.BaseURL == "" { c.Meta.BaseURL = "https://graph.facebook.com/v19.0" }
	if c.Meta.TimeoutSeconds <= 0 { c.Meta.TimeoutSeconds = 15 }
	if c.Meta.MaxRetries <= 0 { c.Meta.MaxRetries = 2 }
	if c.Attribution.BaseURL == "" { c.Attribution.BaseURL = "https://api.redtrack.io" }
	if c.Attribution.Timezone == "" { c.Attribution.Timezone = "America/New_York" }
	if c.Attribution.TimeoutSeconds <= 0 { c.Attribution.TimeoutSeconds = 20 }
	if c.Attribution.MaxRetries <= 0 { c.Attribution.MaxRetries = 2 }
	if c.Automation.PollIntervalSeconds <= 0 { c.Automation.PollIntervalSeconds = 30 }
	if c.Automation.ErrorBackoffSeconds <= 0 { c.Automation.ErrorBackoffSeconds = 60 }
	if c.Automation.CacheFreshnessMinutes <= 0 { c.Automation.CacheFreshnessMinutes = 5 }
	if c.Automation.SessionIdleMinutes <= 0 { c.Automation.SessionIdleMinutes = 60 }
	if c.Automation.DefaultPeriod == "" { c.Automation.DefaultPeriod = "last_30_days" }
	if c.Automation.ActivityLimit <= 0 { c.Automation.ActivityLimit = 50 }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Automation.PollIntervalSeconds) * time.Second
}

func (c Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Automation.ErrorBackoffSeconds) * time.Second
}

func (c Config) CacheFreshness() time.Duration {
	return time.Duration(c.Automation.CacheFreshnessMinutes) * time.Minute
}

func (c Config) SessionIdle() time.Duration {
	return time.Duration(c.Automation.SessionIdleMinutes) * time.Minute
}
