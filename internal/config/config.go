// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// EngineConfig tunes the form interaction engine. The thresholds here are
// empirical, not algorithmic constants; they are expected to be adjusted
// per deployment.
type EngineConfig struct {
	// MaxRetries is how many times a field action is attempted before it is
	// reported as failed. Must be >= 1.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// RetryDelay is the base backoff between attempts; the actual delay
	// grows linearly with the attempt number.
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// MatchThreshold is the minimum similarity score a dropdown option must
	// reach to be accepted as a match for the target value.
	MatchThreshold float64 `mapstructure:"match_threshold" yaml:"match_threshold"`
	// VerificationThreshold is the minimum similarity between the intended
	// value and the observed field state for text-like fields.
	VerificationThreshold float64 `mapstructure:"verification_threshold" yaml:"verification_threshold"`
	// SelectVerifyThreshold is the stricter verification bar for selections,
	// where a wrong-but-plausible option is worse than an obvious failure.
	SelectVerifyThreshold float64 `mapstructure:"select_verify_threshold" yaml:"select_verify_threshold"`
	// ActionTimeout bounds a single driver primitive (query, click, type).
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// PacingRPS throttles how many field actions may start per second.
	PacingRPS float64 `mapstructure:"pacing_rps" yaml:"pacing_rps"`
}

// SetDefaults registers the default value for every configuration knob on
// the given viper instance. Call before unmarshalling.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "formweaver")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.post_load_wait", 1500*time.Millisecond)

	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.retry_delay", time.Second)
	v.SetDefault("engine.match_threshold", 0.70)
	v.SetDefault("engine.verification_threshold", 0.70)
	v.SetDefault("engine.select_verify_threshold", 0.78)
	v.SetDefault("engine.action_timeout", 8*time.Second)
	v.SetDefault("engine.pacing_rps", 2.0)
}

// Load reads configuration from the given file (or the default search
// paths when empty), applies defaults and environment overrides, and
// returns the validated Config.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".formweaver")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot operate under.
func (c *Config) Validate() error {
	if c.Engine.MaxRetries < 1 {
		return fmt.Errorf("engine.max_retries must be >= 1, got %d", c.Engine.MaxRetries)
	}
	if c.Engine.MatchThreshold <= 0 || c.Engine.MatchThreshold > 1 {
		return fmt.Errorf("engine.match_threshold must be in (0,1], got %v", c.Engine.MatchThreshold)
	}
	if c.Engine.VerificationThreshold <= 0 || c.Engine.VerificationThreshold > 1 {
		return fmt.Errorf("engine.verification_threshold must be in (0,1], got %v", c.Engine.VerificationThreshold)
	}
	if c.Engine.SelectVerifyThreshold <= 0 || c.Engine.SelectVerifyThreshold > 1 {
		return fmt.Errorf("engine.select_verify_threshold must be in (0,1], got %v", c.Engine.SelectVerifyThreshold)
	}
	if c.Engine.RetryDelay < 0 {
		return fmt.Errorf("engine.retry_delay must not be negative")
	}
	return nil
}
