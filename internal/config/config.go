// Package config provides configuration loading and validation for botguard.
// Configuration is loaded once at startup and is static thereafter.
package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/clubkit/botguard/internal/observability/logging"
)

// Action kinds gated by the rate limiter. Plain messages and interactive
// callbacks carry distinct limits.
const (
	ActionMessage  = "message"
	ActionCallback = "callback"
)

// Config is the root configuration for botguard.
type Config struct {
	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Redis configures the optional Redis-backed store. When disabled the
	// in-memory store is used.
	Redis RedisConfig `yaml:"redis"`

	// RateLimits maps an action kind to its fixed-window limit.
	RateLimits map[string]RateLimitConfig `yaml:"rateLimits"`

	// Security configures the gate, auto-block escalation and signing.
	Security SecurityConfig `yaml:"security"`

	// Validation is the ordered field-validation rule set. Entries override
	// or extend the built-in defaults.
	Validation []ValidationRuleConfig `yaml:"validation"`

	// Signatures is the ordered attack-signature list. When empty the
	// built-in defaults are used.
	Signatures []SignatureConfig `yaml:"signatures"`

	// Ops configures the operational HTTP server.
	Ops OpsConfig `yaml:"ops"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  logging.Level  `yaml:"level"`
	Format logging.Format `yaml:"format"`
	Output string         `yaml:"output"`
}

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`

	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// RateLimitConfig is a fixed-window limit for one action kind.
type RateLimitConfig struct {
	// Limit is the maximum number of events allowed per window.
	Limit int `yaml:"limit"`

	// Window is the fixed window duration.
	Window Duration `yaml:"window"`
}

// SecurityConfig configures the security gate.
type SecurityConfig struct {
	// Secret is the shared signing secret. It must remain stable across
	// restarts or previously issued signatures become unverifiable.
	Secret string `yaml:"secret"`

	// Operators is the list of operator actor ids allowed to invoke
	// administrative operations and receiving security alerts.
	Operators []int64 `yaml:"operators"`

	// AutoBlock configures escalation on repeated suspicious content.
	AutoBlock AutoBlockConfig `yaml:"autoBlock"`

	// Sweep configures the periodic expired-block sweep.
	Sweep SweepConfig `yaml:"sweep"`
}

// AutoBlockConfig configures automatic blocking of repeat offenders.
type AutoBlockConfig struct {
	// Threshold is the number of threat-matched events within Window that
	// triggers an automatic block.
	Threshold int `yaml:"threshold"`

	// Window is the trailing duration over which offenses are counted.
	Window Duration `yaml:"window"`

	// BlockDuration is how long the automatic block lasts.
	BlockDuration Duration `yaml:"blockDuration"`
}

// SweepConfig configures the expired-block sweeper.
type SweepConfig struct {
	// Interval is the time between sweep cycles.
	Interval Duration `yaml:"interval"`

	// ErrorBackoff is the initial backoff applied after a failed cycle.
	ErrorBackoff Duration `yaml:"errorBackoff"`
}

// ValidationRuleConfig is a named pattern for one structured field type.
type ValidationRuleConfig struct {
	Field   string `yaml:"field"`
	Pattern string `yaml:"pattern"`
}

// SignatureConfig is a named attack-signature pattern over free text.
type SignatureConfig struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// OpsConfig configures the operational HTTP server.
type OpsConfig struct {
	// Listen is the address the ops server binds to. Empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns a Config with the stock limits of the original service:
// 30 messages and 20 callbacks per minute, auto-block after 3 offenses in
// 24 hours for 1 day, hourly sweep with a 5 minute error backoff.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  logging.LevelInfo,
			Format: logging.FormatJSON,
			Output: "stdout",
		},
		Redis: RedisConfig{
			Enabled:      false,
			Address:      "localhost:6379",
			Prefix:       "botguard:",
			DialTimeout:  Duration(5 * time.Second),
			ReadTimeout:  Duration(3 * time.Second),
			WriteTimeout: Duration(3 * time.Second),
		},
		RateLimits: map[string]RateLimitConfig{
			ActionMessage:  {Limit: 30, Window: Duration(time.Minute)},
			ActionCallback: {Limit: 20, Window: Duration(time.Minute)},
		},
		Security: SecurityConfig{
			AutoBlock: AutoBlockConfig{
				Threshold:     3,
				Window:        Duration(24 * time.Hour),
				BlockDuration: Duration(24 * time.Hour),
			},
			Sweep: SweepConfig{
				Interval:     Duration(time.Hour),
				ErrorBackoff: Duration(5 * time.Minute),
			},
		},
		Ops: OpsConfig{
			Listen: ":8090",
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Security.Secret == "" {
		return fmt.Errorf("security.secret must not be empty")
	}

	if len(c.RateLimits) == 0 {
		return fmt.Errorf("at least one rate limit must be configured")
	}
	for kind, rl := range c.RateLimits {
		if rl.Limit <= 0 {
			return fmt.Errorf("rateLimits.%s.limit must be positive, got %d", kind, rl.Limit)
		}
		if rl.Window.Duration() <= 0 {
			return fmt.Errorf("rateLimits.%s.window must be positive, got %s", kind, rl.Window.Duration())
		}
	}

	if c.Security.AutoBlock.Threshold <= 0 {
		return fmt.Errorf("security.autoBlock.threshold must be positive, got %d", c.Security.AutoBlock.Threshold)
	}
	if c.Security.AutoBlock.Window.Duration() <= 0 {
		return fmt.Errorf("security.autoBlock.window must be positive")
	}

	if c.Security.Sweep.Interval.Duration() <= 0 {
		return fmt.Errorf("security.sweep.interval must be positive")
	}
	if c.Security.Sweep.ErrorBackoff.Duration() <= 0 {
		return fmt.Errorf("security.sweep.errorBackoff must be positive")
	}

	for _, rule := range c.Validation {
		if rule.Field == "" {
			return fmt.Errorf("validation rule with empty field name")
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("validation rule %q: invalid pattern: %w", rule.Field, err)
		}
	}

	for _, sig := range c.Signatures {
		if sig.Name == "" {
			return fmt.Errorf("attack signature with empty name")
		}
		if _, err := regexp.Compile(sig.Pattern); err != nil {
			return fmt.Errorf("attack signature %q: invalid pattern: %w", sig.Name, err)
		}
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty when redis is enabled")
	}

	return nil
}
