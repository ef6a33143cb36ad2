package goGuard

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/guard"
	"github.com/MrEthical07/goGuard/ratelimit"
	"gopkg.in/yaml.v3"
)

// Config is the complete Engine configuration. It is copied at Build and
// treated as immutable afterwards.
type Config struct {
	// Prefix is the first segment of every counter key.
	Prefix     string                           `yaml:"prefix"`
	Login      guard.LoginConfig                `yaml:"login"`
	Challenges map[string]guard.ChallengeConfig `yaml:"challenges"`
	Captcha    CaptchaConfig                    `yaml:"captcha"`
	Audit      AuditConfig                      `yaml:"audit"`
	Metrics    MetricsConfig                    `yaml:"metrics"`
}

/*
====================================
CAPTCHA CONFIG
====================================
*/

// CaptchaConfig configures the built-in JWT captcha verifier. It is ignored
// when a verifier is supplied through Builder.WithCaptchaVerifier.
type CaptchaConfig struct {
	// Secret is the HS256 key shared with the captcha service.
	Secret string `yaml:"secret"`
	// SecretEnv names an environment variable holding Secret. It wins over
	// Secret when set and non-empty.
	SecretEnv   string        `yaml:"secret_env"`
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	BindSubject bool          `yaml:"bind_subject"`
	Leeway      time.Duration `yaml:"leeway"`
}

func (c CaptchaConfig) secret() []byte {
	if c.SecretEnv != "" {
		if v := os.Getenv(c.SecretEnv); v != "" {
			return []byte(v)
		}
	}
	if c.Secret == "" {
		return nil
	}
	return []byte(c.Secret)
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// DefaultConfig returns the preset used by New: a 30 minute login lockout
// after 10 attempts per IP or 5 per user and IP, and one "phone" challenge.
func DefaultConfig() Config {
	return Config{
		Prefix: ratelimit.DefaultPrefix,
		Login: guard.LoginConfig{
			IP: ratelimit.Config{
				Window: 30 * time.Minute,
				Limit:  10,
				Block:  30 * time.Minute,
			},
			UserIP: ratelimit.Config{
				Window: 30 * time.Minute,
				Limit:  5,
				Block:  30 * time.Minute,
			},
			ForgiveIP: true,
		},
		Challenges: map[string]guard.ChallengeConfig{
			"phone": {
				Total: guard.TierConfig{Config: ratelimit.Config{
					Window: time.Hour,
					Limit:  1000,
					Block:  time.Hour,
				}},
				Lock: guard.TierConfig{Config: ratelimit.Config{
					Window: time.Hour,
					Limit:  10,
					Block:  time.Hour,
				}},
				Captcha: guard.TierConfig{Config: ratelimit.Config{
					Window: time.Hour,
					Limit:  3,
					Block:  time.Hour,
				}},
			},
		},
		Captcha: CaptchaConfig{
			BindSubject: true,
			Leeway:      5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Login.IdentifierKey = cloneBytes(cfg.Login.IdentifierKey)
	if cfg.Challenges != nil {
		out.Challenges = make(map[string]guard.ChallengeConfig, len(cfg.Challenges))
		for name, c := range cfg.Challenges {
			out.Challenges[name] = c
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks every section. Errors name the offending field.
func (c *Config) Validate() error {
	if c.Prefix == "" {
		return errors.New("Prefix must not be empty")
	}
	if strings.Contains(c.Prefix, ratelimit.KeySeparator) {
		return errors.New("Prefix must not contain the key separator")
	}

	if err := c.Login.Validate(); err != nil {
		return fmt.Errorf("Login: %w", err)
	}

	for name, ch := range c.Challenges {
		if name == "" || name == "login" || strings.Contains(name, ratelimit.KeySeparator) {
			return fmt.Errorf("Challenges: invalid challenge name %q", name)
		}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("Challenges %s: %w", name, err)
		}
	}

	if c.Captcha.Leeway < 0 {
		return errors.New("Captcha Leeway must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

/*
====================================
LOADING
====================================
*/

// LoadConfigFile reads a YAML file over DefaultConfig and validates the
// result. Durations use Go syntax ("30m", "1h").
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
// A challenges section replaces the default challenges entirely.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	var probe struct {
		Challenges map[string]yaml.Node `yaml:"challenges"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if probe.Challenges != nil {
		cfg.Challenges = nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
