// Package config loads gateway configuration from the environment (with
// .env support) and from the persisted YAML settings/proxy documents.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Port               int
	ProxyAPIKey        string
	AdminPassword      string
	LogLevel           string
	RateLimitPerMinute int
	EnableCompression  bool
}

// Load reads .env (if present) then environment variables into a Config.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               DefaultPort,
		ProxyAPIKey:        os.Getenv("PROXY_API_KEY"),
		AdminPassword:      os.Getenv("ADMIN_PASSWORD"),
		LogLevel:           strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		RateLimitPerMinute: 0,
		EnableCompression:  true,
	}

	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			cfg.Port = n
		}
	}

	if r := os.Getenv("RATE_LIMIT_PER_MINUTE"); r != "" {
		if n, err := strconv.Atoi(r); err == nil && n >= 0 {
			cfg.RateLimitPerMinute = n
		}
	}

	if e := os.Getenv("ENABLE_COMPRESSION"); e != "" {
		cfg.EnableCompression = strings.EqualFold(e, "true") || e == "1"
	}

	return cfg
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ProxySettings is the persisted `config/settings` document: operator-tunable
// knobs that are not secrets, round-tripped as YAML in the KV store.
type ProxySettings struct {
	SchedulerPolicy       string  `yaml:"scheduler_policy"` // priority|balanced|smart
	MaxMessagesPerSession int     `yaml:"max_messages_per_session"`
	TokenThreshold        int     `yaml:"token_threshold"`
	KeepCount             int     `yaml:"keep_count"`
	AutoCompress          bool    `yaml:"auto_compress"`
	CompressionEnabled    bool    `yaml:"compression_enabled"`
	RateLimitPerMinute    int     `yaml:"rate_limit_per_minute"`
	BreakerFailureThresh  int     `yaml:"breaker_failure_threshold"`
	BreakerResetSeconds   float64 `yaml:"breaker_reset_seconds"`
}

// DefaultProxySettings returns the built-in defaults for a fresh install.
func DefaultProxySettings() ProxySettings {
	return ProxySettings{
		SchedulerPolicy:       "smart",
		MaxMessagesPerSession: DefaultMaxMessagesPerSession,
		TokenThreshold:        DefaultTokenThreshold,
		KeepCount:             DefaultKeepCount,
		AutoCompress:          true,
		CompressionEnabled:    true,
		RateLimitPerMinute:    0,
		BreakerFailureThresh:  DefaultBreakerFailureThreshold,
		BreakerResetSeconds:   DefaultBreakerResetTimeout.Seconds(),
	}
}

// Marshal serializes settings as YAML for persistence.
func (s ProxySettings) Marshal() ([]byte, error) { return yaml.Marshal(s) }

// UnmarshalProxySettings parses a persisted settings document, filling in
// defaults for any field left zero (forward-compatible with added fields).
func UnmarshalProxySettings(data []byte) (ProxySettings, error) {
	s := DefaultProxySettings()
	if len(data) == 0 {
		return s, nil
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return ProxySettings{}, err
	}
	return s, nil
}
