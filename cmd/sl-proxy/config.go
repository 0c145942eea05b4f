package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/servicelayer-client/pkg/client"
	"github.com/Sternrassler/servicelayer-client/pkg/logging"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides: servicelayer.url -> SL_SERVICELAYER_URL.
const envPrefix = "SL"

// proxyConfig is the resolved proxy configuration.
type proxyConfig struct {
	Listen    string
	LogLevel  logging.LogLevel
	LogPretty bool

	// RedisAddr enables the shared token store when set.
	RedisAddr string

	// Retries is the default per-call retry count; X-SL-Retries overrides it.
	Retries int

	Client client.Config
}

// newViper returns a viper instance with defaults and environment binding.
func newViper() *viper.Viper {
	v := viper.New()
	defaults := client.DefaultConfig()

	v.SetDefault("listen", ":8080")
	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)

	v.SetDefault("servicelayer.url", defaults.BaseURL)
	v.SetDefault("servicelayer.port", defaults.Port)
	v.SetDefault("servicelayer.base_path", defaults.BasePath)
	v.SetDefault("servicelayer.timeout", defaults.Timeout)
	v.SetDefault("servicelayer.case_insensitive", defaults.CaseInsensitive)
	v.SetDefault("servicelayer.insecure_skip_verify", defaults.InsecureSkipVerify)

	v.SetDefault("limits.max_concurrent_calls", defaults.MaxConcurrentCalls)
	v.SetDefault("limits.max_concurrent_queue", defaults.MaxConcurrentQueue)
	v.SetDefault("limits.requests_per_second", defaults.RequestsPerSecond)
	v.SetDefault("limits.fan_out_stagger", defaults.FanOutStagger)
	v.SetDefault("limits.max_pages", defaults.MaxPages)

	v.SetDefault("session.ttl", defaults.TokenTTL)
	v.SetDefault("session.redis_addr", "")

	v.SetDefault("retry.attempts", 0)
	v.SetDefault("retry.backoff", defaults.RetryBackoff)
	v.SetDefault("retry.max_backoff", defaults.MaxBackoff)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// loadConfig reads the optional YAML file at path and resolves the configuration.
func loadConfig(v *viper.Viper, path string) (proxyConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return proxyConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := proxyConfig{
		Listen:    v.GetString("listen"),
		LogLevel:  logging.LogLevel(v.GetString("log.level")),
		LogPretty: v.GetBool("log.pretty"),
		RedisAddr: v.GetString("session.redis_addr"),
		Retries:   v.GetInt("retry.attempts"),
	}

	cc := client.DefaultConfig()
	cc.BaseURL = v.GetString("servicelayer.url")
	cc.Port = v.GetInt("servicelayer.port")
	cc.BasePath = v.GetString("servicelayer.base_path")
	cc.Timeout = v.GetDuration("servicelayer.timeout")
	cc.CaseInsensitive = v.GetBool("servicelayer.case_insensitive")
	cc.InsecureSkipVerify = v.GetBool("servicelayer.insecure_skip_verify")
	cc.MaxConcurrentCalls = v.GetInt("limits.max_concurrent_calls")
	cc.MaxConcurrentQueue = v.GetInt("limits.max_concurrent_queue")
	cc.RequestsPerSecond = v.GetFloat64("limits.requests_per_second")
	cc.FanOutStagger = v.GetDuration("limits.fan_out_stagger")
	cc.MaxPages = v.GetInt("limits.max_pages")
	cc.TokenTTL = v.GetDuration("session.ttl")
	cc.RetryBackoff = v.GetDuration("retry.backoff")
	cc.MaxBackoff = v.GetDuration("retry.max_backoff")
	cfg.Client = cc

	if cfg.Retries < 0 {
		return proxyConfig{}, fmt.Errorf("retry.attempts must be >= 0 (got %d)", cfg.Retries)
	}
	if err := cc.Validate(); err != nil {
		return proxyConfig{}, fmt.Errorf("invalid servicelayer config: %w", err)
	}
	return cfg, nil
}

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 15 * time.Second
