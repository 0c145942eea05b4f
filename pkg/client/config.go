package client

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/servicelayer-client/pkg/session"
)

// Config holds the client configuration.
type Config struct {
	// Service Layer location: BaseURL:Port/BasePath
	BaseURL  string
	Port     int
	BasePath string

	// Concurrency
	MaxConcurrentCalls int     // Max in-flight calls
	MaxConcurrentQueue int     // Max admitted calls, waiting plus in flight (0 = unbounded)
	RequestsPerSecond  float64 // Throttle permit hand-out (0 = off)

	// Transport
	Timeout            time.Duration // Per-request timeout
	CaseInsensitive    bool          // Send B1S-CaseInsensitive
	InsecureSkipVerify bool          // Accept self-signed certificates

	// Sessions
	TokenTTL   time.Duration
	TokenStore session.Store // nil = in-memory

	// Retry backoff; attempt counts are per call (CallConfig.Retries)
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// FanOutStagger delays item i of a fan-out by i*FanOutStagger.
	FanOutStagger time.Duration

	// MaxPages caps GetAll (0 = unlimited).
	MaxPages int

	// Transport overrides the HTTP transport (for testing).
	Transport Transport
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://hanab1",
		Port:               50000,
		BasePath:           "b1s/v1",
		MaxConcurrentCalls: 8,
		MaxConcurrentQueue: 0,
		Timeout:            60 * time.Second,
		CaseInsensitive:    true,
		TokenTTL:           session.DefaultTTL,
		RetryBackoff:       500 * time.Millisecond,
		MaxBackoff:         10 * time.Second,
		FanOutStagger:      100 * time.Millisecond,
		MaxPages:           1000,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Transport == nil && c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535 (got %d)", c.Port)
	}
	if c.MaxConcurrentCalls < 1 {
		return fmt.Errorf("max_concurrent_calls must be >= 1 (got %d)", c.MaxConcurrentCalls)
	}
	if c.MaxConcurrentQueue < 0 {
		return fmt.Errorf("max_concurrent_queue must be >= 0 (got %d)", c.MaxConcurrentQueue)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be > 0")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0 (got %d)", c.MaxPages)
	}
	if c.RetryBackoff < 0 || c.MaxBackoff < 0 || c.FanOutStagger < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// URL returns scheme://host[:port] without the base path.
func (c Config) URL() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.Port == 0 {
		return base
	}
	return fmt.Sprintf("%s:%d", base, c.Port)
}

// defaultHeader returns the headers sent with every call.
func (c Config) defaultHeader() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if c.CaseInsensitive {
		h.Set("B1S-CaseInsensitive", "true")
	}
	return h
}
