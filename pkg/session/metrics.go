package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenHits counts resolutions served from a cached token
	TokenHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sl_token_cache_hits_total",
			Help: "Total number of session token cache hits",
		},
	)

	// TokenMisses counts resolutions that needed a login (own or shared)
	TokenMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sl_token_cache_misses_total",
			Help: "Total number of session token cache misses",
		},
	)

	// Logins tracks login calls that reached the transport by result
	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sl_logins_total",
			Help: "Total number of Service Layer login calls",
		},
		[]string{"result"}, // "success", "failure"
	)

	// SharedLogins counts resolutions whose login result was shared with other callers
	SharedLogins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sl_logins_shared_total",
			Help: "Total number of token resolutions that shared an in-flight login",
		},
	)

	// StoreErrors tracks token store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sl_token_store_errors_total",
			Help: "Total number of token store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
