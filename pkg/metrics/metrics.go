// Package metrics exposes the Prometheus metrics of the Service Layer client.
// All metrics are defined in their respective packages (client, gate, session)
// to maintain modularity and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Gate Metrics (pkg/gate):
//   - sl_gate_active (Gauge): Calls currently holding a permit
//   - sl_gate_waiting (Gauge): Admitted calls waiting for a permit
//   - sl_gate_rejections_total (Counter): Calls rejected because the queue was full
//   - sl_gate_throttles_total (Counter): Permits delayed by the rate limiter
//
// Session Metrics (pkg/session):
//   - sl_token_cache_hits_total (Counter): Calls served with a cached token
//   - sl_token_cache_misses_total (Counter): Calls that needed a login
//   - sl_logins_total{result} (Counter): Logins by result (success, failure)
//   - sl_logins_shared_total (Counter): Callers that joined an in-flight login
//   - sl_token_store_errors_total{operation} (Counter): Token store errors
//
// Request Metrics (pkg/client):
//   - sl_requests_total{method, status} (Counter): Calls by method and status or error class
//   - sl_request_duration_seconds{method} (Histogram): Call duration, retries included
//   - sl_errors_total{class} (Counter): Errors by class (transient, business, auth, admission, parse)
//   - sl_batch_parts_total{result} (Counter): Batch response parts by result (ok, error)
//
// Retry Metrics (pkg/client):
//   - sl_retries_total{error_class} (Counter): Retry attempts by error class
//   - sl_retry_backoff_seconds (Histogram): Backoff duration before retries
//   - sl_retry_exhausted_total (Counter): Calls that used every retry attempt
//
// Example Prometheus Queries:
//
//   # Token Hit Rate
//   sum(rate(sl_token_cache_hits_total[5m])) /
//   (sum(rate(sl_token_cache_hits_total[5m])) + sum(rate(sl_token_cache_misses_total[5m])))
//
//   # Saturation
//   sl_gate_waiting > 0
//
//   # Business Error Rate
//   rate(sl_errors_total{class="business"}[5m])
//
//   # P95 Call Latency
//   histogram_quantile(0.95, rate(sl_request_duration_seconds_bucket[5m]))
