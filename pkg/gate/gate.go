package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrAdmissionRejected is returned when the queue limit is reached.
// The caller never waits in that case.
var ErrAdmissionRejected = errors.New("no more concurrent slots available")

// Prometheus metrics for admission control.
var (
	slGateActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sl_gate_active",
		Help: "Number of Service Layer calls currently holding a permit",
	})

	slGateWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sl_gate_waiting",
		Help: "Number of Service Layer calls waiting for a permit",
	})

	slGateRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sl_gate_rejections_total",
		Help: "Total number of calls rejected because the queue was full",
	})

	slGateThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sl_gate_throttles_total",
		Help: "Total number of permits delayed by the request rate limit",
	})
)

// Config holds the gate configuration.
type Config struct {
	// ConcurrencyLimit bounds simultaneous permits (default 8).
	ConcurrencyLimit int

	// QueueLimit bounds admitted callers, waiting plus active.
	// 0 or negative means unbounded.
	QueueLimit int

	// RequestsPerSecond throttles permit hand-out when > 0.
	RequestsPerSecond float64

	// Burst is the throttle bucket size (default: ConcurrencyLimit).
	Burst int
}

// Gate hands out permits for outbound calls.
//
// Admission and enqueue happen under one lock, so the queue limit holds
// under concurrent Acquire calls. Admitted callers wait in FIFO order.
type Gate struct {
	cfg     Config
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu      sync.Mutex
	pending int
	active  int
}

// New creates a gate.
func New(cfg Config, logger zerolog.Logger) *Gate {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if cfg.QueueLimit < 0 {
		cfg.QueueLimit = Unbounded
	}

	g := &Gate{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.ConcurrencyLimit)),
		logger: logger,
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.ConcurrencyLimit
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return g
}

// Permit is the right to run one call. Release it exactly once;
// extra calls are no-ops.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Release returns the permit to the gate.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.gate.release)
}

// Acquire waits for a permit. It fails immediately with ErrAdmissionRejected
// when the queue is full, and with the context error if ctx ends while waiting.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if !g.admit() {
		slGateRejectionsTotal.Inc()
		g.logger.Warn().
			Int("queue_limit", g.cfg.QueueLimit).
			Msg("Service Layer call rejected - queue full")
		return nil, ErrAdmissionRejected
	}

	slGateWaiting.Inc()
	err := g.sem.Acquire(ctx, 1)
	slGateWaiting.Dec()
	if err != nil {
		g.leave()
		return nil, fmt.Errorf("wait for permit: %w", err)
	}

	g.mu.Lock()
	g.active++
	active := g.active
	g.mu.Unlock()
	slGateActive.Inc()

	permit := &Permit{gate: g}

	if g.limiter != nil && !g.limiter.Allow() {
		slGateThrottlesTotal.Inc()
		if err := g.limiter.Wait(ctx); err != nil {
			permit.Release()
			return nil, fmt.Errorf("throttle: %w", err)
		}
	}

	g.logger.Debug().Int("active", active).Msg("Permit acquired")
	return permit, nil
}

// Do runs fn while holding a permit. The permit is released on every exit
// path of fn, including panics.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	permit, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()

	return fn(ctx)
}

// State returns a snapshot of the gate.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return State{
		Active:           g.active,
		Pending:          g.pending,
		ConcurrencyLimit: g.cfg.ConcurrencyLimit,
		QueueLimit:       g.cfg.QueueLimit,
	}
}

// admit checks the queue limit and enqueues the caller in one step.
func (g *Gate) admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.QueueLimit > 0 && g.pending >= g.cfg.QueueLimit {
		return false
	}
	g.pending++
	return true
}

// leave removes an admitted caller that never got a permit.
func (g *Gate) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending > 0 {
		g.pending--
	}
}

func (g *Gate) release() {
	g.mu.Lock()
	if g.active > 0 {
		g.active--
	}
	if g.pending > 0 {
		g.pending--
	}
	g.mu.Unlock()

	slGateActive.Dec()
	g.sem.Release(1)
}
