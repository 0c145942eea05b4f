// Package client provides the Service Layer client: admission control,
// per-tenant session handling, retries, batch submission and fan-out.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/servicelayer-client/pkg/batch"
	"github.com/Sternrassler/servicelayer-client/pkg/gate"
	"github.com/Sternrassler/servicelayer-client/pkg/logging"
	"github.com/Sternrassler/servicelayer-client/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Prometheus metrics for Service Layer calls.
var (
	slRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sl_requests_total",
		Help: "Total Service Layer requests by method and status",
	}, []string{"method", "status"})

	slRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sl_request_duration_seconds",
		Help:    "Service Layer call duration in seconds by method, retries included",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"method"})

	slErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sl_errors_total",
		Help: "Total Service Layer errors by class",
	}, []string{"class"})
)

// LoginPath is the login endpoint, relative to the base path.
const LoginPath = "Login"

// sessionCookie carries the session id on every non-login call.
const sessionCookie = "B1SESSION"

// RetryPredicate decides whether a failed attempt is retried. attempt is the
// 1-based number of the attempt that just failed.
type RetryPredicate func(ctx context.Context, path string, payload any, err error, attempt int) bool

// CallConfig holds per-call settings.
type CallConfig struct {
	// Credentials select the tenant and log in when no session is cached.
	Credentials session.Credential

	// Retries is the number of extra attempts for transient failures.
	Retries int

	// ShouldRetry is consulted before each retry; nil retries every transient failure.
	ShouldRetry RetryPredicate

	// Header is merged into the request headers.
	Header http.Header

	// ReplaceCollections sends B1S-ReplaceCollectionsArray: true.
	ReplaceCollections bool
}

// Client is the Service Layer client.
type Client struct {
	transport Transport
	gate      *gate.Gate
	sessions  *session.Cache
	config    Config
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// New creates a new Service Layer client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger("servicelayer-client")

	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(cfg.URL(), cfg.Timeout, cfg.InsecureSkipVerify)
	}

	c := &Client{
		transport: transport,
		config:    cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/Sternrassler/servicelayer-client/pkg/client"),
	}

	c.gate = gate.New(gate.Config{
		ConcurrencyLimit:  cfg.MaxConcurrentCalls,
		QueueLimit:        cfg.MaxConcurrentQueue,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logging.NewLogger("gate"))

	sessionLogger := logging.NewLogger("session")
	c.sessions = session.NewCache(c.login, session.Config{
		Store:  cfg.TokenStore,
		TTL:    cfg.TokenTTL,
		Logger: &sessionLogger,
	})

	return c, nil
}

// Do performs one call: gate admission, session resolution, transport,
// normalization and retries. On failure both a failed Result and the
// classified *Error are returned.
func (c *Client) Do(ctx context.Context, method, path string, payload any, call CallConfig) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "servicelayer.Do", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("sl.path", path),
		attribute.String("sl.tenant", call.Credentials.CompanyDB),
	))
	defer span.End()

	startTime := time.Now()
	defer func() {
		slRequestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	body, err := encodePayload(payload)
	if err != nil {
		e := requestError("payload cannot be encoded", err)
		slErrorsTotal.WithLabelValues(string(e.Class)).Inc()
		slRequestsTotal.WithLabelValues(method, string(e.Class)).Inc()
		span.RecordError(e)
		span.SetStatus(codes.Error, e.Message)
		return failedResult(e), e
	}

	var result *Result
	err = c.withRetry(ctx, path, payload, call, func(ctx context.Context) error {
		resp, token, err := c.send(ctx, &TransportRequest{
			Method: method,
			Path:   c.path(path),
			Header: call.Header.Clone(),
			Body:   body,
		}, call)
		if err != nil {
			return err
		}
		result, err = c.normalize(ctx, resp, token, call)
		return err
	})

	if err != nil {
		e := classify(err)
		slErrorsTotal.WithLabelValues(string(e.Class)).Inc()
		slRequestsTotal.WithLabelValues(method, string(e.Class)).Inc()
		span.RecordError(e)
		span.SetStatus(codes.Error, e.Message)
		return failedResult(e), e
	}

	slRequestsTotal.WithLabelValues(method, strconv.Itoa(result.StatusCode)).Inc()
	return result, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, call CallConfig) (*Result, error) {
	return c.Do(ctx, http.MethodGet, path, nil, call)
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, payload any, call CallConfig) (*Result, error) {
	return c.Do(ctx, http.MethodPost, path, payload, call)
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, payload any, call CallConfig) (*Result, error) {
	return c.Do(ctx, http.MethodPatch, path, payload, call)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, call CallConfig) (*Result, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, call)
}

// Execute performs a call and decodes its payload into T.
func Execute[T any](ctx context.Context, c *Client, method, path string, payload any, call CallConfig) (Response[T], error) {
	result, err := c.Do(ctx, method, path, payload, call)
	if err != nil {
		return Response[T]{Status: result.Status, StatusCode: result.StatusCode, Error: result.Error}, err
	}
	return Typed[T](result)
}

// Logout ends the tenant's session on the server and drops the cached token.
func (c *Client) Logout(ctx context.Context, call CallConfig) error {
	if _, err := c.Do(ctx, http.MethodPost, "Logout", nil, call); err != nil {
		return err
	}
	return c.sessions.Invalidate(ctx, call.Credentials.CompanyDB)
}

// GateState returns a snapshot of the admission gate.
func (c *Client) GateState() gate.State {
	return c.gate.State()
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	if t, ok := c.transport.(*HTTPTransport); ok {
		t.httpClient.CloseIdleConnections()
	}
	return nil
}

// send runs one attempt under a gate permit and returns the response with
// the session token it was sent with. The permit is released on every exit
// path, including transport timeouts.
func (c *Client) send(ctx context.Context, req *TransportRequest, call CallConfig) (*TransportResponse, string, error) {
	permit, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, "", classify(err)
	}
	defer permit.Release()

	token, err := c.sessions.Resolve(ctx, call.Credentials)
	if err != nil {
		return nil, "", classify(err)
	}

	header := c.config.defaultHeader()
	for key, values := range req.Header {
		header[key] = values
	}
	if len(req.Body) > 0 && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	if call.ReplaceCollections {
		header.Set("B1S-ReplaceCollectionsArray", "true")
	}
	header.Add("Cookie", sessionCookie+"="+token)
	req.Header = header
	req.Timeout = c.config.Timeout

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Str("tenant", call.Credentials.CompanyDB).
		Msg("Executing Service Layer request")

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", req.Path).Msg("Service Layer request failed")
		return nil, "", &Error{Class: ErrorClassTransient, Message: "transport failure", Err: err}
	}
	return resp, token, nil
}

// normalize turns an HTTP response into a Result or a business error.
func (c *Client) normalize(ctx context.Context, resp *TransportResponse, token string, call CallConfig) (*Result, error) {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		data, next := successData(resp.Body)
		return &Result{Status: StatusSuccess, StatusCode: resp.StatusCode, Data: data, NextLink: next}, nil
	case http.StatusNoContent:
		return &Result{Status: StatusSuccess, StatusCode: resp.StatusCode}, nil
	}
	return nil, c.businessError(ctx, resp, token, call)
}

// businessError builds the error of a rejected call. token is the session
// the request was sent with.
func (c *Client) businessError(ctx context.Context, resp *TransportResponse, token string, call CallConfig) *Error {
	e := &Error{
		Class:      ErrorClassBusiness,
		StatusCode: resp.StatusCode,
		Code:       strconv.Itoa(resp.StatusCode),
		Message:    statusMessage(resp),
	}
	if odataErr, ok := batch.DecodeError(resp.Body); ok {
		e.Code = odataErr.Code
		e.Message = odataErr.Message
	}

	// The server dropped the session; the next call must log in again
	// unless another caller already did.
	if resp.StatusCode == http.StatusUnauthorized {
		if _, err := c.sessions.InvalidateIf(ctx, call.Credentials.CompanyDB, token); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to invalidate session")
		}
	}

	logger := logging.WithTenant(c.logger, call.Credentials.CompanyDB)
	logger.Warn().
		Int("status", resp.StatusCode).
		Str("code", e.Code).
		Msg("Service Layer business error")
	return e
}

// login implements session.LoginFunc. It bypasses the gate: it only runs
// on behalf of a caller that already holds a permit.
func (c *Client) login(ctx context.Context, cred session.Credential) (string, error) {
	body, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}

	header := c.config.defaultHeader()
	header.Set("Content-Type", "application/json")

	resp, err := c.transport.Send(ctx, &TransportRequest{
		Method:  http.MethodPost,
		Path:    c.path(LoginPath),
		Header:  header,
		Body:    body,
		Timeout: c.config.Timeout,
	})
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		if odataErr, ok := batch.DecodeError(resp.Body); ok {
			return "", fmt.Errorf("status %d: %s", resp.StatusCode, odataErr.Message)
		}
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, statusMessage(resp))
	}

	var out struct {
		SessionID string `json:"SessionId"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.SessionID, nil
}

// path returns the absolute request path for a path relative to the base path.
// Paths that already carry the base path (odata.nextLink values) are kept.
func (c *Client) path(p string) string {
	base := "/" + strings.Trim(c.config.BasePath, "/")
	if base == "/" {
		return "/" + strings.TrimLeft(p, "/")
	}
	if strings.HasPrefix(p, base+"/") {
		return p
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return body, nil
}

func statusMessage(resp *TransportResponse) string {
	if resp.Status != "" {
		// net/http reports "404 Not Found"
		if _, text, ok := strings.Cut(resp.Status, " "); ok {
			return text
		}
		return resp.Status
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return "HTTP " + strconv.Itoa(resp.StatusCode)
}
