package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// TransportRequest is one outbound HTTP exchange.
type TransportRequest struct {
	Method string

	// Path is absolute ("/b1s/v1/Items") and may carry a query string.
	Path string

	Header http.Header
	Body   []byte

	// Timeout bounds the exchange; 0 means no per-request bound.
	Timeout time.Duration
}

// TransportResponse is the raw result of an exchange.
type TransportResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// Transport sends requests to the Service Layer. An error means no HTTP
// response was received (connection reset, timeout, abort).
type Transport interface {
	Send(ctx context.Context, req *TransportRequest) (*TransportResponse, error)
}

// HTTPTransport is the net/http implementation of Transport.
type HTTPTransport struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPTransport creates a transport for baseURL (scheme://host:port).
func NewHTTPTransport(baseURL string, timeout time.Duration, insecureSkipVerify bool) *HTTPTransport {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			// Service Layer installations commonly run with self-signed certificates.
			InsecureSkipVerify: insecureSkipVerify, //nolint:gosec
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &HTTPTransport{
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (t *HTTPTransport) SetHTTPClient(client *http.Client) {
	t.httpClient = client
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *TransportRequest) (*TransportResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.baseURL+escapeQuery(req.Path), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &TransportResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// escapeQuery encodes the spaces OData filters are usually written with.
func escapeQuery(path string) string {
	p, q, ok := strings.Cut(path, "?")
	if !ok {
		return path
	}
	return p + "?" + strings.ReplaceAll(q, " ", "%20")
}
