// Package testutil provides testing utilities for the Service Layer client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// BasePath is the path prefix served by MockServiceLayer.
const BasePath = "/b1s/v1"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration

	// Drop closes the connection without answering, which the client sees
	// as a transport failure.
	Drop bool
}

// MockServiceLayer is a configurable mock Service Layer for testing.
//
// Login issues session ids "session-1", "session-2", ... Any other path
// requires a B1SESSION cookie for a live session and answers 401 otherwise.
type MockServiceLayer struct {
	server *httptest.Server
	mu     sync.RWMutex

	handlers  map[string]func(w http.ResponseWriter, r *http.Request)
	sequences map[string][]MockResponse
	sessions  map[string]string // session id -> CompanyDB
	loginFail *MockResponse
	loginWait time.Duration

	// Tracking
	RequestCount      int
	LoginCount        int
	InFlight          int
	MaxInFlight       int
	LastRequestHeader http.Header
	LastRequestBody   []byte
}

// NewMockServiceLayer creates a new mock Service Layer server.
func NewMockServiceLayer() *MockServiceLayer {
	mock := &MockServiceLayer{
		handlers:  make(map[string]func(w http.ResponseWriter, r *http.Request)),
		sequences: make(map[string][]MockResponse),
		sessions:  make(map[string]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.RequestCount++
		mock.InFlight++
		if mock.InFlight > mock.MaxInFlight {
			mock.MaxInFlight = mock.InFlight
		}
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastRequestBody = body
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.InFlight--
			mock.mu.Unlock()
		}()

		if r.URL.Path == BasePath+"/Login" {
			mock.handleLogin(w, body)
			return
		}

		if !mock.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, ErrorBody(301, "Invalid session or session already timeout."))
			return
		}

		// Check for a queued response, then a custom handler
		if resp, ok := mock.nextResponse(r.URL.Path); ok {
			serve(w, resp)
			return
		}

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		// Default handler
		writeJSON(w, http.StatusOK, `{"value": []}`)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockServiceLayer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServiceLayer) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockServiceLayer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LoginCount = 0
	m.MaxInFlight = 0
	m.LastRequestHeader = nil
	m.LastRequestBody = nil
}

// SetHandler sets a custom handler for a path relative to BasePath.
func (m *MockServiceLayer) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[fullPath(path)] = handler
}

// SetResponse configures a simple response for a path relative to BasePath.
func (m *MockServiceLayer) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		serve(w, resp)
	})
}

// QueueResponses serves resps in order on path before falling back to the
// path's handler.
func (m *MockServiceLayer) QueueResponses(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := fullPath(path)
	m.sequences[p] = append(m.sequences[p], resps...)
}

// SetLoginFailure makes every login answer resp. A nil resp restores
// successful logins.
func (m *MockServiceLayer) SetLoginFailure(resp *MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginFail = resp
}

// SetLoginDelay delays every login answer.
func (m *MockServiceLayer) SetLoginDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginWait = d
}

// ExpireSessions drops every issued session, as a server-side timeout would.
func (m *MockServiceLayer) ExpireSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]string)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockServiceLayer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLoginCount returns the number of login requests.
func (m *MockServiceLayer) GetLoginCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoginCount
}

// GetMaxInFlight returns the highest number of concurrent requests seen.
func (m *MockServiceLayer) GetMaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.MaxInFlight
}

// GetLastRequestHeader returns the headers of the latest request.
func (m *MockServiceLayer) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// GetLastRequestBody returns the body of the latest request.
func (m *MockServiceLayer) GetLastRequestBody() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestBody
}

func (m *MockServiceLayer) handleLogin(w http.ResponseWriter, body []byte) {
	m.mu.Lock()
	m.LoginCount++
	n := m.LoginCount
	fail := m.loginFail
	wait := m.loginWait
	m.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
	if fail != nil {
		serve(w, *fail)
		return
	}

	var cred struct {
		CompanyDB string
		UserName  string
		Password  string
	}
	if err := json.Unmarshal(body, &cred); err != nil || cred.CompanyDB == "" || cred.UserName == "" {
		writeJSON(w, http.StatusBadRequest, ErrorBody(-1, "Invalid login request"))
		return
	}

	id := fmt.Sprintf("session-%d", n)
	m.mu.Lock()
	m.sessions[id] = cred.CompanyDB
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"SessionId": %q, "Version": "1000000", "SessionTimeout": 30}`, id))
}

func (m *MockServiceLayer) authorized(r *http.Request) bool {
	cookie, err := r.Cookie("B1SESSION")
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[cookie.Value]
	return ok
}

func (m *MockServiceLayer) nextResponse(path string) (MockResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.sequences[path]
	if len(queue) == 0 {
		return MockResponse{}, false
	}
	m.sequences[path] = queue[1:]
	return queue[0], true
}

func serve(w http.ResponseWriter, resp MockResponse) {
	// Add delay if specified
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	if resp.Drop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		panic(http.ErrAbortHandler)
	}

	// Set headers
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" && resp.Body != "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}

	// Write status and body
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func fullPath(path string) string {
	if strings.HasPrefix(path, BasePath+"/") {
		return path
	}
	return BasePath + "/" + strings.TrimLeft(path, "/")
}

// ErrorBody returns a Service Layer error payload.
func ErrorBody(code int, message string) string {
	return fmt.Sprintf(`{"error": {"code": %d, "message": {"lang": "en-us", "value": %q}}}`, code, message)
}

// NewOKResponse creates a 200 OK JSON response.
func NewOKResponse(body string) MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: body}
}

// NewBusinessErrorResponse creates a 400 response carrying a Service Layer error.
func NewBusinessErrorResponse(code int, message string) MockResponse {
	return MockResponse{StatusCode: http.StatusBadRequest, Body: ErrorBody(code, message)}
}

// NewDroppedResponse creates a response that drops the connection.
func NewDroppedResponse() MockResponse {
	return MockResponse{Drop: true}
}

// BatchPart is one part of a mock $batch response.
type BatchPart struct {
	StatusLine string // e.g. "201 Created"
	Body       string
}

// NewBatchResponse creates a multipart $batch response with boundary.
func NewBatchResponse(boundary string, parts ...BatchPart) MockResponse {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: application/http\r\n")
		b.WriteString("Content-Transfer-Encoding: binary\r\n\r\n")
		b.WriteString("HTTP/1.1 " + p.StatusLine + "\r\n")
		if p.Body != "" {
			b.WriteString("Content-Type: application/json;odata=minimalmetadata;charset=utf-8\r\n\r\n")
			b.WriteString(p.Body + "\r\n")
		} else {
			b.WriteString("\r\n")
		}
	}
	b.WriteString("--" + boundary + "--\r\n")

	return MockResponse{
		StatusCode: http.StatusAccepted,
		Body:       b.String(),
		Headers: map[string]string{
			"Content-Type": "multipart/mixed;boundary=" + boundary,
		},
	}
}
