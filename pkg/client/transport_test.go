package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPTransport_Send(t *testing.T) {
	var gotQuery, gotBody, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("Cookie")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"DocEntry":1}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL+"/", 5*time.Second, false)

	resp, err := transport.Send(context.Background(), &TransportRequest{
		Method: http.MethodPost,
		Path:   "/b1s/v1/Orders?$filter=CardCode eq 'C1'",
		Header: http.Header{"Cookie": []string{"B1SESSION=abc"}},
		Body:   []byte(`{"CardCode":"C1"}`),
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}
	if resp.Status != "201 Created" {
		t.Errorf("Status = %q, want %q", resp.Status, "201 Created")
	}
	if string(resp.Body) != `{"DocEntry":1}` {
		t.Errorf("Body = %s", resp.Body)
	}
	if gotQuery != "$filter=CardCode%20eq%20'C1'" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotBody != `{"CardCode":"C1"}` {
		t.Errorf("request body = %q", gotBody)
	}
	if gotHeader != "B1SESSION=abc" {
		t.Errorf("Cookie = %q", gotHeader)
	}
}

func TestHTTPTransport_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, time.Minute, false)

	_, err := transport.Send(context.Background(), &TransportRequest{
		Method:  http.MethodGet,
		Path:    "/b1s/v1/Items",
		Timeout: 20 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Send() should fail on timeout")
	}
}

func TestHTTPTransport_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	transport := NewHTTPTransport(url, time.Second, false)
	if _, err := transport.Send(context.Background(), &TransportRequest{Method: http.MethodGet, Path: "/"}); err == nil {
		t.Fatal("Send() should fail when the server is down")
	}
}

func TestEscapeQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/b1s/v1/Items", "/b1s/v1/Items"},
		{"/b1s/v1/Items?$top=5", "/b1s/v1/Items?$top=5"},
		{"/b1s/v1/Items?$filter=a eq 1", "/b1s/v1/Items?$filter=a%20eq%201"},
	}
	for _, tt := range tests {
		if got := escapeQuery(tt.in); got != tt.want {
			t.Errorf("escapeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
