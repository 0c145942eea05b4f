package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/servicelayer-client/pkg/client"
	"github.com/Sternrassler/servicelayer-client/pkg/metrics"
	"github.com/Sternrassler/servicelayer-client/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Credential and call headers.
const (
	headerCompany  = "X-SL-Company"
	headerUsername = "X-SL-Username"
	headerPassword = "X-SL-Password"
	headerRetries  = "X-SL-Retries"
	headerAll      = "X-SL-All"
	headerReplace  = "X-SL-Replace-Collections"
)

// maxBodyBytes caps forwarded request bodies.
const maxBodyBytes = 10 << 20

func newHandler(slClient *client.Client, redisClient *redis.Client, retries int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient, slClient))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/sl/", proxyHandler(slClient, retries))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 when the token store is unreachable or the gate
// queue is full.
func readyHandler(redisClient *redis.Client, slClient *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if slClient.GateState().QueueFull() {
			http.Error(w, "queue full", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func proxyHandler(slClient *client.Client, defaultRetries int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Example: /sl/Items?$top=5 -> Items?$top=5
		path := strings.TrimPrefix(r.URL.Path, "/sl/")
		if path == "" {
			writeJSON(w, http.StatusNotFound, errorResult("missing resource path"))
			return
		}
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}

		call, err := callConfig(r, defaultRetries)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResult(err.Error()))
			return
		}

		var payload any
		if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodDelete {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeJSON(w, http.StatusRequestEntityTooLarge,
						errorResult(fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit)))
					return
				}
				writeJSON(w, http.StatusBadRequest, errorResult("read body: "+err.Error()))
				return
			}
			if len(body) > 0 {
				if !json.Valid(body) {
					writeJSON(w, http.StatusBadRequest, errorResult("body is not valid JSON"))
					return
				}
				payload = json.RawMessage(body)
			}
		}

		start := time.Now()

		if r.Method == http.MethodGet && r.Header.Get(headerAll) == "true" {
			items, err := slClient.GetAll(r.Context(), path, call)
			if err != nil {
				writeJSON(w, statusFor(err, nil), errorResult(err.Error()))
				return
			}
			if items == nil {
				items = []json.RawMessage{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": client.StatusSuccess, "data": items})
			return
		}

		result, err := slClient.Do(r.Context(), r.Method, path, payload, call)

		log.Debug().
			Str("method", r.Method).
			Str("path", path).
			Str("tenant", call.Credentials.CompanyDB).
			Dur("duration", time.Since(start)).
			Msg("Proxied request")

		writeJSON(w, statusFor(err, result), result)
	}
}

// callConfig builds the per-call settings from request headers.
func callConfig(r *http.Request, defaultRetries int) (client.CallConfig, error) {
	call := client.CallConfig{
		Credentials: session.Credential{
			CompanyDB: r.Header.Get(headerCompany),
			UserName:  r.Header.Get(headerUsername),
			Password:  r.Header.Get(headerPassword),
		},
		Retries:            defaultRetries,
		ReplaceCollections: r.Header.Get(headerReplace) == "true",
	}

	if v := r.Header.Get(headerRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return call, fmt.Errorf("%s must be a non-negative integer", headerRetries)
		}
		call.Retries = n
	}

	if prefer := r.Header.Get("Prefer"); prefer != "" {
		call.Header = http.Header{"Prefer": []string{prefer}}
	}
	return call, nil
}

// statusFor maps a call outcome to the proxy's HTTP status.
func statusFor(err error, result *client.Result) int {
	if err == nil {
		if result != nil && result.StatusCode != 0 {
			return result.StatusCode
		}
		return http.StatusOK
	}

	switch client.ClassOf(err) {
	case client.ErrorClassBusiness:
		if result != nil && result.StatusCode != 0 {
			return result.StatusCode
		}
		return http.StatusBadRequest
	case client.ErrorClassAuth:
		return http.StatusUnauthorized
	case client.ErrorClassAdmission:
		return http.StatusTooManyRequests
	case client.ErrorClassRequest:
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func errorResult(message string) *client.Result {
	return &client.Result{
		Status: client.StatusTransientError,
		Error:  &client.ErrorDetail{Message: message},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
