package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Status tags a Result.
type Status string

const (
	// StatusSuccess means the service accepted the call.
	StatusSuccess Status = "SUCCESS"

	// StatusBusinessError means the service rejected the call.
	StatusBusinessError Status = "BUSINESS_ERROR"

	// StatusTransientError means the call failed before the service could
	// answer it (transport, admission, authentication, unexpected failure).
	StatusTransientError Status = "SERVICE_LAYER_ERROR"
)

// ErrorDetail is the normalized error of a failed call.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Result is the normalized outcome of one call.
type Result struct {
	Status     Status          `json:"status"`
	StatusCode int             `json:"statusCode,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      *ErrorDetail    `json:"error,omitempty"`

	// NextLink is the odata.nextLink of a paged collection, relative to
	// the base path.
	NextLink string `json:"nextLink,omitempty"`
}

// OK reports whether the call succeeded.
func (r *Result) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// failedResult converts an error into a Result.
func failedResult(err error) *Result {
	e := classify(err)
	status := StatusTransientError
	if e.Class == ErrorClassBusiness {
		status = StatusBusinessError
	}
	return &Result{
		Status:     status,
		StatusCode: e.StatusCode,
		Error:      &ErrorDetail{Code: e.Code, Message: errorMessage(e)},
	}
}

// transientResult converts any error into a transient-error Result.
func transientResult(err error) *Result {
	r := failedResult(err)
	r.Status = StatusTransientError
	return r
}

func errorMessage(e *Error) string {
	if e.Err != nil && e.Class != ErrorClassBusiness {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// successData extracts the payload of a successful response: the "value"
// collection when present, otherwise the whole entity. The second return is
// the collection's next link, if any.
func successData(body []byte) (json.RawMessage, string) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ""
	}

	if body[0] == '{' {
		var envelope struct {
			Value      json.RawMessage `json:"value"`
			NextLink   string          `json:"odata.nextLink"`
			NextLinkV4 string          `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Value) > 0 {
			next := envelope.NextLink
			if next == "" {
				next = envelope.NextLinkV4
			}
			return envelope.Value, next
		}
	}
	return json.RawMessage(body), ""
}

// ErrNoData is returned by Decode when the result carries no payload.
var ErrNoData = errors.New("result has no data")

// Decode unmarshals the result payload into T.
func Decode[T any](r *Result) (T, error) {
	var out T
	if r == nil || len(r.Data) == 0 {
		return out, ErrNoData
	}
	if err := json.Unmarshal(r.Data, &out); err != nil {
		return out, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

// Response is a Result with a typed payload.
type Response[T any] struct {
	Status     Status
	StatusCode int
	Data       T
	Error      *ErrorDetail
}

// Typed converts r into a Response[T]. Payload decoding errors are returned;
// an empty payload leaves Data at its zero value.
func Typed[T any](r *Result) (Response[T], error) {
	resp := Response[T]{Status: r.Status, StatusCode: r.StatusCode, Error: r.Error}
	data, err := Decode[T](r)
	if err != nil && !errors.Is(err, ErrNoData) {
		return resp, err
	}
	resp.Data = data
	return resp, nil
}
