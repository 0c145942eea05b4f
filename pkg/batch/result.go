package batch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Normalized part status codes.
const (
	StatusOK    = http.StatusOK
	StatusError = http.StatusBadRequest
)

// PartResult is the outcome of one request inside a batch.
type PartResult struct {
	// StatusCode is StatusOK or StatusError.
	StatusCode int `json:"statusCode"`

	// StatusText is "OK" or the server's error message.
	StatusText string `json:"statusText"`

	// Data is the JSON body of a successful part, nil for 204 or errors.
	Data json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the part succeeded.
func (p PartResult) OK() bool {
	return p.StatusCode == StatusOK
}

// Decode unmarshals the part body into v. A part without a body leaves v untouched.
func (p PartResult) Decode(v any) error {
	if len(p.Data) == 0 {
		return nil
	}
	return json.Unmarshal(p.Data, v)
}

// Result is the outcome of a whole batch submission.
type Result struct {
	// StatusCode is the outer HTTP status, 0 if the exchange never completed.
	StatusCode int `json:"statusCode"`

	// Parts holds one entry per request, in submission order.
	Parts []PartResult `json:"parts"`

	// Err is set when the batch as a whole failed.
	Err error `json:"-"`
}

// HasErrors reports whether the batch or any of its parts failed.
func (r *Result) HasErrors() bool {
	if r.Err != nil {
		return true
	}
	for _, p := range r.Parts {
		if !p.OK() {
			return true
		}
	}
	return false
}

// FirstError returns the first failed part, or nil.
func (r *Result) FirstError() *PartResult {
	for i := range r.Parts {
		if !r.Parts[i].OK() {
			return &r.Parts[i]
		}
	}
	return nil
}

// ODataError is the structured error the Service Layer returns:
//
//	{"error":{"code":-2028,"message":{"lang":"en-us","value":"No matching records found"}}}
type ODataError struct {
	Code    string
	Message string
}

type odataErrorBody struct {
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message json.RawMessage `json:"message"`
	} `json:"error"`
}

// DecodeError extracts the structured error from a response body.
// The message may be an object with a "value" field or a plain string.
func DecodeError(body []byte) (ODataError, bool) {
	var env odataErrorBody
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return ODataError{}, false
	}

	var out ODataError
	out.Code = rawScalar(env.Error.Code)

	var msg struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(env.Error.Message, &msg); err == nil && msg.Value != "" {
		out.Message = msg.Value
	} else {
		var s string
		if err := json.Unmarshal(env.Error.Message, &s); err == nil {
			out.Message = s
		}
	}

	if out.Message == "" {
		return out, false
	}
	return out, true
}

// rawScalar renders a JSON number or string as plain text.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}

// ErrParse marks malformed batch responses.
var ErrParse = errors.New("malformed batch response")

func statusText(code int, description string) string {
	if description != "" {
		return description
	}
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "HTTP " + strconv.Itoa(code)
}
