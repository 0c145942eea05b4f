// Package batch encodes OData $batch request bodies and decodes the
// multipart responses the Service Layer sends back.
package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Method is an HTTP method allowed inside a batch.
type Method string

// Supported batch methods.
const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPatch  Method = "PATCH"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPatch, MethodPut, MethodDelete:
		return true
	}
	return false
}

const crlf = "\r\n"

// Request is one operation inside a batch.
type Request struct {
	// ID is appended to the path as "(ID)" for mutating requests.
	ID string

	Method Method
	Path   string

	// Data is JSON-encoded as the request body; nil means no body.
	Data any
}

// Changeset groups requests the server applies atomically.
type Changeset struct {
	id       string
	requests []Request
}

// NewChangeset creates a changeset with a fresh boundary.
func NewChangeset(requests ...Request) *Changeset {
	return &Changeset{
		id:       uuid.NewString(),
		requests: append([]Request(nil), requests...),
	}
}

// ID returns the changeset boundary.
func (c *Changeset) ID() string { return c.id }

// Requests returns the requests in submission order.
func (c *Changeset) Requests() []Request { return c.requests }

// Add appends a request.
func (c *Changeset) Add(r Request) { c.requests = append(c.requests, r) }

// Envelope is a complete $batch request.
type Envelope struct {
	id         string
	requests   []Request
	changesets []*Changeset

	// ReplaceCollections asks the server to replace, not merge, collection
	// properties on PATCH (B1S-ReplaceCollectionsArray).
	ReplaceCollections bool
}

// NewEnvelope creates an envelope with a fresh boundary.
func NewEnvelope(requests []Request, changesets []*Changeset) *Envelope {
	return &Envelope{
		id:         uuid.NewString(),
		requests:   append([]Request(nil), requests...),
		changesets: append([]*Changeset(nil), changesets...),
	}
}

// ID returns the envelope uuid.
func (e *Envelope) ID() string { return e.id }

// Boundary returns the outer multipart boundary.
func (e *Envelope) Boundary() string { return "batch_" + e.id }

// ContentType returns the header value to send the envelope with.
func (e *Envelope) ContentType() string {
	return "multipart/mixed; boundary=" + e.Boundary()
}

// AddRequest appends a top-level request.
func (e *Envelope) AddRequest(r Request) { e.requests = append(e.requests, r) }

// AddChangeset appends a changeset.
func (e *Envelope) AddChangeset(c *Changeset) { e.changesets = append(e.changesets, c) }

// Requests returns the top-level requests.
func (e *Envelope) Requests() []Request { return e.requests }

// Changesets returns the changesets.
func (e *Envelope) Changesets() []*Changeset { return e.changesets }

// HasChanges reports whether there is anything to submit.
func (e *Envelope) HasChanges() bool {
	return len(e.requests) > 0 || len(e.changesets) > 0
}

// PartCount returns how many response parts the envelope should produce.
func (e *Envelope) PartCount() int {
	n := len(e.requests)
	for _, c := range e.changesets {
		n += len(c.requests)
	}
	return n
}

// Build encodes the envelope. Request paths are emitted as "/prefix/path";
// prefix may be empty.
func (e *Envelope) Build(prefix string) ([]byte, error) {
	var buf bytes.Buffer
	boundary := e.Boundary()

	for i, r := range e.requests {
		if err := writeRequestPart(&buf, boundary, prefix, r); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
	}

	for i, c := range e.changesets {
		buf.WriteString("--" + boundary + crlf)
		buf.WriteString("Content-Type: multipart/mixed; boundary=" + c.id + crlf)
		buf.WriteString(crlf)
		for j, r := range c.requests {
			if err := writeRequestPart(&buf, c.id, prefix, r); err != nil {
				return nil, fmt.Errorf("changeset %d request %d: %w", i, j, err)
			}
		}
		buf.WriteString("--" + c.id + "--" + crlf)
	}

	buf.WriteString("--" + boundary + "--" + crlf)
	return buf.Bytes(), nil
}

func writeRequestPart(buf *bytes.Buffer, boundary, prefix string, r Request) error {
	if !r.Method.Valid() {
		return fmt.Errorf("unsupported method %q", r.Method)
	}

	buf.WriteString("--" + boundary + crlf)
	buf.WriteString("Content-Type: application/http" + crlf)
	buf.WriteString("Content-Transfer-Encoding: binary" + crlf)
	buf.WriteString(crlf)

	target := requestPath(prefix, r.Path)
	if r.Method == MethodGet {
		buf.WriteString(string(r.Method) + " " + target + ";" + crlf)
		buf.WriteString(crlf)
		return nil
	}

	if r.ID != "" {
		target += "(" + r.ID + ")"
	}
	buf.WriteString(string(r.Method) + " " + target + crlf)

	if r.Data != nil {
		body, err := json.Marshal(r.Data)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		buf.WriteString(crlf)
		buf.Write(body)
		buf.WriteString(crlf)
	}
	buf.WriteString(crlf)
	return nil
}

func requestPath(prefix, path string) string {
	prefix = strings.Trim(prefix, "/")
	path = strings.TrimLeft(path, "/")
	if prefix == "" {
		return "/" + path
	}
	return "/" + prefix + "/" + path
}
