package batch

import (
	"encoding/json"
	"fmt"
	"mime"
	"regexp"
	"strconv"
	"strings"
)

// maxNesting bounds multipart nesting: batch > changeset.
const maxNesting = 2

var statusLinePattern = regexp.MustCompile(`^HTTP/1\.1 (\d{3})(?: (.*))?$`)

// Parse decodes a multipart $batch response into per-request results in
// wire order. Changeset responses are flattened in place. A part whose
// status line cannot be read fails the whole parse with ErrParse.
func Parse(contentType string, body []byte) ([]PartResult, error) {
	boundary, err := boundaryOf(contentType)
	if err != nil {
		return nil, err
	}
	return parseMultipart(boundary, strings.ReplaceAll(string(body), "\r\n", "\n"), 1)
}

func boundaryOf(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: content type %q: %v", ErrParse, contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("%w: content type %q is not multipart", ErrParse, mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", fmt.Errorf("%w: content type %q has no boundary", ErrParse, contentType)
	}
	return boundary, nil
}

func parseMultipart(boundary, body string, depth int) ([]PartResult, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("%w: multipart nested deeper than %d levels", ErrParse, maxNesting)
	}

	var results []PartResult
	for _, segment := range strings.Split(body, "--"+boundary) {
		// The closing delimiter leaves a "--" at the start of the last segment.
		segment = strings.TrimSpace(strings.TrimPrefix(segment, "--"))
		if segment == "" || !hasContentTypeLine(segment) {
			continue
		}

		headers, rest := splitBlock(segment)
		contentType := headerValue(headers, "Content-Type")

		if mediaType, params, err := mime.ParseMediaType(contentType); err == nil && mediaType == "multipart/mixed" {
			if params["boundary"] == "" {
				return nil, fmt.Errorf("%w: changeset part has no boundary", ErrParse)
			}
			nested, err := parseMultipart(params["boundary"], rest, depth+1)
			if err != nil {
				return nil, err
			}
			results = append(results, nested...)
			continue
		}

		part, err := parsePart(rest)
		if err != nil {
			return nil, err
		}
		results = append(results, part)
	}

	return results, nil
}

// parsePart reads the embedded HTTP response of one part.
func parsePart(raw string) (PartResult, error) {
	statusBlock, body := splitBlock(raw)
	statusLine := strings.TrimSpace(strings.SplitN(statusBlock, "\n", 2)[0])

	m := statusLinePattern.FindStringSubmatch(statusLine)
	if m == nil {
		return PartResult{}, fmt.Errorf("%w: unexpected status line %q", ErrParse, statusLine)
	}
	code, _ := strconv.Atoi(m[1])
	description := strings.TrimSpace(m[2])
	body = strings.TrimSpace(body)

	switch code {
	case 200, 201, 202:
		if body == "" {
			return PartResult{StatusCode: StatusOK, StatusText: "OK"}, nil
		}
		if !json.Valid([]byte(body)) {
			return PartResult{StatusCode: StatusError, StatusText: "invalid JSON body"}, nil
		}
		return PartResult{StatusCode: StatusOK, StatusText: "OK", Data: json.RawMessage(body)}, nil
	case 204:
		return PartResult{StatusCode: StatusOK, StatusText: "OK"}, nil
	}

	if odataErr, ok := DecodeError([]byte(body)); ok {
		return PartResult{StatusCode: StatusError, StatusText: odataErr.Message}, nil
	}
	return PartResult{StatusCode: StatusError, StatusText: statusText(code, description)}, nil
}

// splitBlock splits s at the first blank line.
func splitBlock(s string) (head, rest string) {
	if i := strings.Index(s, "\n\n"); i >= 0 {
		return s[:i], s[i+2:]
	}
	return s, ""
}

func hasContentTypeLine(segment string) bool {
	const prefix = "content-type"
	return len(segment) >= len(prefix) && strings.EqualFold(segment[:len(prefix)], prefix)
}

func headerValue(headers, name string) string {
	for _, line := range strings.Split(headers, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
