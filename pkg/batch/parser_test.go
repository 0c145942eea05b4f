package batch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const respBoundary = "batchresponse_7a1c"

func httpPart(boundary, status, body string) string {
	s := "--" + boundary + "\r\n" +
		"Content-Type: application/http\r\n" +
		"Content-Transfer-Encoding: binary\r\n" +
		"\r\n" +
		status + "\r\n"
	if body != "" {
		s += "Content-Type: application/json;odata=minimalmetadata;charset=utf-8\r\n\r\n" + body + "\r\n"
	} else {
		s += "\r\n"
	}
	return s
}

func changesetPart(outer, inner string, parts ...string) string {
	return "--" + outer + "\r\n" +
		"Content-Type: multipart/mixed; boundary=" + inner + "\r\n" +
		"\r\n" +
		strings.Join(parts, "") +
		"--" + inner + "--\r\n"
}

func TestParse_RoundTripOrder(t *testing.T) {
	env := NewEnvelope(nil, nil)
	env.AddRequest(Request{Method: MethodGet, Path: "Items"})
	env.AddRequest(Request{Method: MethodPost, Path: "Items", Data: map[string]string{"ItemCode": "A1"}})
	env.AddChangeset(NewChangeset(Request{Method: MethodPatch, Path: "Items(5)", Data: map[string]int{"Qty": 2}}))
	_, err := env.Build("")
	require.NoError(t, err)

	body := httpPart(respBoundary, "HTTP/1.1 201 Created", `{"value":[{"ItemCode":"A0"}]}`) +
		httpPart(respBoundary, "HTTP/1.1 201 Created", `{"ItemCode":"A1","ItemName":"Widget"}`) +
		changesetPart(respBoundary, "changesetresponse_99",
			httpPart("changesetresponse_99", "HTTP/1.1 204 No Content", "")) +
		"--" + respBoundary + "--\r\n"

	parts, err := Parse("multipart/mixed;boundary="+respBoundary, []byte(body))
	require.NoError(t, err)
	require.Len(t, parts, env.PartCount())

	assert.Equal(t, PartResult{StatusCode: 200, StatusText: "OK", Data: []byte(`{"value":[{"ItemCode":"A0"}]}`)}, parts[0])

	var item struct{ ItemCode, ItemName string }
	require.NoError(t, parts[1].Decode(&item))
	assert.Equal(t, "A1", item.ItemCode)
	assert.Equal(t, 200, parts[1].StatusCode)

	assert.Equal(t, PartResult{StatusCode: 200, StatusText: "OK"}, parts[2])
}

func TestParse_NoContent(t *testing.T) {
	body := httpPart(respBoundary, "HTTP/1.1 204 No Content", "") + "--" + respBoundary + "--"

	parts, err := Parse("multipart/mixed; boundary="+respBoundary, []byte(body))
	require.NoError(t, err)
	require.Len(t, parts, 1)

	assert.Equal(t, 200, parts[0].StatusCode)
	assert.Equal(t, "OK", parts[0].StatusText)
	assert.Nil(t, parts[0].Data)
}

func TestParse_ErrorParts(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		body     string
		wantText string
	}{
		{
			name:     "structured message value",
			status:   "HTTP/1.1 400 Bad Request",
			body:     `{"error":{"message":{"value":"Bad request"}}}`,
			wantText: "Bad request",
		},
		{
			name:     "structured message with code",
			status:   "HTTP/1.1 404 Not Found",
			body:     `{"error":{"code":-2028,"message":{"lang":"en-us","value":"No matching records found (ODBC -2028)"}}}`,
			wantText: "No matching records found (ODBC -2028)",
		},
		{
			name:     "plain string message",
			status:   "HTTP/1.1 400 Bad Request",
			body:     `{"error":{"code":"301","message":"Property 'Foo' is invalid"}}`,
			wantText: "Property 'Foo' is invalid",
		},
		{
			name:     "non json body falls back to description",
			status:   "HTTP/1.1 500 Internal Server Error",
			body:     `<html>oops</html>`,
			wantText: "Internal Server Error",
		},
		{
			name:     "empty body falls back to description",
			status:   "HTTP/1.1 409 Conflict",
			wantText: "Conflict",
		},
		{
			name:     "no description uses status text",
			status:   "HTTP/1.1 403",
			wantText: "Forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := httpPart(respBoundary, tt.status, tt.body) + "--" + respBoundary + "--\r\n"

			parts, err := Parse("multipart/mixed; boundary="+respBoundary, []byte(body))
			require.NoError(t, err)
			require.Len(t, parts, 1)

			assert.Equal(t, 400, parts[0].StatusCode)
			assert.Equal(t, tt.wantText, parts[0].StatusText)
			assert.Nil(t, parts[0].Data)
		})
	}
}

func TestParse_InvalidStatusLineFailsWholeParse(t *testing.T) {
	body := httpPart(respBoundary, "HTTP/1.1 200 OK", `{}`) +
		httpPart(respBoundary, "HTTP/2 200", `{}`) +
		"--" + respBoundary + "--"

	_, err := Parse("multipart/mixed; boundary="+respBoundary, []byte(body))
	assert.ErrorIs(t, err, ErrParse)
	assert.ErrorContains(t, err, `"HTTP/2 200"`)
}

func TestParse_ContentTypeErrors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
	}{
		{name: "empty", contentType: ""},
		{name: "not multipart", contentType: "application/json"},
		{name: "no boundary", contentType: "multipart/mixed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.contentType, []byte("whatever"))
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestParse_DiscardsStructuralArtifacts(t *testing.T) {
	body := "This is a preamble\r\n" +
		httpPart(respBoundary, "HTTP/1.1 200 OK", `{"a":1}`) +
		"--" + respBoundary + "\r\n\r\n" + // empty part
		"--" + respBoundary + "\r\nX-Unrelated: yes\r\n\r\n" + // no content type
		"--" + respBoundary + "--\r\nepilogue"

	parts, err := Parse("multipart/mixed; boundary="+respBoundary, []byte(body))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.JSONEq(t, `{"a":1}`, string(parts[0].Data))
}

func TestParse_LineFeedOnlyAndLowercaseHeaders(t *testing.T) {
	body := "--" + respBoundary + "\n" +
		"content-type: application/http\n" +
		"content-transfer-encoding: binary\n" +
		"\n" +
		"HTTP/1.1 202 Accepted\n" +
		"content-type: application/json\n" +
		"\n" +
		`{"ok":true}` + "\n" +
		"--" + respBoundary + "--"

	parts, err := Parse("multipart/mixed; boundary="+respBoundary, []byte(body))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.True(t, parts[0].OK())
	assert.JSONEq(t, `{"ok":true}`, string(parts[0].Data))
}

func TestParse_InvalidJSONSuccessBodyMarksPartFailed(t *testing.T) {
	body := httpPart(respBoundary, "HTTP/1.1 200 OK", `{"broken":`) + "--" + respBoundary + "--"

	parts, err := Parse("multipart/mixed; boundary="+respBoundary, []byte(body))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, 400, parts[0].StatusCode)
	assert.Equal(t, "invalid JSON body", parts[0].StatusText)
}

func TestParse_ChangesetWithFailure(t *testing.T) {
	body := changesetPart(respBoundary, "changesetresponse_1",
		httpPart("changesetresponse_1", "HTTP/1.1 400 Bad Request", `{"error":{"code":-5002,"message":{"value":"Quantity must be positive"}}}`)) +
		httpPart(respBoundary, "HTTP/1.1 200 OK", `{"n":1}`) +
		"--" + respBoundary + "--"

	parts, err := Parse("multipart/mixed; boundary="+respBoundary, []byte(body))
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, PartResult{StatusCode: 400, StatusText: "Quantity must be positive"}, parts[0])
	assert.True(t, parts[1].OK())
}

func TestParse_ChangesetWithoutBoundaryFailsWholeParse(t *testing.T) {
	body := httpPart(respBoundary, "HTTP/1.1 201 Created", `{"ItemCode":"A1"}`) +
		"--" + respBoundary + "\r\n" +
		"Content-Type: multipart/mixed\r\n" +
		"\r\n" +
		httpPart("changesetresponse_1", "HTTP/1.1 204 No Content", "") +
		"--changesetresponse_1--\r\n" +
		"--" + respBoundary + "--"

	parts, err := Parse("multipart/mixed; boundary="+respBoundary, []byte(body))
	require.ErrorIs(t, err, ErrParse)
	assert.Contains(t, err.Error(), "no boundary")
	assert.Nil(t, parts)
}

func TestResult_Accessors(t *testing.T) {
	ok := &Result{StatusCode: 202, Parts: []PartResult{{StatusCode: 200, StatusText: "OK"}}}
	assert.False(t, ok.HasErrors())
	assert.Nil(t, ok.FirstError())

	failed := &Result{StatusCode: 202, Parts: []PartResult{
		{StatusCode: 200, StatusText: "OK"},
		{StatusCode: 400, StatusText: "first"},
		{StatusCode: 400, StatusText: "second"},
	}}
	assert.True(t, failed.HasErrors())
	require.NotNil(t, failed.FirstError())
	assert.Equal(t, "first", failed.FirstError().StatusText)

	empty := &Result{StatusCode: 200}
	assert.False(t, empty.HasErrors())
}

func TestDecodeError(t *testing.T) {
	e, ok := DecodeError([]byte(`{"error":{"code":-1,"message":{"lang":"en-us","value":"Invalid session"}}}`))
	require.True(t, ok)
	assert.Equal(t, "-1", e.Code)
	assert.Equal(t, "Invalid session", e.Message)

	_, ok = DecodeError([]byte(`{"value":[]}`))
	assert.False(t, ok)

	_, ok = DecodeError([]byte(`not json`))
	assert.False(t, ok)
}
