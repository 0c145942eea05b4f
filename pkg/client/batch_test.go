package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/Sternrassler/servicelayer-client/pkg/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batchBoundary = "batchresponse_0f3c"

func batchResponse(status int, parts ...string) *TransportResponse {
	body := strings.Join(parts, "") + "--" + batchBoundary + "--\r\n"
	return &TransportResponse{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"multipart/mixed;boundary=" + batchBoundary}},
		Body:       []byte(body),
	}
}

func batchPart(statusLine, body string) string {
	s := "--" + batchBoundary + "\r\n" +
		"Content-Type: application/http\r\n" +
		"Content-Transfer-Encoding: binary\r\n\r\n" +
		statusLine + "\r\n"
	if body != "" {
		return s + "Content-Type: application/json\r\n\r\n" + body + "\r\n"
	}
	return s + "\r\n"
}

func TestExecuteBatch_EmptyEnvelopeNotSent(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, nil)

	result, err := c.ExecuteBatch(context.Background(), batch.NewEnvelope(nil, nil), CallConfig{Credentials: testCreds})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Empty(t, result.Parts)
	assert.Equal(t, 0, ft.callCount())
	assert.Equal(t, 0, ft.loginCount())
}

func TestExecuteBatch_Success(t *testing.T) {
	ft := &fakeTransport{handler: func(req *TransportRequest) (*TransportResponse, error) {
		return batchResponse(http.StatusAccepted,
			batchPart("HTTP/1.1 200 OK", `{"ItemCode":"A1"}`),
			batchPart("HTTP/1.1 201 Created", `{"DocEntry":7}`),
			batchPart("HTTP/1.1 204 No Content", ""),
		), nil
	}}
	c := newTestClient(t, ft, nil)

	env := batch.NewEnvelope([]batch.Request{
		{Method: batch.MethodGet, Path: "Items('A1')"},
		{Method: batch.MethodPost, Path: "Orders", Data: map[string]any{"CardCode": "C1"}},
	}, nil)
	env.AddChangeset(batch.NewChangeset(batch.Request{Method: batch.MethodPatch, Path: "Items('A1')", Data: map[string]int{"Qty": 1}}))

	result, err := c.ExecuteBatch(context.Background(), env, CallConfig{Credentials: testCreds})
	require.NoError(t, err)
	require.Len(t, result.Parts, 3)
	assert.False(t, result.HasErrors())
	assert.JSONEq(t, `{"DocEntry":7}`, string(result.Parts[1].Data))

	req := ft.lastCall()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/b1s/v1/$batch", req.Path)
	assert.Equal(t, env.ContentType(), req.Header.Get("Content-Type"))
	assert.Equal(t, "B1SESSION=sess-1", req.Header.Get("Cookie"))
	assert.Contains(t, string(req.Body), "GET /b1s/v1/Items('A1')")
	assert.Contains(t, string(req.Body), "--"+env.Boundary()+"--")
}

func TestExecuteBatch_PartFailures(t *testing.T) {
	ft := &fakeTransport{handler: func(req *TransportRequest) (*TransportResponse, error) {
		return batchResponse(http.StatusAccepted,
			batchPart("HTTP/1.1 201 Created", `{"DocEntry":7}`),
			batchPart("HTTP/1.1 400 Bad Request", `{"error":{"code":-5002,"message":{"lang":"en-us","value":"Duplicate key"}}}`),
		), nil
	}}
	c := newTestClient(t, ft, nil)

	env := batch.NewEnvelope([]batch.Request{
		{Method: batch.MethodPost, Path: "Items", Data: map[string]string{"ItemCode": "A1"}},
		{Method: batch.MethodPost, Path: "Items", Data: map[string]string{"ItemCode": "A1"}},
	}, nil)

	result, err := c.ExecuteBatch(context.Background(), env, CallConfig{Credentials: testCreds})
	require.NoError(t, err, "part failures do not fail the exchange")
	require.True(t, result.HasErrors())
	assert.Equal(t, "Duplicate key", result.FirstError().StatusText)
}

func TestExecuteBatch_NonSuccessStatus(t *testing.T) {
	ft := &fakeTransport{handler: func(req *TransportRequest) (*TransportResponse, error) {
		return jsonResponse(http.StatusBadRequest, `{"error":{"code":-1,"message":"Malformed batch"}}`), nil
	}}
	c := newTestClient(t, ft, nil)

	env := batch.NewEnvelope([]batch.Request{{Method: batch.MethodGet, Path: "Items"}}, nil)
	result, err := c.ExecuteBatch(context.Background(), env, CallConfig{Credentials: testCreds, Retries: 2})
	require.Error(t, err)
	assert.Equal(t, ErrorClassBusiness, ClassOf(err))
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.Empty(t, result.Parts)
	assert.Equal(t, 1, ft.callCount())
}

func TestExecuteBatch_ParseError(t *testing.T) {
	ft := &fakeTransport{handler: func(req *TransportRequest) (*TransportResponse, error) {
		return batchResponse(http.StatusAccepted, batchPart("garbage", "")), nil
	}}
	c := newTestClient(t, ft, nil)

	env := batch.NewEnvelope([]batch.Request{{Method: batch.MethodGet, Path: "Items"}}, nil)
	result, err := c.ExecuteBatch(context.Background(), env, CallConfig{Credentials: testCreds, Retries: 2})
	require.Error(t, err)
	assert.Equal(t, ErrorClassParse, ClassOf(err))
	assert.True(t, errors.Is(err, batch.ErrParse))
	assert.Equal(t, http.StatusAccepted, result.StatusCode)
	assert.Equal(t, 1, ft.callCount(), "parse errors are not retried")
}

func TestExecuteBatch_TransportFailure(t *testing.T) {
	ft := &fakeTransport{handler: func(req *TransportRequest) (*TransportResponse, error) {
		return nil, errors.New("connection reset")
	}}
	c := newTestClient(t, ft, nil)

	env := batch.NewEnvelope([]batch.Request{{Method: batch.MethodGet, Path: "Items"}}, nil)
	result, err := c.ExecuteBatch(context.Background(), env, CallConfig{Credentials: testCreds, Retries: 1})
	require.Error(t, err)
	assert.Equal(t, ErrorClassTransient, ClassOf(err))
	assert.Equal(t, 0, result.StatusCode)
	assert.Empty(t, result.Parts)
	assert.Equal(t, err, result.Err)
	assert.Equal(t, 2, ft.callCount())
}

func TestExecuteBatch_UnencodableRequest(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, nil)

	env := batch.NewEnvelope([]batch.Request{{Method: batch.MethodPost, Path: "Items", Data: make(chan int)}}, nil)
	result, err := c.ExecuteBatch(context.Background(), env, CallConfig{Credentials: testCreds, Retries: 2})
	require.Error(t, err)
	assert.Equal(t, ErrorClassRequest, ClassOf(err))
	require.NotNil(t, result)
	assert.Equal(t, err, result.Err)
	assert.Equal(t, ErrorClassRequest, ClassOf(result.Err))
	assert.Equal(t, 0, ft.callCount())
	assert.Equal(t, 0, ft.loginCount())
}

func TestExecuteBatch_NoContent(t *testing.T) {
	ft := &fakeTransport{handler: func(req *TransportRequest) (*TransportResponse, error) {
		return &TransportResponse{StatusCode: http.StatusNoContent}, nil
	}}
	c := newTestClient(t, ft, nil)

	env := batch.NewEnvelope([]batch.Request{{Method: batch.MethodDelete, Path: "Items('A1')"}}, nil)
	result, err := c.ExecuteBatch(context.Background(), env, CallConfig{Credentials: testCreds})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, result.StatusCode)
	assert.Empty(t, result.Parts)
}

func TestExecuteBatch_ReplaceCollections(t *testing.T) {
	ft := &fakeTransport{handler: func(req *TransportRequest) (*TransportResponse, error) {
		return batchResponse(http.StatusAccepted, batchPart("HTTP/1.1 204 No Content", "")), nil
	}}
	c := newTestClient(t, ft, nil)

	env := batch.NewEnvelope([]batch.Request{{Method: batch.MethodPatch, Path: "Orders(1)", Data: map[string]any{"DocumentLines": []any{}}}}, nil)
	env.ReplaceCollections = true

	_, err := c.ExecuteBatch(context.Background(), env, CallConfig{Credentials: testCreds})
	require.NoError(t, err)
	assert.Equal(t, "true", ft.lastCall().Header.Get("B1S-ReplaceCollectionsArray"))
}
