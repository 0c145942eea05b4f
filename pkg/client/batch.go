package client

import (
	"context"
	"net/http"

	"github.com/Sternrassler/servicelayer-client/pkg/batch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BatchPath is the $batch endpoint, relative to the base path.
const BatchPath = "$batch"

var slBatchPartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sl_batch_parts_total",
	Help: "Total batch response parts by result",
}, []string{"result"}) // "ok", "error"

// ExecuteBatch submits env as one $batch exchange.
//
// An envelope without requests is not sent and yields an empty successful
// result. If the exchange fails, the result has StatusCode 0, no parts and
// Err set; the same error is returned.
func (c *Client) ExecuteBatch(ctx context.Context, env *batch.Envelope, call CallConfig) (*batch.Result, error) {
	if !env.HasChanges() {
		return &batch.Result{StatusCode: http.StatusOK}, nil
	}

	ctx, span := c.tracer.Start(ctx, "servicelayer.ExecuteBatch", trace.WithAttributes(
		attribute.String("sl.tenant", call.Credentials.CompanyDB),
		attribute.Int("sl.batch.parts", env.PartCount()),
	))
	defer span.End()

	body, err := env.Build(c.config.BasePath)
	if err != nil {
		e := requestError("batch envelope cannot be built", err)
		slErrorsTotal.WithLabelValues(string(e.Class)).Inc()
		span.RecordError(e)
		span.SetStatus(codes.Error, e.Message)
		return &batch.Result{Err: e}, e
	}

	header := call.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", env.ContentType())
	if env.ReplaceCollections {
		call.ReplaceCollections = true
	}

	var result *batch.Result
	err = c.withRetry(ctx, BatchPath, env, call, func(ctx context.Context) error {
		result = nil
		resp, token, err := c.send(ctx, &TransportRequest{
			Method: http.MethodPost,
			Path:   c.path(BatchPath),
			Header: header.Clone(),
			Body:   body,
		}, call)
		if err != nil {
			return err
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		default:
			berr := c.businessError(ctx, resp, token, call)
			result = &batch.Result{StatusCode: resp.StatusCode, Err: berr}
			return berr
		}

		var parts []batch.PartResult
		if len(resp.Body) > 0 {
			parts, err = batch.Parse(resp.Header.Get("Content-Type"), resp.Body)
			if err != nil {
				perr := classify(err)
				result = &batch.Result{StatusCode: resp.StatusCode, Err: perr}
				return perr
			}
		}
		result = &batch.Result{StatusCode: resp.StatusCode, Parts: parts}
		return nil
	})

	if err != nil {
		e := classify(err)
		slErrorsTotal.WithLabelValues(string(e.Class)).Inc()
		span.RecordError(e)
		span.SetStatus(codes.Error, e.Message)
		if result == nil {
			result = &batch.Result{}
		}
		result.Err = e
		return result, e
	}

	for _, p := range result.Parts {
		if p.OK() {
			slBatchPartsTotal.WithLabelValues("ok").Inc()
		} else {
			slBatchPartsTotal.WithLabelValues("error").Inc()
		}
	}

	if len(result.Parts) != env.PartCount() {
		c.logger.Warn().
			Int("expected", env.PartCount()).
			Int("received", len(result.Parts)).
			Msg("Batch response part count differs from request")
	}

	return result, nil
}
