package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Operation is one item of a fan-out.
type Operation[T any] func(ctx context.Context, item T) (*Result, error)

// Parallel runs op for every item concurrently and returns the results in
// item order. Item i starts after i*stagger so a fan-out does not burst
// logins. Parallel never fails as a whole: an error or panic in op becomes
// a StatusTransientError result in that item's slot.
func Parallel[T any](ctx context.Context, items []T, stagger time.Duration, op Operation[T]) []*Result {
	results := make([]*Result, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			results[i] = runItem(ctx, i, item, time.Duration(i)*stagger, op)
		}(i, item)
	}
	wg.Wait()

	return results
}

func runItem[T any](ctx context.Context, index int, item T, delay time.Duration, op Operation[T]) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("index", index).
				Interface("panic", r).
				Msg("Fan-out operation panicked")
			result = transientResult(fmt.Errorf("operation panicked: %v", r))
		}
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return transientResult(ctx.Err())
		case <-timer.C:
		}
	}

	res, err := op(ctx, item)
	if err != nil {
		log.Debug().Err(err).Int("index", index).Msg("Fan-out operation failed")
		return transientResult(err)
	}
	if res == nil {
		return &Result{Status: StatusSuccess}
	}
	return res
}

// Call describes one request of a fan-out.
type Call struct {
	Method  string
	Path    string
	Payload any
	Config  CallConfig
}

// DoAll runs calls concurrently with the configured stagger.
func (c *Client) DoAll(ctx context.Context, calls []Call) []*Result {
	return Parallel(ctx, calls, c.config.FanOutStagger, func(ctx context.Context, call Call) (*Result, error) {
		return c.Do(ctx, call.Method, call.Path, call.Payload, call.Config)
	})
}
