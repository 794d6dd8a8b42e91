package policy

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hupe1980/agentcore/logging"
	"github.com/hupe1980/agentcore/model"
)

// RetryOptions configures Retry.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	// ShouldRetry reports whether err is transient. The default retries
	// everything except context cancellation and deadline errors.
	ShouldRetry func(err error) bool
	Logger      logging.Logger
}

// DefaultRetryOptions are used by Retry before applying option functions.
var DefaultRetryOptions = RetryOptions{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	Multiplier:  2,
	Jitter:      true,
}

type retryInvoker struct {
	next model.Invoker
	opts RetryOptions
}

// Retry wraps a model invoker with exponential backoff on transient errors.
func Retry(next model.Invoker, optFns ...func(o *RetryOptions)) model.Invoker {
	opts := DefaultRetryOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &retryInvoker{next: next, opts: opts}
}

func (r *retryInvoker) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := r.next.Invoke(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == r.opts.MaxAttempts-1 || !r.shouldRetry(ctx, err) {
			break
		}

		delay := r.delay(attempt)
		r.opts.Logger.Warn("policy.retry.model", "attempt", attempt+1, "delay", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, lastErr
}

func (r *retryInvoker) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if r.opts.ShouldRetry != nil {
		return r.opts.ShouldRetry(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (r *retryInvoker) delay(attempt int) time.Duration {
	d := float64(r.opts.BaseDelay) * math.Pow(r.opts.Multiplier, float64(attempt))
	if r.opts.MaxDelay > 0 {
		d = math.Min(d, float64(r.opts.MaxDelay))
	}
	if r.opts.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}
