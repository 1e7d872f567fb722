package solver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/prismlabs/PRISM/internal/field"
)

// Retrying wraps an adapter with per-job deadlines and transient-error
// retries with exponential backoff. Retries happen at the adapter boundary;
// the driver only sees a failure after the retry budget is spent, and then
// counts it toward its consecutive-failure limit.
type Retrying struct {
	Inner Adapter
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// Backoff is the base delay before the first retry; it doubles per
	// attempt. Zero defaults to one second.
	Backoff time.Duration
	Logger  *zap.Logger
	// OnRetry, when set, is called once per retry attempt.
	OnRetry func()
}

func (r *Retrying) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Submit runs the job, retrying transient solver failures.
func (r *Retrying) Submit(ctx context.Context, job *SimulationJob) (*field.Field, error) {
	backoff := r.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			if r.OnRetry != nil {
				r.OnRetry()
			}
			r.logger().Warn("retrying simulation",
				zap.String("job", job.ID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		result, err := r.submitOnce(ctx, job)
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// submitOnce applies the job timeout and maps deadline expiry to
// *TimeoutError.
func (r *Retrying) submitOnce(ctx context.Context, job *SimulationJob) (*field.Field, error) {
	runCtx := ctx
	if job.Config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Config.Timeout)
		defer cancel()
	}
	result, err := r.Inner.Submit(runCtx, job)
	if err != nil && job.Config.Timeout > 0 &&
		errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &TimeoutError{JobID: job.ID, After: job.Config.Timeout}
	}
	return result, err
}
