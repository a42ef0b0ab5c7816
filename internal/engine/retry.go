package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/autopilot/internal/backend"
	"github.com/rendis/autopilot/pkg/schema"
)

// Backoff strategies for RetryPolicy.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy configures target resolution attempts.
type RetryPolicy struct {
	Attempts int           // total lookups, including the first
	Delay    time.Duration // base delay between attempts
	Backoff  string        // constant | linear | exponential (default: constant)
	MaxDelay time.Duration // cap on the computed delay; 0 = no cap
}

// ComputeBackoff calculates the delay before the attempt following attempt.
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	base := policy.Delay
	if base <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case BackoffExponential:
		// 2^attempt * base
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = base * multiplier
	case BackoffLinear:
		delay = base * time.Duration(attempt+1)
	default: // constant or empty
		delay = base
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if the context is cancelled.
// Returns the context error if the context was cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abortedError describes why ctx stopped, preferring the cancellation cause.
func abortedError(ctx context.Context, code, what string) *schema.AutopilotError {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return schema.NewErrorf(code, "%s aborted: %s", what, cause.Error()).WithCause(cause)
}

// asStepError converts any error surfaced by a step into an AutopilotError.
// Context cancellation becomes ABORTED, unsupported targets UNSUPPORTED_TARGET,
// anything else unclassified is a backend failure.
func asStepError(ctx context.Context, err error) *schema.AutopilotError {
	var apErr *schema.AutopilotError
	if errors.As(err, &apErr) {
		return apErr
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return abortedError(ctx, schema.ErrCodeAborted, "step")
	}
	if errors.Is(err, backend.ErrUnsupportedTarget) {
		return schema.NewError(schema.ErrCodeUnsupportedTarget, err.Error()).WithCause(err)
	}
	return schema.NewError(schema.ErrCodeBackend, err.Error()).WithCause(err)
}

// Disposition is what the controller does after a step fails.
type Disposition int

const (
	// Continue records the failure and moves on to the next step.
	Continue Disposition = iota
	// Stop ends the run as failed.
	Stop
	// Abort ends the run as cancelled.
	Abort
)

func (d Disposition) String() string {
	switch d {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Classify maps a step failure to the continuation policy: recoverable faults
// continue, cancellation aborts, everything else stops the run.
func Classify(err error) Disposition {
	if err == nil {
		return Continue
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Abort
	}
	var apErr *schema.AutopilotError
	if errors.As(err, &apErr) {
		switch {
		case apErr.IsAbort():
			return Abort
		case apErr.IsRecoverable():
			return Continue
		}
	}
	return Stop
}
