package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rendis/autopilot/internal/backend"
	"github.com/rendis/autopilot/pkg/schema"
)

// WaitEvaluator blocks until a wait condition holds.
type WaitEvaluator struct {
	backend backend.Backend
	poll    time.Duration
	maxWait time.Duration
	now     func() time.Time
}

// NewWaitEvaluator creates a WaitEvaluator probing every poll for at most maxWait.
func NewWaitEvaluator(b backend.Backend, poll, maxWait time.Duration) *WaitEvaluator {
	if poll < time.Millisecond {
		poll = time.Millisecond
	}
	return &WaitEvaluator{backend: b, poll: poll, maxWait: maxWait, now: time.Now}
}

// Wait evaluates cond. A timeout condition sleeps for exactly its duration and
// is not capped by maxWait; probing conditions fail with WAIT_TIMEOUT after maxWait.
func (w *WaitEvaluator) Wait(ctx context.Context, cond *schema.WaitCondition) error {
	if cond == nil {
		return schema.NewError(schema.ErrCodeInvalidStep, "wait condition is required")
	}

	switch cond.Kind {
	case schema.WaitTimeout:
		d, err := cond.Duration()
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeInvalidStep, "invalid wait duration: %s", err.Error()).WithCause(err)
		}
		if WaitForBackoff(ctx, d) != nil {
			return abortedError(ctx, schema.ErrCodeAborted, "wait")
		}
		return nil

	case schema.WaitElementPresent:
		return w.probeUntil(ctx, cond, func() (bool, error) {
			_, found, err := w.backend.Locate(ctx, cond.Value)
			return found, err
		})

	case schema.WaitExternalStateChanged:
		return w.probeUntil(ctx, cond, func() (bool, error) {
			state, err := w.backend.CurrentState(ctx)
			if err != nil {
				return false, err
			}
			return strings.Contains(state, cond.Value), nil
		})

	default:
		return schema.NewErrorf(schema.ErrCodeInvalidStep, "unknown wait condition: %q", cond.Kind)
	}
}

func (w *WaitEvaluator) probeUntil(ctx context.Context, cond *schema.WaitCondition, probe func() (bool, error)) error {
	deadline := w.now().Add(w.maxWait)
	for {
		ok, err := probe()
		if ctx.Err() != nil {
			return abortedError(ctx, schema.ErrCodeAborted, "wait")
		}
		if err != nil {
			return asStepError(ctx, err)
		}
		if ok {
			return nil
		}

		remaining := deadline.Sub(w.now())
		if remaining <= 0 {
			return schema.NewErrorf(schema.ErrCodeWaitTimeout,
				"wait for %s %q timed out after %s", cond.Kind, cond.Value, w.maxWait).
				WithDetails(map[string]any{"kind": string(cond.Kind), "value": cond.Value})
		}
		if WaitForBackoff(ctx, min(w.poll, remaining)) != nil {
			return abortedError(ctx, schema.ErrCodeAborted, "wait")
		}
	}
}
