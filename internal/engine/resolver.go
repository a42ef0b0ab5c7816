package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/autopilot/internal/backend"
	"github.com/rendis/autopilot/internal/logging"
	"github.com/rendis/autopilot/pkg/schema"
)

// Resolver turns a selector into a target, retrying while the environment catches up.
type Resolver struct {
	backend backend.Backend
	policy  RetryPolicy
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(b backend.Backend, policy RetryPolicy, logger *slog.Logger) *Resolver {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resolver{backend: b, policy: policy, logger: logger}
}

// Resolve looks selector up at most policy.Attempts times. A backend failure
// on one attempt is retried like a miss and attached as the cause of the final
// TARGET_NOT_FOUND. Cancellation at any point yields RESOLUTION_ABORTED.
func (r *Resolver) Resolve(ctx context.Context, selector string) (backend.Target, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, abortedError(ctx, schema.ErrCodeResolutionAborted, "resolution")
		}

		t, found, err := r.backend.Locate(ctx, selector)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, abortedError(ctx, schema.ErrCodeResolutionAborted, "resolution")
		case err != nil:
			lastErr = err
			logging.LogWith(ctx, r.logger).Debug("target lookup failed",
				slog.String("selector", selector),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
		case found:
			return t, nil
		}

		if attempt+1 < r.policy.Attempts {
			if WaitForBackoff(ctx, ComputeBackoff(r.policy, attempt)) != nil {
				return nil, abortedError(ctx, schema.ErrCodeResolutionAborted, "resolution")
			}
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeTargetNotFound, "target not found: %s", selector).
		WithCause(lastErr).
		WithDetails(map[string]any{"selector": selector, "attempts": r.policy.Attempts})
}
