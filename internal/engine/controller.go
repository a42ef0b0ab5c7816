package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/autopilot/internal/backend"
	"github.com/rendis/autopilot/internal/logging"
	"github.com/rendis/autopilot/internal/permissions"
	"github.com/rendis/autopilot/pkg/schema"
)

var errAbortRequested = errors.New("abort requested")

// ProgressFunc receives progress events. It is called synchronously from the run.
type ProgressFunc func(schema.AutomationProgress)

// Controller executes step sequences one run at a time.
type Controller struct {
	backend   backend.Backend
	validator *permissions.Validator
	cfg       Config
	logger    *slog.Logger

	resolver   *Resolver
	dispatcher *Dispatcher
	fsm        *RunFSM

	mu       sync.Mutex
	cancel   context.CancelCauseFunc
	progress ProgressFunc
}

// NewController creates a Controller. A nil validator allows every step.
func NewController(b backend.Backend, validator *permissions.Validator, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	if validator == nil {
		validator = permissions.NewValidator(nil, cfg.Logger)
	}
	waits := NewWaitEvaluator(b, cfg.PollInterval, cfg.MaxWait)
	return &Controller{
		backend:    b,
		validator:  validator,
		cfg:        cfg,
		logger:     cfg.Logger,
		resolver:   NewResolver(b, cfg.Resolve, cfg.Logger),
		dispatcher: NewDispatcher(b, waits, cfg),
		fsm:        NewRunFSM(),
	}
}

// OnProgress registers the progress sink, replacing any previous one. nil removes it.
func (c *Controller) OnProgress(fn ProgressFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = fn
}

// OnTransition registers a hook observing run state changes. Hooks run with
// the controller lock held and must not call Abort or OnProgress.
func (c *Controller) OnTransition(hook TransitionHook) {
	c.fsm.OnTransition(hook)
}

// IsExecuting reports whether a run is in flight.
func (c *Controller) IsExecuting() bool {
	return c.fsm.State() != schema.RunStateIdle
}

// State returns the current run state.
func (c *Controller) State() schema.RunState {
	return c.fsm.State()
}

// Abort signals the in-flight run to stop. It is a no-op when idle.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(errAbortRequested)
	}
}

// Execute runs steps against the backend. Caller misuse (no steps, a malformed
// context or step, a run already in flight) is returned as an error and nothing
// runs. Every other outcome, including permission and step failures, is reported
// in the returned AutomationResult.
func (c *Controller) Execute(ctx context.Context, steps []schema.Step, ectx schema.ExecutionContext) (*schema.AutomationResult, error) {
	if len(steps) == 0 {
		return nil, schema.NewError(schema.ErrCodePrecondition, "at least one step is required")
	}
	ectx = ectx.Normalize()
	if err := ectx.Validate(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePrecondition, "invalid execution context: %s", err.Error()).WithCause(err)
	}
	if err := schema.ValidateSteps(steps).Err(schema.ErrCodePrecondition); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	c.mu.Lock()
	if err := c.fsm.Transition(schema.RunStateIdle, schema.RunStateRunning); err != nil {
		c.mu.Unlock()
		cancel(nil)
		return nil, schema.NewError(schema.ErrCodeAlreadyExecuting, "an automation is already executing").WithCause(err)
	}
	c.cancel = cancel
	c.mu.Unlock()

	runID := uuid.NewString()
	runCtx = logging.WithRunID(runCtx, runID)

	final := schema.RunStateFailed
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		_ = c.fsm.Transition(schema.RunStateRunning, final)
		_ = c.fsm.Transition(final, schema.RunStateIdle)
		c.mu.Unlock()
		cancel(nil)
	}()

	run := make([]schema.Step, len(steps))
	copy(run, steps)

	result := c.run(runCtx, runID, run, ectx)
	switch {
	case result.Succeeded:
		final = schema.RunStateCompleted
	case result.Aborted():
		final = schema.RunStateAborted
	}
	return result, nil
}

func (c *Controller) run(ctx context.Context, runID string, steps []schema.Step, ectx schema.ExecutionContext) *schema.AutomationResult {
	start := time.Now()
	logger := logging.LogWith(ctx, c.logger)
	result := &schema.AutomationResult{
		RunID:       runID,
		TotalSteps:  len(steps),
		StepResults: make([]schema.StepResult, 0, len(steps)),
	}
	finish := func(err *schema.AutopilotError) *schema.AutomationResult {
		result.Duration = time.Since(start)
		if err != nil {
			result.Error = err.Message
			result.ErrorCode = err.Code
			c.emit(runID, result.CompletedSteps, len(steps), schema.ProgressFailed, err.Message)
		}
		return result
	}

	logger.Info("automation started",
		slog.Int("steps", len(steps)),
		slog.String("domain", ectx.Domain),
		slog.String("security_level", string(ectx.SecurityLevel)))

	if err := c.validator.Validate(ctx, steps, ectx); err != nil {
		apErr := asStepError(ctx, err)
		if ctx.Err() != nil {
			apErr = abortedError(ctx, schema.ErrCodeAborted, "execution")
		}
		logger.Warn("automation refused", slog.String("code", apErr.Code), slog.String("error", apErr.Message))
		return finish(apErr)
	}

	c.emit(runID, 0, len(steps), schema.ProgressRunning, "starting automation")

	for i, step := range steps {
		if ctx.Err() != nil {
			apErr := abortedError(ctx, schema.ErrCodeAborted, "execution").WithStep(i)
			logger.Info("automation aborted", slog.Int("step_index", i))
			return finish(apErr)
		}

		stepCtx := logging.WithStep(ctx, i, string(step.Kind))
		c.emit(runID, i+1, len(steps), schema.ProgressRunning, step.Label())

		sr := c.attempt(stepCtx, i, step)
		result.StepResults = append(result.StepResults, sr.StepResult)

		if sr.err == nil {
			result.CompletedSteps++
			if sr.ExtractedValue != nil {
				if result.ExtractedData == nil {
					result.ExtractedData = make(map[string]any)
				}
				result.ExtractedData[schema.ExtractKey(i, step.Kind)] = sr.ExtractedValue
			}
			continue
		}

		stepLogger := logging.LogWith(stepCtx, c.logger)
		switch Classify(sr.err) {
		case Continue:
			stepLogger.Warn("step failed, continuing", slog.String("code", sr.err.Code), slog.String("error", sr.err.Message))
		case Abort:
			stepLogger.Info("automation aborted")
			return finish(sr.err)
		default:
			stepLogger.Error("step failed, stopping automation", slog.String("code", sr.err.Code), slog.String("error", sr.err.Message))
			return finish(sr.err)
		}
	}

	result.Succeeded = true
	c.emit(runID, len(steps), len(steps), schema.ProgressCompleted, "automation completed")
	logger.Info("automation completed",
		slog.Int("completed_steps", result.CompletedSteps),
		slog.Int("total_steps", result.TotalSteps))
	return finish(nil)
}

type attemptResult struct {
	schema.StepResult
	err *schema.AutopilotError
}

// attempt resolves the target (except for Wait steps) and dispatches the step.
func (c *Controller) attempt(ctx context.Context, index int, step schema.Step) attemptResult {
	start := time.Now()
	value, err := c.attemptStep(ctx, step)
	ar := attemptResult{
		StepResult: schema.StepResult{
			Index:     index,
			Step:      step,
			Succeeded: err == nil,
			Duration:  time.Since(start),
			Timestamp: start,
		},
	}
	if err != nil {
		ar.err = asStepError(ctx, err).WithStep(index)
		ar.Error = ar.err.Message
		ar.ErrorCode = ar.err.Code
		return ar
	}
	ar.ExtractedValue = value
	return ar
}

func (c *Controller) attemptStep(ctx context.Context, step schema.Step) (any, error) {
	// Checked before resolving so an unresolvable selector cannot turn a fatal
	// step into a recoverable miss.
	if step.RequiresValue() && step.Value == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidStep, "%s step requires a value", step.Kind)
	}
	var t backend.Target
	if step.Kind != schema.StepKindWait && step.Kind.Valid() {
		var err error
		if t, err = c.resolver.Resolve(ctx, step.Selector); err != nil {
			return nil, err
		}
	}
	return c.dispatcher.Dispatch(ctx, step, t)
}

func (c *Controller) emit(runID string, current, total int, status schema.ProgressStatus, msg string) {
	c.mu.Lock()
	fn := c.progress
	c.mu.Unlock()
	if fn == nil {
		return
	}
	fn(schema.AutomationProgress{
		RunID:       runID,
		CurrentStep: current,
		TotalSteps:  total,
		Status:      status,
		Message:     msg,
		Timestamp:   time.Now(),
	})
}
