package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/autopilot/internal/backend"
	"github.com/rendis/autopilot/internal/logging"
	"github.com/rendis/autopilot/pkg/schema"
)

// Dispatcher performs the interaction of one step against a resolved target.
type Dispatcher struct {
	backend backend.Backend
	waits   *WaitEvaluator
	cfg     Config
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. cfg is used as given; callers normally
// pass a Config that already went through defaulting.
func NewDispatcher(b backend.Backend, waits *WaitEvaluator, cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{backend: b, waits: waits, cfg: cfg, logger: logger}
}

// Dispatch runs step against t and returns the extracted value for Extract steps.
// t is nil for Wait steps.
func (d *Dispatcher) Dispatch(ctx context.Context, step schema.Step, t backend.Target) (any, error) {
	var (
		value any
		err   error
	)
	switch step.Kind {
	case schema.StepKindClick:
		err = d.click(ctx, step, t)
	case schema.StepKindType:
		err = d.typeText(ctx, step, t)
	case schema.StepKindSelect:
		err = d.selectOption(ctx, step, t)
	case schema.StepKindExtract:
		value, err = d.extract(ctx, t)
	case schema.StepKindWait:
		err = d.wait(ctx, step)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeUnknownStepKind, "unknown step kind: %q", step.Kind)
	}
	if err != nil {
		return nil, asStepError(ctx, err)
	}
	return value, nil
}

// ensureVisible scrolls an off-screen target into view and reports whether it
// is visible afterwards.
func (d *Dispatcher) ensureVisible(ctx context.Context, t backend.Target) (bool, error) {
	visible, err := d.backend.IsVisible(ctx, t)
	if err != nil {
		return false, err
	}
	if visible {
		return true, nil
	}
	if err := d.backend.ScrollIntoView(ctx, t); err != nil {
		return false, err
	}
	return d.backend.IsVisible(ctx, t)
}

func (d *Dispatcher) click(ctx context.Context, step schema.Step, t backend.Target) error {
	visible, err := d.ensureVisible(ctx, t)
	switch {
	case err != nil && ctx.Err() != nil:
		return err
	case err != nil:
		logging.LogWith(ctx, d.logger).Warn("could not confirm target visibility, clicking anyway",
			slog.String("selector", t.Selector()),
			slog.String("error", err.Error()))
	case !visible:
		// The backend may still deliver the click, e.g. to an overlay-covered element.
		logging.LogWith(ctx, d.logger).Warn("clicking target that is not visible",
			slog.String("selector", t.Selector()))
	}
	if err := d.backend.Click(ctx, t); err != nil {
		return err
	}
	if step.WaitCondition != nil {
		return d.waits.Wait(ctx, step.WaitCondition)
	}
	return d.pause(ctx, d.cfg.SettleDelay)
}

func (d *Dispatcher) requireVisible(ctx context.Context, step schema.Step, t backend.Target) error {
	visible, err := d.ensureVisible(ctx, t)
	if err != nil {
		return err
	}
	if !visible {
		return schema.NewErrorf(schema.ErrCodeTargetNotVisible, "%s target is not visible: %s", step.Kind, t.Selector()).
			WithDetails(map[string]any{"selector": t.Selector()})
	}
	return nil
}

// typeText clears the control and enters the value one character at a time,
// notifying input after each character and change once at the end.
func (d *Dispatcher) typeText(ctx context.Context, step schema.Step, t backend.Target) error {
	if step.Value == "" {
		return schema.NewError(schema.ErrCodeInvalidStep, "type step requires a value")
	}
	ok, err := d.backend.HasValue(ctx, t)
	if err != nil {
		return err
	}
	if !ok {
		return schema.NewErrorf(schema.ErrCodeUnsupportedTarget, "cannot type into %s: not a value-bearing control", t.Selector())
	}
	if err := d.requireVisible(ctx, step, t); err != nil {
		return err
	}

	if err := d.backend.SetValue(ctx, t, ""); err != nil {
		return err
	}
	runes := []rune(step.Value)
	for i := range runes {
		if err := d.backend.SetValue(ctx, t, string(runes[:i+1])); err != nil {
			return err
		}
		if err := d.backend.NotifyInput(ctx, t); err != nil {
			return err
		}
		if err := d.pause(ctx, d.cfg.TypeDelay); err != nil {
			return err
		}
	}
	return d.backend.NotifyChange(ctx, t)
}

func (d *Dispatcher) selectOption(ctx context.Context, step schema.Step, t backend.Target) error {
	if step.Value == "" {
		return schema.NewError(schema.ErrCodeInvalidStep, "select step requires a value")
	}
	if err := d.requireVisible(ctx, step, t); err != nil {
		return err
	}
	ok, err := d.backend.SelectOption(ctx, t, step.Value)
	if err != nil {
		return err
	}
	if !ok {
		return schema.NewErrorf(schema.ErrCodeOptionNotFound, "option %q not found in %s", step.Value, t.Selector()).
			WithDetails(map[string]any{"selector": t.Selector(), "value": step.Value})
	}
	return nil
}

// extract reads the current value of a control, or the text content otherwise.
func (d *Dispatcher) extract(ctx context.Context, t backend.Target) (string, error) {
	ok, err := d.backend.HasValue(ctx, t)
	if err != nil {
		return "", err
	}
	if ok {
		return d.backend.ReadValue(ctx, t)
	}
	return d.backend.ReadText(ctx, t)
}

func (d *Dispatcher) wait(ctx context.Context, step schema.Step) error {
	if step.WaitCondition == nil {
		return d.pause(ctx, d.cfg.DefaultWaitDelay)
	}
	return d.waits.Wait(ctx, step.WaitCondition)
}

func (d *Dispatcher) pause(ctx context.Context, delay time.Duration) error {
	if WaitForBackoff(ctx, delay) != nil {
		return abortedError(ctx, schema.ErrCodeAborted, "step")
	}
	return nil
}
