// Package backend defines the contract the execution core requires from the
// environment it drives, plus an in-memory and a Chrome DevTools implementation.
package backend

import (
	"context"
	"errors"
)

// ErrUnsupportedTarget is returned when an interaction does not apply to the target,
// e.g. selecting an option on something that is not a select control.
var ErrUnsupportedTarget = errors.New("unsupported target")

// Target is an opaque handle to an interactive element obtained from a Backend.
type Target interface {
	// Selector returns the selector the target was located with.
	Selector() string
}

// Backend locates and manipulates targets in an externally-mutable environment.
// The engine never issues concurrent calls to a Backend within one run.
type Backend interface {
	// Locate returns the first target matching selector. found is false when
	// nothing currently matches; err is reserved for backend failures.
	Locate(ctx context.Context, selector string) (t Target, found bool, err error)
	IsVisible(ctx context.Context, t Target) (bool, error)
	ScrollIntoView(ctx context.Context, t Target) error
	Click(ctx context.Context, t Target) error

	// HasValue reports whether the target is a value-bearing control.
	HasValue(ctx context.Context, t Target) (bool, error)
	SetValue(ctx context.Context, t Target, value string) error
	// NotifyInput dispatches an incremental input notification.
	NotifyInput(ctx context.Context, t Target) error
	// NotifyChange dispatches a committed-change notification.
	NotifyChange(ctx context.Context, t Target) error

	// SelectOption chooses the option whose value or label equals value.
	// It returns false when no option matches and ErrUnsupportedTarget when
	// the target has no options.
	SelectOption(ctx context.Context, t Target, value string) (bool, error)

	ReadValue(ctx context.Context, t Target) (string, error)
	ReadText(ctx context.Context, t Target) (string, error)

	// CurrentState returns the observable external state, such as the current location.
	CurrentState(ctx context.Context) (string, error)
}
