package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StepKind enumerates the kinds of interaction steps.
type StepKind string

const (
	StepKindClick   StepKind = "click"
	StepKindType    StepKind = "type"
	StepKindSelect  StepKind = "select"
	StepKindWait    StepKind = "wait"
	StepKindExtract StepKind = "extract"
)

// Valid reports whether k is one of the known step kinds.
func (k StepKind) Valid() bool {
	switch k {
	case StepKindClick, StepKindType, StepKindSelect, StepKindWait, StepKindExtract:
		return true
	default:
		return false
	}
}

// WaitKind enumerates the conditions a wait can block on.
type WaitKind string

const (
	WaitElementPresent       WaitKind = "element_present"
	WaitTimeout              WaitKind = "timeout"
	WaitExternalStateChanged WaitKind = "external_state_changed"
)

// Step is one scripted interaction or wait instruction.
// Steps are treated as immutable once handed to the controller.
type Step struct {
	Kind          StepKind       `json:"kind" yaml:"kind"`
	Selector      string         `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value         string         `json:"value,omitempty" yaml:"value,omitempty"`
	WaitCondition *WaitCondition `json:"wait_condition,omitempty" yaml:"wait_condition,omitempty"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
}

// WaitCondition describes what a wait blocks on. Value is a selector for
// element_present, a duration for timeout and a substring of the external
// state for external_state_changed.
type WaitCondition struct {
	Kind  WaitKind `json:"kind" yaml:"kind"`
	Value string   `json:"value" yaml:"value"`
}

// WaitForElement returns a condition satisfied once selector resolves.
func WaitForElement(selector string) *WaitCondition {
	return &WaitCondition{Kind: WaitElementPresent, Value: selector}
}

// WaitFor returns a condition that sleeps for d.
func WaitFor(d time.Duration) *WaitCondition {
	return &WaitCondition{Kind: WaitTimeout, Value: d.String()}
}

// WaitForState returns a condition satisfied once the external state contains substr.
func WaitForState(substr string) *WaitCondition {
	return &WaitCondition{Kind: WaitExternalStateChanged, Value: substr}
}

// Duration parses the value of a timeout condition. Both Go duration strings
// ("1.5s") and bare integers (milliseconds) are accepted.
func (c *WaitCondition) Duration() (time.Duration, error) {
	v := strings.TrimSpace(c.Value)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Value, err)
	}
	return d, nil
}

// Validate checks the structural shape of the condition.
func (c *WaitCondition) Validate() error {
	switch c.Kind {
	case WaitElementPresent, WaitExternalStateChanged:
		if strings.TrimSpace(c.Value) == "" {
			return fmt.Errorf("%s wait requires a value", c.Kind)
		}
	case WaitTimeout:
		d, err := c.Duration()
		if err != nil {
			return err
		}
		if d < 0 {
			return fmt.Errorf("timeout must not be negative, got %s", d)
		}
	default:
		return fmt.Errorf("unknown wait condition kind %q", c.Kind)
	}
	return nil
}

// Validate checks the structural invariants every step must satisfy before a
// run starts: a selector on every targeted kind and a well-formed wait condition.
// Interaction semantics (a value for type/select, a supported kind) are checked
// when the step is dispatched.
func (s *Step) Validate() error {
	if s.Kind == "" {
		return fmt.Errorf("step kind is required")
	}
	if s.Kind != StepKindWait && strings.TrimSpace(s.Selector) == "" {
		return fmt.Errorf("%s step requires a selector", s.Kind)
	}
	if s.WaitCondition != nil {
		if err := s.WaitCondition.Validate(); err != nil {
			return fmt.Errorf("%s step: %w", s.Kind, err)
		}
	}
	return nil
}

// RequiresValue reports whether the step kind needs a value to be dispatched.
func (s *Step) RequiresValue() bool {
	return s.Kind == StepKindType || s.Kind == StepKindSelect
}

// Label returns a short human-readable description of the step.
func (s *Step) Label() string {
	if s.Description != "" {
		return s.Description
	}
	switch {
	case s.Kind == StepKindWait && s.WaitCondition != nil:
		return fmt.Sprintf("wait (%s %s)", s.WaitCondition.Kind, s.WaitCondition.Value)
	case s.Selector != "":
		return fmt.Sprintf("%s %s", s.Kind, s.Selector)
	default:
		return string(s.Kind)
	}
}

// Issue is one problem found while checking a run, located by a path such as
// "steps[2].value".
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// Report collects the issues found in a run. Only Errors make it unacceptable.
type Report struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

func (r *Report) OK() bool { return len(r.Errors) == 0 }

func (r *Report) Fail(path, code, message string) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: message})
}

func (r *Report) Warn(path, code, message string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: message})
}

// Include appends the issues of other, which may be nil.
func (r *Report) Include(other *Report) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Err is nil for an acceptable report. Otherwise it is an AutopilotError with
// the given code whose message names every error.
func (r *Report) Err(code string) error {
	if r.OK() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		msgs[i] = issue.String()
	}
	return NewError(code, strings.Join(msgs, "; ")).
		WithDetails(map[string]any{"errors": r.Errors, "warnings": r.Warnings})
}

// ValidateSteps checks the structure of every step.
func ValidateSteps(steps []Step) *Report {
	res := &Report{}
	if len(steps) == 0 {
		res.Fail("steps", ErrCodePrecondition, "step list must not be empty")
		return res
	}
	for i := range steps {
		if err := steps[i].Validate(); err != nil {
			res.Fail(fmt.Sprintf("steps[%d]", i), ErrCodePrecondition, err.Error())
		}
	}
	return res
}
