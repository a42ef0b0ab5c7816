package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rendis/autopilot/pkg/schema"
)

// Option is one choice of a select control.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// ElementSpec describes an element of an in-memory page.
type ElementSpec struct {
	Selector string   `json:"selector" yaml:"selector"`
	Tag      string   `json:"tag,omitempty" yaml:"tag,omitempty"`
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`
	Text     string   `json:"text,omitempty" yaml:"text,omitempty"`
	Hidden   bool     `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Options  []Option `json:"options,omitempty" yaml:"options,omitempty"`
	// AppearAfter delays the element becoming locatable, measured from when it is added.
	AppearAfter schema.Duration `json:"appear_after,omitempty" yaml:"appear_after,omitempty"`
	// NavigatesTo replaces the external state when the element is clicked.
	NavigatesTo string `json:"navigates_to,omitempty" yaml:"navigates_to,omitempty"`
	// RevealOnScroll makes a hidden element visible once scrolled into view.
	RevealOnScroll bool `json:"reveal_on_scroll,omitempty" yaml:"reveal_on_scroll,omitempty"`
}

// Interaction is one recorded call against a MemoryBackend.
type Interaction struct {
	Type     string
	Selector string
	Value    string
}

type memElement struct {
	spec      ElementSpec
	visibleAt time.Time
}

func (e *memElement) valueBearing() bool {
	switch e.spec.Tag {
	case "input", "textarea", "select":
		return true
	default:
		return false
	}
}

type memTarget struct {
	selector string
	el       *memElement
}

func (t memTarget) Selector() string { return t.selector }

// MemoryBackend is an in-process Backend over a static set of elements.
// It records every interaction and is safe for concurrent use, so tests can
// mutate the page while a run is in flight.
type MemoryBackend struct {
	mu       sync.Mutex
	now      func() time.Time
	elements map[string]*memElement
	state    string
	journal  []Interaction
	lookups  map[string]int
	failWith map[string]error
}

// NewMemoryBackend creates a MemoryBackend whose external state starts as state.
func NewMemoryBackend(state string, elements ...ElementSpec) *MemoryBackend {
	b := &MemoryBackend{
		now:      time.Now,
		elements: make(map[string]*memElement),
		state:    state,
		lookups:  make(map[string]int),
		failWith: make(map[string]error),
	}
	for _, el := range elements {
		b.Add(el)
	}
	return b
}

// Add inserts or replaces an element.
func (b *MemoryBackend) Add(spec ElementSpec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if spec.Tag == "" {
		spec.Tag = "div"
	}
	b.elements[spec.Selector] = &memElement{spec: spec, visibleAt: b.now().Add(spec.AppearAfter.Std())}
}

// Remove deletes the element registered under selector.
func (b *MemoryBackend) Remove(selector string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.elements, selector)
}

// SetState replaces the external state.
func (b *MemoryBackend) SetState(state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
}

// FailLocate makes every lookup of selector return err.
func (b *MemoryBackend) FailLocate(selector string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith[selector] = err
}

// Lookups returns how many times selector was looked up.
func (b *MemoryBackend) Lookups(selector string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookups[selector]
}

// Journal returns a copy of the recorded interactions.
func (b *MemoryBackend) Journal() []Interaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Interaction, len(b.journal))
	copy(out, b.journal)
	return out
}

// Value returns the current value of the element under selector.
func (b *MemoryBackend) Value(selector string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if el, ok := b.elements[selector]; ok {
		return el.spec.Value
	}
	return ""
}

func (b *MemoryBackend) record(typ, selector, value string) {
	b.journal = append(b.journal, Interaction{Type: typ, Selector: selector, Value: value})
}

func (b *MemoryBackend) element(t Target) (*memElement, error) {
	mt, ok := t.(memTarget)
	if !ok {
		return nil, fmt.Errorf("%w: foreign target %T", ErrUnsupportedTarget, t)
	}
	if _, live := b.elements[mt.selector]; !live {
		return nil, fmt.Errorf("target %s is detached", mt.selector)
	}
	return mt.el, nil
}

func (b *MemoryBackend) Locate(ctx context.Context, selector string) (Target, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lookups[selector]++
	if err := b.failWith[selector]; err != nil {
		return nil, false, err
	}
	el, ok := b.elements[selector]
	if !ok || b.now().Before(el.visibleAt) {
		return nil, false, nil
	}
	return memTarget{selector: selector, el: el}, true, nil
}

func (b *MemoryBackend) IsVisible(_ context.Context, t Target) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, err := b.element(t)
	if err != nil {
		return false, err
	}
	return !el.spec.Hidden, nil
}

func (b *MemoryBackend) ScrollIntoView(_ context.Context, t Target) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, err := b.element(t)
	if err != nil {
		return err
	}
	if el.spec.RevealOnScroll {
		el.spec.Hidden = false
	}
	b.record("scroll", t.Selector(), "")
	return nil
}

func (b *MemoryBackend) Click(_ context.Context, t Target) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, err := b.element(t)
	if err != nil {
		return err
	}
	if el.spec.NavigatesTo != "" {
		b.state = el.spec.NavigatesTo
	}
	b.record("click", t.Selector(), "")
	return nil
}

func (b *MemoryBackend) HasValue(_ context.Context, t Target) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, err := b.element(t)
	if err != nil {
		return false, err
	}
	return el.valueBearing(), nil
}

func (b *MemoryBackend) SetValue(_ context.Context, t Target, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, err := b.element(t)
	if err != nil {
		return err
	}
	if !el.valueBearing() {
		return fmt.Errorf("%w: <%s> has no value", ErrUnsupportedTarget, el.spec.Tag)
	}
	el.spec.Value = value
	b.record("set_value", t.Selector(), value)
	return nil
}

func (b *MemoryBackend) NotifyInput(_ context.Context, t Target) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, err := b.element(t)
	if err != nil {
		return err
	}
	b.record("input", t.Selector(), el.spec.Value)
	return nil
}

func (b *MemoryBackend) NotifyChange(_ context.Context, t Target) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, err := b.element(t)
	if err != nil {
		return err
	}
	b.record("change", t.Selector(), el.spec.Value)
	return nil
}

func (b *MemoryBackend) SelectOption(_ context.Context, t Target, value string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, err := b.element(t)
	if err != nil {
		return false, err
	}
	if el.spec.Tag != "select" {
		return false, fmt.Errorf("%w: <%s> is not a select", ErrUnsupportedTarget, el.spec.Tag)
	}
	for _, opt := range el.spec.Options {
		if opt.Value == value || opt.Label == value {
			el.spec.Value = opt.Value
			b.record("select", t.Selector(), opt.Value)
			return true, nil
		}
	}
	return false, nil
}

func (b *MemoryBackend) ReadValue(_ context.Context, t Target) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, err := b.element(t)
	if err != nil {
		return "", err
	}
	return el.spec.Value, nil
}

func (b *MemoryBackend) ReadText(_ context.Context, t Target) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, err := b.element(t)
	if err != nil {
		return "", err
	}
	return el.spec.Text, nil
}

func (b *MemoryBackend) CurrentState(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, nil
}
