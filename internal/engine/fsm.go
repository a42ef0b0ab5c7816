package engine

import (
	"sync"

	"github.com/rendis/autopilot/pkg/schema"
)

// TransitionHook is called after a state transition.
type TransitionHook func(from, to schema.RunState)

// ValidRunTransitions defines the allowed controller state transitions.
// A controller always returns to idle after a terminal state so it can be reused.
var ValidRunTransitions = map[schema.RunState][]schema.RunState{
	schema.RunStateIdle:      {schema.RunStateRunning},
	schema.RunStateRunning:   {schema.RunStateCompleted, schema.RunStateFailed, schema.RunStateAborted},
	schema.RunStateCompleted: {schema.RunStateIdle},
	schema.RunStateFailed:    {schema.RunStateIdle},
	schema.RunStateAborted:   {schema.RunStateIdle},
}

// RunFSM tracks the lifecycle of a controller.
type RunFSM struct {
	mu    sync.Mutex
	state schema.RunState
	hooks []TransitionHook
}

// NewRunFSM creates a RunFSM in the idle state.
func NewRunFSM() *RunFSM {
	return &RunFSM{state: schema.RunStateIdle}
}

// OnTransition registers a hook called after every successful transition.
func (f *RunFSM) OnTransition(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, hook)
}

// State returns the current state.
func (f *RunFSM) State() schema.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Transition moves from the current state to to. It fails when from does not
// match the current state or the pair is not in ValidRunTransitions.
func (f *RunFSM) Transition(from, to schema.RunState) error {
	f.mu.Lock()
	if f.state != from || !isValidRunTransition(from, to) {
		current := f.state
		f.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"current": string(current), "from": string(from), "to": string(to)})
	}
	f.state = to
	hooks := make([]TransitionHook, len(f.hooks))
	copy(hooks, f.hooks)
	f.mu.Unlock()

	for _, hook := range hooks {
		hook(from, to)
	}
	return nil
}

func isValidRunTransition(from, to schema.RunState) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
