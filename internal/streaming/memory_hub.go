package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

// subscription owns its channel; mu orders deliveries against close.
type subscription struct {
	ch     chan StreamEvent
	filter EventFilter

	mu     sync.Mutex
	closed bool
}

// offer reports false only when the event did not fit the buffer.
func (s *subscription) offer(e StreamEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	close(s.ch)
}

// HubOption configures a MemoryHub.
type HubOption func(*MemoryHub)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) HubOption {
	return func(h *MemoryHub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// MemoryHub fans events out to in-process subscribers over buffered channels.
// Publish reads a copy-on-write snapshot of the subscriber list and never
// blocks; an event that does not fit a subscriber's buffer is dropped for that
// subscriber and counted.
type MemoryHub struct {
	buffer  int
	mu      sync.Mutex // serializes writers of subs
	subs    atomic.Pointer[[]*subscription]
	dropped atomic.Uint64
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub(opts ...HubOption) *MemoryHub {
	h := &MemoryHub{buffer: defaultChannelBuffer}
	for _, opt := range opts {
		opt(h)
	}
	h.subs.Store(&[]*subscription{})
	return h
}

func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, s := range *h.subs.Load() {
		if s.filter.Matches(event) && !s.offer(event) {
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscription that lives until ctx is done or the
// returned cancel function is called, whichever comes first. Either way the
// channel is closed; cancel is safe to call more than once.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	s := &subscription{ch: make(chan StreamEvent, h.buffer), filter: filter}
	h.mu.Lock()
	next := append(slices.Clone(*h.subs.Load()), s)
	h.subs.Store(&next)
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.remove(s)
			s.close()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return s.ch, func() {
		stop()
		unsubscribe()
	}, nil
}

func (h *MemoryHub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rest := slices.DeleteFunc(slices.Clone(*h.subs.Load()), func(other *subscription) bool {
		return other == s
	})
	h.subs.Store(&rest)
}

// Subscribers returns the number of active subscriptions.
func (h *MemoryHub) Subscribers() int {
	return len(*h.subs.Load())
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *MemoryHub) Dropped() uint64 {
	return h.dropped.Load()
}
