package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rendis/autopilot/internal/backend"
	"github.com/rendis/autopilot/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWait_TimeoutSleepsFullDuration(t *testing.T) {
	w := NewWaitEvaluator(backend.NewMemoryBackend(""), 5*time.Millisecond, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, w.Wait(context.Background(), schema.WaitFor(40*time.Millisecond)))
	// Not capped by the 10ms ceiling.
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestWait_TimeoutAborts(t *testing.T) {
	w := NewWaitEvaluator(backend.NewMemoryBackend(""), 5*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	err := w.Wait(ctx, schema.WaitFor(10*time.Second))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeAborted))
	assert.Contains(t, err.Error(), "aborted")
	assert.Less(t, time.Since(start), time.Second)
}

func TestWait_ElementPresent(t *testing.T) {
	b := backend.NewMemoryBackend("", backend.ElementSpec{
		Selector:    "#toast",
		AppearAfter: schema.Duration(20 * time.Millisecond),
	})
	w := NewWaitEvaluator(b, 5*time.Millisecond, time.Second)

	require.NoError(t, w.Wait(context.Background(), schema.WaitForElement("#toast")))
	assert.Greater(t, b.Lookups("#toast"), 1)
}

func TestWait_ElementPresentTimesOut(t *testing.T) {
	b := backend.NewMemoryBackend("")
	w := NewWaitEvaluator(b, 5*time.Millisecond, 30*time.Millisecond)

	start := time.Now()
	err := w.Wait(context.Background(), schema.WaitForElement("#never"))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeWaitTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestWait_ExternalStateChanged(t *testing.T) {
	b := backend.NewMemoryBackend("https://shop.test/cart")
	w := NewWaitEvaluator(b, 5*time.Millisecond, time.Second)
	time.AfterFunc(20*time.Millisecond, func() { b.SetState("https://shop.test/checkout/done") })

	require.NoError(t, w.Wait(context.Background(), schema.WaitForState("/checkout/done")))
}

func TestWait_ExternalStateChangedTimesOut(t *testing.T) {
	b := backend.NewMemoryBackend("https://shop.test/cart")
	w := NewWaitEvaluator(b, 5*time.Millisecond, 20*time.Millisecond)

	err := w.Wait(context.Background(), schema.WaitForState("/thanks"))
	assert.True(t, schema.HasCode(err, schema.ErrCodeWaitTimeout))
}

func TestWait_UnknownKind(t *testing.T) {
	w := NewWaitEvaluator(backend.NewMemoryBackend(""), 5*time.Millisecond, time.Second)
	err := w.Wait(context.Background(), &schema.WaitCondition{Kind: "idle", Value: "x"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidStep))

	err = w.Wait(context.Background(), nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidStep))
}
