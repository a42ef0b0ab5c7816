package expressions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rendis/autopilot/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *schema.AutomationResult {
	return &schema.AutomationResult{
		RunID:          "run-1",
		Succeeded:      true,
		CompletedSteps: 2,
		TotalSteps:     3,
		ExtractedData:  map[string]any{"step_2_extract": "$42.00"},
		Duration:       time.Second,
		StepResults: []schema.StepResult{
			{Index: 0, Succeeded: true, Step: schema.Step{Kind: schema.StepKindClick, Selector: "#a"}},
			{Index: 1, Succeeded: false, ErrorCode: schema.ErrCodeTargetNotFound, Step: schema.Step{Kind: schema.StepKindClick, Selector: "#b"}},
			{Index: 2, Succeeded: true, ExtractedValue: "$42.00", Step: schema.Step{Kind: schema.StepKindExtract, Selector: "#total"}},
		},
	}
}

func TestJQ_Field(t *testing.T) {
	out, err := NewJQ().Evaluate(context.Background(), ".extracted_data.step_2_extract", sampleResult())
	require.NoError(t, err)
	assert.Equal(t, []any{"$42.00"}, out)
}

func TestJQ_NumbersAreFloats(t *testing.T) {
	out, err := NewJQ().Evaluate(context.Background(), ".total_steps - .completed_steps", sampleResult())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.EqualValues(t, 1, out[0])
}

func TestJQ_MultipleOutputs(t *testing.T) {
	out, err := NewJQ().Evaluate(context.Background(), `.step_results[] | select(.succeeded | not) | .error_code`, sampleResult())
	require.NoError(t, err)
	assert.Equal(t, []any{"TARGET_NOT_FOUND"}, out)
}

func TestJQ_NoOutput(t *testing.T) {
	out, err := NewJQ().Evaluate(context.Background(), "empty", sampleResult())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestJQ_Errors(t *testing.T) {
	e := NewJQ()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = e.Compile(".[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error")

	_, err = e.Evaluate(context.Background(), `error("boom")`, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestJQ_EnvironmentHidden(t *testing.T) {
	t.Setenv("AUTOPILOT_SECRET", "hunter2")
	out, err := NewJQ().Evaluate(context.Background(), `$ENV.AUTOPILOT_SECRET`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, out)
}

func TestJQ_ConcurrentCache(t *testing.T) {
	e := NewJQ()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), ".run_id", sampleResult())
			assert.NoError(t, err)
			assert.Equal(t, []any{"run-1"}, out)
		}()
	}
	wg.Wait()
	assert.Len(t, e.cache, 1)
}
