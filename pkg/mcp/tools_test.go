package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/autopilot/internal/backend"
	"github.com/rendis/autopilot/internal/engine"
	"github.com/rendis/autopilot/internal/streaming"
	"github.com/rendis/autopilot/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func newTestServer(t *testing.T, hub streaming.EventHub) (*AutopilotServer, *backend.MemoryBackend) {
	t.Helper()
	b := backend.NewMemoryBackend("https://shop.test/cart",
		backend.ElementSpec{Selector: "#qty", Tag: "input"},
		backend.ElementSpec{Selector: "#total", Text: "$42.00"},
		backend.ElementSpec{Selector: "#pay", Tag: "button", NavigatesTo: "https://shop.test/thanks"},
	)
	ctrl := engine.NewController(b, nil, engine.Config{
		Resolve:          engine.RetryPolicy{Attempts: 2, Delay: time.Millisecond},
		PollInterval:     5 * time.Millisecond,
		MaxWait:          100 * time.Millisecond,
		SettleDelay:      -1,
		TypeDelay:        -1,
		DefaultWaitDelay: time.Millisecond,
	})
	s, err := NewAutopilotServer(AutopilotServerDeps{Controller: ctrl, Hub: hub})
	require.NoError(t, err)
	return s, b
}

func shopContext() map[string]any {
	return map[string]any{
		"target_url": "https://shop.test/cart",
		"permissions": map[string]any{
			"allow_target_mutation":  true,
			"allow_form_interaction": true,
			"allow_data_extraction":  true,
			"allow_navigation_wait":  true,
		},
	}
}

// executeView decodes an autopilot.execute payload.
type executeView struct {
	schema.AutomationResult
	ExpectationError string `json:"expectation_error"`
}

// --- Tests ---

func TestExecuteTool(t *testing.T) {
	hub := streaming.NewMemoryHub()
	events, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{EventTypes: []string{streaming.EventProgress}})
	require.NoError(t, err)
	defer cancel()

	s, b := newTestServer(t, hub)
	req := buildRequest("autopilot.execute", map[string]any{
		"context": shopContext(),
		"steps": []any{
			map[string]any{"kind": "type", "selector": "#qty", "value": 3},
			map[string]any{"kind": "click", "selector": "#pay", "wait_condition": map[string]any{"kind": "external_state_changed", "value": "/thanks"}},
			map[string]any{"kind": "extract", "selector": "#total"},
		},
		"expect": map[string]any{"type": "object", "required": []any{"step_2_extract"}},
	})

	result, err := s.handleExecute(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var resp struct {
		RunID            string         `json:"run_id"`
		Succeeded        bool           `json:"succeeded"`
		CompletedSteps   int            `json:"completed_steps"`
		ExtractedData    map[string]any `json:"extracted_data"`
		ExpectationError string         `json:"expectation_error"`
	}
	unmarshalResult(t, result, &resp)
	assert.True(t, resp.Succeeded)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, 3, resp.CompletedSteps)
	assert.Equal(t, "$42.00", resp.ExtractedData["step_2_extract"])
	assert.Empty(t, resp.ExpectationError)
	assert.Equal(t, "3", b.Value("#qty"))

	// initial + 3 steps + completed
	assert.Len(t, events, 5)
}

func TestExecuteTool_ExpectationFailure(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := buildRequest("autopilot.execute", map[string]any{
		"context": shopContext(),
		"steps":   []any{map[string]any{"kind": "extract", "selector": "#total"}},
		"expect":  map[string]any{"type": "object", "required": []any{"step_9_extract"}},
	})

	result, err := s.handleExecute(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp executeView
	unmarshalResult(t, result, &resp)
	assert.True(t, resp.Succeeded)
	assert.Contains(t, resp.ExpectationError, "VALIDATION_ERROR")
}

func TestExecuteTool_RunFailureIsNotToolError(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := shopContext()
	ctx["permissions"].(map[string]any)["restricted_domains"] = []any{"shop.test"}

	result, err := s.handleExecute(context.Background(), buildRequest("autopilot.execute", map[string]any{
		"context": ctx,
		"steps":   []any{map[string]any{"kind": "click", "selector": "#pay"}},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var resp executeView
	unmarshalResult(t, result, &resp)
	assert.False(t, resp.Succeeded)
	assert.Equal(t, schema.ErrCodeDomainRestricted, resp.ErrorCode)
}

func TestExecuteTool_InvalidArguments(t *testing.T) {
	s, _ := newTestServer(t, nil)

	cases := map[string]map[string]any{
		"missing steps":   {"context": shopContext()},
		"missing context": {"steps": []any{map[string]any{"kind": "wait"}}},
		"empty steps":     {"context": shopContext(), "steps": []any{}},
		"bad wait":        {"context": shopContext(), "steps": []any{map[string]any{"kind": "wait", "wait_condition": map[string]any{"kind": "idle", "value": "1"}}}},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := s.handleExecute(context.Background(), buildRequest("autopilot.execute", args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestExecuteTool_PreconditionIsToolError(t *testing.T) {
	s, _ := newTestServer(t, nil)
	result, err := s.handleExecute(context.Background(), buildRequest("autopilot.execute", map[string]any{
		"context": shopContext(),
		"steps":   []any{map[string]any{"kind": "click"}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodePrecondition)
}

func TestAbortAndStatusTools(t *testing.T) {
	s, _ := newTestServer(t, nil)

	done := make(chan *mcp.CallToolResult, 1)
	go func() {
		result, _ := s.handleExecute(context.Background(), buildRequest("autopilot.execute", map[string]any{
			"context": shopContext(),
			"steps":   []any{map[string]any{"kind": "wait", "wait_condition": map[string]any{"kind": "timeout", "value": "10s"}}},
		}))
		done <- result
	}()
	require.Eventually(t, s.controller.IsExecuting, time.Second, time.Millisecond)

	result, err := s.handleStatus(context.Background(), buildRequest("autopilot.status", nil))
	require.NoError(t, err)
	var status statusResponse
	unmarshalResult(t, result, &status)
	assert.True(t, status.Executing)
	assert.Equal(t, schema.RunStateRunning, status.State)

	result, err = s.handleAbort(context.Background(), buildRequest("autopilot.abort", nil))
	require.NoError(t, err)
	var abort map[string]any
	unmarshalResult(t, result, &abort)
	assert.Equal(t, true, abort["was_executing"])

	var run executeView
	select {
	case r := <-done:
		unmarshalResult(t, r, &run)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after abort")
	}
	assert.False(t, run.Succeeded)
	assert.Contains(t, run.Error, "aborted")

	result, err = s.handleStatus(context.Background(), buildRequest("autopilot.status", nil))
	require.NoError(t, err)
	status = statusResponse{}
	unmarshalResult(t, result, &status)
	assert.False(t, status.Executing)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, schema.ErrCodeAborted, status.LastResult.ErrorCode)
	require.NotNil(t, status.Progress)
	assert.Equal(t, schema.ProgressFailed, status.Progress.Status)
}

func TestToolsWithoutController(t *testing.T) {
	s, err := NewAutopilotServer(AutopilotServerDeps{})
	require.NoError(t, err)

	for _, handler := range []func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		s.handleExecute, s.handleAbort, s.handleStatus,
	} {
		result, err := handler(context.Background(), buildRequest("x", nil))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	}
}
