package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autopilot/internal/script"
	"github.com/rendis/autopilot/pkg/schema"
)

// executeResponse is the autopilot.execute payload.
type executeResponse struct {
	*schema.AutomationResult
	ExpectationError string `json:"expectation_error,omitempty"`
}

// statusResponse is the autopilot.status payload.
type statusResponse struct {
	Executing  bool                       `json:"executing"`
	State      schema.RunState            `json:"state"`
	Progress   *schema.AutomationProgress `json:"progress,omitempty"`
	LastResult *resultSummary             `json:"last_result,omitempty"`
}

type resultSummary struct {
	RunID          string `json:"run_id"`
	Succeeded      bool   `json:"succeeded"`
	CompletedSteps int    `json:"completed_steps"`
	TotalSteps     int    `json:"total_steps"`
	Error          string `json:"error,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
}

// handleExecute runs the given steps. Malformed input and precondition faults
// are tool errors; every other outcome is a successful call carrying the result.
func (s *AutopilotServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.controller == nil {
		return mcp.NewToolResultError("no execution controller configured"), nil
	}

	args := req.GetArguments()
	steps, ok := args["steps"]
	if !ok || steps == nil {
		return mcp.NewToolResultError("steps is required"), nil
	}
	ectx, ok := args["context"]
	if !ok || ectx == nil {
		return mcp.NewToolResultError("context is required"), nil
	}
	raw := map[string]any{"context": ectx, "steps": steps}
	if expect, ok := args["expect"]; ok && expect != nil {
		raw["expect"] = expect
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	doc, err := s.loader.Parse(encoded, script.FormatJSON)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid request: %v", err)), nil
	}

	runCtx := ctx
	if limit := doc.Context.Permissions.MaxExecutionTime.Std(); limit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	release := s.captureSession(ctx)
	defer release()

	result, err := s.controller.Execute(runCtx, doc.Steps, doc.Context)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()

	resp := executeResponse{AutomationResult: result}
	if expect, err := doc.ExpectSchema(); err != nil {
		resp.ExpectationError = err.Error()
	} else if err := s.loader.Schemas().ValidateData(result.ExtractedData, expect); err != nil {
		resp.ExpectationError = err.Error()
	}

	s.logger.Info("automation finished",
		slog.String("run_id", result.RunID),
		slog.Bool("succeeded", result.Succeeded),
		slog.Int("completed_steps", result.CompletedSteps),
		slog.Int("total_steps", result.TotalSteps))
	return marshalResult(resp)
}

// handleAbort signals the run in flight. It succeeds even when nothing runs.
func (s *AutopilotServer) handleAbort(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.controller == nil {
		return mcp.NewToolResultError("no execution controller configured"), nil
	}
	executing := s.controller.IsExecuting()
	s.controller.Abort()
	return marshalResult(map[string]any{
		"ok":            true,
		"was_executing": executing,
	})
}

func (s *AutopilotServer) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.controller == nil {
		return mcp.NewToolResultError("no execution controller configured"), nil
	}

	resp := statusResponse{
		Executing: s.controller.IsExecuting(),
		State:     s.controller.State(),
	}
	s.mu.Lock()
	resp.Progress = s.last
	if r := s.lastResult; r != nil {
		resp.LastResult = &resultSummary{
			RunID:          r.RunID,
			Succeeded:      r.Succeeded,
			CompletedSteps: r.CompletedSteps,
			TotalSteps:     r.TotalSteps,
			Error:          r.Error,
			ErrorCode:      r.ErrorCode,
		}
	}
	s.mu.Unlock()

	return marshalResult(resp)
}

// captureSession routes progress of the next run to the calling client session.
// The returned func releases the session if this call claimed it.
func (s *AutopilotServer) captureSession(ctx context.Context) func() {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return func() {}
	}
	id := session.SessionID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != "" {
		return func() {}
	}
	s.session = id
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.session == id {
			s.session = ""
		}
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
