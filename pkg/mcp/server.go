package mcp

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autopilot/internal/engine"
	"github.com/rendis/autopilot/internal/script"
	"github.com/rendis/autopilot/internal/streaming"
	"github.com/rendis/autopilot/pkg/schema"
)

// ServerName is the MCP implementation name.
const ServerName = "autopilot"

// AutopilotServerDeps holds the dependencies for creating an AutopilotServer.
type AutopilotServerDeps struct {
	Controller *engine.Controller
	Loader     *script.Loader
	Hub        streaming.EventHub
	Logger     *slog.Logger
	Version    string
}

// AutopilotServer exposes one execution controller as MCP tools.
type AutopilotServer struct {
	controller *engine.Controller
	loader     *script.Loader
	hub        streaming.EventHub
	logger     *slog.Logger
	mcpServer  *server.MCPServer
	notifier   ProgressNotifier

	mu         sync.Mutex
	session    string
	last       *schema.AutomationProgress
	lastResult *schema.AutomationResult
}

// NewAutopilotServer creates a server with the execute, abort and status tools
// registered. It takes over the controller's progress sink.
func NewAutopilotServer(deps AutopilotServerDeps) (*AutopilotServer, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	loader := deps.Loader
	if loader == nil {
		var err error
		if loader, err = script.NewLoader(); err != nil {
			return nil, err
		}
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &AutopilotServer{
		controller: deps.Controller,
		loader:     loader,
		hub:        deps.Hub,
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Autopilot runs scripted interactions (click, type, select, wait, extract) against a target page. "+
			"Use autopilot.execute to run steps, autopilot.abort to stop the current run and autopilot.status to check whether a run is in flight."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv)

	if s.controller != nil {
		s.controller.OnProgress(s.onProgress)
	}
	return s, nil
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *AutopilotServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AutopilotServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *AutopilotServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: abortTool(), Handler: s.handleAbort},
		{Tool: statusTool(), Handler: s.handleStatus},
	}
}

// onProgress records the latest event, fans it out to the hub and forwards
// it to the client session that started the run.
func (s *AutopilotServer) onProgress(p schema.AutomationProgress) {
	s.mu.Lock()
	s.last = &p
	session := s.session
	s.mu.Unlock()

	if s.hub != nil {
		streaming.ProgressPublisher(s.hub)(p)
	}
	if session != "" {
		if err := s.notifier.NotifyProgress(context.Background(), session, p); err != nil {
			s.logger.Debug("progress notification failed", slog.String("session", session), slog.String("error", err.Error()))
		}
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("autopilot.execute",
		mcp.WithDescription("Run a sequence of interaction steps against the target page"),
		mcp.WithArray("steps", mcp.Required(),
			mcp.Description("Steps to run in order: {kind: click|type|select|wait|extract, selector, value, wait_condition: {kind, value}, description}"),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithObject("context", mcp.Required(),
			mcp.Description("Execution context: {target_url, domain, security_level, has_user_gesture, permissions}"),
		),
		mcp.WithObject("expect", mcp.Description("JSON Schema the extracted data must satisfy")),
	)
}

func abortTool() mcp.Tool {
	return mcp.NewTool("autopilot.abort",
		mcp.WithDescription("Abort the run in flight, if any"),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("autopilot.status",
		mcp.WithDescription("Report whether a run is in flight and its latest progress"),
	)
}
