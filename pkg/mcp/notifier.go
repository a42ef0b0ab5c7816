package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autopilot/pkg/schema"
)

// ProgressNotifier pushes run progress to a connected client.
type ProgressNotifier interface {
	NotifyProgress(ctx context.Context, sessionID string, p schema.AutomationProgress) error
}

// MCPNotifier implements ProgressNotifier with MCP log-message notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
}

// NewMCPNotifier creates a notifier bound to mcpServer.
func NewMCPNotifier(mcpServer *server.MCPServer) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer}
}

// NotifyProgress sends p to the session. Best-effort: a session that went
// away is not an error.
func (n *MCPNotifier) NotifyProgress(_ context.Context, sessionID string, p schema.AutomationProgress) error {
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", map[string]any{
		"level":  "info",
		"logger": ServerName,
		"data":   p,
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		return nil
	}
	return err
}
