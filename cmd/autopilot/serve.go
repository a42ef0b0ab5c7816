package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/autopilot/internal/backend"
	"github.com/rendis/autopilot/internal/engine"
	"github.com/rendis/autopilot/internal/logging"
	"github.com/rendis/autopilot/internal/permissions"
	"github.com/rendis/autopilot/internal/script"
	"github.com/rendis/autopilot/internal/streaming"
	"github.com/rendis/autopilot/pkg/mcp"
)

func newServeCmd() *cobra.Command {
	var (
		startURL string
		fixture  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the execution controller as MCP tools over stdio",
		Long: `Serve exposes autopilot.execute, autopilot.abort and autopilot.status to an
MCP client on stdin/stdout. Logs go to stderr.

With --fixture the tools drive the in-memory page described by that script
document; otherwise a browser is opened at --url.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			loader, err := script.NewLoader()
			if err != nil {
				return err
			}
			b, closeBackend, err := serveBackend(ctx, loader, startURL, fixture)
			if err != nil {
				return err
			}
			defer closeBackend()

			gw, err := buildGateway(cfg)
			if err != nil {
				return err
			}
			ecfg := cfg.engineConfig()
			ecfg.Logger = logger
			ctrl := engine.NewController(b, permissions.NewValidator(gw, logger), ecfg)

			hub := streaming.NewMemoryHub()
			ctrl.OnTransition(streaming.StatePublisher(hub))
			go logStates(ctx, hub, logger)

			srv, err := mcp.NewAutopilotServer(mcp.AutopilotServerDeps{
				Controller: ctrl,
				Loader:     loader,
				Hub:        hub,
				Logger:     logger,
				Version:    version,
			})
			if err != nil {
				return err
			}
			logger.Info("serving MCP over stdio", slog.String("version", version))
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&startURL, "url", "about:blank", "Page the browser opens")
	cmd.Flags().StringVar(&fixture, "fixture", "", "Script document whose fixture backs an in-memory page")
	return cmd
}

func serveBackend(ctx context.Context, loader *script.Loader, startURL, fixture string) (backend.Backend, func(), error) {
	if fixture != "" || cfg.Backend == backendMemory {
		if fixture == "" {
			return backend.NewMemoryBackend(startURL), func() {}, nil
		}
		doc, err := loader.Load(fixture)
		if err != nil {
			return nil, nil, fmt.Errorf("load fixture: %w", err)
		}
		return doc.MemoryBackend(), func() {}, nil
	}

	rb, err := backend.NewRodBackend(ctx, backend.RodOptions{
		URL:        startURL,
		Headless:   cfg.Headless,
		BrowserBin: cfg.BrowserBin,
		ProfileDir: cfg.ProfileDir,
	})
	if err != nil {
		return nil, nil, err
	}
	return rb, func() { _ = rb.Close() }, nil
}

// logStates logs controller state changes at debug level until ctx ends.
func logStates(ctx context.Context, hub streaming.EventHub, logger *slog.Logger) {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{EventTypes: []string{streaming.EventState}})
	if err != nil {
		return
	}
	defer cancel()
	// The hub closes events once ctx ends.
	for ev := range events {
		logger.Debug("controller state changed", slog.String("state", string(ev.State)))
	}
}
