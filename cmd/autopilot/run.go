package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rendis/autopilot/internal/backend"
	"github.com/rendis/autopilot/internal/engine"
	"github.com/rendis/autopilot/internal/expressions"
	"github.com/rendis/autopilot/internal/logging"
	"github.com/rendis/autopilot/internal/permissions"
	"github.com/rendis/autopilot/internal/script"
	"github.com/rendis/autopilot/internal/streaming"
	"github.com/rendis/autopilot/pkg/schema"
)

func newRunCmd() *cobra.Command {
	var (
		query string
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a script document and print the result as JSON",
		Long: `Run loads a YAML or JSON script document, executes its steps and prints the
automation result. Progress goes to stderr. Ctrl-C aborts the run.

The exit code is 0 when the run succeeded and its extracted data satisfies
the document's expect schema, 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

			loader, err := script.NewLoader()
			if err != nil {
				return err
			}
			doc, err := loader.Load(args[0])
			if err != nil {
				return err
			}

			jq := expressions.NewJQ()
			if query != "" {
				if err := jq.Compile(query); err != nil {
					return err
				}
			}
			gw, err := buildGateway(cfg)
			if err != nil {
				return err
			}
			b, closeBackend, err := openBackend(ctx, cfg, doc)
			if err != nil {
				return err
			}
			defer closeBackend()

			r := &runner{
				backend: b,
				gateway: gw,
				engine:  cfg.engineConfig(),
				loader:  loader,
				jq:      jq,
				query:   query,
				quiet:   quiet,
				logger:  logger,
				out:     cmd.OutOrStdout(),
				errOut:  cmd.ErrOrStderr(),
			}
			return r.run(ctx, doc)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "jq expression applied to the result before printing")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Do not print progress")
	return cmd
}

// runner executes one document and renders its outcome.
type runner struct {
	backend backend.Backend
	gateway permissions.Gateway
	engine  engine.Config
	loader  *script.Loader
	jq      *expressions.JQ
	query   string
	quiet   bool
	logger  *slog.Logger
	out     io.Writer
	errOut  io.Writer
}

func (r *runner) run(ctx context.Context, doc *script.Document) error {
	ecfg := r.engine
	ecfg.Logger = r.logger
	ctrl := engine.NewController(r.backend, permissions.NewValidator(r.gateway, r.logger), ecfg)

	hub := streaming.NewMemoryHub()
	ctrl.OnProgress(streaming.ProgressPublisher(hub))
	ctrl.OnTransition(streaming.StatePublisher(hub))

	events, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			if !r.quiet {
				printEvent(r.errOut, ev)
			}
		}
	}()

	stop := abortOnInterrupt(ctrl)
	defer stop()

	runCtx := ctx
	if limit := doc.Context.Permissions.MaxExecutionTime.Std(); limit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	result, err := ctrl.Execute(runCtx, doc.Steps, doc.Context)
	unsubscribe()
	<-printed
	if err != nil {
		return err
	}

	expectErr := r.checkExpect(doc, result)
	if err := r.printResult(ctx, result); err != nil {
		return err
	}
	if expectErr != nil {
		fmt.Fprintf(r.errOut, "expectation failed: %v\n", expectErr)
		return errRunFailed
	}
	if !result.Succeeded {
		return errRunFailed
	}
	return nil
}

func (r *runner) checkExpect(doc *script.Document, result *schema.AutomationResult) error {
	expect, err := doc.ExpectSchema()
	if err != nil {
		return err
	}
	return r.loader.Schemas().ValidateData(result.ExtractedData, expect)
}

// printResult writes the indented result, or one compact JSON line per
// query output when a query is set.
func (r *runner) printResult(ctx context.Context, result *schema.AutomationResult) error {
	if r.query == "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		_, err = fmt.Fprintln(r.out, string(data))
		return err
	}

	outputs, err := r.jq.Evaluate(ctx, r.query, result)
	if err != nil {
		return err
	}
	for _, v := range outputs {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode query output: %w", err)
		}
		if _, err := fmt.Fprintln(r.out, string(data)); err != nil {
			return err
		}
	}
	return nil
}

func printEvent(w io.Writer, ev streaming.StreamEvent) {
	switch ev.EventType {
	case streaming.EventProgress:
		p := ev.Progress
		fmt.Fprintf(w, "→ [%d/%d] %s: %s\n", p.CurrentStep, p.TotalSteps, p.Status, p.Message)
	case streaming.EventState:
		fmt.Fprintf(w, "→ state %s\n", ev.State)
	}
}

// abortOnInterrupt aborts the controller's run on SIGINT or SIGTERM until
// the returned func is called.
func abortOnInterrupt(ctrl *engine.Controller) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sig:
			ctrl.Abort()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

// openBackend picks the target backend for doc. The returned func releases it.
func openBackend(ctx context.Context, c Config, doc *script.Document) (backend.Backend, func(), error) {
	kind := c.Backend
	if kind == "" || kind == backendAuto {
		kind = backendRod
		if doc.Fixture != nil {
			kind = backendMemory
		}
	}

	switch kind {
	case backendMemory:
		return doc.MemoryBackend(), func() {}, nil
	case backendRod:
		if doc.Context.TargetURL == "" {
			return nil, nil, fmt.Errorf("the rod backend needs context.target_url")
		}
		rb, err := backend.NewRodBackend(ctx, backend.RodOptions{
			URL:        doc.Context.TargetURL,
			Headless:   c.Headless,
			BrowserBin: c.BrowserBin,
			ProfileDir: c.ProfileDir,
		})
		if err != nil {
			return nil, nil, err
		}
		return rb, func() { _ = rb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (supported: auto, memory, rod)", c.Backend)
	}
}

// buildGateway returns the permission gateway for c.Policy.
func buildGateway(c Config) (permissions.Gateway, error) {
	if c.Policy == "" {
		return permissions.AllowAll{}, nil
	}
	gw, err := permissions.NewPolicyGateway(c.PolicyLang, c.Policy)
	if err != nil {
		return nil, err
	}
	return gw, nil
}
