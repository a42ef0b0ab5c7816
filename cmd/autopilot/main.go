package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// errRunFailed signals a finished run that did not succeed. The result has
// already been printed, so main only sets the exit code.
var errRunFailed = errors.New("run failed")

var cfg Config

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autopilot",
		Short: "Run scripted interactions against a target page",
		Long: `autopilot executes an ordered list of interaction steps (click, type, select,
wait, extract) against a target page under a permission context, reporting
progress and a structured result.

Example:
  autopilot run checkout.yaml --query '.extracted_data'`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg = applyFlags(cmd, loadConfig())
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text, json")
	pf.String("backend", "", "Target backend: auto, memory, rod")
	pf.Bool("headless", true, "Run the browser without a window")
	pf.String("browser-bin", "", "Chrome/Chromium binary (default: look up a local install)")
	pf.String("profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	pf.String("policy", "", "Gateway policy expression; empty grants every request")
	pf.String("policy-lang", "", "Policy language: expr, cel")

	root.AddCommand(newRunCmd(), newValidateCmd(), newServeCmd(), newVersionCmd())
	return root
}

// applyFlags overlays explicitly set flags on c.
func applyFlags(cmd *cobra.Command, c Config) Config {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("log-level", &c.LogLevel)
	str("log-format", &c.LogFormat)
	str("backend", &c.Backend)
	str("browser-bin", &c.BrowserBin)
	str("profile", &c.ProfileDir)
	str("policy", &c.Policy)
	str("policy-lang", &c.PolicyLang)
	if flags.Changed("headless") {
		c.Headless, _ = flags.GetBool("headless")
	}
	return c
}
