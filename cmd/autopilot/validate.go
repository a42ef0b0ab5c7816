package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rendis/autopilot/internal/script"
	"github.com/rendis/autopilot/internal/validation"
	"github.com/rendis/autopilot/pkg/schema"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <script>",
		Short: "Validate a script document without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateScript(cmd.Context(), args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// validateScript checks the document against the schema, then the steps and
// context semantically. Warnings are printed but do not fail validation.
func validateScript(ctx context.Context, path string, out, errOut io.Writer) error {
	loader, err := script.NewLoader()
	if err != nil {
		return err
	}
	doc, err := loader.Load(path)
	if err != nil {
		fmt.Fprintf(errOut, "Validation failed: %v\n", err)
		return errRunFailed
	}

	res := validation.ValidateRun(ctx, doc.Steps, doc.Context)
	if cfg.Policy != "" {
		if _, err := buildGateway(cfg); err != nil {
			res.Fail("policy", schema.ErrCodeValidation, err.Error())
		}
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(errOut, "  ⚠ [%s] %s\n", w.Code, w.Message)
		if w.Path != "" {
			fmt.Fprintf(errOut, "    at: %s\n", w.Path)
		}
	}
	if !res.OK() {
		fmt.Fprintf(errOut, "Validation failed: %d error(s)\n\n", len(res.Errors))
		for i, e := range res.Errors {
			fmt.Fprintf(errOut, "  %d. [%s] %s\n", i+1, e.Code, e.Message)
			if e.Path != "" {
				fmt.Fprintf(errOut, "     at: %s\n", e.Path)
			}
		}
		return errRunFailed
	}

	name := doc.Name
	if name == "" {
		name = path
	}
	fmt.Fprintf(out, "✓ %s is valid (%d steps, %d warning(s))\n", name, len(doc.Steps), len(res.Warnings))
	return nil
}
