package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CheckResult is the json payload of a successful check.
type CheckResult struct {
	Valid      bool `json:"valid"`
	Statements int  `json:"statements"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [huntflow-file]",
		Short: "Check a huntflow for syntax and semantic errors",
		Long: `Parse and normalize a huntflow without executing it. Variables must be
defined before use; datasources are not contacted.

Exit codes:
  0 - Huntflow is valid
  1 - Syntax or semantic error
  2 - Command error

Examples:
  huntflow check hunt.hf
  huntflow check --format json hunt.hf`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, formatter, err := compileFile(rootOpts, args, cmd)
			if err != nil {
				return err
			}
			n := len(prog.Statements)
			if rootOpts.Format == "json" {
				return formatter.Success(CheckResult{Valid: true, Statements: n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d %s\n", n, plural(n, "statement", "statements"))
			return nil
		},
	}
}
