package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/huntflow/internal/engine"
	"github.com/roach88/huntflow/internal/syntax"
)

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse [huntflow-file]",
		Short: "Print the normalized statements of a huntflow",
		Long: `Parse and normalize a huntflow without executing it, and print the
resulting statements as JSON. Implicit DISP outputs, default sort orders
and LIMIT values from the configuration are filled in.

Examples:
  huntflow parse hunt.hf
  huntflow parse --format json hunt.hf`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, formatter, err := compileFile(rootOpts, args, cmd)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return formatter.Success(prog)
			}
			return encodeJSON(cmd.OutOrStdout(), prog)
		},
	}
}

// compileFile reads the huntflow named by args (stdin when absent) and
// compiles it with the configured defaults. Compile failures are reported
// through the returned formatter.
func compileFile(opts *RootOptions, args []string, cmd *cobra.Command) (*syntax.Program, *OutputFormatter, error) {
	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	source, err := readSource(path, cmd.InOrStdin())
	if err != nil {
		return nil, nil, err
	}

	formatter := newFormatter(opts, cmd)
	prog, err := engine.Compile(source, cfg.Defaults())
	if err != nil {
		return nil, formatter, formatter.HuntflowError(err, source)
	}
	formatter.VerboseLog("compiled %d statements", len(prog.Statements))
	return prog, formatter, nil
}
