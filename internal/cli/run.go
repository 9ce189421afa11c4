package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/huntflow/internal/config"
	"github.com/roach88/huntflow/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Watch re-executes the huntflow whenever its file changes.
	Watch bool

	// IDGenerator allows overriding the session and entity id generator
	// (for testing). If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator

	// Clock allows overriding the session clock (for testing).
	Clock engine.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [huntflow-file]",
		Short: "Execute a huntflow",
		Long: `Execute a huntflow file, or standard input when the file is "-" or
omitted. DISP results are printed as tables and INFO as summaries; with
--format json a single response holds every display, info and the trace.

Datasources, session defaults and the store come from the configuration
file (--config or HUNTFLOW_CONFIG).

Exit codes:
  0 - Huntflow completed
  1 - Huntflow failed (syntax, semantic, datasource, ... error)
  2 - Command error (unreadable file, invalid configuration, etc.)

Examples:
  huntflow run hunt.hf
  huntflow run --config huntflow.yaml --db hunt.db hunt.hf
  echo "procs = GET process FROM host-1 WHERE pid > 0" | huntflow run
  huntflow run --watch hunt.hf`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runHuntflow(opts, path, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "re-run the huntflow whenever the file changes")

	return cmd
}

func runHuntflow(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	if opts.Watch && path == "-" {
		return NewExitError(ExitCommandError, "--watch requires a huntflow file")
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.Watch {
		return watchHuntflow(ctx, path, logger, func() error {
			return executeFile(ctx, opts, cfg, path, cmd, logger)
		})
	}
	return executeFile(ctx, opts, cfg, path, cmd, logger)
}

// executeFile reads path and runs it in a fresh session.
func executeFile(ctx context.Context, opts *RunOptions, cfg *config.Config, path string, cmd *cobra.Command, logger *slog.Logger) error {
	source, err := readSource(path, cmd.InOrStdin())
	if err != nil {
		return err
	}
	return execute(ctx, opts, cfg, source, cmd, logger)
}

func execute(ctx context.Context, opts *RunOptions, cfg *config.Config, source string, cmd *cobra.Command, logger *slog.Logger) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	out := &DisplayWriter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	var extra []engine.Option
	if opts.IDGenerator != nil {
		extra = append(extra, engine.WithIDGenerator(opts.IDGenerator))
	}
	if opts.Clock != nil {
		extra = append(extra, engine.WithClock(opts.Clock))
	}
	h, err := openHunt(cfg, opts.RootOptions, out, logger, extra...)
	if err != nil {
		return err
	}
	defer closeHunt(ctx, h, logger)

	traces, err := h.session.Execute(ctx, source)
	for _, tr := range traces {
		formatter.VerboseLog("[%d] %s %s -> %d rows", tr.Seq, tr.Command, tr.Output, tr.Count)
		for _, w := range tr.Warnings {
			logger.Warn("statement warning", "seq", tr.Seq, "command", tr.Command, "warning", w)
		}
	}
	if err != nil {
		return formatter.HuntflowError(err, source)
	}

	if opts.Format == "json" {
		result := RunOutput{
			Displays: nonNil(out.Displays),
			Infos:    nonNil(out.Infos),
			Trace:    nonNil(traces),
		}
		return formatter.Success(result)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// readSource reads a huntflow from path, or from stdin when path is "-".
func readSource(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", NewExitError(ExitCommandError, fmt.Sprintf("huntflow file not found: %s", path))
		}
		return "", WrapExitError(ExitCommandError, "failed to read huntflow", err)
	}
	return string(data), nil
}

// newFormatter returns the formatter for cmd's output streams.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
		Color:     colorEnabled(cmd.OutOrStdout()),
	}
}
