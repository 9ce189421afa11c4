package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/huntflow/internal/analytics"
	"github.com/roach88/huntflow/internal/config"
	"github.com/roach88/huntflow/internal/connector"
	"github.com/roach88/huntflow/internal/engine"
	"github.com/roach88/huntflow/internal/fileio"
	"github.com/roach88/huntflow/internal/store"
)

// newLogger returns the CLI logger: text on w, debug under --verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// loadConfig reads the configuration named by --config or HUNTFLOW_CONFIG.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.Path(opts.Config))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}

// hunt is a session together with the store it runs on.
type hunt struct {
	session *engine.Session
	store   *store.Store // nil when the session owns an in-memory store
}

func (h *hunt) Close(ctx context.Context) error {
	err := h.session.Close(ctx)
	if h.store != nil {
		err = errors.Join(err, h.store.Close())
	}
	return err
}

// openHunt builds a session from cfg: the file:// connector with the
// configured datasource aliases and formats, the builtin and exec analytics,
// session defaults and the store. extra options are applied last.
func openHunt(cfg *config.Config, opts *RootOptions, out engine.Output, logger *slog.Logger, extra ...engine.Option) (*hunt, error) {
	connectors := connector.NewRegistry(logger)
	formats := make(map[string]fileio.Format)
	for name, ds := range cfg.Datasources {
		connectors.Alias(name, ds.URI)
		if f, ok := cfg.DatasourceFormat(name); ok {
			formats[connector.NormalizeURI(ds.URI)] = f
		}
	}
	connectors.Register("file", connector.File{Formats: formats})

	runners := analytics.NewRegistry(
		analytics.WithTimeout(cfg.AnalyticsTimeout()),
		analytics.WithLogger(logger),
	)
	runners.Register("exec", analytics.Exec{Allow: cfg.Analytics.AllowExec})

	sessionOpts := []engine.Option{
		engine.WithConnectors(connectors),
		engine.WithAnalytics(runners),
		engine.WithOutput(out),
		engine.WithLogger(logger),
		engine.WithDefaults(cfg.Defaults()),
		engine.WithStatementTimeout(cfg.StatementTimeout()),
		engine.WithTimestampAttributes(cfg.STIX.TimestampAttributes...),
		engine.WithDefaultDatasource(cfg.DefaultDatasource),
	}

	h := &hunt{}
	storePath := cfg.Store.Path
	if opts.Database != "" {
		storePath = opts.Database
	}
	if storePath != "" {
		st, err := store.Open(storePath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open store", err)
		}
		logger.Debug("store opened", "path", storePath)
		h.store = st
		sessionOpts = append(sessionOpts, engine.WithStore(st))
	}

	session, err := engine.NewSession(append(sessionOpts, extra...)...)
	if err != nil {
		if h.store != nil {
			_ = h.store.Close()
		}
		return nil, WrapExitError(ExitCommandError, "failed to create session", err)
	}
	h.session = session
	logger.Debug("session created", "session", session.ID())
	return h, nil
}

// closeHunt closes h and logs any teardown failure.
func closeHunt(ctx context.Context, h *hunt, logger *slog.Logger) {
	if err := h.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Error("error closing session", "error", fmt.Sprint(err))
	}
}
