package cli

import (
	"errors"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fr4iser90/dashsync/internal/config"
	"github.com/fr4iser90/dashsync/internal/reconcile"
	"github.com/fr4iser90/dashsync/internal/registry"
	"github.com/fr4iser90/dashsync/internal/render"
	"github.com/fr4iser90/dashsync/internal/store"
)

// app is the wired system for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	file     *render.FileSurface // nil unless the file renderer is configured
	registry *registry.Registry
	orch     *reconcile.Orchestrator
}

// loadConfig resolves the configuration for opts: the --config file, else
// ./dashsync.yaml or ./dashsync.toml when present, else defaults; then the
// --db override.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.Discover(".")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(opts *RootOptions, cfg *config.Config, cmd *cobra.Command) *slog.Logger {
	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openApp loads configuration and wires store, renderer, registry and
// orchestrator. daemon enables the registry's auto-refresh loops. Errors
// are reported through f.
func openApp(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter, daemon bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.FailWithCode(ExitCommandError, "failed to load configuration", err)
	}
	logger := newLogger(opts, cfg, cmd)

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, f.FailWithCode(ExitCommandError, "failed to open database", err)
	}

	a := &app{cfg: cfg, logger: logger, store: st}

	var renderer render.Renderer
	switch cfg.Renderer.Kind {
	case config.RendererFile:
		fs, err := render.OpenFileSurface(cfg.Renderer.Path)
		if err != nil {
			st.Close()
			return nil, f.FailWithCode(ExitCommandError, "failed to open surface", err)
		}
		a.file = fs
		renderer = fs
	default:
		renderer = render.NewMemory()
	}

	regOpts := registry.Options{
		RenderTimeout: cfg.Reconcile.RenderTimeout,
		Logger:        logger,
	}
	if daemon {
		regOpts.RefreshInterval = cfg.Reconcile.RefreshInterval
	}
	a.registry = registry.New(renderer, regOpts)
	a.orch = reconcile.New(st, st, a.registry,
		reconcile.WithConcurrency(cfg.Reconcile.Concurrency),
		reconcile.WithInstanceTimeout(cfg.Reconcile.InstanceTimeout),
		reconcile.WithLogger(logger),
	)
	return a, nil
}

// openStore opens only the database, for commands that never render.
func openStore(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*store.Store, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.FailWithCode(ExitCommandError, "failed to load configuration", err)
	}
	newLogger(opts, cfg, cmd)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, f.FailWithCode(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// close stops the registry and closes the database.
func (a *app) close() {
	a.registry.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// surface returns the file surface or a command error when the memory
// renderer is configured.
func (a *app) surface() (*render.FileSurface, error) {
	if a.file == nil {
		return nil, errors.New(`surface commands need renderer kind "file"`)
	}
	return a.file, nil
}

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed, color.Bold)
)

// mark renders a pass/fail marker for text output. Colors are dropped when
// stdout is not a terminal or NO_COLOR is set.
func mark(ok bool) string {
	if ok {
		return green.Sprint("✓")
	}
	return red.Sprint("✗")
}

// orDash prints "-" for empty values in tables.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
