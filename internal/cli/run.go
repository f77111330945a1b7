package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// ReconcileEvery, when positive, repeats the full reconcile pass on
	// that period in addition to the registry's per-channel refresh.
	ReconcileEvery time.Duration

	// Watch is a templates directory applied at startup and again
	// whenever its files change.
	Watch         string
	WatchDebounce time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile at startup and keep dashboards refreshed",
		Long: `Start the dashsync runtime.

At startup every active instance is reconciled once, restoring the
in-memory controllers and correcting stored refs. Controllers then
re-render on reconcile.refresh_interval until the process receives
SIGINT or SIGTERM.

With --watch, the templates directory is applied after the startup pass
and re-applied whenever a template or schema file changes. A directory
with template errors is skipped until it loads cleanly.

Example:
  dashsync run --config ./dashsync.yaml
  dashsync run --db /tmp/dashsync.db --reconcile-every 10m --verbose
  dashsync run --watch ./templates`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.ReconcileEvery, "reconcile-every", 0, "repeat the full reconcile pass on this period (0 disables)")
	cmd.Flags().StringVar(&opts.Watch, "watch", "", "templates directory to apply and watch for changes")
	cmd.Flags().DurationVar(&opts.WatchDebounce, "watch-debounce", DefaultWatchDebounce, "quiet period before applying template changes")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	a, err := openApp(opts.RootOptions, cmd, formatter, true)
	if err != nil {
		return err
	}
	defer a.close()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a.logger.Info("runtime starting",
		"db", a.cfg.Database,
		"renderer", a.cfg.Renderer.Kind,
		"refresh_interval", a.cfg.Reconcile.RefreshInterval,
	)
	report, err := a.orch.ReconcileAll(ctx)
	if err != nil {
		return formatter.Fail("startup reconcile failed", err)
	}
	// A partially failed startup pass is logged, not fatal: failed
	// channels keep their controllers and converge on the next refresh.
	if err := outputReconcile(formatter, report); err != nil {
		a.logger.Warn("startup reconcile incomplete", "error", err)
	}

	var watchDone chan struct{}
	if opts.Watch != "" {
		apply := templateApplier(a, opts.Watch)
		watcher, err := newTemplateWatcher(opts.Watch, opts.WatchDebounce, a.logger.With("component", "watcher"), apply)
		if err != nil {
			return formatter.FailWithCode(ExitCommandError, "failed to watch templates", err)
		}
		if err := apply(ctx); err != nil {
			a.logger.Warn("initial template apply failed", "error", err)
		}
		watchDone = make(chan struct{})
		go func() {
			defer close(watchDone)
			watcher.Run(ctx)
		}()
	}

	if formatter.Format != "json" {
		fmt.Fprintf(formatter.Writer, "Managing %d channel(s). Press Ctrl-C to stop.\n", len(a.registry.Channels()))
	}

	var tick <-chan time.Time
	if opts.ReconcileEvery > 0 {
		ticker := time.NewTicker(opts.ReconcileEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			if watchDone != nil {
				<-watchDone
			}
			a.logger.Info("runtime stopped gracefully")
			return nil
		case <-tick:
			report, err := a.orch.ReconcileAll(ctx)
			if err != nil {
				a.logger.Error("periodic reconcile failed", "error", err)
				continue
			}
			a.logger.Info("periodic reconcile",
				"succeeded", report.Succeeded,
				"failed", report.Failed,
				"corrected", report.Corrected,
			)
		}
	}
}
