package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fr4iser90/dashsync/internal/template"
)

// DefaultWatchDebounce coalesces the bursts of events editors produce when
// saving a file.
const DefaultWatchDebounce = 500 * time.Millisecond

// templateWatcher calls apply after template files in dir change. Events
// arriving within debounce of each other trigger a single apply.
type templateWatcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	apply    func(ctx context.Context) error
	fs       *fsnotify.Watcher
}

func newTemplateWatcher(dir string, debounce time.Duration, logger *slog.Logger, apply func(ctx context.Context) error) (*templateWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &templateWatcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger,
		apply:    apply,
		fs:       fw,
	}, nil
}

// Run processes events until ctx is cancelled. It closes the watcher on
// return.
func (w *templateWatcher) Run(ctx context.Context) {
	defer w.fs.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !isTemplateEvent(ev) {
				continue
			}
			w.logger.Debug("template changed", "file", filepath.Base(ev.Name), "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("template watcher error", "error", err)
		case <-fire:
			fire = nil
			if err := w.apply(ctx); err != nil {
				w.logger.Error("applying templates failed", "dir", w.dir, "error", err)
			}
		}
	}
}

// isTemplateEvent reports whether ev touches a template or schema file.
func isTemplateEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.HasSuffix(name, template.SchemaSuffix) {
		return true
	}
	switch filepath.Ext(name) {
	case ".cue", ".yaml", ".yml":
		return true
	}
	return false
}

// templateApplier loads dir and applies it through a. A directory with any
// template error is not applied, so a half-edited file never unbinds
// channels.
func templateApplier(a *app, dir string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		res, errs := template.Load(dir)
		if len(errs) > 0 {
			for _, err := range errs {
				a.logger.Warn("template error", "error", err)
			}
			return fmt.Errorf("%d template error(s); keeping current configurations", len(errs))
		}
		out, err := applyTemplates(ctx, a, res.Templates)
		if err != nil {
			return err
		}
		for _, item := range out.Channels {
			if item.Error != "" {
				a.logger.Warn("channel sync failed", "channel", item.Channel, "config", item.Configuration, "error", item.Error)
			}
		}
		a.logger.Info("templates applied",
			"dir", dir,
			"configurations", len(out.Configurations),
			"channels", len(out.Channels),
			"failed", out.Failed,
		)
		return nil
	}
}
