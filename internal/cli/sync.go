package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/reconcile"
	"github.com/fr4iser90/dashsync/internal/store"
	"github.com/fr4iser90/dashsync/internal/template"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions

	// Single-channel mode, used when no templates directory is given.
	Channel string
	Config  string
	Guild   string
	Kind    string
}

// SyncItem is the outcome of syncing one channel.
type SyncItem struct {
	Channel       string `json:"channel"`
	Configuration string `json:"configuration"`
	Instance      string `json:"instance,omitempty"`
	Ref           string `json:"ref,omitempty"`
	Created       bool   `json:"created,omitempty"`
	Updated       bool   `json:"updated,omitempty"`
	Error         string `json:"error,omitempty"`
	Code          string `json:"code,omitempty"`
}

// SyncOutput is the JSON payload of the sync command.
type SyncOutput struct {
	Configurations []ImportedConfiguration `json:"configurations,omitempty"`
	Channels       []SyncItem              `json:"channels"`
	Failed         int                     `json:"failed"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync [templates-dir]",
		Short: "Provision and render channels",
		Long: `Provision dashboard instances and render them.

With a templates directory, every template is stored as a configuration and
every binding it declares is synced. Without one, --channel and
--config-name sync a single channel against an existing configuration.

Exit codes:
  0 - every channel synced
  1 - at least one channel failed to render or persist
  2 - command error (invalid templates, unknown configuration, etc.)

Examples:
  dashsync sync ./templates
  dashsync sync --channel 123456789012345678 --config-name servers --guild 987654321098765432`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "", "channel id (single-channel mode)")
	cmd.Flags().StringVar(&opts.Config, "config-name", "", "configuration name (single-channel mode)")
	cmd.Flags().StringVar(&opts.Guild, "guild", "", "guild id (single-channel mode)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "expected configuration kind (single-channel mode)")

	return cmd
}

func runSync(opts *SyncOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var requests []reconcile.SyncRequest
	var templates []template.Template
	if len(args) == 1 {
		res, errs := template.Load(args[0])
		if len(errs) > 0 {
			return outputTemplateErrors(formatter, errs)
		}
		templates = res.Templates
		requests = bindingRequests(templates)
	} else {
		if opts.Channel == "" || opts.Config == "" {
			return formatter.FailWithCode(ExitCommandError, "invalid arguments",
				errors.New("either a templates directory or --channel and --config-name are required"))
		}
		requests = append(requests, reconcile.SyncRequest{
			GuildID:           opts.Guild,
			ChannelID:         opts.Channel,
			ConfigurationName: opts.Config,
			Kind:              dashboard.Kind(opts.Kind),
		})
	}

	a, err := openApp(opts.RootOptions, cmd, formatter, false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var out SyncOutput
	if len(args) == 1 {
		out, err = applyTemplates(ctx, a, templates)
		if err != nil {
			return formatter.Fail("failed to store configurations", err)
		}
		formatter.VerboseLog("Stored %d configuration(s)", len(out.Configurations))
	} else {
		out = syncChannels(ctx, a.orch, requests)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, item := range out.Channels {
			if item.Error != "" {
				fmt.Fprintf(w, "✗ %s (%s): [%s] %s\n", item.Channel, item.Configuration, item.Code, item.Error)
				continue
			}
			action := "synced"
			if item.Created {
				action = "created"
			} else if item.Updated {
				action = "updated"
			}
			fmt.Fprintf(w, "✓ %s (%s) %s %s\n", item.Channel, item.Configuration, action, orDash(item.Ref))
		}
	}

	if out.Failed > 0 {
		// A single-channel validation failure is a command error.
		code := ExitFailure
		if len(requests) == 1 && out.Channels[0].Code == string(dashboard.ErrCodeValidation) {
			code = ExitCommandError
		}
		exitErr := NewExitError(code, fmt.Sprintf("%d of %d channel(s) failed", out.Failed, len(requests)))
		exitErr.Reported = true
		return exitErr
	}
	return nil
}

// ImportedConfiguration reports one stored template.
type ImportedConfiguration struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// bindingRequests expands every template binding into a sync request.
func bindingRequests(templates []template.Template) []reconcile.SyncRequest {
	var requests []reconcile.SyncRequest
	for _, t := range templates {
		for _, b := range t.Bindings {
			requests = append(requests, reconcile.SyncRequest{
				GuildID:           b.Guild,
				ChannelID:         b.Channel,
				ConfigurationName: t.Name,
				Kind:              t.Kind,
			})
		}
	}
	return requests
}

// syncChannels syncs each request in turn. Failures are recorded per item.
func syncChannels(ctx context.Context, orch *reconcile.Orchestrator, requests []reconcile.SyncRequest) SyncOutput {
	out := SyncOutput{Channels: make([]SyncItem, 0, len(requests))}
	for _, req := range requests {
		item := SyncItem{Channel: req.ChannelID, Configuration: req.ConfigurationName}
		res, err := orch.Sync(ctx, req)
		item.Instance = res.Instance.ID
		item.Ref = string(res.ArtifactRef)
		item.Created = res.Created
		item.Updated = res.Updated
		if err != nil {
			item.Error = err.Error()
			item.Code = errorCode(err)
			out.Failed++
		}
		out.Channels = append(out.Channels, item)
	}
	return out
}

// applyTemplates stores templates as configurations, then syncs every
// binding they declare.
func applyTemplates(ctx context.Context, a *app, templates []template.Template) (SyncOutput, error) {
	imported, err := importTemplates(ctx, a.store, templates)
	if err != nil {
		return SyncOutput{Channels: []SyncItem{}}, err
	}
	out := syncChannels(ctx, a.orch, bindingRequests(templates))
	out.Configurations = imported
	return out, nil
}

// importTemplates upserts every template as a configuration.
func importTemplates(ctx context.Context, st *store.Store, templates []template.Template) ([]ImportedConfiguration, error) {
	out := make([]ImportedConfiguration, 0, len(templates))
	for _, t := range templates {
		cfg, created, err := st.UpsertConfiguration(ctx, store.ConfigurationInput{
			Name:        t.Name,
			Kind:        t.Kind,
			Description: t.Description,
			Structure:   t.Structure,
		})
		if err != nil {
			return out, fmt.Errorf("template %q (%s): %w", t.Name, t.Source, err)
		}
		out = append(out, ImportedConfiguration{Name: cfg.Name, Kind: string(cfg.Kind), ID: cfg.ID, Created: created})
	}
	return out, nil
}
