package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/store"
)

// ChannelOutput is the JSON payload of activate and refresh.
type ChannelOutput struct {
	Channel string `json:"channel"`
	Ref     string `json:"ref,omitempty"`
}

// DeactivateOutput is the JSON payload of deactivate.
type DeactivateOutput struct {
	Key         string   `json:"key"`
	Controllers []string `json:"controllers"`
	Rows        int64    `json:"rows"`
}

// StatusOutput describes one channel's instance.
type StatusOutput struct {
	Channel       string `json:"channel"`
	State         string `json:"state"`
	Instance      string `json:"instance,omitempty"`
	Guild         string `json:"guild,omitempty"`
	Configuration string `json:"configuration,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Ref           string `json:"ref,omitempty"`
	Active        bool   `json:"active"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// NewActivateCommand creates the activate command.
func NewActivateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <channel>",
		Short: "Reactivate and render a stored instance",
		Long: `Render the instance stored for a channel, marking it active again if it
was deactivated. The stored ref is used as the edit hint; a recreated
message has its new ref persisted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivate(rootOpts, args[0], cmd, false)
		},
	}
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <channel>",
		Short: "Re-render one active channel",
		Long: `Re-render the dashboard of one active channel.

A one-shot process holds no controllers, so the channel is rendered from
its stored configuration using the stored ref as the edit hint. Inactive
channels are refused; use activate to bring them back.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivate(rootOpts, args[0], cmd, true)
		},
	}
}

func runActivate(opts *RootOptions, channelID string, cmd *cobra.Command, activeOnly bool) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(opts, cmd, formatter, false)
	if err != nil {
		return err
	}
	defer a.close()

	op := "activate"
	if activeOnly {
		op = "refresh"
		inst, err := a.store.GetInstanceByChannel(cmd.Context(), channelID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return formatter.Fail("refresh failed", dashboard.NewValidationError(op, channelID, "no instance for channel"))
		case err != nil:
			return formatter.Fail("refresh failed", err)
		case !inst.IsActive:
			return formatter.Fail("refresh failed", dashboard.NewValidationError(op, channelID, "instance is deactivated"))
		}
	}

	ref, err := a.orch.Activate(cmd.Context(), channelID)
	if err != nil {
		return formatter.Fail(op+" failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(ChannelOutput{Channel: channelID, Ref: string(ref)})
	}
	fmt.Fprintf(formatter.Writer, "✓ %s rendered %s\n", channelID, orDash(string(ref)))
	return nil
}

// NewDeactivateCommand creates the deactivate command.
func NewDeactivateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <channel|kind>",
		Short: "Stop managing a channel or every channel of a kind",
		Long: `Mark instances inactive so later reconciles skip them.

A well-formed channel id selects that channel; anything else is taken as a
configuration kind. The posted messages are left in place. Deactivating an
unknown or already inactive target succeeds with nothing changed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeactivate(rootOpts, args[0], cmd)
		},
	}
}

func runDeactivate(opts *RootOptions, key string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(opts, cmd, formatter, false)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.orch.Deactivate(cmd.Context(), key)
	if err != nil {
		return formatter.Fail("deactivate failed", err)
	}

	out := DeactivateOutput{Key: key, Controllers: res.Channels, Rows: res.Persisted}
	if out.Controllers == nil {
		out.Controllers = []string{}
	}
	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	fmt.Fprintf(formatter.Writer, "✓ deactivated %s: %d instance(s) marked inactive\n", key, res.Persisted)
	if len(res.Channels) > 0 {
		formatter.VerboseLog("  controllers removed: %s", strings.Join(res.Channels, ", "))
	}
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status <channel>",
		Short:         "Show the stored state of a channel",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, args[0], cmd)
		},
	}
}

func runStatus(opts *RootOptions, channelID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(opts, cmd, formatter, false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	state, err := a.orch.State(ctx, channelID)
	if err != nil {
		return formatter.Fail("status failed", err)
	}
	out := StatusOutput{Channel: channelID, State: string(state)}

	if state != dashboard.StateAbsent {
		inst, err := a.store.GetInstanceByChannel(ctx, channelID)
		if err != nil {
			return formatter.Fail("status failed", err)
		}
		out.Instance = inst.ID
		out.Guild = inst.GuildID
		out.Ref = string(inst.ArtifactRef)
		out.Active = inst.IsActive
		out.UpdatedAt = inst.LastUpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
		if cfg, err := a.store.GetConfiguration(ctx, inst.ConfigurationID); err == nil {
			out.Configuration = cfg.Name
			out.Kind = string(cfg.Kind)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "channel:       %s\n", out.Channel)
	fmt.Fprintf(w, "state:         %s\n", out.State)
	if state == dashboard.StateAbsent {
		return nil
	}
	fmt.Fprintf(w, "instance:      %s\n", out.Instance)
	fmt.Fprintf(w, "guild:         %s\n", orDash(out.Guild))
	fmt.Fprintf(w, "configuration: %s (%s)\n", orDash(out.Configuration), orDash(out.Kind))
	fmt.Fprintf(w, "ref:           %s\n", orDash(out.Ref))
	fmt.Fprintf(w, "updated:       %s\n", out.UpdatedAt)
	return nil
}
