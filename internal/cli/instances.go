package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/store"
)

// InstanceRow is one stored instance in list output.
type InstanceRow struct {
	ID            string `json:"id"`
	Channel       string `json:"channel"`
	Guild         string `json:"guild"`
	Configuration string `json:"configuration"`
	Ref           string `json:"ref,omitempty"`
	Active        bool   `json:"active"`
}

// InstancesOptions holds flags for the instances commands.
type InstancesOptions struct {
	*RootOptions
	ActiveOnly bool
	Channel    string
	Config     string
	Guild      string
}

// NewInstancesCommand creates the instances command group.
func NewInstancesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InstancesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Manage stored channel instances",
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List instances",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstancesList(opts, cmd)
		},
	}
	list.Flags().BoolVar(&opts.ActiveOnly, "active", false, "only active instances")

	provision := &cobra.Command{
		Use:   "provision",
		Short: "Store an instance without rendering it",
		Long: `Store an active instance with no artifact ref. The next reconcile
renders it and persists its ref.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstancesProvision(opts, cmd)
		},
	}
	provision.Flags().StringVar(&opts.Channel, "channel", "", "channel id (required)")
	provision.Flags().StringVar(&opts.Config, "config-name", "", "configuration name (required)")
	provision.Flags().StringVar(&opts.Guild, "guild", "", "guild id")
	_ = provision.MarkFlagRequired("channel")
	_ = provision.MarkFlagRequired("config-name")

	remove := &cobra.Command{
		Use:           "delete <channel>",
		Short:         "Delete the instance stored for a channel",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstancesDelete(opts, args[0], cmd)
		},
	}

	cmd.AddCommand(list, provision, remove)
	return cmd
}

func runInstancesList(opts *InstancesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	st, err := openStore(opts.RootOptions, cmd, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	var instances []dashboard.ActiveInstance
	if opts.ActiveOnly {
		instances, err = st.ListActive(ctx)
	} else {
		instances, err = st.ListInstances(ctx)
	}
	if err != nil {
		return formatter.Fail("list instances failed", err)
	}

	names := map[string]string{}
	configs, err := st.ListConfigurations(ctx)
	if err != nil {
		return formatter.Fail("list instances failed", err)
	}
	for _, c := range configs {
		names[c.ID] = c.Name
	}

	rows := make([]InstanceRow, 0, len(instances))
	for _, inst := range instances {
		name, ok := names[inst.ConfigurationID]
		if !ok {
			name = "<missing " + inst.ConfigurationID + ">"
		}
		rows = append(rows, InstanceRow{
			ID:            inst.ID,
			Channel:       inst.ChannelID,
			Guild:         inst.GuildID,
			Configuration: name,
			Ref:           string(inst.ArtifactRef),
			Active:        inst.IsActive,
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(formatter.Writer, "No instances.")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tGUILD\tCONFIGURATION\tREF\tACTIVE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", r.Channel, orDash(r.Guild), r.Configuration, orDash(r.Ref), r.Active)
	}
	return tw.Flush()
}

func runInstancesProvision(opts *InstancesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if !dashboard.ValidChannelID(opts.Channel) {
		return formatter.Fail("provision failed",
			dashboard.NewValidationError("provision", opts.Channel, "malformed channel id"))
	}

	st, err := openStore(opts.RootOptions, cmd, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	cfg, err := st.FindConfigurationByName(ctx, opts.Config)
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail("provision failed",
			dashboard.NewValidationError("provision", opts.Channel, "configuration %q does not exist", opts.Config))
	}
	if err != nil {
		return formatter.Fail("provision failed", err)
	}

	inst, err := st.CreateInstance(ctx, store.InstanceInput{
		ConfigurationID: cfg.ID,
		GuildID:         opts.Guild,
		ChannelID:       opts.Channel,
		IsActive:        true,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return formatter.FailWithCode(ExitCommandError, "provision failed", err)
	}
	if err != nil {
		return formatter.Fail("provision failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(InstanceRow{
			ID:            inst.ID,
			Channel:       inst.ChannelID,
			Guild:         inst.GuildID,
			Configuration: cfg.Name,
			Active:        inst.IsActive,
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ provisioned %s (%s) as %s\n", inst.ChannelID, cfg.Name, inst.ID)
	return nil
}

func runInstancesDelete(opts *InstancesOptions, channelID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	st, err := openStore(opts.RootOptions, cmd, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	inst, err := st.GetInstanceByChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no instance for channel %s", channelID), nil)
		exitErr := NewExitError(ExitCommandError, "instance not found")
		exitErr.Reported = true
		return exitErr
	}
	if err != nil {
		return formatter.Fail("delete instance failed", err)
	}
	if _, err := st.DeleteInstance(ctx, inst.ID); err != nil {
		return formatter.Fail("delete instance failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"deleted": inst.ID, "channel": channelID})
	}
	fmt.Fprintf(formatter.Writer, "✓ deleted instance %s for channel %s\n", inst.ID, channelID)
	return nil
}

// NewGuildCommand creates the guild command group.
func NewGuildCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guild",
		Short: "Guild-wide maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "remove <guild-id>",
		Short:         "Delete every instance of a guild the bot has left",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuildRemove(rootOpts, args[0], cmd)
		},
	})
	return cmd
}

func runGuildRemove(opts *RootOptions, guildID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	st, err := openStore(opts, cmd, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.DeleteGuild(cmd.Context(), guildID)
	if err != nil {
		return formatter.Fail("remove guild failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"guild": guildID, "deleted": n})
	}
	fmt.Fprintf(formatter.Writer, "✓ removed %d instance(s) of guild %s\n", n, guildID)
	return nil
}
