package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// MessageRow is one message on the file surface.
type MessageRow struct {
	Ref     string `json:"ref"`
	Channel string `json:"channel"`
	Edits   int    `json:"edits"`
	Content string `json:"content"`
}

// NewSurfaceCommand creates the surface command group. It inspects and
// edits the file renderer's messages.
func NewSurfaceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "surface",
		Short: "Inspect the file chat surface",
		Long: `Inspect and edit the messages of the file renderer
(renderer.kind: file). Deleting a message simulates a moderator removing
it; the next reconcile reposts it and records the new ref.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "list [channel]",
		Short:         "List posted messages",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := ""
			if len(args) == 1 {
				channel = args[0]
			}
			return runSurfaceList(rootOpts, channel, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "delete <ref>",
		Short:         "Delete a posted message out of band",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSurfaceDelete(rootOpts, args[0], cmd)
		},
	})
	return cmd
}

func runSurfaceList(opts *RootOptions, channelID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(opts, cmd, formatter, false)
	if err != nil {
		return err
	}
	defer a.close()

	fs, err := a.surface()
	if err != nil {
		return formatter.FailWithCode(ExitCommandError, "surface unavailable", err)
	}

	msgs := fs.Messages(channelID)
	rows := make([]MessageRow, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, MessageRow{Ref: string(m.Ref()), Channel: m.ChannelID, Edits: m.Edits, Content: m.Content})
	}

	if formatter.Format == "json" {
		return formatter.Success(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(formatter.Writer, "No messages.")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tEDITS\tCONTENT")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Ref, r.Edits, r.Content)
	}
	return tw.Flush()
}

func runSurfaceDelete(opts *RootOptions, ref string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(opts, cmd, formatter, false)
	if err != nil {
		return err
	}
	defer a.close()

	fs, err := a.surface()
	if err != nil {
		return formatter.FailWithCode(ExitCommandError, "surface unavailable", err)
	}

	deleted, err := fs.Delete(dashboard.ArtifactRef(ref))
	if err != nil {
		return formatter.Fail("delete message failed", err)
	}
	if !deleted {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no message %s", ref), nil)
		exitErr := NewExitError(ExitCommandError, "message not found")
		exitErr.Reported = true
		return exitErr
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"deleted": ref})
	}
	fmt.Fprintf(formatter.Writer, "✓ deleted message %s\n", ref)
	return nil
}
