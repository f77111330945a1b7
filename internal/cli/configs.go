package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fr4iser90/dashsync/internal/store"
	"github.com/fr4iser90/dashsync/internal/template"
)

// ConfigurationRow is one stored configuration in list output.
type ConfigurationRow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

// NewConfigsCommand creates the configs command group.
func NewConfigsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configs",
		Short: "Manage stored dashboard configurations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List configurations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigsList(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <templates-dir>",
		Short: "Store templates as configurations without rendering",
		Long: `Store every template in a directory as a configuration. Existing
configurations keep their id; their description and structure are
replaced. Changing the kind of an existing configuration is refused.
Bindings are ignored; use sync to provision channels.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigsImport(rootOpts, args[0], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "delete <name>",
		Short:         "Delete a configuration no instance uses",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigsDelete(rootOpts, args[0], cmd)
		},
	})
	return cmd
}

func runConfigsList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	st, err := openStore(opts, cmd, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	configs, err := st.ListConfigurations(cmd.Context())
	if err != nil {
		return formatter.Fail("list configurations failed", err)
	}

	rows := make([]ConfigurationRow, 0, len(configs))
	for _, c := range configs {
		rows = append(rows, ConfigurationRow{
			ID:          c.ID,
			Name:        c.Name,
			Kind:        string(c.Kind),
			Description: c.Description,
			UpdatedAt:   c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(formatter.Writer, "No configurations.")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tID\tUPDATED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Kind, r.ID, r.UpdatedAt)
	}
	return tw.Flush()
}

func runConfigsImport(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	res, errs := template.Load(dir)
	if len(errs) > 0 {
		return outputTemplateErrors(formatter, errs)
	}

	st, err := openStore(opts, cmd, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	imported, err := importTemplates(cmd.Context(), st, res.Templates)
	if err != nil {
		return formatter.Fail("import failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(imported)
	}
	for _, c := range imported {
		action := "updated"
		if c.Created {
			action = "created"
		}
		fmt.Fprintf(formatter.Writer, "✓ %s (%s) %s\n", c.Name, c.Kind, action)
	}
	return nil
}

func runConfigsDelete(opts *RootOptions, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	st, err := openStore(opts, cmd, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	cfg, err := st.FindConfigurationByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("configuration %q does not exist", name), nil)
		exitErr := NewExitError(ExitCommandError, "configuration not found")
		exitErr.Reported = true
		return exitErr
	}
	if err != nil {
		return formatter.Fail("delete configuration failed", err)
	}

	if err := st.DeleteConfiguration(ctx, cfg.ID); err != nil {
		if errors.Is(err, store.ErrInUse) {
			return formatter.FailWithCode(ExitCommandError, "configuration is still bound to instances", err)
		}
		return formatter.Fail("delete configuration failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"deleted": cfg.Name, "id": cfg.ID})
	}
	fmt.Fprintf(formatter.Writer, "✓ deleted configuration %s\n", cfg.Name)
	return nil
}
