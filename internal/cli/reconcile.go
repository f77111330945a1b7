package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fr4iser90/dashsync/internal/reconcile"
)

// ReconcileOutput is the JSON form of a reconcile.BatchReport.
type ReconcileOutput struct {
	Total            int             `json:"total"`
	Succeeded        int             `json:"succeeded"`
	Failed           int             `json:"failed"`
	Invalid          int             `json:"invalid"`
	Unchanged        int             `json:"unchanged"`
	Drifted          int             `json:"drifted"`
	NullRefs         int             `json:"null_refs"`
	Corrected        int             `json:"corrected"`
	Superseded       int             `json:"superseded"`
	CorrectionFailed int             `json:"correction_failed"`
	CorrectionError  string          `json:"correction_error,omitempty"`
	DurationMS       int64           `json:"duration_ms"`
	Items            []ReconcileItem `json:"items"`
}

// ReconcileItem is one instance of a reconcile pass.
type ReconcileItem struct {
	Channel    string `json:"channel"`
	Instance   string `json:"instance"`
	Outcome    string `json:"outcome"`
	OldRef     string `json:"old_ref,omitempty"`
	NewRef     string `json:"new_ref,omitempty"`
	Persisted  bool   `json:"persisted,omitempty"`
	Superseded bool   `json:"superseded,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reconcile",
		Aliases: []string{"refresh-all"},
		Short:   "Converge every active instance once",
		Long: `Render every active instance and persist the artifact refs that changed.

Instances are rendered through a bounded worker pool; one slow or failing
channel does not hold back the others. Refs are written in a second phase
after all renders finish.

Exit codes:
  0 - every instance converged and every correction was persisted
  1 - at least one instance failed, was invalid or could not be persisted
  2 - command error (unreadable config, database not found, etc.)

Examples:
  dashsync reconcile
  dashsync reconcile --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, cmd)
		},
	}
	return cmd
}

func runReconcile(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(opts, cmd, formatter, false)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.orch.ReconcileAll(cmd.Context())
	if err != nil {
		return formatter.Fail("reconcile failed", err)
	}
	return outputReconcile(formatter, report)
}

// outputReconcile prints report and returns an ExitFailure error when any
// instance did not fully converge.
func outputReconcile(formatter *OutputFormatter, report reconcile.BatchReport) error {
	out := toReconcileOutput(report)

	if formatter.Format == "json" {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		ok := report.Failed == 0 && report.Invalid == 0 && report.CorrectionFailed == 0
		fmt.Fprintf(w, "%s reconciled %d instance(s): %d succeeded, %d failed, %d invalid\n",
			mark(ok), report.Total, report.Succeeded, report.Failed, report.Invalid)
		fmt.Fprintf(w, "  %d unchanged, %d drifted, %d null ref(s); %d corrected, %d superseded, %d correction(s) failed\n",
			report.Unchanged, report.Drifted, report.NullRefs, report.Corrected, report.Superseded, report.CorrectionFailed)
		for _, item := range out.Items {
			failed := item.Error != ""
			if !failed && !formatter.Verbose {
				continue
			}
			line := fmt.Sprintf("  %s %s %s", mark(!failed), item.Channel, item.Outcome)
			if item.NewRef != "" {
				line += " " + item.NewRef
			}
			if failed {
				line += ": " + item.Error
			}
			fmt.Fprintln(w, line)
		}
		if out.CorrectionError != "" {
			fmt.Fprintf(w, "  persisting corrections: %s\n", out.CorrectionError)
		}
	}

	var problems []string
	if report.Failed > 0 {
		problems = append(problems, fmt.Sprintf("%d failed", report.Failed))
	}
	if report.Invalid > 0 {
		problems = append(problems, fmt.Sprintf("%d invalid", report.Invalid))
	}
	if report.CorrectionFailed > 0 {
		problems = append(problems, fmt.Sprintf("%d correction(s) not persisted", report.CorrectionFailed))
	}
	if len(problems) > 0 {
		exitErr := NewExitError(ExitFailure, "reconcile incomplete: "+strings.Join(problems, ", "))
		exitErr.Reported = true
		return exitErr
	}
	return nil
}

func toReconcileOutput(report reconcile.BatchReport) ReconcileOutput {
	out := ReconcileOutput{
		Total:            report.Total,
		Succeeded:        report.Succeeded,
		Failed:           report.Failed,
		Invalid:          report.Invalid,
		Unchanged:        report.Unchanged,
		Drifted:          report.Drifted,
		NullRefs:         report.NullRefs,
		Corrected:        report.Corrected,
		Superseded:       report.Superseded,
		CorrectionFailed: report.CorrectionFailed,
		DurationMS:       report.Duration.Milliseconds(),
		Items:            make([]ReconcileItem, 0, len(report.Items)),
	}
	if report.CorrectionErr != nil {
		out.CorrectionError = report.CorrectionErr.Error()
	}
	for _, it := range report.Items {
		item := ReconcileItem{
			Channel:    it.ChannelID,
			Instance:   it.InstanceID,
			Outcome:    string(it.Outcome),
			OldRef:     string(it.OldRef),
			NewRef:     string(it.NewRef),
			Persisted:  it.Persisted,
			Superseded: it.Superseded,
		}
		if it.Err != nil {
			item.Error = it.Err.Error()
		}
		out.Items = append(out.Items, item)
	}
	return out
}
