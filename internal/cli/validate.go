package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/fr4iser90/dashsync/internal/template"
)

// TemplateIssue is one problem found in a templates directory.
type TemplateIssue struct {
	Code    string `json:"code"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Templates []TemplateSummary `json:"templates,omitempty"`
	Errors    []TemplateIssue   `json:"errors,omitempty"`
}

// TemplateSummary describes one valid template.
type TemplateSummary struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Bindings int    `json:"bindings"`
	Source   string `json:"source"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <templates-dir>",
		Short: "Validate templates without touching the database",
		Long: `Validate CUE and YAML dashboard templates.

Checks that every template has a name and kind, that structures build and
that every binding names a well-formed channel. Nothing is stored or
rendered.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	res, errs := template.Load(dir)
	if len(errs) > 0 {
		return outputTemplateErrors(formatter, errs)
	}

	formatter.VerboseLog("Found %d template file(s) and %d schema(s) in %s", res.FileCount, res.Schemas, dir)

	if formatter.Format == "json" {
		result := ValidationResult{Valid: true}
		for _, t := range res.Templates {
			result.Templates = append(result.Templates, TemplateSummary{
				Name:     t.Name,
				Kind:     string(t.Kind),
				Bindings: len(t.Bindings),
				Source:   filepath.Base(t.Source),
			})
		}
		return formatter.Success(result)
	}

	for _, t := range res.Templates {
		formatter.VerboseLog("  %s (%s) %d binding(s) from %s", t.Name, t.Kind, len(t.Bindings), filepath.Base(t.Source))
	}
	fmt.Fprintf(formatter.Writer, "✓ All %d template(s) valid\n", len(res.Templates))
	return nil
}

// outputTemplateErrors reports template load errors. A directory that is
// missing or empty is a command error; broken templates are a validation
// failure.
func outputTemplateErrors(formatter *OutputFormatter, errs []error) error {
	issues := make([]TemplateIssue, 0, len(errs))
	exitCode := ExitFailure
	for _, err := range errs {
		issue := TemplateIssue{Code: ErrCodeGeneric, Message: err.Error()}
		var loadErr *template.LoadError
		if errors.As(err, &loadErr) {
			issue = TemplateIssue{
				Code:    loadErr.Code,
				File:    loadErr.File,
				Line:    getLineFromCuePos(loadErr.Pos),
				Message: loadErr.Message,
			}
			if loadErr.Pos.IsValid() && issue.File == "" {
				issue.File = loadErr.Pos.Filename()
			}
			if loadErr.Code == template.ErrCodeNotFound || loadErr.Code == template.ErrCodeNoFiles {
				exitCode = ExitCommandError
			}
		}
		issues = append(issues, issue)
	}

	if formatter.Format == "json" {
		_ = formatter.Error(issues[0].Code, issues[0].Message, ValidationResult{Valid: false, Errors: issues})
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		for _, issue := range issues {
			if issue.File != "" {
				if issue.Line > 0 {
					fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
				} else {
					fmt.Fprintln(formatter.Writer, issue.File)
				}
			}
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}

	exitErr := NewExitError(exitCode, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	exitErr.Reported = true
	return exitErr
}

// getLineFromCuePos extracts line number from a token.Pos.
func getLineFromCuePos(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}
