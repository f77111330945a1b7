package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/registry"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(ChannelOutput{Channel: "1001", Ref: "1001/5001"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"channel": "1001", "ref": "1001/5001"}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("RENDER", "activate failed", map[string]string{"channel": "1001"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "RENDER", resp.Error.Code)
	assert.Equal(t, "activate failed", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Success("All templates valid"))
	assert.Equal(t, "All templates valid\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	require.NoError(t, formatter.Error("VALIDATION", "malformed channel id", map[string]string{"channel": "general"}))
	assert.Contains(t, buf.String(), "Error [VALIDATION]: malformed channel id")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	require.NoError(t, formatter.Error("VALIDATION", "malformed channel id", map[string]string{"channel": "general"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Found %d template file(s)", 2)

			assert.Empty(t, out.String(), "verbose output must not corrupt JSON")
			if tt.wantLog {
				assert.Equal(t, "Found 2 template file(s)\n", errOut.String())
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"validation", dashboard.NewValidationError("sync", "general", "malformed channel id"), "VALIDATION", ExitCommandError},
		{"render", dashboard.NewRenderError("activate", "1001", errors.New("boom")), "RENDER", ExitFailure},
		{"persistence", dashboard.NewPersistenceError("sync", "row-1", errors.New("locked")), "PERSISTENCE", ExitFailure},
		{"no controller", fmt.Errorf("refresh 1001: %w", registry.ErrNoController), ErrCodeNoController, ExitFailure},
		{"plain", errors.New("disk full"), ErrCodeGeneric, ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf}

			err := formatter.Fail("operation failed", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.True(t, IsReported(err))
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, buf.String(), "Error ["+tt.wantCode+"]: operation failed")
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "bad"))))
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "bad input", NewExitError(ExitCommandError, "bad input").Error())
	assert.Equal(t, "open: no such file", WrapExitError(ExitCommandError, "open", errors.New("no such file")).Error())
	assert.False(t, IsReported(NewExitError(ExitFailure, "x")))
}
