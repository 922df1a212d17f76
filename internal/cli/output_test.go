package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := WrapExitError(ExitCommandError, "context", inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "context: boom", err.Error())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestOutputFormatter_SuccessJSON(t *testing.T) {
	out := new(bytes.Buffer)
	f := &OutputFormatter{Format: "json", Writer: out}
	require.NoError(t, f.Success(map[string]int{"iterations": 10}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_ErrorText(t *testing.T) {
	out := new(bytes.Buffer)
	f := &OutputFormatter{Format: "text", Writer: out}
	require.NoError(t, f.Error("E001", "something failed", nil))
	assert.Contains(t, out.String(), "Error [E001]: something failed")
}

func TestOutputFormatter_VerboseLogRouting(t *testing.T) {
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

	f.VerboseLog("checked %d rows", 5)
	assert.Empty(t, out.String(), "diagnostics must not corrupt JSON output")
	assert.Contains(t, errOut.String(), "checked 5 rows")

	f.Verbose = false
	errOut.Reset()
	f.VerboseLog("hidden")
	assert.Empty(t, errOut.String())
}
