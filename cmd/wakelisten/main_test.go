package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakelisten/internal/domain"
)

func TestSessionFailureError(t *testing.T) {
	err := &SessionFailureError{State: "Offline", Message: "no route"}
	assert.Equal(t, "session ended in Offline state: no route", err.Error())

	bare := &SessionFailureError{State: "Error"}
	assert.Equal(t, "session ended in Error state", bare.Error())
}

func TestSessionFailureDetection(t *testing.T) {
	tests := []struct {
		name   string
		status domain.Status
		fail   bool
	}{
		{name: "stopped", status: domain.Status{State: domain.SessionStateIdle}},
		{name: "ended in error", status: domain.Status{State: domain.SessionStateError, Label: "Error"}, fail: true},
		{name: "offline", status: domain.Status{State: domain.SessionStateOffline, Label: "Offline"}, fail: true},
		{name: "error while restarting", status: domain.Status{State: domain.SessionStateError, Active: true}},
		{name: "capturing", status: domain.Status{State: domain.SessionStateCapturingCommand, Active: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sessionFailure(tt.status)
			var sessionErr *SessionFailureError
			assert.Equal(t, tt.fail, errors.As(err, &sessionErr))
			wrapped := fmt.Errorf("listen: %w", err)
			if tt.fail {
				assert.True(t, errors.As(wrapped, &sessionErr))
			}
		})
	}
}

func writeFile(t *testing.T, dir string, name string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testCLIConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("WAKELISTEN_CONFIG", "")
	t.Setenv("WAKELISTEN_WAKE_WORD", "")
	path := writeFile(t, dir, "config.yaml", fmt.Sprintf(`
session:
  wake_word: hey nova
audio:
  permission: granted
rules:
  path: %s
  inline:
    - "lites => lights"
log:
  level: error
bridge:
  enabled: false
`, filepath.Join(dir, "none.rules")))
	return dir, path
}

const replayScript = `
steps:
  - partial: "hey"
  - final: "Hey Nova"
  - final: "turn on the lites"
  - final: "what time is it"
`

func TestReplayPrintsCommandLog(t *testing.T) {
	dir, cfgPath := testCLIConfig(t)
	script := writeFile(t, dir, "script.yaml", replayScript)

	out, err := runCLI(t, "--config", cfgPath, "replay", script)
	require.NoError(t, err)
	assert.Equal(t, "1\tturn on the lights\n2\twhat time is it\n", out)
}

func TestReplayJSONReport(t *testing.T) {
	dir, cfgPath := testCLIConfig(t)
	script := writeFile(t, dir, "script.yaml", replayScript)

	out, err := runCLI(t, "--config", cfgPath, "replay", "--json", script)
	require.NoError(t, err)

	var report replayReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, script, report.Script)
	assert.Equal(t, "hey nova", report.WakeWord)
	assert.Equal(t, domain.SessionStateCapturingCommand, report.State)
	require.Len(t, report.Commands, 2)
	assert.Equal(t, "turn on the lights", report.Commands[0].Text)
	assert.NotEmpty(t, report.Commands[0].ActivationID)
}

func TestReplayWithoutWakeWordCapturesNothing(t *testing.T) {
	dir, cfgPath := testCLIConfig(t)
	script := writeFile(t, dir, "script.yaml", "steps:\n  - final: \"turn on the lights\"\n  - final: \"open the door\"\n")

	out, err := runCLI(t, "--config", cfgPath, "replay", script)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReplayErrors(t *testing.T) {
	dir, cfgPath := testCLIConfig(t)

	_, err := runCLI(t, "--config", cfgPath, "replay", filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "open script")

	_, err = runCLI(t, "--config", cfgPath, "replay")
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "steps:\n  - final: a\n    partial: b\n")
	_, err = runCLI(t, "--config", cfgPath, "replay", bad)
	assert.ErrorContains(t, err, "exactly one")
}

func TestInfoCommand(t *testing.T) {
	_, cfgPath := testCLIConfig(t)

	out, err := runCLI(t, "--config", cfgPath, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "wakeWord: hey nova")
	assert.Contains(t, out, "permission: granted")
	assert.NotContains(t, out, "bridge:")
}

func TestLogLevelFlagIsValidated(t *testing.T) {
	dir, cfgPath := testCLIConfig(t)
	script := writeFile(t, dir, "script.yaml", replayScript)

	_, err := runCLI(t, "--config", cfgPath, "--log-level", "shouty", "replay", script)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestListenWaitNeedsBridge(t *testing.T) {
	_, cfgPath := testCLIConfig(t)

	_, err := runCLI(t, "--config", cfgPath, "listen", "--wait", "--no-bridge")
	assert.ErrorContains(t, err, "--wait needs the event bridge")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "wakelisten dev"), out)
}

func TestRootRegistersCommands(t *testing.T) {
	cmd := newRootCommand()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"listen", "replay", "info", "version"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}
