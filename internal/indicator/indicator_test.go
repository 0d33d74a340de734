package indicator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rbright/nimbus/internal/config"
	"github.com/stretchr/testify/require"
)

func TestTerminalBackendWritesStatusLines(t *testing.T) {
	cfg := config.Default().Indicator
	cfg.SoundEnable = false
	cfg.Backend = "terminal"

	var out bytes.Buffer
	notify := New(cfg, &out, nil)
	notify.ShowRecording(context.Background())
	notify.ShowProcessing(context.Background())
	notify.ShowDone(context.Background(), "Bring an umbrella.")
	notify.ShowError(context.Background(), "backend offline")
	notify.Hide(context.Background())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, []string{
		"[nimbus] Listening…",
		"[nimbus] Checking the forecast…",
		"[nimbus] Answer ready: Bring an umbrella.",
		"[nimbus] Weather assistant error: backend offline",
	}, lines)
}

func TestTerminalBackendWithoutWriterIsSilent(t *testing.T) {
	cfg := config.Default().Indicator
	cfg.SoundEnable = false

	notify := New(cfg, nil, nil)
	notify.ShowRecording(context.Background())
	notify.ShowError(context.Background(), "")
}

func TestDisabledIndicatorWritesNothing(t *testing.T) {
	cfg := config.Default().Indicator
	cfg.Enable = false
	cfg.SoundEnable = false

	var out bytes.Buffer
	notify := New(cfg, &out, nil)
	notify.ShowRecording(context.Background())
	notify.ShowDone(context.Background(), "ignored")
	require.Empty(t, out.String())
}

func TestDesktopBackendDispatchesAndReplacesNotification(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installBusctlStub(t, `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
if [[ "$*" == *" Notify "* ]]; then
  echo 'u 42'
fi
`)

	cfg := config.Default().Indicator
	cfg.SoundEnable = false
	cfg.Backend = "desktop"
	cfg.DesktopAppName = "nimbus-test"
	cfg.ErrorTimeoutMS = 0

	notify := New(cfg, nil, nil)
	notify.ShowRecording(context.Background())
	notify.ShowError(context.Background(), "custom error")
	notify.Hide(context.Background())

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "Notify susssasa{sv}i nimbus-test 0 audio-input-microphone Weather assistant Listening… 0 1 urgency y 1 300000")
	require.Contains(t, lines[1], "Notify susssasa{sv}i nimbus-test 42 weather-severe-alert Weather assistant error custom error 0 1 urgency y 2 1200")
	require.Contains(t, lines[2], "CloseNotification u 42")
}

func TestDesktopHideWithoutNotificationIsNoop(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installBusctlStub(t, `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
`)

	cfg := config.Default().Indicator
	cfg.SoundEnable = false
	cfg.Backend = "desktop"

	New(cfg, nil, nil).Hide(context.Background())

	_, err := os.Stat(argsFile)
	require.True(t, os.IsNotExist(err))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("  short ", 10))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
	require.Equal(t, "☔☔…", truncate("☔☔☔☔", 3))
}

func installBusctlStub(t *testing.T, body string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "busctl")
	script := "#!/usr/bin/env bash\nset -euo pipefail\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}
