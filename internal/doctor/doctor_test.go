package doctor

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rbright/nimbus/internal/backend/backendtest"
	"github.com/rbright/nimbus/internal/config"
	"github.com/stretchr/testify/require"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "/run/user/1000")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return strings.TrimSpace(v) != "" },
		"looks good",
		"unexpected",
	)
	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)

	t.Setenv("TEST_DOCTOR_ENV", "")
	check = checkEnv("TEST_DOCTOR_ENV", func(v string) bool { return v != "" }, "ok", "missing")
	require.False(t, check.Pass)
	require.Equal(t, "missing", check.Message)
}

func TestCheckBinaryFound(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")
}

func TestCheckBinaryMissing(t *testing.T) {
	check := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckCommandEmpty(t *testing.T) {
	check := checkCommand(nil, "clipboard.cmd")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "command is empty")
}

func TestCheckCommandUsesBinaryFromPath(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fake-copy")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/usr/bin/env bash\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	check := checkCommand([]string{"fake-copy", "--primary"}, "clipboard.cmd")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "clipboard.cmd command is available")
}

func TestCheckBackendHealthSuccess(t *testing.T) {
	srv := backendtest.New(t)

	cfg := config.Default()
	cfg.Backend.URL = srv.URL()

	check := checkBackendHealth(context.Background(), cfg)
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "ready at "+srv.URL()+"/health")
}

func TestCheckBackendHealthFailureStatusCode(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetHealth(backendtest.Reply{Code: http.StatusServiceUnavailable})

	cfg := config.Default()
	cfg.Backend.URL = srv.URL()

	check := checkBackendHealth(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "503")
}

func TestCheckBackendHealthEmptyURL(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.URL = ""

	check := checkBackendHealth(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Equal(t, "backend.health", check.Name)
}

func TestCheckAudioSelectionFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkAudioSelection(context.Background(), config.Default())
	require.False(t, check.Pass)
	require.Contains(t, check.Name, "audio.device")
}

func TestCheckCueFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "start.wav")
	require.NoError(t, os.WriteFile(present, monoWAV(8000, []int16{0, 1200, -1200, 0}), 0o600))
	garbled := filepath.Join(dir, "cancel.wav")
	require.NoError(t, os.WriteFile(garbled, []byte("RIFF"), 0o600))

	cfg := config.Default().Indicator
	cfg.SoundStartFile = present
	cfg.SoundStopFile = filepath.Join(dir, "missing.wav")
	cfg.SoundCancelFile = garbled

	checks := checkCueFiles(cfg)
	require.Len(t, checks, 3)
	require.True(t, checks[0].Pass)
	require.Equal(t, "indicator.sound_start_file", checks[0].Name)
	require.False(t, checks[1].Pass)
	require.False(t, checks[2].Pass)
	require.Contains(t, checks[2].Message, "RIFF/WAVE")

	cfg.SoundEnable = false
	require.Empty(t, checkCueFiles(cfg))
}

func TestRunChecksBusctlOnlyForDesktopBackend(t *testing.T) {
	binDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "busctl"), []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	t.Setenv("PATH", binDir+":"+os.Getenv("PATH"))
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	srv := backendtest.New(t)
	cfg := config.Default()
	cfg.Backend.URL = srv.URL()

	names := func(report Report) map[string]bool {
		seen := map[string]bool{}
		for _, check := range report.Checks {
			seen[check.Name] = check.Pass
		}
		return seen
	}

	terminal := names(Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg}))
	require.True(t, terminal["config"])
	require.True(t, terminal["XDG_RUNTIME_DIR"])
	require.True(t, terminal["backend.health"])
	require.Contains(t, terminal, "audio.device")
	require.NotContains(t, terminal, "busctl")

	require.Contains(t, terminal, "wl-copy")

	cfg.Clipboard.Argv = nil
	cfg.Indicator.Backend = "desktop"
	desktop := names(Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg}))
	require.True(t, desktop["busctl"])
	require.NotContains(t, desktop, "wl-copy")
}

func monoWAV(rate int, samples []int16) []byte {
	var buf bytes.Buffer
	dataLen := uint32(2 * len(samples))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	for _, field := range []any{uint32(16), uint16(1), uint16(1), uint32(rate), uint32(2 * rate), uint16(2), uint16(16)} {
		_ = binary.Write(&buf, binary.LittleEndian, field)
	}
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	_ = binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}
