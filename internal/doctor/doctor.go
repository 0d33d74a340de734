// Package doctor runs runtime readiness diagnostics for config, backend, audio, and notifications.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/nimbus/internal/audio"
	"github.com/rbright/nimbus/internal/backend"
	"github.com/rbright/nimbus/internal/config"
	"github.com/rbright/nimbus/internal/indicator"
)

const healthTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir available for the session socket", "XDG_RUNTIME_DIR is empty; remote control is unavailable"))

	checks = append(checks, checkBackendHealth(ctx, cfg.Config))
	checks = append(checks, checkAudioSelection(ctx, cfg.Config))

	if cfg.Config.Indicator.Enable && strings.EqualFold(cfg.Config.Indicator.Backend, "desktop") {
		checks = append(checks, checkBinary("busctl", "desktop notifications require busctl"))
	}
	checks = append(checks, checkCueFiles(cfg.Config.Indicator)...)

	if len(cfg.Config.Clipboard.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Config.Clipboard.Argv, "clipboard.cmd"))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkBackendHealth probes the configured backend readiness endpoint.
func checkBackendHealth(ctx context.Context, cfg config.Config) Check {
	client, err := backend.NewClient(backend.Options{
		BaseURL:        cfg.Backend.URL,
		HealthPath:     cfg.Backend.HealthPath,
		RequestTimeout: healthTimeout,
	})
	if err != nil {
		return Check{Name: "backend.health", Pass: false, Message: err.Error()}
	}

	target := client.Endpoint() + cfg.Backend.HealthPath
	if err := client.Health(ctx); err != nil {
		return Check{Name: "backend.health", Pass: false, Message: fmt.Sprintf("%s: %v", target, err)}
	}
	return Check{Name: "backend.health", Pass: true, Message: fmt.Sprintf("ready at %s", target)}
}

// checkCueFiles reports configured cue files that cannot be decoded.
func checkCueFiles(cfg config.IndicatorConfig) []Check {
	if !cfg.SoundEnable {
		return nil
	}
	files := []struct {
		name string
		path string
	}{
		{"indicator.sound_start_file", cfg.SoundStartFile},
		{"indicator.sound_stop_file", cfg.SoundStopFile},
		{"indicator.sound_complete_file", cfg.SoundCompleteFile},
		{"indicator.sound_cancel_file", cfg.SoundCancelFile},
	}

	var checks []Check
	for _, file := range files {
		if strings.TrimSpace(file.path) == "" {
			continue
		}
		if err := indicator.CheckCueFile(file.path); err != nil {
			checks = append(checks, Check{Name: file.name, Pass: false, Message: err.Error()})
			continue
		}
		checks = append(checks, Check{Name: file.name, Pass: true, Message: fmt.Sprintf("playable %s", strings.TrimSpace(file.path))})
	}
	return checks
}
