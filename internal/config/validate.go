package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	rawURL := strings.TrimSpace(cfg.Backend.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("backend.url must not be empty")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("backend.url is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("backend.url must use http or https")
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("backend.url must include a host")
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Backend.HealthPath), "/") {
		return nil, fmt.Errorf("backend.health_path must start with '/'")
	}
	if cfg.Backend.RequestTimeoutMS <= 0 {
		return nil, fmt.Errorf("backend.request_timeout_ms must be > 0")
	}

	if cfg.Poll.IntervalMS <= 0 {
		return nil, fmt.Errorf("poll.interval_ms must be > 0")
	}
	if cfg.Poll.MaxAttempts < 0 {
		return nil, fmt.Errorf("poll.max_attempts must be >= 0")
	}
	if cfg.Poll.TimeoutMS < 0 {
		return nil, fmt.Errorf("poll.timeout_ms must be >= 0")
	}
	if cfg.Poll.MaxAttempts == 0 && cfg.Poll.TimeoutMS == 0 {
		warnings = append(warnings, Warning{Message: "poll.max_attempts and poll.timeout_ms are both 0; a stuck job is polled until interrupted"})
	}
	if cfg.Poll.TimeoutMS > 0 && cfg.Poll.TimeoutMS < cfg.Poll.IntervalMS {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("poll.timeout_ms=%d is shorter than poll.interval_ms=%d; only one status fetch will run", cfg.Poll.TimeoutMS, cfg.Poll.IntervalMS)})
	}

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		return nil, fmt.Errorf("audio.sample_rate must be between 8000 and 48000")
	}
	if cfg.Audio.MaxDurationMS < 0 {
		return nil, fmt.Errorf("audio.max_duration_ms must be >= 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "terminal" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: terminal, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if _, ok := validLogLevels[strings.ToLower(strings.TrimSpace(cfg.Log.Level))]; !ok {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}
