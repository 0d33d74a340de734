package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:              "http://127.0.0.1:8000",
			HealthPath:       "/health",
			RequestTimeoutMS: 30000,
		},
		Poll: PollConfig{
			IntervalMS:  1500,
			MaxAttempts: 120,
			TimeoutMS:   180000,
		},
		Audio: AudioConfig{
			Input:         "default",
			Fallback:      "default",
			SampleRate:    16000,
			MaxDurationMS: 60000,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "terminal",
			DesktopAppName: "nimbus",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
		Clipboard: ClipboardConfig{Argv: []string{"wl-copy"}},
		Log:       LogConfig{Level: "info"},
		Debug:     DebugConfig{},
	}
}
