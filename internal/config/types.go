// Package config resolves, parses, validates, and defaults nimbus configuration.
package config

// Config is the fully materialized runtime configuration used by nimbus.
type Config struct {
	Backend   BackendConfig
	Poll      PollConfig
	Audio     AudioConfig
	Indicator IndicatorConfig
	Clipboard ClipboardConfig
	Log       LogConfig
	Debug     DebugConfig
}

// BackendConfig locates the weather assistant HTTP API.
type BackendConfig struct {
	URL              string
	HealthPath       string
	RequestTimeoutMS int
}

// PollConfig bounds job status polling after a voice submission.
type PollConfig struct {
	IntervalMS  int
	MaxAttempts int
	TimeoutMS   int
}

// AudioConfig controls input-source selection and recording limits.
type AudioConfig struct {
	Input         string
	Fallback      string
	SampleRate    int
	MaxDurationMS int
}

// IndicatorConfig controls status projection, notifications, and audio cues.
type IndicatorConfig struct {
	Enable            bool
	Backend           string
	DesktopAppName    string
	SoundEnable       bool
	SoundStartFile    string
	SoundStopFile     string
	SoundCompleteFile string
	SoundCancelFile   string
	ErrorTimeoutMS    int
}

// ClipboardConfig is the command that receives copied replies on stdin.
// An empty Argv disables copying.
type ClipboardConfig struct {
	Argv []string
}

// LogConfig controls the runtime log level.
type LogConfig struct {
	Level string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
