package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envBackendURL     = "NIMBUS_BACKEND_URL"
	envLogLevel       = "NIMBUS_LOG_LEVEL"
	envPollIntervalMS = "NIMBUS_POLL_INTERVAL_MS"
)

// LookupFunc resolves one environment key.
type LookupFunc func(string) (string, bool)

// EnvLookup layers the process environment over an optional dotenv file.
// A missing dotenv file is not an error.
func EnvLookup(dotenvPath string) (LookupFunc, error) {
	fileValues := map[string]string{}
	if strings.TrimSpace(dotenvPath) != "" {
		values, err := godotenv.Read(dotenvPath)
		switch {
		case err == nil:
			fileValues = values
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read env file %q: %w", dotenvPath, err)
		}
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileValues[key]
		return v, ok
	}, nil
}

// ApplyEnv overlays NIMBUS_* variables onto cfg and revalidates it.
func ApplyEnv(cfg Config, lookup LookupFunc) (Config, []Warning, error) {
	if lookup == nil {
		return cfg, nil, nil
	}

	if v, ok := lookup(envBackendURL); ok && strings.TrimSpace(v) != "" {
		cfg.Backend.URL = strings.TrimSpace(v)
	}
	if v, ok := lookup(envLogLevel); ok && strings.TrimSpace(v) != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(envPollIntervalMS); ok && strings.TrimSpace(v) != "" {
		ms, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Config{}, nil, fmt.Errorf("%s must be an integer: %w", envPollIntervalMS, err)
		}
		cfg.Poll.IntervalMS = ms
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, fmt.Errorf("environment override: %w", err)
	}
	return cfg, warnings, nil
}
