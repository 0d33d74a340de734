package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration,
// then applies NIMBUS_* environment overrides.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	lookup, err := EnvLookup(EnvFilePath(resolvedPath))
	if err != nil {
		return Loaded{}, err
	}

	loaded, err := loadFile(resolvedPath)
	if err != nil {
		return Loaded{}, err
	}

	cfg, envWarnings, err := ApplyEnv(loaded.Config, lookup)
	if err != nil {
		return Loaded{}, err
	}
	loaded.Config = cfg
	loaded.Warnings = mergeWarnings(loaded.Warnings, envWarnings)
	return loaded, nil
}

func loadFile(resolvedPath string) (Loaded, error) {
	base := Default()
	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Loaded{
				Path:   resolvedPath,
				Config: base,
				Warnings: []Warning{{
					Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
				}},
				Exists: false,
			}, nil
		}
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	}

	cfg, warnings, err := Parse(string(content), base)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   true,
	}, nil
}

// mergeWarnings appends extra warnings whose message is not already present.
func mergeWarnings(base, extra []Warning) []Warning {
	seen := make(map[string]struct{}, len(base))
	for _, w := range base {
		seen[w.Message] = struct{}{}
	}
	for _, w := range extra {
		if _, ok := seen[w.Message]; ok {
			continue
		}
		seen[w.Message] = struct{}{}
		base = append(base, w)
	}
	return base
}
