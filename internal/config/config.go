// Package config loads the rtmp-server YAML configuration file. It mirrors
// the CLI flags exposed by cmd/rtmp-server so an operator can choose either
// surface; flag values always take precedence over the file when both are
// supplied (see cmd/rtmp-server's merge step).
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a rtmp-server config file.
type File struct {
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	ChunkSize uint            `yaml:"chunk_size"`
	Recording RecordingConfig `yaml:"recording"`
	Relay     RelayConfig     `yaml:"relay"`
	Hooks     HooksConfig     `yaml:"hooks"`
	Status    StatusConfig    `yaml:"status"`
}

// RecordingConfig controls FLV recording of published streams.
type RecordingConfig struct {
	All bool   `yaml:"all"`
	Dir string `yaml:"dir"`
}

// RelayConfig lists push destinations that mirror every published stream.
type RelayConfig struct {
	Destinations []string `yaml:"destinations"`
}

// HooksConfig configures the event hook dispatch subsystem.
type HooksConfig struct {
	Scripts     []string `yaml:"scripts"`      // "event_type=script_path" pairs
	Webhooks    []string `yaml:"webhooks"`     // "event_type=webhook_url" pairs
	StdioFormat string   `yaml:"stdio_format"` // "json", "env", or "" (disabled)
	Timeout     string   `yaml:"timeout"`
	Concurrency int      `yaml:"concurrency"`
}

// StatusConfig controls the HTTP health/metrics endpoint.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads and parses a YAML config file at path. A missing file is not an
// error: it returns a zero-value File so the caller falls back entirely to
// flag defaults.
func Load(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, errors.Wrapf(err, "reading config file %q", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %q", path)
	}
	if err := f.validate(); err != nil {
		return nil, errors.Wrapf(err, "validating config file %q", path)
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.LogLevel != "" {
		switch strings.ToLower(f.LogLevel) {
		case "debug", "info", "warn", "error":
		default:
			return errors.Errorf("log_level must be debug|info|warn|error, got %q", f.LogLevel)
		}
	}
	if f.ChunkSize != 0 && f.ChunkSize > 65536 {
		return errors.Errorf("chunk_size must be between 1 and 65536, got %d", f.ChunkSize)
	}
	if f.Hooks.StdioFormat != "" && f.Hooks.StdioFormat != "json" && f.Hooks.StdioFormat != "env" {
		return errors.Errorf("hooks.stdio_format must be json|env, got %q", f.Hooks.StdioFormat)
	}
	return nil
}
