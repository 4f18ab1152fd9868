// Package config loads the pipeline settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mrsinham/mriprep/internal/dicom"
	"github.com/mrsinham/mriprep/internal/tensor"
	"github.com/mrsinham/mriprep/internal/volume"
)

// Config holds every tunable of an extraction run.
type Config struct {
	// OutputRoot receives one directory per patient.
	OutputRoot string `yaml:"output_root"`
	// StatsPath is the cohort ADC statistics file.
	StatsPath string `yaml:"stats_path"`
	// ManifestPath is the SQLite run ledger. Empty disables it.
	ManifestPath string `yaml:"manifest_path"`
	// NameListsPath overrides the embedded series name lists.
	NameListsPath string `yaml:"name_lists_path,omitempty"`

	TargetBValue int            `yaml:"target_b_value"`
	Tolerance    float64        `yaml:"tolerance"`
	Spacing      volume.Spacing `yaml:"spacing"`
	Layout       tensor.Layout  `yaml:"layout"`
	KeepRaw      bool           `yaml:"keep_raw"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		OutputRoot:   filepath.Join("data", "preprocessed"),
		StatsPath:    filepath.Join("data", "stats.json"),
		ManifestPath: filepath.Join("data", "manifest.db"),
		TargetBValue: dicom.DefaultTargetBValue,
		Tolerance:    volume.DefaultTolerance,
		Spacing:      volume.Spacing{Row: 0.5, Col: 0.5, Slice: 3.0},
		Layout:       tensor.DefaultLayout(),
	}
}

// LoadConfig reads a YAML file over the defaults. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating the parent directory.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the numeric settings.
func (c *Config) Validate() error {
	if c.TargetBValue <= 0 {
		return fmt.Errorf("target_b_value must be positive, got %d", c.TargetBValue)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %g", c.Tolerance)
	}
	if err := c.Spacing.Validate(); err != nil {
		return fmt.Errorf("spacing: %w", err)
	}
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	return nil
}
