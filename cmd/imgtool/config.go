package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	img "github.com/meigma/img/core"
)

// Purge policies for source files after a successful save.
const (
	purgeAsk    = "ask"
	purgeAlways = "always"
	purgeNever  = "never"
)

var errBadConfig = errors.New("invalid config")

// Config is the imgtool configuration file.
type Config struct {
	AssumeYes  bool   `yaml:"assume_yes"`
	LogLevel   string `yaml:"log_level"`
	Allocation string `yaml:"allocation"` // "contiguous" | "legacy"
	Staging    string `yaml:"staging"`    // "memory" | "file"
	ScratchDir string `yaml:"scratch_dir,omitempty"`
	Workers    int    `yaml:"workers"`
	Overwrite  bool   `yaml:"overwrite"`
	Purge      string `yaml:"purge_sources"` // "ask" | "always" | "never"
	Sync       *bool  `yaml:"sync,omitempty"`

	// DeclaredSize is the size stored for files over 65535 bytes.
	DeclaredSize string `yaml:"declared_size"` // "saturate" | "lowbits"
}

// defaultConfig returns the configuration used when no file is given.
func defaultConfig() Config {
	return Config{
		LogLevel:   "warn",
		Allocation: img.AllocateContiguous.String(),
		Staging:    img.StageMemory.String(),
		Workers:    1,
		Purge:      purgeAsk,

		DeclaredSize: img.DeclareSaturate.String(),
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return cfg, fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.level(); err != nil {
		return err
	}
	if _, err := c.allocation(); err != nil {
		return err
	}
	if _, err := c.staging(); err != nil {
		return err
	}
	if _, err := c.declaredSize(); err != nil {
		return err
	}
	switch strings.ToLower(c.Purge) {
	case purgeAsk, purgeAlways, purgeNever:
	default:
		return fmt.Errorf("%w: purge_sources %q", errBadConfig, c.Purge)
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", errBadConfig, c.LogLevel)
	}
	return lvl, nil
}

func (c *Config) allocation() (img.AllocationPolicy, error) {
	switch strings.ToLower(c.Allocation) {
	case "", img.AllocateContiguous.String():
		return img.AllocateContiguous, nil
	case img.AllocateLegacy.String():
		return img.AllocateLegacy, nil
	default:
		return 0, fmt.Errorf("%w: allocation %q", errBadConfig, c.Allocation)
	}
}

func (c *Config) staging() (img.StagingMode, error) {
	switch strings.ToLower(c.Staging) {
	case "", img.StageMemory.String():
		return img.StageMemory, nil
	case img.StageTempFile.String():
		return img.StageTempFile, nil
	default:
		return 0, fmt.Errorf("%w: staging %q", errBadConfig, c.Staging)
	}
}

func (c *Config) declaredSize() (img.DeclaredSizePolicy, error) {
	switch strings.ToLower(c.DeclaredSize) {
	case "", img.DeclareSaturate.String():
		return img.DeclareSaturate, nil
	case img.DeclareLowBits.String():
		return img.DeclareLowBits, nil
	default:
		return 0, fmt.Errorf("%w: declared_size %q", errBadConfig, c.DeclaredSize)
	}
}

// archiveOptions translates the config into archive options.
func (c *Config) archiveOptions(logger *slog.Logger) ([]img.Option, error) {
	alloc, err := c.allocation()
	if err != nil {
		return nil, err
	}
	mode, err := c.staging()
	if err != nil {
		return nil, err
	}
	declared, err := c.declaredSize()
	if err != nil {
		return nil, err
	}
	opts := []img.Option{
		img.WithLogger(logger),
		img.WithAllocation(alloc),
		img.WithStaging(mode),
		img.WithDeclaredSize(declared),
	}
	if c.ScratchDir != "" {
		opts = append(opts, img.WithScratchDir(c.ScratchDir))
	}
	if c.Sync != nil {
		opts = append(opts, img.WithSync(*c.Sync))
	}
	return opts, nil
}
