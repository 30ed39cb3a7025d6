// Package config loads and validates copeer's YAML configuration file,
// writing a commented default on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DiskStrategy selects how the disk manager picks a destination volume
// among the configured mount points.
type DiskStrategy string

const (
	StrategyFill       DiskStrategy = "fill"
	StrategyRoundRobin DiskStrategy = "round_robin"
)

// Config mirrors the on-disk YAML shape. Field names use the same keys as
// the original tool's config file so existing configs migrate without edits.
type Config struct {
	MountPoints         []string     `yaml:"mount_points"`
	SourceRoot          string       `yaml:"source_root"`
	DestinationRoot     string       `yaml:"destination_root"`
	Threshold           float64      `yaml:"threshold"`
	StateFile           string       `yaml:"state_file"`
	MappingFile         string       `yaml:"mapping_file"`
	ErrorLogFile        string       `yaml:"error_log_file"`
	DryRunMappingFile   string       `yaml:"dry_run_mapping_file"`
	Threads             int          `yaml:"threads"`
	DiskStrategy        DiskStrategy `yaml:"disk_strategy"`
	MaxConcurrentDisks  int          `yaml:"max_concurrent_disks"`
	MinFilesForSequence int          `yaml:"min_files_for_sequence"`
	ImageExtensions     []string     `yaml:"image_extensions"`
	DryRun              bool         `yaml:"dry_run"`
}

// Default returns the built-in configuration, matching the original tool's
// DEFAULT_CONFIG so a freshly written config.yaml behaves identically until
// edited.
func Default() Config {
	return Config{
		MountPoints:         nil,
		SourceRoot:          "",
		DestinationRoot:     "",
		Threshold:           98.0,
		StateFile:           "state.csv",
		MappingFile:         "mapping.csv",
		ErrorLogFile:        "errors.log",
		DryRunMappingFile:   "mapping_dryrun.csv",
		Threads:             8,
		DiskStrategy:        StrategyFill,
		MaxConcurrentDisks:  0,
		MinFilesForSequence: 50,
		ImageExtensions: []string{
			"dpx", "exr", "tiff", "tif", "jpg", "jpeg", "png", "tga", "bmp",
		},
		DryRun: false,
	}
}

// defaultConfigHeader is prepended to a freshly written config.yaml so a
// first-time operator can see what each key does without consulting docs.
const defaultConfigHeader = `# copeer configuration.
#
# mount_points: destination volumes the disk manager may place jobs on.
# source_root: prefix joined with relative manifest paths.
# destination_root: base directory created under each mount point.
# threshold: a volume is excluded once used space reaches this percent.
# disk_strategy: "fill" (use one volume until full) or "round_robin".
# min_files_for_sequence: minimum frame count before a run is archived.
`

// Load reads path, parsing it as YAML into Config. If path does not exist,
// Load writes the default configuration there first (with a descriptive
// header), so a first run leaves an editable starting point, and then
// validates it like any other; the default lists no mount_points, so that
// first call returns a validation error.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeDefault(path, cfg); err != nil {
			return Config{}, fmt.Errorf("write default config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("wrote default config to %s, edit it first: %w", path, err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func writeDefault(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	body, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	full := append([]byte(defaultConfigHeader), body...)
	return os.WriteFile(path, full, 0o644)
}

// Validate reports configuration errors that would otherwise surface as
// confusing failures deep inside the planner or supervisor.
func (c Config) Validate() error {
	if len(c.MountPoints) == 0 {
		return fmt.Errorf("config: mount_points must not be empty")
	}
	if c.Threshold <= 0 || c.Threshold > 100 {
		return fmt.Errorf("config: threshold must be in (0, 100], got %v", c.Threshold)
	}
	if c.Threads <= 0 {
		return fmt.Errorf("config: threads must be positive, got %d", c.Threads)
	}
	switch c.DiskStrategy {
	case StrategyFill, StrategyRoundRobin:
	default:
		return fmt.Errorf("config: disk_strategy must be %q or %q, got %q", StrategyFill, StrategyRoundRobin, c.DiskStrategy)
	}
	if c.MinFilesForSequence < 0 {
		return fmt.Errorf("config: min_files_for_sequence must be non-negative, got %d", c.MinFilesForSequence)
	}
	return nil
}

// IsImageExtension reports whether ext (without the leading dot) is
// configured as an archivable image sequence extension.
func (c Config) IsImageExtension(ext string) bool {
	for _, e := range c.ImageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
