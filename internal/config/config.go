package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Output controls the identity applied to replaced files during the
// safe-replace step. UID/GID of -1 leaves ownership untouched.
type Output struct {
	UID  int    `yaml:"uid"`
	GID  int    `yaml:"gid"`
	Mode string `yaml:"mode"`
}

type Config struct {
	// Port is the HTTP listen port
	Port int `yaml:"port"`

	// DatabasePath is the SQLite database file location
	DatabasePath string `yaml:"database_path"`

	// FFmpegPath is the path to the ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath is the path to the ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe_path"`

	// ScratchDir is where sources are copied and outputs written during
	// transcoding. If empty, the OS temp directory is used.
	ScratchDir string `yaml:"scratch_dir"`

	// ScanInterval schedules automatic rescans of all enabled libraries
	// (Go duration string, e.g. "12h"). Empty disables scheduled scans.
	ScanInterval string `yaml:"scan_interval"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// Output is the ownership/permission identity for replaced files
	Output Output `yaml:"output"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:         7979,
		DatabasePath: "shrinkarr.db",
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		ScratchDir:   "",
		ScanInterval: "",
		LogLevel:     "info",
		Output:       Output{UID: -1, GID: -1, Mode: "0664"},
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Apply defaults for empty values
	if cfg.Port == 0 {
		cfg.Port = 7979
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "shrinkarr.db"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Output.Mode == "" {
		cfg.Output.Mode = "0664"
	}

	return cfg, nil
}

// Scratch returns the scratch directory, falling back to the OS temp dir.
func (c *Config) Scratch() string {
	if c.ScratchDir != "" {
		return c.ScratchDir
	}
	return os.TempDir()
}

// RescanInterval parses ScanInterval. A zero duration means disabled.
func (c *Config) RescanInterval() (time.Duration, error) {
	if c.ScanInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ScanInterval)
	if err != nil {
		return 0, fmt.Errorf("scan_interval: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("scan_interval: negative duration %q", c.ScanInterval)
	}
	return d, nil
}

// FileMode parses Output.Mode as an octal permission string.
func (c *Config) FileMode() (os.FileMode, error) {
	n, err := strconv.ParseUint(c.Output.Mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("output.mode: %w", err)
	}
	return os.FileMode(n), nil
}
