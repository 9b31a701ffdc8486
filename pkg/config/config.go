// Package config handles facesort configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--library, --large-faces, etc.)
//  2. Environment variables (FACESORT_*)
//  3. Config file (facesort.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	m, err := compositor.New(api, gl, compositor.WithConfig(cfg.CompositorConfig()))
//
// Environment Variables (all use FACESORT_ prefix):
//
// Compositor:
//   - FACESORT_COMPOSITOR_ENABLED=true
//   - FACESORT_OPENCL_LIBRARY="/usr/lib/x86_64-linux-gnu/libOpenCL.so.1"
//   - FACESORT_LARGE_FACES=4096
//   - FACESORT_DUMP_KERNEL_SOURCE=false
//
// Kernel cache:
//   - FACESORT_CACHE_ENABLED=true
//   - FACESORT_CACHE_DIR="~/.cache/facesort"
//   - FACESORT_CACHE_TTL="720h"
//
// Logging:
//   - FACESORT_LOG_LEVEL="INFO"
//   - FACESORT_LOG_FORMAT="text"
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/facesort/pkg/compositor"
	"github.com/orneryd/facesort/pkg/facesort"
)

// Config holds all facesort configuration.
type Config struct {
	Compositor CompositorConfig
	Cache      CacheConfig
	Logging    LoggingConfig
}

// CompositorConfig holds GPU compositor settings.
type CompositorConfig struct {
	// Enabled turns the GPU path on. When false, producers use the CPU
	// reference sort.
	Enabled bool
	// LibraryPath overrides the OpenCL loader search. Empty searches the
	// platform's usual locations.
	LibraryPath string
	// LargeFacesCeiling caps the face capacity of the large tier.
	LargeFacesCeiling int
	// DumpKernelSource logs the assembled kernel source at debug level.
	DumpKernelSource bool
}

// CacheConfig holds the compiled program cache settings.
type CacheConfig struct {
	Enabled bool
	Dir     string
	TTL     time.Duration
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string
	// Format (json, text)
	Format string
	// Output path (stdout, stderr, or file path)
	Output string
}

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Compositor struct {
		Enabled          *bool  `yaml:"enabled"`
		Library          string `yaml:"library"`
		LargeFaces       int    `yaml:"large_faces"`
		DumpKernelSource bool   `yaml:"dump_kernel_source"`
	} `yaml:"compositor"`

	Cache struct {
		Enabled *bool  `yaml:"enabled"`
		Dir     string `yaml:"dir"`
		TTL     string `yaml:"ttl"`
	} `yaml:"cache"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
}

// LoadDefaults returns the built-in configuration.
func LoadDefaults() *Config {
	cacheDir := ""
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "facesort")
	}
	return &Config{
		Compositor: CompositorConfig{
			Enabled:           true,
			LargeFacesCeiling: facesort.DefaultLargeFaces,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     cacheDir,
			TTL:     30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadFromEnv loads the defaults overridden by environment variables.
func LoadFromEnv() *Config {
	cfg := LoadDefaults()
	applyEnvVars(cfg)
	return cfg
}

// LoadFromFile loads defaults, then the YAML file at configPath, then
// environment variables. A missing file is not an error.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := LoadDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := applyYAML(cfg, data); err != nil {
				return nil, err
			}
		}
	}

	applyEnvVars(cfg)
	return cfg, nil
}

func applyYAML(cfg *Config, data []byte) error {
	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// === Compositor ===
	if y.Compositor.Enabled != nil {
		cfg.Compositor.Enabled = *y.Compositor.Enabled
	}
	if y.Compositor.Library != "" {
		cfg.Compositor.LibraryPath = y.Compositor.Library
	}
	if y.Compositor.LargeFaces > 0 {
		cfg.Compositor.LargeFacesCeiling = y.Compositor.LargeFaces
	}
	if y.Compositor.DumpKernelSource {
		cfg.Compositor.DumpKernelSource = true
	}

	// === Cache ===
	if y.Cache.Enabled != nil {
		cfg.Cache.Enabled = *y.Cache.Enabled
	}
	if y.Cache.Dir != "" {
		cfg.Cache.Dir = expandHome(y.Cache.Dir)
	}
	if y.Cache.TTL != "" {
		d, err := time.ParseDuration(y.Cache.TTL)
		if err != nil {
			return fmt.Errorf("invalid cache ttl %q: %w", y.Cache.TTL, err)
		}
		cfg.Cache.TTL = d
	}

	// === Logging ===
	if y.Logging.Level != "" {
		cfg.Logging.Level = y.Logging.Level
	}
	if y.Logging.Format != "" {
		cfg.Logging.Format = y.Logging.Format
	}
	if y.Logging.Output != "" {
		cfg.Logging.Output = y.Logging.Output
	}
	return nil
}

func applyEnvVars(cfg *Config) {
	cfg.Compositor.Enabled = getEnvBool("FACESORT_COMPOSITOR_ENABLED", cfg.Compositor.Enabled)
	cfg.Compositor.LibraryPath = getEnv("FACESORT_OPENCL_LIBRARY", cfg.Compositor.LibraryPath)
	cfg.Compositor.LargeFacesCeiling = getEnvInt("FACESORT_LARGE_FACES", cfg.Compositor.LargeFacesCeiling)
	cfg.Compositor.DumpKernelSource = getEnvBool("FACESORT_DUMP_KERNEL_SOURCE", cfg.Compositor.DumpKernelSource)

	cfg.Cache.Enabled = getEnvBool("FACESORT_CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.Dir = expandHome(getEnv("FACESORT_CACHE_DIR", cfg.Cache.Dir))
	cfg.Cache.TTL = getEnvDuration("FACESORT_CACHE_TTL", cfg.Cache.TTL)

	cfg.Logging.Level = getEnv("FACESORT_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("FACESORT_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = getEnv("FACESORT_LOG_OUTPUT", cfg.Logging.Output)
}

// Validate checks the configuration for logical errors and invalid values.
func (c *Config) Validate() error {
	if c.Compositor.LargeFacesCeiling < facesort.SmallFaces {
		return fmt.Errorf("large face ceiling %d is below the small tier size %d",
			c.Compositor.LargeFacesCeiling, facesort.SmallFaces)
	}
	if c.Cache.Enabled && c.Cache.Dir == "" {
		return fmt.Errorf("cache enabled but no cache directory")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("invalid cache ttl: %v", c.Cache.TTL)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// SlogLevel parses the configured log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	return l, nil
}

// CompositorConfig converts the compositor section for compositor.New.
func (c *Config) CompositorConfig() *compositor.Config {
	cc := compositor.DefaultConfig()
	cc.LargeFacesCeiling = c.Compositor.LargeFacesCeiling
	cc.DumpKernelSource = c.Compositor.DumpKernelSource
	return cc
}

// String returns a short representation of the Config for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Compositor: %v, Library: %q, LargeFaces: %d, Cache: %v, Log: %s/%s}",
		c.Compositor.Enabled, c.Compositor.LibraryPath, c.Compositor.LargeFacesCeiling,
		c.Cache.Enabled, c.Logging.Level, c.Logging.Format,
	)
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.facesort/config.yaml
//  2. Current working directory (facesort.yaml)
//  3. ~/.config/facesort/config.yaml (XDG)
func FindConfigFile() string {
	var candidates []string
	home, herr := os.UserHomeDir()
	if herr == nil {
		candidates = append(candidates, filepath.Join(home, ".facesort", "config.yaml"))
	}
	candidates = append(candidates, "facesort.yaml")
	if herr == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "facesort", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
