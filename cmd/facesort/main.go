// Package main provides the facesort CLI: device discovery, kernel
// inspection and CPU benchmarks of the face ordering algorithm.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/facesort/pkg/compositor"
	"github.com/orneryd/facesort/pkg/config"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "facesort",
		Short: "facesort - GPU face priority compositor tools",
		Long: `facesort orders the faces of scene models back to front with the
game's priority bands, either on an OpenCL device sharing buffers with the
GL renderer or with the CPU reference implementation.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: search standard locations)")
	rootCmd.PersistentFlags().String("library", "", "OpenCL library path (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "facesort v%s (%s) built %s\n", version, commit, buildTime)
		},
	})
	rootCmd.AddCommand(newDevicesCmd(&configPath))
	rootCmd.AddCommand(newKernelsCmd(&configPath))
	rootCmd.AddCommand(newBenchCmd(&configPath))
	return rootCmd
}

// loadConfig reads the config file and applies the persistent flags on top.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if lib, _ := cmd.Flags().GetString("library"); lib != "" {
		cfg.Compositor.LibraryPath = lib
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	compositor.SetLogger(log)
	return cfg, nil
}

func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	var w io.Writer
	switch out := cfg.Logging.Output; out {
	case "", "stderr":
		w = stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output: %w", err)
		}
		w = f
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
