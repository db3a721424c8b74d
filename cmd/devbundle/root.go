package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/devbundle"
	"github.com/aretw0/devbundle/internal/platform"
)

var (
	verbose    bool
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "devbundle",
	Short: "Fetch development bundles from a bundler dev server",
	Long: `devbundle downloads the JavaScript bundle served by a development server,
applies delta patches incrementally and commits every artifact atomically.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to devbundle.yaml (default: search upwards from the working directory)")
}

// loadConfig reads --config, or the nearest devbundle.yaml, or the defaults.
func loadConfig() (platform.Config, error) {
	if configPath != "" {
		return devbundle.LoadConfig(configPath)
	}

	wd, err := os.Getwd()
	if err != nil {
		return platform.Config{}, fmt.Errorf("getting working directory: %w", err)
	}
	path, err := devbundle.FindConfig(wd)
	if errors.Is(err, platform.ErrConfigNotFound) {
		slog.Debug("no config file found, using defaults", "dir", wd)
		return platform.DefaultConfig(), nil
	}
	if err != nil {
		return platform.Config{}, err
	}
	slog.Debug("using config", "path", path)
	return devbundle.LoadConfig(path)
}

// newOrchestrator builds an orchestrator from cfg plus any extra options.
func newOrchestrator(cfg platform.Config, opts ...devbundle.Option) (*devbundle.Orchestrator, error) {
	base := []devbundle.Option{
		devbundle.WithLogger(slog.Default()),
		devbundle.WithCacheDir(cfg.CacheDir),
		devbundle.WithTimeout(cfg.Timeout),
		devbundle.WithFanoutLimit(cfg.FanoutLimit),
	}
	return devbundle.New(append(base, opts...)...)
}
