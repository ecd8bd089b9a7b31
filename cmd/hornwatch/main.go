// Command hornwatch listens to a microphone and raises an alarm when it
// hears a sound resembling a reference car horn sample.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hornwatch/internal/app"
	"github.com/MrWong99/hornwatch/internal/config"
)

const defaultConfigPath = "hornwatch.yaml"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	configPath string
	logLevel   string

	// level backs the default logger so config reloads can change it.
	level = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "hornwatch",
	Short: "Listen for car horns and raise an alarm",
	Long: `hornwatch compares live microphone audio against a reference car horn
sample and fires the configured alarms when they match.

Commands:
  listen     run the detector with its HTTP API and status websocket
  scan       run the detector over a recording
  signature  load a reference sample and describe its signature
  history    list recorded detections

The config path defaults to hornwatch.yaml and can be set with --config or
the HORNWATCH_CONFIG environment variable. A missing default config file
means built-in defaults.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		slog.SetDefault(newLogger(level))
		if logLevel != "" {
			l := config.LogLevel(logLevel)
			if !l.IsValid() {
				return fmt.Errorf("invalid --log-level %q", logLevel)
			}
			level.Set(app.LogLevel(l))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(listenCmd, scanCmd, signatureCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hornwatch: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file. Without an explicit path a missing
// default file yields the built-in defaults. The configured log level is
// applied unless --log-level overrides it.
func loadConfig() (*config.Config, string, error) {
	explicit := configPath != "" || os.Getenv(config.EnvPath) != ""
	path := configPath
	if path == "" {
		path = config.Path(defaultConfigPath)
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		slog.Debug("no config file, using defaults", "path", path)
		cfg, path = config.Default(), ""
	default:
		return nil, "", err
	}

	if logLevel == "" {
		level.Set(app.LogLevel(cfg.Server.LogLevel))
	}
	return cfg, path, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(lv *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
