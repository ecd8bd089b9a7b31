package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hornwatch/internal/signature"
	"github.com/MrWong99/hornwatch/pkg/feature"
)

var signatureCmd = &cobra.Command{
	Use:   "signature [path-or-url]",
	Short: "Load a reference sample and describe its signature",
	Long: `Compute the reference signature with the configured feature strategy and
print a summary. The path defaults to signature.path from the config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSignature,
}

func runSignature(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.Signature.Path
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no reference sample: pass a path or set signature.path")
	}

	ex, err := feature.New(cfg.Detection.Feature(cfg.Audio.SampleRate, cfg.Audio.WindowSize))
	if err != nil {
		return err
	}
	loader := signature.NewLoader(
		signature.SourceFor(path, &http.Client{Timeout: cfg.Signature.Timeout}),
		path, ex,
		signature.BuildConfig{
			SampleRate: cfg.Audio.SampleRate,
			WindowSize: cfg.Audio.WindowSize,
			Templates:  cfg.Signature.Templates,
		},
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Signature.Timeout)
	defer cancel()
	sig, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	printSignature(cmd.OutOrStdout(), sig, ex.Len())
	return nil
}
