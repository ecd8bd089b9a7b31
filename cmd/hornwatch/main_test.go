package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/hornwatch/internal/config"
	"github.com/MrWong99/hornwatch/internal/session"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvPath, "")
	t.Cleanup(func() { configPath, logLevel = "", "" })

	t.Run("missing default file gives defaults", func(t *testing.T) {
		configPath = ""
		cfg, path, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if path != "" {
			t.Errorf("path = %q, want empty", path)
		}
		if cfg.Audio.SampleRate != config.DefaultSampleRate {
			t.Errorf("SampleRate = %d, want %d", cfg.Audio.SampleRate, config.DefaultSampleRate)
		}
	})

	t.Run("missing explicit file fails", func(t *testing.T) {
		configPath = filepath.Join(t.TempDir(), "nope.yaml")
		if _, _, err := loadConfig(); err == nil {
			t.Fatal("expected error for missing explicit config")
		}
	})

	t.Run("file log level applied", func(t *testing.T) {
		configPath = filepath.Join(t.TempDir(), "hornwatch.yaml")
		if err := os.WriteFile(configPath, []byte("server:\n  log_level: debug\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, path, err := loadConfig(); err != nil || path != configPath {
			t.Fatalf("loadConfig = %q, %v", path, err)
		}
		if got := level.Level(); got.String() != "DEBUG" {
			t.Errorf("level = %v, want DEBUG", got)
		}
	})
}

func TestCollector(t *testing.T) {
	var c collector
	for i := range 3 {
		if err := c.Record(context.Background(), session.Episode{ID: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}
	got := c.list()
	if len(got) != 3 || got[0].ID != "a" || got[2].ID != "c" {
		t.Fatalf("list = %+v", got)
	}
	got[0].ID = "x"
	if c.list()[0].ID != "a" {
		t.Error("list must return a copy")
	}
}

func TestApplyScanFlags(t *testing.T) {
	t.Cleanup(func() { scanRealtime, scanThreshold = false, -1 })
	scanRealtime, scanThreshold = true, 0.2

	cfg := config.Default()
	cfg.Server.AutoStart = true
	applyScanFlags(cfg, "street.wav")

	if cfg.Audio.Source != config.SourceFile || cfg.Audio.File != "street.wav" || !cfg.Audio.Realtime {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	// Zero would mean the supervisor default of 5 restarts.
	if cfg.Audio.Restart.MaxRestarts >= 0 {
		t.Errorf("MaxRestarts = %d, want negative", cfg.Audio.Restart.MaxRestarts)
	}
	if cfg.Server.AutoStart {
		t.Error("AutoStart left on")
	}
	if cfg.Detection.Threshold == nil || *cfg.Detection.Threshold != 0.2 {
		t.Errorf("threshold = %v, want 0.2", cfg.Detection.Threshold)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestPrintStartupSummary(t *testing.T) {
	cfg := config.Default()
	cfg.Signature.Path = "horn.wav"
	cfg.Alarm.Command = []string{"notify-send", "horn"}

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg, "")
	out := buf.String()
	for _, want := range []string{"hornwatch", "(defaults)", "horn.wav", "command", config.DefaultListenAddr} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintScanReport(t *testing.T) {
	var buf bytes.Buffer
	printScanReport(&buf, "street.wav", session.Info{
		Threshold: 0.35,
		Degraded:  true,
		Stats:     session.Stats{Frames: 42},
	}, []session.Episode{{
		ID:          "ep-1",
		Offset:      1500 * time.Millisecond,
		Length:      300 * time.Millisecond,
		MinDistance: 0.12,
		Matches:     3,
	}}, time.Second)

	out := buf.String()
	for _, want := range []string{"street.wav", "42", "Degraded", "1.5s", "ep-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
