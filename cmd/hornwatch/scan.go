package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hornwatch/internal/app"
	"github.com/MrWong99/hornwatch/internal/config"
	"github.com/MrWong99/hornwatch/internal/history"
	"github.com/MrWong99/hornwatch/internal/session"
)

var (
	scanRealtime  bool
	scanAlarm     bool
	scanRecord    bool
	scanThreshold float64
)

var scanCmd = &cobra.Command{
	Use:   "scan <audio-file>",
	Short: "Run the detector over a recording",
	Long: `Feed a WAV or MP3 recording through the detector and list every detection
episode. Alarms are not fired unless --alarm is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.BoolVar(&scanRealtime, "realtime", false, "pace frames at the capture rate")
	f.BoolVar(&scanAlarm, "alarm", false, "fire the configured alarms on detection")
	f.BoolVar(&scanRecord, "record", false, "store the episodes in the detection history")
	f.Float64Var(&scanThreshold, "threshold", -1, "override detection.threshold")
}

// collector keeps the episodes of one scan in memory.
type collector struct {
	mu       sync.Mutex
	episodes []session.Episode
}

func (c *collector) Record(_ context.Context, ep session.Episode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.episodes = append(c.episodes, ep)
	return nil
}

func (c *collector) list() []session.Episode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.Episode(nil), c.episodes...)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	applyScanFlags(cfg, args[0])
	if err := config.Validate(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := &collector{}
	opts := []app.Option{app.WithRecorder(rec), app.WithLogLevel(level)}
	if !scanAlarm {
		opts = append(opts, app.WithAlarm(session.AlarmFunc(func(context.Context) error { return nil })))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Shutdown(sctx)
	}
	defer shutdown()

	ctrl := application.Controller()
	began := time.Now()
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		_ = ctrl.Stop()
	}
	if err := ctrl.Err(); err != nil {
		return err
	}

	info := ctrl.Info()
	// Shutdown drains the episode queue into the collector.
	shutdown()
	episodes := rec.list()
	printScanReport(cmd.OutOrStdout(), args[0], info, episodes, time.Since(began))

	if scanRecord && len(episodes) > 0 {
		return recordEpisodes(ctx, cfg.History, episodes)
	}
	return nil
}

// applyScanFlags points cfg at the recording and applies the scan flags.
// A scan never restarts the source: end of file is final.
func applyScanFlags(cfg *config.Config, path string) {
	cfg.Audio.Source = config.SourceFile
	cfg.Audio.File = path
	cfg.Audio.Realtime = scanRealtime
	cfg.Audio.Restart.MaxRestarts = -1
	cfg.Server.AutoStart = false
	if scanThreshold >= 0 {
		cfg.Detection.Threshold = &scanThreshold
	}
}

func recordEpisodes(ctx context.Context, hc config.HistoryConfig, episodes []session.Episode) error {
	store, err := history.Open(history.Options{Dir: hc.Dir, Retention: hc.Retention})
	if err != nil {
		return err
	}
	defer store.Close()
	for _, ep := range episodes {
		if err := store.Record(ctx, ep); err != nil {
			return fmt.Errorf("record episode %s: %w", ep.ID, err)
		}
	}
	return nil
}
