package main

import (
	"github.com/spf13/cobra"

	"github.com/MrWong99/hornwatch/internal/history"
)

var (
	historyLimit int
	historyClear bool
	historyDir   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded detections",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.IntVarP(&historyLimit, "limit", "n", 20, "number of episodes to show, newest first")
	f.BoolVar(&historyClear, "clear", false, "delete all recorded episodes")
	f.StringVar(&historyDir, "dir", "", "override history.dir")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.History.Dir
	if historyDir != "" {
		dir = historyDir
	}

	store, err := history.Open(history.Options{Dir: dir, Retention: cfg.History.Retention})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if historyClear {
		if err := store.Clear(ctx); err != nil {
			return err
		}
		cmd.Println("history cleared")
		return nil
	}

	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	episodes, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), episodes, total)
	return nil
}
