package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/hornwatch/internal/config"
	"github.com/MrWong99/hornwatch/internal/session"
	"github.com/MrWong99/hornwatch/internal/signature"
)

var (
	accent = lipgloss.Color("#f5a623")
	dim    = lipgloss.Color("#6e7681")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).Width(18)
	valueStyle = lipgloss.NewStyle()
	dimStyle   = lipgloss.NewStyle().Foreground(dim)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)

// row is one label/value line of a summary box.
type row struct{ label, value string }

func renderBox(title string, rows []row) string {
	lines := []string{titleStyle.Render(title)}
	for _, r := range rows {
		v := r.value
		if v == "" {
			v = dimStyle.Render("(none)")
		}
		lines = append(lines, labelStyle.Render(r.label)+valueStyle.Render(v))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func printStartupSummary(w io.Writer, cfg *config.Config, path string) {
	source := string(cfg.Audio.Source)
	if cfg.Audio.Source == config.SourceFile {
		source += " " + cfg.Audio.File
	}
	var alarms []string
	if cfg.Alarm.Log.Enabled {
		alarms = append(alarms, "log")
	}
	if cfg.Alarm.Sound.File != "" {
		alarms = append(alarms, "sound")
	}
	if len(cfg.Alarm.Command) > 0 {
		alarms = append(alarms, "command")
	}
	if cfg.Alarm.Discord.Enabled() {
		alarms = append(alarms, "discord")
	}
	hist := "(disabled)"
	if cfg.History.Enabled {
		hist = cfg.History.Dir
	}
	if path == "" {
		path = "(defaults)"
	}

	fmt.Fprintln(w, renderBox("hornwatch", []row{
		{"Config", path},
		{"Listen addr", cfg.Server.ListenAddr},
		{"Audio", fmt.Sprintf("%s @ %d Hz, window %d", source, cfg.Audio.SampleRate, cfg.Audio.WindowSize)},
		{"Features", string(cfg.Detection.Strategy)},
		{"Threshold", fmt.Sprintf("%s (%s)", formatFloat(*cfg.Detection.Threshold), cfg.Detection.Metric)},
		{"Cooldown", cfg.Detection.Cooldown.String()},
		{"Signature", cfg.Signature.Path},
		{"Alarms", strings.Join(alarms, ", ")},
		{"History", hist},
		{"Auto start", strconv.FormatBool(cfg.Server.AutoStart)},
	}))
}

func printSignature(w io.Writer, sig *signature.Signature, length int) {
	fmt.Fprintln(w, renderBox("reference signature", []row{
		{"Source", sig.Source},
		{"Duration", sig.Duration.Round(time.Millisecond).String()},
		{"Sample rate", fmt.Sprintf("%d Hz", sig.SampleRate)},
		{"Extractor", sig.Extractor},
		{"Vector length", strconv.Itoa(length)},
		{"Windows", fmt.Sprintf("%d (%d active)", sig.Windows, sig.Active)},
		{"Templates", strconv.Itoa(len(sig.Templates()))},
		{"Peak bin", peakBin(sig)},
	}))
}

func peakBin(sig *signature.Signature) string {
	if len(sig.Mean) < 2 {
		return ""
	}
	best := 0
	for i, v := range sig.Mean {
		if v > sig.Mean[best] {
			best = i
		}
	}
	return fmt.Sprintf("#%d (%s)", best, formatFloat(sig.Mean[best]))
}

func printScanReport(w io.Writer, file string, info session.Info, episodes []session.Episode, took time.Duration) {
	rows := []row{
		{"File", file},
		{"Frames", strconv.FormatUint(info.Stats.Frames, 10)},
		{"Detections", strconv.Itoa(len(episodes))},
		{"Threshold", fmt.Sprintf("%s (%s)", formatFloat(info.Threshold), info.Metric)},
		{"Took", took.Round(time.Millisecond).String()},
	}
	if info.Degraded {
		rows = append(rows, row{"Degraded", "no reference signature, nothing can match"})
	}
	fmt.Fprintln(w, renderBox("scan", rows))
	printEpisodes(w, episodes, false)
}

func printHistory(w io.Writer, episodes []session.Episode, total int) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("detections: showing %d of %d", len(episodes), total)))
	printEpisodes(w, episodes, true)
}

func printEpisodes(w io.Writer, episodes []session.Episode, wall bool) {
	for _, ep := range episodes {
		when := "at " + ep.Offset.Round(time.Millisecond).String()
		if wall {
			when = ep.StartedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "  %s  %s  %s  %s\n",
			labelStyle.Render(when),
			fmt.Sprintf("len %-8s", ep.Length.Round(time.Millisecond)),
			fmt.Sprintf("best %-8s", formatFloat(ep.MinDistance)),
			dimStyle.Render(fmt.Sprintf("%d frames  %s", ep.Matches, ep.ID)),
		)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 4, 64)
}
