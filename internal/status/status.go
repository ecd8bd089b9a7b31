// Package status delivers session status reports to humans: the log and
// browser clients connected over a websocket.
package status

import (
	"log/slog"

	"github.com/MrWong99/hornwatch/internal/session"
)

// Log writes every status report to the default logger.
type Log struct{}

var _ session.StatusSink = Log{}

// Status implements [session.StatusSink].
func (Log) Status(st session.Status) {
	attrs := []any{
		slog.String("state", st.State.String()),
	}
	if st.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", st.SessionID))
	}
	if st.EpisodeID != "" {
		attrs = append(attrs, slog.String("episode_id", st.EpisodeID))
	}
	if st.Degraded {
		attrs = append(attrs, slog.Bool("degraded", true))
	}
	if st.Error != "" {
		attrs = append(attrs, slog.String("err", st.Error))
		slog.Warn(st.Message, attrs...)
		return
	}
	slog.Info(st.Message, attrs...)
}

// Multi forwards every report to each sink in order.
type Multi []session.StatusSink

var _ session.StatusSink = Multi(nil)

// Status implements [session.StatusSink].
func (m Multi) Status(st session.Status) {
	for _, s := range m {
		s.Status(st)
	}
}
