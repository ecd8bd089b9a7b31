// Package alarm provides the targets notified when a detection episode
// starts: a log line, a sound played through an external player, an external
// command and a Discord channel message.
//
// Targets are composed with [Multi], which fans out to every target behind a
// per-target circuit breaker, and [Async], which moves delivery off the
// frame-processing goroutine.
package alarm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/hornwatch/internal/observe"
	"github.com/MrWong99/hornwatch/internal/session"
)

// Target is a named alarm.
type Target interface {
	session.Alarm
	Name() string
}

// Log writes a warning-level log line for every trigger.
type Log struct {
	Message string
}

var _ Target = Log{}

// Trigger implements [session.Alarm].
func (l Log) Trigger(ctx context.Context) error {
	msg := l.Message
	if msg == "" {
		msg = "alarm"
	}
	observe.Logger(ctx).Warn(msg, slog.String("alarm", "log"))
	return nil
}

// Name implements [Target].
func (Log) Name() string { return "log" }

// expand replaces the {time} placeholder in text.
func expand(text string, now time.Time) string {
	return strings.ReplaceAll(text, "{time}", now.Format(time.TimeOnly))
}
