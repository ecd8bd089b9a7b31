package session

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Status is one human-readable progress report. It is emitted on every state
// transition and every error. Sinks must not block.
type Status struct {
	SessionID string    `json:"session_id,omitempty"`
	State     State     `json:"state"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
	Distance  float64   `json:"distance,omitempty"`
	EpisodeID string    `json:"episode_id,omitempty"`
	Time      time.Time `json:"time"`
}

// StatusSink receives status reports. It is purely observational.
type StatusSink interface {
	Status(Status)
}

// StatusFunc adapts a plain function to [StatusSink].
type StatusFunc func(Status)

// Status implements [StatusSink].
func (f StatusFunc) Status(s Status) { f(s) }

type nopSink struct{}

func (nopSink) Status(Status) {}

// Messages holds the texts reported to the [StatusSink].
type Messages struct {
	Listening      string
	Detected       string
	Unsupported    string
	CaptureDenied  string
	CaptureFailed  string
	Stopped        string
	SignatureError string
}

// DefaultMessages returns the status texts for a target sound label such as
// "car horn".
func DefaultMessages(target string) Messages {
	if target == "" {
		target = "car horn"
	}
	return Messages{
		Listening:      "Listening for " + target + "...",
		Detected:       capitalize(target) + " detected!",
		Unsupported:    "Microphone access not supported",
		CaptureDenied:  "Could not access microphone",
		CaptureFailed:  "Microphone stopped unexpectedly",
		Stopped:        "Stopped listening",
		SignatureError: "Could not load " + target + " reference sample",
	}
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages("")
	set := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	set(&m.Listening, d.Listening)
	set(&m.Detected, d.Detected)
	set(&m.Unsupported, d.Unsupported)
	set(&m.CaptureDenied, d.CaptureDenied)
	set(&m.CaptureFailed, d.CaptureFailed)
	set(&m.Stopped, d.Stopped)
	set(&m.SignatureError, d.SignatureError)
	return m
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
