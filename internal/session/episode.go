package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hornwatch/pkg/audio"
)

// Episode is one continuous detection, from the triggering frame until the
// detector rearms or the session stops.
type Episode struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	// StartedAt and EndedAt are wall-clock times.
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// Offset is the stream position of the triggering frame; Length is the
	// stream time covered by matching frames.
	Offset time.Duration `json:"offset_ns"`
	Length time.Duration `json:"length_ns"`

	// MinDistance is the best match seen during the episode.
	MinDistance float64 `json:"min_distance"`

	// Matches counts matching frames, including the trigger.
	Matches int `json:"matches"`
}

// Recorder persists finished episodes. The session calls Record from a
// background goroutine, one episode at a time.
type Recorder interface {
	Record(ctx context.Context, ep Episode) error
}

func (s *Session) newEpisodeLocked(frame audio.AudioFrame, distance float64) *Episode {
	return &Episode{
		ID:          uuid.NewString(),
		SessionID:   s.id,
		StartedAt:   s.now(),
		Offset:      frame.Timestamp,
		Length:      frame.Duration(),
		MinDistance: distance,
		Matches:     1,
	}
}

// extend grows the episode with a matching frame ending at end.
func (e *Episode) extend(distance float64, end time.Duration) {
	e.Matches++
	e.MinDistance = min(e.MinDistance, distance)
	e.Length = max(e.Length, end-e.Offset)
}

func (s *Session) closeEpisodeLocked() *Episode {
	ep := s.episode
	s.episode = nil
	if ep == nil {
		return nil
	}
	ep.EndedAt = s.now()
	return ep
}
