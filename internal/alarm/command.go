package alarm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/MrWong99/hornwatch/internal/resilience"
)

// defaultCommandTimeout bounds a single command run.
const defaultCommandTimeout = 10 * time.Second

// DefaultPlayers are tried in order by [NewPlayer] when no players are
// configured.
var DefaultPlayers = []string{
	"paplay",
	"aplay -q",
	"afplay",
	"ffplay -nodisp -autoexit -loglevel quiet",
}

// Command runs an external program on every trigger.
type Command struct {
	argv    []string
	timeout time.Duration
}

var _ Target = (*Command)(nil)

// NewCommand returns a Command running argv. A zero timeout means 10s.
func NewCommand(argv []string, timeout time.Duration) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("alarm: empty command")
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &Command{argv: argv, timeout: timeout}, nil
}

// Trigger implements [session.Alarm].
func (c *Command) Trigger(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("alarm: %s: %w: %s", c.argv[0], err, msg)
		}
		return fmt.Errorf("alarm: %s: %w", c.argv[0], err)
	}
	return nil
}

// Name implements [Target].
func (c *Command) Name() string { return "command:" + c.argv[0] }

// Player plays a sound file through the first working player program. A
// player that keeps failing (for example because it is not installed) is
// skipped by its circuit breaker.
type Player struct {
	sound string
	group *resilience.FallbackGroup[*Command]
}

var _ Target = (*Player)(nil)

// NewPlayer returns a Player for sound. Each entry of players is a command
// line to which the sound path is appended. Empty players means
// [DefaultPlayers].
func NewPlayer(sound string, players []string, timeout time.Duration, cfg resilience.FallbackConfig) (*Player, error) {
	if sound == "" {
		return nil, errors.New("alarm: player needs a sound file")
	}
	if len(players) == 0 {
		players = DefaultPlayers
	}

	group := resilience.NewFallbackGroup[*Command](cfg)
	for _, p := range players {
		argv := append(strings.Fields(p), sound)
		cmd, err := NewCommand(argv, timeout)
		if err != nil {
			return nil, fmt.Errorf("alarm: player %q: %w", p, err)
		}
		group.Add(argv[0], cmd)
	}
	return &Player{sound: sound, group: group}, nil
}

// Trigger implements [session.Alarm].
func (p *Player) Trigger(ctx context.Context) error {
	_, err := p.group.Execute(ctx, func(ctx context.Context, c *Command) error {
		return c.Trigger(ctx)
	})
	if err != nil {
		return fmt.Errorf("alarm: play %s: %w", p.sound, err)
	}
	return nil
}

// Name implements [Target].
func (p *Player) Name() string { return "sound" }

// Players returns the player programs in the order they are tried.
func (p *Player) Players() []string { return p.group.Names() }
