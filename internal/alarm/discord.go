package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// MessageSender is the subset of [discordgo.Session] used by [Discord].
type MessageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts a message to a Discord text channel. Only the REST API is
// used; no gateway connection is opened.
type Discord struct {
	sender    MessageSender
	channelID string
	message   string
	now       func() time.Time
}

var _ Target = (*Discord)(nil)

// DefaultDiscordMessage is posted when no message is configured. {time} is
// replaced with the local detection time.
const DefaultDiscordMessage = "🚨 Car horn detected at {time}"

// NewDiscord creates a bot session from token and returns a Discord alarm
// posting to channelID.
func NewDiscord(token, channelID, message string) (*Discord, error) {
	if token == "" {
		return nil, errors.New("alarm: discord token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("alarm: create discord session: %w", err)
	}
	return NewDiscordWithSender(s, channelID, message)
}

// NewDiscordWithSender returns a Discord alarm using an existing sender.
func NewDiscordWithSender(sender MessageSender, channelID, message string) (*Discord, error) {
	if channelID == "" {
		return nil, errors.New("alarm: discord channel is required")
	}
	if message == "" {
		message = DefaultDiscordMessage
	}
	return &Discord{sender: sender, channelID: channelID, message: message, now: time.Now}, nil
}

// Trigger implements [session.Alarm].
func (d *Discord) Trigger(ctx context.Context) error {
	content := expand(d.message, d.now())
	if _, err := d.sender.ChannelMessageSend(d.channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("alarm: discord send: %w", err)
	}
	return nil
}

// Name implements [Target].
func (d *Discord) Name() string { return "discord" }
