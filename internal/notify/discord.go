package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordTarget posts outcome summaries to a Discord channel.
type DiscordTarget struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordTarget creates a Discord target. The session is REST-only; no
// gateway connection is opened for plain channel posts.
func NewDiscordTarget(botToken, channelID string, logger *zap.Logger) (*DiscordTarget, error) {
	s, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordTarget{session: s, channelID: channelID, logger: logger}, nil
}

// Name implements Target.
func (d *DiscordTarget) Name() string { return "discord" }

// Post implements Target.
func (d *DiscordTarget) Post(ctx context.Context, text string) error {
	_, err := d.session.ChannelMessageSend(d.channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord post: %w", err)
	}
	return nil
}
