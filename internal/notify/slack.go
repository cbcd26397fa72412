package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackTarget posts outcome summaries to a Slack channel.
type SlackTarget struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackTarget creates a Slack target.
func NewSlackTarget(botToken, channel string, logger *zap.Logger) *SlackTarget {
	return &SlackTarget{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

// Name implements Target.
func (s *SlackTarget) Name() string { return "slack" }

// Post implements Target.
func (s *SlackTarget) Post(ctx context.Context, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
