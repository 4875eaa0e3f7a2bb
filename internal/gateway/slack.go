package gateway

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackMirror posts into a single Slack channel with the bot token.
type SlackMirror struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackMirror creates a mirror for channel. Extra options are passed to
// the Slack client.
func NewSlackMirror(botToken, channel string, logger *zap.Logger, opts ...slack.Option) *SlackMirror {
	return &SlackMirror{
		client:  slack.New(botToken, opts...),
		channel: channel,
		logger:  logger,
	}
}

func (s *SlackMirror) Platform() string { return "slack" }

// Connect verifies the token.
func (s *SlackMirror) Connect(ctx context.Context) error {
	resp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.logger.Info("slack mirror connected",
		zap.String("team", resp.Team),
		zap.String("user", resp.User),
		zap.String("channel", s.channel))
	return nil
}

func slackOptions(p *Post) []slack.MsgOption {
	return []slack.MsgOption{
		slack.MsgOptionText(fmt.Sprintf("*%s*\n%s", p.Headline(), p.Text), false),
		slack.MsgOptionUsername(p.AuthorID),
		slack.MsgOptionIconEmoji(":bust_in_silhouette:"),
	}
}

// Send posts p as the author.
func (s *SlackMirror) Send(ctx context.Context, p *Post) error {
	if _, _, err := s.client.PostMessageContext(ctx, s.channel, slackOptions(p)...); err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Close is a no-op; the web API client holds no connection.
func (s *SlackMirror) Close() error { return nil }
