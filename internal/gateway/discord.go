package gateway

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordMirror posts into a single Discord channel through a bot session.
type DiscordMirror struct {
	token     string
	channelID string
	session   *discordgo.Session
	logger    *zap.Logger
}

// NewDiscordMirror creates a mirror for channelID.
func NewDiscordMirror(token, channelID string, logger *zap.Logger) *DiscordMirror {
	return &DiscordMirror{token: token, channelID: channelID, logger: logger}
}

func (d *DiscordMirror) Platform() string { return "discord" }

// Connect opens the bot session. Only outbound messages are sent, so no
// intents are requested.
func (d *DiscordMirror) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsNone
	if err := session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	d.session = session
	d.logger.Info("discord mirror connected",
		zap.String("user", session.State.User.Username),
		zap.String("channel", d.channelID))
	return nil
}

func discordEmbed(p *Post) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Author:      &discordgo.MessageEmbedAuthor{Name: "@" + p.AuthorID},
		Description: p.Text,
		Footer:      &discordgo.MessageEmbedFooter{Text: p.Headline()},
		Timestamp:   p.SimTime.Format("2006-01-02T15:04:05Z07:00"),
	}
	if p.QuoteID != "" {
		e.Title = "Repost of #" + p.QuoteID
	}
	return e
}

// Send posts p as an embed.
func (d *DiscordMirror) Send(ctx context.Context, p *Post) error {
	if d.session == nil {
		return fmt.Errorf("discord send: not connected")
	}
	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, discordEmbed(p), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (d *DiscordMirror) Close() error {
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}
