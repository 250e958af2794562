// Package modlog records moderation actions and mirrors them to each guild's
// log channel.
package modlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"worldmachine/internal/config"
	"worldmachine/internal/errs"
	"worldmachine/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Store interface {
	AddModAction(ctx context.Context, action storage.ModAction) error
}

type Sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, opts ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Entry struct {
	GuildID   string
	Action    string
	Target    *discordgo.User
	Moderator *discordgo.User
	Reason    string
	// Duration is the text shown in the embed, Length the stored value.
	Duration string
	Length   time.Duration
}

type Logger struct {
	store    Store
	session  Sender
	channels map[string]string
	color    int
	logger   *zap.Logger
	now      func() time.Time
}

func NewLogger(store Store, session Sender, channels map[string]string, colors config.EmbedColors, logger *zap.Logger) *Logger {
	return &Logger{store: store, session: session, channels: channels, color: colors.OrDefault().Info, logger: logger, now: time.Now}
}

// Log persists the action and posts it to the guild's log channel when one
// is configured. Failures are logged, never returned.
func (l *Logger) Log(ctx context.Context, e Entry) {
	at := l.now()
	if l.store != nil {
		err := l.store.AddModAction(ctx, storage.ModAction{
			GuildID:     e.GuildID,
			Action:      e.Action,
			TargetID:    userID(e.Target),
			ModeratorID: userID(e.Moderator),
			Reason:      e.Reason,
			Duration:    e.Length,
			CreatedAt:   at,
		})
		if err != nil {
			l.logger.Error("store mod action failed", zap.String("guild_id", e.GuildID), errs.Field(err))
		}
	}
	l.logger.Info("mod action",
		zap.String("guild_id", e.GuildID),
		zap.String("action", e.Action),
		zap.String("target_id", userID(e.Target)),
		zap.String("moderator_id", userID(e.Moderator)),
		zap.String("reason", e.Reason),
	)

	channelID := l.channels[e.GuildID]
	if channelID == "" || l.session == nil {
		return
	}
	if _, err := l.session.ChannelMessageSendEmbed(channelID, Embed(e, l.color, at)); err != nil {
		l.logger.Warn("mod log embed failed, sending text", zap.String("channel_id", channelID), zap.Error(err))
		if _, err := l.session.ChannelMessageSend(channelID, plain(e)); err != nil {
			l.logger.Warn("mod log text failed", zap.String("channel_id", channelID), zap.Error(err))
		}
	}
}

func Embed(e Entry, color int, at time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     "User " + capitalize(e.Action),
		Color:     color,
		Timestamp: at.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: fmt.Sprintf("<@%s> (%s)", userID(e.Target), userID(e.Target)), Inline: true},
			{Name: "Moderator", Value: fmt.Sprintf("<@%s>", userID(e.Moderator)), Inline: true},
			{Name: "Reason", Value: reasonOrDefault(e.Reason)},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "User ID: " + userID(e.Target)},
	}
	if e.Duration != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Duration", Value: e.Duration, Inline: true})
	}
	return embed
}

func plain(e Entry) string {
	reason := reasonOrDefault(e.Reason)
	if e.Duration != "" {
		reason += "\nDuration: " + e.Duration
	}
	return fmt.Sprintf("**%s** | %s (ID: %s)\n**Moderator:** %s\n**Reason:** %s",
		strings.ToUpper(e.Action), username(e.Target), userID(e.Target), username(e.Moderator), reason)
}

func reasonOrDefault(reason string) string {
	if strings.TrimSpace(reason) == "" {
		return "No reason provided"
	}
	return reason
}

// capitalize upper-cases the first letter and lower-cases the rest, so
// "role added" becomes "Role added".
func capitalize(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func userID(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func username(u *discordgo.User) string {
	if u == nil {
		return "unknown"
	}
	return u.Username
}
