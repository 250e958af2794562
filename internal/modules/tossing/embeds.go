package tossing

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	shownRoles = 5
	timeLayout = "January 02, 2006 03:04 PM"
)

// Age renders how long ago then was, in the largest whole unit.
func Age(now, then time.Time) string {
	d := now.Sub(then)
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	rest := d - time.Duration(days)*24*time.Hour
	switch {
	case days >= 365:
		return plural(days/365, "year")
	case days >= 30:
		return plural(days/30, "month")
	case days > 0:
		return plural(days, "day")
	case rest >= time.Hour:
		return plural(int(rest/time.Hour), "hour")
	}
	return plural(max(1, int(rest/time.Minute)), "minute")
}

func plural(n int, unit string) string {
	if n > 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}

func stamp(now, at time.Time) string {
	return fmt.Sprintf("%s\n(%s)", at.UTC().Format(timeLayout), Age(now, at))
}

func author(u *discordgo.User) *discordgo.MessageEmbedAuthor {
	return &discordgo.MessageEmbedAuthor{Name: fmt.Sprintf("%s (ID: %s)", u.Username, u.ID), IconURL: u.AvatarURL("")}
}

type tossDetails struct {
	member      *discordgo.Member
	moderatorID string
	reason      string
	channel     *discordgo.Channel
	roles       []string
	guildName   string
}

func tossedEmbed(d tossDetails, color int, now time.Time) *discordgo.MessageEmbed {
	u := d.member.User
	embed := &discordgo.MessageEmbed{
		Title:     "🚷 User Tossed",
		Color:     color,
		Timestamp: now.UTC().Format(time.RFC3339),
		Author:    author(u),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "👤 User", Value: fmt.Sprintf("<@%s> (%s)", u.ID, u.ID)},
			{Name: "🛡️ Moderator", Value: "<@" + d.moderatorID + ">", Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Server: %s • Tossed at", d.guildName)},
	}
	if d.reason != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "📝 Reason", Value: d.reason})
	}
	if d.channel != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "💬 Channel", Value: fmt.Sprintf("<#%s> (%s)", d.channel.ID, d.channel.Name), Inline: true})
	}
	if created, err := discordgo.SnowflakeTimestamp(u.ID); err == nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "⏰ Account Created", Value: stamp(now, created), Inline: true})
	}
	if !d.member.JoinedAt.IsZero() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "📅 Joined Server", Value: stamp(now, d.member.JoinedAt), Inline: true})
	}
	if len(d.roles) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("🎨 Previous Roles (%d)", len(d.roles)),
			Value: rolesText(d.roles),
		})
	}
	return embed
}

func rolesText(roles []string) string {
	shown := roles[:min(shownRoles, len(roles))]
	mentions := make([]string, len(shown))
	for i, id := range shown {
		mentions[i] = "<@&" + id + ">"
	}
	text := strings.Join(mentions, ", ")
	if len(roles) > shownRoles {
		text += fmt.Sprintf(" and %d more roles", len(roles)-shownRoles)
	}
	return text
}

func releasedEmbed(u *discordgo.User, moderatorID, reason, channelID, guildName string, color int, now time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     "✅ User Released",
		Color:     color,
		Timestamp: now.UTC().Format(time.RFC3339),
		Author:    author(u),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "👤 User", Value: fmt.Sprintf("<@%s> (%s)", u.ID, u.ID), Inline: true},
			{Name: "🛡️ Moderator", Value: "<@" + moderatorID + ">", Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Server: %s • Released at", guildName)},
	}
	if reason != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "📝 Reason", Value: reason})
	}
	if channelID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "💬 Channel", Value: fmt.Sprintf("<#%s> (closed)", channelID), Inline: true})
	}
	return embed
}
