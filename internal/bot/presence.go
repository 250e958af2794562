package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	memberPage     = 1000
	memberFetchers = 4
)

type MemberLister interface {
	GuildMembers(guildID string, after string, limit int, opts ...discordgo.RequestOption) ([]*discordgo.Member, error)
}

// guildCache is what the gateway state already knows about one guild.
type guildCache struct {
	id     string
	humans []string
}

// countMembers returns the number of distinct non-bot members across
// guilds, skipping excluded, and the number of guilds counted. Each guild is
// fetched over REST in parallel; a guild whose fetch fails counts its cached
// members only.
func countMembers(ctx context.Context, lister MemberLister, guilds []guildCache, excluded string, logger *zap.Logger) (members, servers int) {
	var counted []guildCache
	for _, g := range guilds {
		if g.id != excluded {
			counted = append(counted, g)
		}
	}

	fetched := make([][]string, len(counted))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(memberFetchers)
	for i, g := range counted {
		eg.Go(func() error {
			ids, err := fetchHumans(ctx, lister, g.id)
			if err != nil {
				logger.Debug("member fetch failed", zap.String("guild_id", g.id), zap.Error(err))
				return nil
			}
			fetched[i] = ids
			return nil
		})
	}
	_ = eg.Wait()

	unique := make(map[string]struct{})
	for i, g := range counted {
		for _, id := range g.humans {
			unique[id] = struct{}{}
		}
		for _, id := range fetched[i] {
			unique[id] = struct{}{}
		}
	}
	return len(unique), len(counted)
}

func fetchHumans(ctx context.Context, lister MemberLister, guildID string) ([]string, error) {
	var ids []string
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := lister.GuildMembers(guildID, after, memberPage)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			if m.User != nil && !m.User.Bot {
				ids = append(ids, m.User.ID)
			}
		}
		if len(page) < memberPage || page[len(page)-1].User == nil {
			return ids, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func watchStatus(members, servers int) string {
	return fmt.Sprintf("%d members in %d servers", members, servers)
}

// welcomeChannel picks where the join greeting goes: a channel named
// general, then the system channel, then the first text channel the bot can
// post in.
func welcomeChannel(g *discordgo.Guild, canSend func(channelID string) bool) string {
	var text []*discordgo.Channel
	for _, ch := range g.Channels {
		if ch != nil && ch.Type == discordgo.ChannelTypeGuildText {
			text = append(text, ch)
		}
	}
	sort.SliceStable(text, func(i, j int) bool { return text[i].Position < text[j].Position })

	for _, ch := range text {
		if strings.EqualFold(ch.Name, "general") && canSend(ch.ID) {
			return ch.ID
		}
	}
	if g.SystemChannelID != "" && canSend(g.SystemChannelID) {
		return g.SystemChannelID
	}
	for _, ch := range text {
		if canSend(ch.ID) {
			return ch.ID
		}
	}
	return ""
}

func welcomeEmbed(docsURL string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "👋 Thanks for adding me to your server!",
		Description: "I'm here to help with server management and moderation. " +
			"To get started, you'll need to set up your server's configuration.",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "📋 Getting Started",
				Value: "1. Use `pls config get` to see your current configuration\n" +
					"2. Edit the configuration as needed\n" +
					"3. Use `pls config set` with the updated file",
			},
			{
				Name:  "🔗 Need Help?",
				Value: "• [Documentation](" + docsURL + ")",
			},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Type 'pls help' to see all available commands"},
	}
}

func ownerWelcome(guildName string) string {
	return fmt.Sprintf("Thanks for adding me to **%s**! "+
		"I've sent a welcome message in the server. "+
		"Please make sure to set up your server's configuration using `pls config`.", guildName)
}
