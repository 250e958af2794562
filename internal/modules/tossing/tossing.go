// Package tossing moves disruptive members into a private channel and
// gives their roles back on release.
package tossing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"worldmachine/internal/command"
	"worldmachine/internal/config"
	"worldmachine/internal/errs"
	"worldmachine/internal/guildconfig"
	"worldmachine/internal/messages"
	"worldmachine/internal/schedule"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	MaxChannels     = 25
	TossedRole      = "Tossed"
	confirmTimeout  = 30 * time.Second
	tossedReaction  = "🚯"
	releaseReaction = "✅"
)

type Session interface {
	Guild(guildID string, opts ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildChannels(guildID string, opts ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildMember(guildID, userID string, opts ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, opts ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, opts ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildRoleCreate(guildID string, data *discordgo.RoleParams, opts ...discordgo.RequestOption) (*discordgo.Role, error)
	GuildMemberEdit(guildID, userID string, data *discordgo.GuildMemberParams, opts ...discordgo.RequestOption) (*discordgo.Member, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, opts ...discordgo.RequestOption) error
}

type Options struct {
	Session  Session
	Configs  *guildconfig.Service
	Catalog  *messages.Catalog
	Messages *schedule.Waiter[*discordgo.MessageCreate]
	Clock    schedule.Clock
	Managers []string
	Colors   config.EmbedColors
	// BotID returns the bot's own user id once the gateway is ready.
	BotID  func() string
	Logger *zap.Logger
}

type Module struct {
	session  Session
	configs  *guildconfig.Service
	catalog  *messages.Catalog
	messages *schedule.Waiter[*discordgo.MessageCreate]
	clock    schedule.Clock
	managers []string
	colors   config.EmbedColors
	botID    func() string
	tossed   *Registry
	logger   *zap.Logger
}

func New(opts Options) *Module {
	clock := opts.Clock
	if clock == nil {
		clock = schedule.RealClock()
	}
	return &Module{
		session:  opts.Session,
		configs:  opts.Configs,
		catalog:  opts.Catalog,
		messages: opts.Messages,
		clock:    clock,
		managers: opts.Managers,
		colors:   opts.Colors.OrDefault(),
		botID:    opts.BotID,
		tossed:   NewRegistry(),
		logger:   opts.Logger,
	}
}

func (m *Module) Tossed() *Registry { return m.tossed }

func (m *Module) Commands() []*command.Command {
	return []*command.Command{
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "toss",
				Description: "Toss a user into a private channel",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "member", Description: "The member to toss (ID or mention)", Type: discordgo.ApplicationCommandOptionUser, Required: true},
					{Name: "reason", Description: "Reason for tossing the user (optional)", Type: discordgo.ApplicationCommandOptionString},
				},
			},
			GuildOnly: true,
			Handler:   m.toss,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "untoss",
				Description: "Untoss a user",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "member", Description: "The member to untoss", Type: discordgo.ApplicationCommandOptionUser, Required: true},
					{Name: "reason", Description: "Reason for untossing the user (optional)", Type: discordgo.ApplicationCommandOptionString},
				},
			},
			GuildOnly: true,
			Handler:   m.untoss,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "close",
				Description: "Close the current toss channel",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "reason", Description: "Reason for closing the channel (optional)", Type: discordgo.ApplicationCommandOptionString},
				},
			},
			GuildOnly: true,
			Handler:   m.close,
		},
	}
}

type env struct {
	guild *discordgo.Guild
	cfg   guildconfig.GuildConfig
}

func (m *Module) staff(c *command.Context) (env, error) {
	if c.GuildID == "" {
		return env{}, command.Fail(m.catalog.Error("servers_only", nil))
	}
	guild, err := m.session.Guild(c.GuildID)
	if err != nil {
		return env{}, errs.Wrap(err)
	}
	cfg, err := m.configs.Get(c.Ctx, c.GuildID)
	if err != nil {
		m.logger.Warn("load guild config failed, using defaults", zap.String("guild_id", c.GuildID), errs.Field(err))
	}
	if !guildconfig.IsStaff(guild.OwnerID, c.Member, cfg) {
		return env{}, command.Fail(m.catalog.Error("missing_role", nil))
	}
	return env{guild: guild, cfg: cfg}, nil
}

func (m *Module) member(c *command.Context) (*discordgo.Member, error) {
	id := c.UserArg("member")
	if id == "" {
		return nil, command.Fail(m.catalog.Error("member_not_found", nil))
	}
	member, err := m.session.GuildMember(c.GuildID, id)
	if err != nil {
		return nil, command.Fail(m.catalog.Error("member_not_found", nil))
	}
	return member, nil
}

func (m *Module) toss(c *command.Context) error {
	e, err := m.staff(c)
	if err != nil {
		return err
	}
	target, err := m.member(c)
	if err != nil {
		return err
	}
	userID := target.User.ID
	if _, ok := m.tossed.Get(c.GuildID, userID); ok {
		return command.Fail(m.catalog.Error("already_tossed", messages.Args{"user": "<@" + userID + ">"}))
	}
	if ok, reason := guildconfig.CanModerate(e.guild.OwnerID, c.Member, target, e.cfg, m.managers); !ok {
		return command.Fail(m.catalog.Error("protection_denied", messages.Args{"reason": reason}))
	}
	if guildconfig.ProtectionLevel(e.guild.OwnerID, target, e.cfg, m.managers) == guildconfig.LevelStaff {
		if err := m.confirm(c); err != nil {
			return err
		}
	}

	if e.cfg.TossCategory == "" {
		return command.Fail(m.catalog.Error("toss_category_not_configured", nil))
	}
	channels, err := m.session.GuildChannels(c.GuildID)
	if err != nil {
		return errs.Wrap(err)
	}
	if !slices.ContainsFunc(channels, func(ch *discordgo.Channel) bool {
		return ch.ID == e.cfg.TossCategory && ch.Type == discordgo.ChannelTypeGuildCategory
	}) {
		return command.Fail("❌ Could not find the toss category.")
	}
	inCategory := 0
	for _, ch := range channels {
		if ch.ParentID == e.cfg.TossCategory {
			inCategory++
		}
	}
	if inCategory >= MaxChannels {
		return command.Fail(m.catalog.Error("max_channels", nil))
	}

	if !m.tossed.Reserve(c.GuildID, userID) {
		return command.Fail(m.catalog.Error("already_tossed", messages.Args{"user": "<@" + userID + ">"}))
	}
	if err := c.Defer(true); err != nil {
		m.tossed.Remove(c.GuildID, userID)
		return err
	}
	channel, saved, err := m.isolate(c, e, target)
	if err != nil {
		m.tossed.Remove(c.GuildID, userID)
		m.logger.Error("toss failed", zap.String("guild_id", c.GuildID), zap.String("user_id", userID), errs.Field(err))
		return command.Fail(m.catalog.Error("generic", nil))
	}
	m.tossed.Set(c.GuildID, userID, Entry{ChannelID: channel.ID, Roles: saved})

	m.logTo(e.cfg.TossLogs, tossedEmbed(tossDetails{
		member:      target,
		moderatorID: c.AuthorID(),
		reason:      c.Arg("reason"),
		channel:     channel,
		roles:       saved,
		guildName:   e.guild.Name,
	}, m.colors.Warning, m.clock.Now()))

	if c.Message != nil {
		m.react(c.ChannelID, c.Message.ID, tossedReaction)
		return nil
	}
	return c.ReplyEphemeral(fmt.Sprintf("%s Tossed <@%s> into <#%s>", tossedReaction, userID, channel.ID))
}

// confirm asks the moderator to type yes or no before a staff member is
// tossed.
func (m *Module) confirm(c *command.Context) error {
	if err := c.Reply(m.catalog.Error("confirm_moderate_staff", nil)); err != nil {
		return err
	}
	reply, err := m.messages.Wait(c.Ctx, confirmTimeout, func(msg *discordgo.MessageCreate) bool {
		if msg.Author == nil || msg.Author.ID != c.AuthorID() || msg.ChannelID != c.ChannelID {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(msg.Content))
		return answer == "yes" || answer == "no"
	})
	if errors.Is(err, schedule.ErrTimeout) {
		return command.Fail("Confirmation timed out. Please try again.")
	}
	if err != nil {
		return errs.Wrap(err)
	}
	if strings.ToLower(strings.TrimSpace(reply.Content)) != "yes" {
		return command.Fail("Action cancelled.")
	}
	return nil
}

// isolate creates the toss channel and swaps the member's roles for the
// Tossed role. A failure part way through is rolled back.
func (m *Module) isolate(c *command.Context, e env, target *discordgo.Member) (*discordgo.Channel, []string, error) {
	tossedRole, err := m.ensureTossedRole(c.GuildID, e.guild.Roles)
	if err != nil {
		return nil, nil, err
	}

	channel, err := m.session.GuildChannelCreateComplex(c.GuildID, discordgo.GuildChannelCreateData{
		Name:                 "toss-" + strings.ToLower(target.User.Username),
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             e.cfg.TossCategory,
		PermissionOverwrites: m.overwrites(e.guild, target.User.ID),
	}, discordgo.WithAuditLogReason("Toss channel for "+target.User.Username))
	if err != nil {
		return nil, nil, errs.Wrap(err)
	}

	var saved []string
	for _, id := range target.Roles {
		if id != e.guild.ID && id != tossedRole.ID {
			saved = append(saved, id)
		}
	}
	roles := []string{tossedRole.ID}
	if _, err := m.session.GuildMemberEdit(c.GuildID, target.User.ID, &discordgo.GuildMemberParams{Roles: &roles}); err != nil {
		if _, delErr := m.session.ChannelDelete(channel.ID); delErr != nil {
			m.logger.Warn("delete toss channel after failure", zap.String("channel_id", channel.ID), zap.Error(delErr))
		}
		return nil, nil, errs.Wrap(err)
	}
	return channel, saved, nil
}

func (m *Module) ensureTossedRole(guildID string, roles []*discordgo.Role) (*discordgo.Role, error) {
	for _, role := range roles {
		if role.Name == TossedRole {
			return role, nil
		}
	}
	role, err := m.session.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: TossedRole}, discordgo.WithAuditLogReason("Tossed role for tossed users"))
	return role, errs.Wrap(err)
}

const viewSend = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages

func (m *Module) overwrites(guild *discordgo.Guild, userID string) []*discordgo.PermissionOverwrite {
	out := []*discordgo.PermissionOverwrite{
		{ID: guild.ID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: userID, Type: discordgo.PermissionOverwriteTypeMember, Allow: viewSend | discordgo.PermissionReadMessageHistory},
	}
	if m.botID != nil && m.botID() != "" {
		out = append(out, &discordgo.PermissionOverwrite{ID: m.botID(), Type: discordgo.PermissionOverwriteTypeMember, Allow: viewSend | discordgo.PermissionManageChannels})
	}
	for _, role := range guild.Roles {
		if role.ID != guild.ID && role.Permissions&discordgo.PermissionManageRoles != 0 {
			out = append(out, &discordgo.PermissionOverwrite{ID: role.ID, Type: discordgo.PermissionOverwriteTypeRole, Allow: viewSend})
		}
	}
	return out
}

func (m *Module) untoss(c *command.Context) error {
	e, err := m.staff(c)
	if err != nil {
		return err
	}
	target, err := m.member(c)
	if err != nil {
		return err
	}
	entry, ok := m.tossed.Get(c.GuildID, target.User.ID)
	if !ok {
		return command.Fail(m.catalog.Error("not_tossed", messages.Args{"user": "<@" + target.User.ID + ">"}))
	}
	return m.release(c, e, target, entry)
}

func (m *Module) close(c *command.Context) error {
	e, err := m.staff(c)
	if err != nil {
		return err
	}
	userID, entry, ok := m.tossed.ByChannel(c.GuildID, c.ChannelID)
	if !ok {
		return command.Fail(m.catalog.Error("not_toss_channel", nil))
	}
	target, err := m.session.GuildMember(c.GuildID, userID)
	if err != nil {
		return command.Fail(m.catalog.Error("not_toss_channel", nil))
	}
	if guildconfig.IsStaff(e.guild.OwnerID, target, e.cfg) {
		return command.Fail(m.catalog.Error("staff_protected", nil))
	}
	return m.release(c, e, target, entry)
}

func (m *Module) release(c *command.Context, e env, target *discordgo.Member, entry Entry) error {
	userID := target.User.ID
	roles := append([]string{}, entry.Roles...)
	if _, err := m.session.GuildMemberEdit(c.GuildID, userID, &discordgo.GuildMemberParams{Roles: &roles}); err != nil {
		return errs.Wrap(err)
	}
	m.logTo(e.cfg.TossLogs, releasedEmbed(target.User, c.AuthorID(), c.Arg("reason"), entry.ChannelID, e.guild.Name, m.colors.Success, m.clock.Now()))
	if c.Message != nil && c.ChannelID != entry.ChannelID {
		m.react(c.ChannelID, c.Message.ID, releaseReaction)
	}

	moderator := c.AuthorID()
	if c.Author != nil {
		moderator = c.Author.Username
	}
	if _, err := m.session.ChannelDelete(entry.ChannelID, discordgo.WithAuditLogReason("Toss channel closed by "+moderator)); err != nil {
		m.logger.Warn("delete toss channel failed", zap.String("channel_id", entry.ChannelID), zap.Error(err))
	}
	m.tossed.Remove(c.GuildID, userID)

	if c.ChannelID == entry.ChannelID {
		return nil
	}
	return c.ReplyEphemeral(fmt.Sprintf("Successfully released <@%s>", userID))
}

// OnMemberRemove cleans up after a tossed member leaves the guild.
func (m *Module) OnMemberRemove(_ context.Context, guildID, userID string) {
	entry, ok := m.tossed.Get(guildID, userID)
	if !ok {
		return
	}
	if entry.ChannelID != "" {
		if _, err := m.session.ChannelDelete(entry.ChannelID, discordgo.WithAuditLogReason("Tossed user left the server")); err != nil {
			m.logger.Warn("delete toss channel failed", zap.String("channel_id", entry.ChannelID), zap.Error(err))
		}
	}
	m.tossed.Remove(guildID, userID)
}

func (m *Module) logTo(channelID string, embed *discordgo.MessageEmbed) {
	if channelID == "" {
		m.logger.Warn("toss logs channel not configured", zap.String("event", embed.Title))
		return
	}
	if _, err := m.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		m.logger.Warn("send toss log failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (m *Module) react(channelID, messageID, emoji string) {
	if err := m.session.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		m.logger.Debug("add reaction failed", zap.Error(err))
	}
}
