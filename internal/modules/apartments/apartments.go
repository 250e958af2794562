// Package apartments gives members a personal voice channel that is created
// when they join the lobby and deleted once it empties.
package apartments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"worldmachine/internal/config"
	"worldmachine/internal/errs"
	"worldmachine/internal/guildconfig"
	"worldmachine/internal/schedule"

	"github.com/bwmarrin/discordgo"
	"github.com/enescakir/emoji"
	"go.uber.org/zap"
)

const (
	promptTimeout      = 60 * time.Second
	replyLifetime      = 10 * time.Second
	helpLifetime       = 60 * time.Second
	maxUserLimit       = 99
	maxNameLength      = 32
	shownBanned        = 5
	notConfiguredTitle = "⚠️ Apartment System Not Configured"
)

type Session interface {
	Guild(guildID string, opts ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildMember(guildID, userID string, opts ...discordgo.RequestOption) (*discordgo.Member, error)
	Channel(channelID string, opts ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, opts ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, opts ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, opts ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, opts ...discordgo.RequestOption) error
	ChannelPermissionDelete(channelID, targetID string, opts ...discordgo.RequestOption) error
	RequestWithBucketID(method, urlStr string, data interface{}, bucketID string, opts ...discordgo.RequestOption) ([]byte, error)
	GuildMemberMove(guildID string, userID string, channelID *string, opts ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, opts ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, opts ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, opts ...discordgo.RequestOption) error
	MessageReactionsRemoveAll(channelID, messageID string, opts ...discordgo.RequestOption) error
}

// Presence reports who sits in which voice channel. The gateway state
// cache serves it in production.
type Presence interface {
	VoiceStates(guildID string) []*discordgo.VoiceState
}

type Options struct {
	Session   Session
	Presence  Presence
	Configs   *guildconfig.Service
	Store     *Store
	Reactions *schedule.Waiter[*discordgo.MessageReactionAdd]
	Scheduler *schedule.Scheduler
	Colors    config.EmbedColors
	Logger    *zap.Logger
}

type Module struct {
	// mu guards store and every Settings it hands out.
	mu        sync.Mutex
	session   Session
	presence  Presence
	configs   *guildconfig.Service
	store     *Store
	reactions *schedule.Waiter[*discordgo.MessageReactionAdd]
	scheduler *schedule.Scheduler
	colors    config.EmbedColors
	logger    *zap.Logger
}

func New(opts Options) *Module {
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = schedule.NewScheduler(nil)
	}
	return &Module{
		session:   opts.Session,
		presence:  opts.Presence,
		configs:   opts.Configs,
		store:     opts.Store,
		reactions: opts.Reactions,
		scheduler: scheduler,
		colors:    opts.Colors.OrDefault(),
		logger:    opts.Logger,
	}
}

// OnVoiceStateUpdate handles lobby joins and apartment departures. The
// presence cache must already reflect the update.
func (m *Module) OnVoiceStateUpdate(ctx context.Context, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil {
		return
	}
	before := ""
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}
	after := v.ChannelID
	movedTo := ""
	if after != "" && after != before {
		movedTo = m.join(ctx, v.VoiceState)
	}
	// an owner bounced from the lobby back into their room has not left it
	if before != "" && before != after && before != movedTo {
		m.leave(v.GuildID, before)
	}
}

// join handles a lobby join and returns the apartment the member was moved
// into, if any.
func (m *Module) join(ctx context.Context, vs *discordgo.VoiceState) string {
	member := vs.Member
	if member == nil || member.User == nil {
		fetched, err := m.session.GuildMember(vs.GuildID, vs.UserID)
		if err != nil {
			m.logger.Warn("fetch joining member failed", zap.String("user_id", vs.UserID), zap.Error(err))
			return ""
		}
		member = fetched
	}
	if member.User.Bot {
		return ""
	}
	cfg, err := m.configs.Get(ctx, vs.GuildID)
	if err != nil {
		m.logger.Warn("load guild config failed", zap.String("guild_id", vs.GuildID), errs.Field(err))
		return ""
	}
	if cfg.ApartmentLobby == "" || vs.ChannelID != cfg.ApartmentLobby {
		return ""
	}
	if cfg.VoiceCategory == "" {
		m.notConfigured(ctx, vs.GuildID, member, cfg)
		m.move(vs.GuildID, member.User.ID, nil, "Apartment system not configured")
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	settings, ok := m.store.Get(vs.GuildID, member.User.ID)
	if ok && settings.ActiveChannelID != "" {
		if m.exists(vs.GuildID, settings.ActiveChannelID) {
			if err := m.move(vs.GuildID, member.User.ID, &settings.ActiveChannelID, "Moving to existing apartment"); err == nil {
				return settings.ActiveChannelID
			}
		}
		m.cleanup(settings)
	}
	if settings == nil {
		settings = m.store.GetOrCreate(vs.GuildID, member.User.ID)
	}

	channel, err := m.provision(member, cfg, settings)
	if err != nil {
		m.logger.Error("create apartment failed", zap.String("guild_id", vs.GuildID), zap.String("user_id", member.User.ID), errs.Field(err))
		return ""
	}
	if err := m.move(vs.GuildID, member.User.ID, &channel.ID, "Moving to new apartment room"); err != nil {
		m.dm(member.User.ID, "❌ Failed to move you to your apartment room. Please try again.")
		return ""
	}
	return channel.ID
}

func (m *Module) leave(guildID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings, ok := m.store.ByChannel(channelID)
	if !ok || settings.GuildID != guildID {
		return
	}
	if m.occupants(guildID, channelID) == 0 {
		m.cleanup(settings)
	}
}

func (m *Module) exists(guildID, channelID string) bool {
	ch, err := m.session.Channel(channelID)
	return err == nil && ch.GuildID == guildID && ch.Type == discordgo.ChannelTypeGuildVoice
}

// provision creates the voice channel for settings, marks it active and
// sends the welcome DM the first time.
func (m *Module) provision(member *discordgo.Member, cfg guildconfig.GuildConfig, settings *Settings) (*discordgo.Channel, error) {
	name := settings.Name
	if name == "" {
		name = member.User.Username + "'s Apartment"
	}
	channel, err := m.session.GuildChannelCreateComplex(settings.GuildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildVoice,
		ParentID:             cfg.VoiceCategory,
		UserLimit:            settings.UserLimit,
		PermissionOverwrites: overwrites(settings),
	}, discordgo.WithAuditLogReason("Apartment room for "+member.User.Username))
	if err != nil {
		return nil, errs.Wrap(err)
	}
	m.store.Activate(settings, channel.ID)

	if settings.InstructionMessageID == "" {
		if id := m.welcome(member.User.ID, channel.Name); id != "" {
			settings.InstructionMessageID = id
		}
	}
	m.store.Save()
	return channel, nil
}

func overwrites(settings *Settings) []*discordgo.PermissionOverwrite {
	var out []*discordgo.PermissionOverwrite
	for _, id := range sortedIDs(settings.Banned) {
		out = append(out, &discordgo.PermissionOverwrite{ID: string(id), Type: discordgo.PermissionOverwriteTypeMember, Deny: discordgo.PermissionVoiceConnect})
	}
	for _, id := range sortedIDs(settings.Allowed) {
		if _, banned := settings.Banned[string(id)]; banned {
			continue
		}
		out = append(out, &discordgo.PermissionOverwrite{ID: string(id), Type: discordgo.PermissionOverwriteTypeMember, Allow: discordgo.PermissionVoiceConnect})
	}
	return out
}

func (m *Module) welcome(userID, channelName string) string {
	embed := &discordgo.MessageEmbed{
		Title: emoji.House.String() + " Welcome to your Apartment Room",
		Description: "This is your personal space! You can customize it using these commands:\n\n" +
			"• `pls voice help` - Show all available commands\n" +
			"• `pls voice limit <number>` - Set user limit (0 for unlimited)\n" +
			"• `pls voice lock` - Lock/unlock your room\n" +
			"• `pls voice kick @user` - Kick a user\n" +
			"• `pls voice ban @user` - Ban/unban a user",
		Color:     m.colors.Info,
		Timestamp: m.scheduler.Clock().Now().UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: "Room: " + channelName},
	}
	dm, err := m.session.UserChannelCreate(userID)
	if err != nil {
		m.logger.Debug("open dm failed", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	msg, err := m.session.ChannelMessageSendEmbed(dm.ID, embed)
	if err != nil {
		m.logger.Debug("welcome dm failed", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return msg.ID
}

// cleanup deletes the apartment's channel and instruction DM. The rest of
// the settings are kept for next time.
func (m *Module) cleanup(settings *Settings) {
	if settings.InstructionMessageID != "" {
		if dm, err := m.session.UserChannelCreate(settings.UserID); err == nil {
			if err := m.session.ChannelMessageDelete(dm.ID, settings.InstructionMessageID); err != nil {
				m.logger.Debug("delete instruction message failed", zap.String("user_id", settings.UserID), zap.Error(err))
			}
		}
	}
	if settings.ActiveChannelID != "" {
		if _, err := m.session.ChannelDelete(settings.ActiveChannelID, discordgo.WithAuditLogReason("Apartment room empty")); err != nil {
			m.logger.Warn("delete apartment channel failed", zap.String("channel_id", settings.ActiveChannelID), zap.Error(err))
		}
	}
	m.store.Deactivate(settings)
	m.store.Save()
}

// notConfigured tells a lobby joiner the system is not set up and offers
// to ping staff.
func (m *Module) notConfigured(ctx context.Context, guildID string, member *discordgo.Member, cfg guildconfig.GuildConfig) {
	userID := member.User.ID
	dm, err := m.session.UserChannelCreate(userID)
	if err != nil {
		m.logger.Debug("open dm failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       notConfiguredTitle,
		Description: "The apartment system is not fully set up on this server.\n\nWould you like me to notify the server staff about this issue?",
		Color:       m.colors.Warning,
	}
	if len(cfg.StaffRoles) == 0 {
		embed.Description = "The apartment system is not fully set up on this server.\nPlease contact a server administrator."
		if _, err := m.session.ChannelMessageSendEmbed(dm.ID, embed); err != nil {
			m.logger.Debug("not configured dm failed", zap.String("user_id", userID), zap.Error(err))
		}
		return
	}

	prompt, err := m.session.ChannelMessageSendEmbed(dm.ID, embed)
	if err != nil {
		m.logger.Debug("not configured dm failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	yes, no := emoji.CheckMarkButton.String(), emoji.CrossMark.String()
	for _, e := range []string{yes, no} {
		if err := m.session.MessageReactionAdd(dm.ID, prompt.ID, e); err != nil {
			m.logger.Debug("add prompt reaction failed", zap.Error(err))
		}
	}
	defer func() {
		if err := m.session.MessageReactionsRemoveAll(dm.ID, prompt.ID); err != nil {
			m.logger.Debug("clear prompt reactions failed", zap.Error(err))
		}
	}()

	answer, err := m.reactions.Wait(ctx, promptTimeout, func(r *discordgo.MessageReactionAdd) bool {
		return r.UserID == userID && r.MessageID == prompt.ID && (r.Emoji.Name == yes || r.Emoji.Name == no)
	})
	if err != nil {
		if !errors.Is(err, schedule.ErrTimeout) {
			m.logger.Debug("wait for prompt reaction", zap.Error(err))
		}
		return
	}
	if answer.Emoji.Name != yes {
		return
	}

	notify := cfg.TossLogs
	if guild, err := m.session.Guild(guildID); err == nil && guild.SystemChannelID != "" {
		notify = guild.SystemChannelID
	}
	if notify == "" {
		m.sendDM(dm.ID, "❌ Could not find a suitable channel to notify staff.")
		return
	}
	mentions := make([]string, 0, len(cfg.StaffRoles))
	for _, role := range cfg.StaffRoles {
		mentions = append(mentions, "<@&"+role+">")
	}
	text := fmt.Sprintf("%s - <@%s> tried to use the apartment system but the voice category is not set up in the config.", strings.Join(mentions, " "), userID)
	if _, err := m.session.ChannelMessageSend(notify, text); err != nil {
		m.logger.Warn("notify staff failed", zap.String("channel_id", notify), zap.Error(err))
		m.sendDM(dm.ID, "❌ Could not find a suitable channel to notify staff.")
		return
	}
	m.sendDM(dm.ID, "✅ Staff have been notified about this issue.")
}

// move puts the member in channelID, or disconnects them when it is nil.
func (m *Module) move(guildID, userID string, channelID *string, reason string) error {
	err := m.session.GuildMemberMove(guildID, userID, channelID, discordgo.WithAuditLogReason(reason))
	if err != nil {
		m.logger.Warn("move member failed", zap.String("user_id", userID), zap.String("reason", reason), zap.Error(err))
	}
	return err
}

func (m *Module) occupants(guildID, channelID string) int {
	n := 0
	for _, vs := range m.presence.VoiceStates(guildID) {
		if vs.ChannelID == channelID {
			n++
		}
	}
	return n
}

func (m *Module) inChannel(guildID, userID, channelID string) bool {
	for _, vs := range m.presence.VoiceStates(guildID) {
		if vs.UserID == userID {
			return vs.ChannelID == channelID
		}
	}
	return false
}

func (m *Module) dm(userID, content string) {
	ch, err := m.session.UserChannelCreate(userID)
	if err != nil {
		m.logger.Debug("open dm failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	m.sendDM(ch.ID, content)
}

func (m *Module) sendDM(channelID, content string) {
	if _, err := m.session.ChannelMessageSend(channelID, content); err != nil {
		m.logger.Debug("dm failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}
