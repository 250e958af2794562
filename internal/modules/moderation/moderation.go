// Package moderation implements the staff moderation commands.
package moderation

import (
	"context"
	"errors"
	"net/http"
	"time"

	"worldmachine/internal/command"
	"worldmachine/internal/errs"
	"worldmachine/internal/guildconfig"
	"worldmachine/internal/messages"
	"worldmachine/internal/modules/modlog"
	"worldmachine/internal/schedule"
	"worldmachine/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Session is the slice of *discordgo.Session the moderation commands use.
type Session interface {
	Guild(guildID string, opts ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildRoles(guildID string, opts ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMember(guildID, userID string, opts ...discordgo.RequestOption) (*discordgo.Member, error)
	User(userID string, opts ...discordgo.RequestOption) (*discordgo.User, error)
	GuildBan(guildID, userID string, opts ...discordgo.RequestOption) (*discordgo.GuildBan, error)
	GuildBanCreateWithReason(guildID, userID, reason string, days int, opts ...discordgo.RequestOption) error
	GuildBanDelete(guildID, userID string, opts ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, opts ...discordgo.RequestOption) error
	GuildMemberTimeout(guildID, userID string, until *time.Time, opts ...discordgo.RequestOption) error
	GuildMemberRoleAdd(guildID, userID, roleID string, opts ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, opts ...discordgo.RequestOption) error
	GuildMemberNickname(guildID, userID, nickname string, opts ...discordgo.RequestOption) error
	ChannelMessageSend(channelID, content string, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, opts ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, opts ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessagesBulkDelete(channelID string, messages []string, opts ...discordgo.RequestOption) error
}

type TempBanStore interface {
	AddTempBan(ctx context.Context, ban storage.TempBan) error
	RemoveTempBan(ctx context.Context, guildID, userID string) error
	ListTempBans(ctx context.Context) ([]storage.TempBan, error)
}

type Options struct {
	Session       Session
	Configs       *guildconfig.Service
	TempBans      TempBanStore
	ModLog        *modlog.Logger
	Catalog       *messages.Catalog
	Scheduler     *schedule.Scheduler
	Managers      []string
	PurgeCooldown time.Duration
	Logger        *zap.Logger
}

type Module struct {
	session   Session
	configs   *guildconfig.Service
	tempBans  TempBanStore
	modlog    *modlog.Logger
	catalog   *messages.Catalog
	scheduler *schedule.Scheduler
	managers  []string
	purge     *command.Cooldown
	logger    *zap.Logger
}

func New(opts Options) *Module {
	cooldown := opts.PurgeCooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = schedule.NewScheduler(nil)
	}
	return &Module{
		session:   opts.Session,
		configs:   opts.Configs,
		tempBans:  opts.TempBans,
		modlog:    opts.ModLog,
		catalog:   opts.Catalog,
		scheduler: scheduler,
		managers:  opts.Managers,
		purge:     command.NewCooldown(cooldown),
		logger:    opts.Logger,
	}
}

func (m *Module) now() time.Time { return m.scheduler.Clock().Now() }

// env is what every moderation handler needs to know about the guild.
type env struct {
	ownerID string
	roles   []*discordgo.Role
	cfg     guildconfig.GuildConfig
}

func (e env) isOwner(userID string) bool { return userID == e.ownerID }

// staff loads the guild and rejects members who are not staff.
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
	roles := guild.Roles
	if len(roles) == 0 {
		if roles, err = m.session.GuildRoles(c.GuildID); err != nil {
			return env{}, errs.Wrap(err)
		}
	}
	return env{ownerID: guild.OwnerID, roles: roles, cfg: cfg}, nil
}

// target resolves a user argument to a guild member.
func (m *Module) target(c *command.Context, name string) (*discordgo.Member, error) {
	id := c.UserArg(name)
	if id == "" {
		return nil, command.Fail(m.catalog.Error("member_not_found", nil))
	}
	member, err := m.session.GuildMember(c.GuildID, id)
	if err != nil {
		if notFound(err) {
			return nil, command.Fail(m.catalog.Error("member_not_found", nil))
		}
		return nil, errs.Wrap(err)
	}
	return member, nil
}

func (m *Module) log(c *command.Context, action string, target *discordgo.User, reason, duration string, length time.Duration) {
	if m.modlog == nil {
		return
	}
	m.modlog.Log(c.Ctx, modlog.Entry{
		GuildID:   c.GuildID,
		Action:    action,
		Target:    target,
		Moderator: c.Author,
		Reason:    reason,
		Duration:  duration,
		Length:    length,
	})
}

// deleteLater removes a prefix confirmation after a few seconds.
func (m *Module) deleteLater(c *command.Context, msg *discordgo.Message) {
	if c.IsSlash() || msg == nil || msg.ID == "" {
		return
	}
	channelID := msg.ChannelID
	if channelID == "" {
		channelID = c.ChannelID
	}
	m.scheduler.After("delete:"+msg.ID, 5*time.Second, func() {
		_ = m.session.ChannelMessageDelete(channelID, msg.ID)
	})
}

func restStatus(err error) int {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode
	}
	return 0
}

func notFound(err error) bool { return restStatus(err) == http.StatusNotFound }

// forbidden maps a 403 from Discord to the given reply and wraps anything
// else.
func forbidden(err error, reply string) error {
	if restStatus(err) == http.StatusForbidden {
		return command.Fail(reply)
	}
	return errs.Wrap(err)
}

func withReason(s, reason string) string {
	if reason != "" {
		return s + " for: " + reason
	}
	return s
}

func mention(id string) string { return "<@" + id + ">" }
