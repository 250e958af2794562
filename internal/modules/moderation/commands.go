package moderation

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"worldmachine/internal/command"
	"worldmachine/internal/errs"
	"worldmachine/internal/guildconfig"
	"worldmachine/internal/messages"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	maxNickname  = 32
	bulkMaxAge   = 14 * 24 * time.Hour
	invalidMute  = "Invalid duration! Please use format like 1h, 30m, 1d, etc. (max 28d)"
	invalidBan   = "Invalid duration! Please use format like 1h, 30m, 1d, 1w."
	invalidUser  = "❌ Invalid user ID. Please provide a valid user ID."
	roleNotFound = "❌ Role not found."
)

func (m *Module) Commands() []*command.Command {
	minAmount, maxAmount := 1.0, 100.0
	userOpt := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{Name: "user", Description: desc, Type: discordgo.ApplicationCommandOptionUser, Required: true}
	}
	reasonOpt := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{Name: "reason", Description: desc, Type: discordgo.ApplicationCommandOptionString}
	}
	return []*command.Command{
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "ban",
				Description: "Ban a user from the server",
				Options: []*discordgo.ApplicationCommandOption{
					userOpt("The user to ban"),
					{Name: "duration", Description: "Duration (e.g., 1d, 2h, 30m, 1w)", Type: discordgo.ApplicationCommandOptionString},
					reasonOpt("Reason for the ban"),
				},
			},
			GuildOnly: true,
			Handler:   m.ban,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "unban",
				Description: "Unban a user from the server",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "user_id", Description: "The ID of the user to unban (required)", Type: discordgo.ApplicationCommandOptionString, Required: true},
					reasonOpt("Reason for the unban"),
				},
			},
			GuildOnly: true,
			Handler:   m.unban,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "kick",
				Description: "Kick a user from the server",
				Options:     []*discordgo.ApplicationCommandOption{userOpt("The user to kick"), reasonOpt("Reason for the kick")},
			},
			GuildOnly: true,
			Handler:   m.kick,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "mute",
				Description: "Timeout a user",
				Options: []*discordgo.ApplicationCommandOption{
					userOpt("The user to timeout"),
					{Name: "duration", Description: "Duration (e.g., 1d, 2h, 30m)", Type: discordgo.ApplicationCommandOptionString, Required: true},
					reasonOpt("Reason for the timeout"),
				},
			},
			GuildOnly: true,
			Handler:   m.mute,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "unmute",
				Description: "Unmute a user",
				Options:     []*discordgo.ApplicationCommandOption{userOpt("The member to unmute (ID or mention)"), reasonOpt("Reason for unmuting")},
			},
			GuildOnly: true,
			Handler:   m.unmute,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "addrole",
				Description: "Add a role to a user",
				Options: []*discordgo.ApplicationCommandOption{
					userOpt("The user to add the role to"),
					{Name: "role", Description: "The role to add", Type: discordgo.ApplicationCommandOptionRole, Required: true},
				},
			},
			GuildOnly: true,
			Handler:   m.addRole,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "removerole",
				Description: "Remove a role from a user",
				Options: []*discordgo.ApplicationCommandOption{
					userOpt("The user to remove the role from"),
					{Name: "role", Description: "The role to remove", Type: discordgo.ApplicationCommandOptionRole, Required: true},
				},
			},
			GuildOnly: true,
			Handler:   m.removeRole,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "nickname",
				Description: "Change a user's nickname.",
				Options: []*discordgo.ApplicationCommandOption{
					userOpt("The user to change the nickname of (ID or mention)"),
					{Name: "nickname", Description: "The new nickname (leave empty to remove)", Type: discordgo.ApplicationCommandOptionString},
				},
			},
			GuildOnly:  true,
			Permission: discordgo.PermissionManageNicknames,
			Handler:    m.nickname,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "say",
				Description: "Make the bot say something",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "message", Description: "The message to send", Type: discordgo.ApplicationCommandOptionString, Required: true},
					{Name: "channel", Description: "The channel to send the message to (mention or ID)", Type: discordgo.ApplicationCommandOptionChannel, ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText}},
				},
			},
			GuildOnly:   true,
			Handler:     m.say,
			PrefixParse: parseSay,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "purge",
				Description: "Delete a specified number of messages in the current channel",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "amount", Description: "Number of messages to delete (1-100)", Type: discordgo.ApplicationCommandOptionInteger, Required: true, MinValue: &minAmount, MaxValue: maxAmount},
				},
			},
			GuildOnly:  true,
			Permission: discordgo.PermissionManageMessages,
			Handler:    m.purgeMessages,
		},
	}
}

// guardTarget applies the self and role hierarchy checks shared by ban,
// kick and mute.
func guardTarget(c *command.Context, e env, target *discordgo.Member, verb string) error {
	if target.User.ID == c.AuthorID() {
		return command.Fail(fmt.Sprintf("You cannot %s yourself!", verb))
	}
	if !guildconfig.OutranksTarget(e.ownerID, e.roles, c.Member, target) {
		return command.Fail(fmt.Sprintf("You cannot %s someone with an equal or higher role!", verb))
	}
	return nil
}

func auditReason(reason string) []discordgo.RequestOption {
	if reason == "" {
		return nil
	}
	return []discordgo.RequestOption{discordgo.WithAuditLogReason(reason)}
}

func (m *Module) ban(c *command.Context) error {
	e, err := m.staff(c)
	if err != nil {
		return err
	}
	target, err := m.target(c, "user")
	if err != nil {
		return err
	}
	if err := guardTarget(c, e, target, "ban"); err != nil {
		return err
	}

	rawDuration, reason := c.Arg("duration"), c.Arg("reason")
	label := "Permanent"
	var length time.Duration
	if rawDuration != "" {
		d, ok := ParseDuration(rawDuration)
		switch {
		case ok:
			length, label = d, rawDuration
		case c.IsSlash():
			return command.Fail(invalidBan)
		default:
			// "pls ban @user spamming links" has no duration, only a reason
			reason = strings.TrimSpace(rawDuration + " " + reason)
		}
	}

	if err := m.session.GuildBanCreateWithReason(c.GuildID, target.User.ID, reason, 0); err != nil {
		return forbidden(err, "I don't have permission to ban this user!")
	}
	if err := c.ReplyEphemeral(withReason(fmt.Sprintf("✅ Banned %s for %s", mention(target.User.ID), label), reason)); err != nil {
		return err
	}
	m.log(c, "banned", target.User, reason, label, length)
	if length > 0 {
		m.scheduleUnban(c.Ctx, c.GuildID, target.User.ID, m.now().Add(length))
	}
	return nil
}

func (m *Module) unban(c *command.Context) error {
	if _, err := m.staff(c); err != nil {
		return err
	}
	id := command.ParseID(c.Arg("user_id"), "<@", "<@!")
	if id == "" {
		return command.Fail(invalidUser)
	}
	user, err := m.session.User(id)
	if err != nil {
		return command.Fail(invalidUser)
	}
	if _, err := m.session.GuildBan(c.GuildID, id); err != nil {
		if notFound(err) {
			return command.Fail(fmt.Sprintf("❌ %s is not banned.", user.Username))
		}
		return forbidden(err, "I don't have permission to unban users!")
	}

	reason := c.Arg("reason")
	if err := m.session.GuildBanDelete(c.GuildID, id, auditReason(reason)...); err != nil {
		return forbidden(err, "I don't have permission to unban users!")
	}
	m.forgetTempBan(c.Ctx, c.GuildID, id)
	if err := c.ReplyEphemeral(withReason("✅ Unbanned "+mention(id), reason)); err != nil {
		return err
	}
	m.log(c, "unbanned", user, reason, "", 0)
	return nil
}

func (m *Module) kick(c *command.Context) error {
	e, err := m.staff(c)
	if err != nil {
		return err
	}
	target, err := m.target(c, "user")
	if err != nil {
		return err
	}
	if err := guardTarget(c, e, target, "kick"); err != nil {
		return err
	}
	reason := c.Arg("reason")
	if err := m.session.GuildMemberDeleteWithReason(c.GuildID, target.User.ID, reason); err != nil {
		return forbidden(err, "I don't have permission to kick this user!")
	}
	if err := c.ReplyEphemeral(withReason("✅ Kicked "+mention(target.User.ID), reason)); err != nil {
		return err
	}
	m.log(c, "kicked", target.User, reason, "", 0)
	return nil
}

func (m *Module) mute(c *command.Context) error {
	e, err := m.staff(c)
	if err != nil {
		return err
	}
	target, err := m.target(c, "user")
	if err != nil {
		return err
	}
	if err := guardTarget(c, e, target, "mute"); err != nil {
		return err
	}
	raw := c.Arg("duration")
	d, ok := ParseDuration(raw)
	if !ok || d > MaxTimeout {
		return command.Fail(invalidMute)
	}

	reason := c.Arg("reason")
	until := m.now().Add(d)
	if err := m.session.GuildMemberTimeout(c.GuildID, target.User.ID, &until, auditReason(reason)...); err != nil {
		return forbidden(err, "I don't have permission to mute this user!")
	}
	if err := c.ReplyEphemeral(withReason(fmt.Sprintf("✅ Muted %s for %s", mention(target.User.ID), raw), reason)); err != nil {
		return err
	}
	m.log(c, "muted", target.User, reason, raw, d)
	return nil
}

// unmute removes the configured mute role and clears any active timeout.
func (m *Module) unmute(c *command.Context) error {
	e, err := m.staff(c)
	if err != nil {
		return err
	}
	target, err := m.target(c, "user")
	if err != nil {
		return err
	}
	if e.cfg.MuteRole == "" {
		return command.Fail("❌ Mute role is not configured for this server.")
	}
	if findRole(e.roles, e.cfg.MuteRole) == nil {
		return command.Fail("❌ Mute role not found. Please check the server configuration.")
	}
	hasRole := slices.Contains(target.Roles, e.cfg.MuteRole)
	timedOut := target.CommunicationDisabledUntil != nil && target.CommunicationDisabledUntil.After(m.now())
	if !hasRole && !timedOut {
		return command.Fail(fmt.Sprintf("❌ %s is not muted.", mention(target.User.ID)))
	}

	reason := c.Arg("reason")
	if hasRole {
		if err := m.session.GuildMemberRoleRemove(c.GuildID, target.User.ID, e.cfg.MuteRole, auditReason(reason)...); err != nil {
			return forbidden(err, "I don't have permission to unmute this user!")
		}
	}
	if timedOut {
		if err := m.session.GuildMemberTimeout(c.GuildID, target.User.ID, nil, auditReason(reason)...); err != nil {
			return forbidden(err, "I don't have permission to unmute this user!")
		}
	}
	if err := c.ReplyEphemeral(withReason("✅ Unmuted "+mention(target.User.ID), reason)); err != nil {
		return err
	}
	m.log(c, "unmuted", target.User, reason, "", 0)
	return nil
}

func (m *Module) roleChange(c *command.Context) (env, *discordgo.Member, *discordgo.Role, bool, error) {
	e, err := m.staff(c)
	if err != nil {
		return env{}, nil, nil, false, err
	}
	target, err := m.target(c, "user")
	if err != nil {
		return env{}, nil, nil, false, err
	}
	role := findRole(e.roles, c.RoleArg("role"))
	if role == nil {
		return env{}, nil, nil, false, command.Fail(roleNotFound)
	}
	allowed := e.isOwner(c.AuthorID()) || role.Position < guildconfig.TopRolePosition(e.roles, c.Member)
	return e, target, role, allowed, nil
}

func (m *Module) addRole(c *command.Context) error {
	_, target, role, allowed, err := m.roleChange(c)
	if err != nil {
		return err
	}
	if !allowed {
		return command.Fail("You cannot add a role that is higher than or equal to your highest role!")
	}
	if slices.Contains(target.Roles, role.ID) {
		return command.Fail(fmt.Sprintf("%s already has the <@&%s> role!", mention(target.User.ID), role.ID))
	}
	if err := m.session.GuildMemberRoleAdd(c.GuildID, target.User.ID, role.ID, auditReason("Added by "+c.Author.Username)...); err != nil {
		return forbidden(err, "I don't have permission to add that role!")
	}
	if err := c.ReplyEphemeral(fmt.Sprintf("✅ Added role '%s' to %s", role.Name, mention(target.User.ID))); err != nil {
		return err
	}
	m.log(c, "role added", target.User, "Role: "+role.Name, "", 0)
	return nil
}

func (m *Module) removeRole(c *command.Context) error {
	_, target, role, allowed, err := m.roleChange(c)
	if err != nil {
		return err
	}
	if !allowed {
		return command.Fail(m.catalog.Error("missing_perms", nil))
	}
	if !slices.Contains(target.Roles, role.ID) {
		return command.Fail(m.catalog.Error("missing_role", nil))
	}
	if err := m.session.GuildMemberRoleRemove(c.GuildID, target.User.ID, role.ID, auditReason("Removed by "+c.Author.Username)...); err != nil {
		return forbidden(err, m.catalog.Error("missing_perms", nil))
	}
	if err := c.ReplyEphemeral(fmt.Sprintf("✅ Removed role '%s' from %s", role.Name, mention(target.User.ID))); err != nil {
		return err
	}
	m.log(c, "role removed", target.User, "Role: "+role.Name, "", 0)
	return nil
}

func (m *Module) nickname(c *command.Context) error {
	e, err := m.staff(c)
	if err != nil {
		return err
	}
	target, err := m.target(c, "user")
	if err != nil {
		return err
	}
	if ok, reason := guildconfig.CanModerate(e.ownerID, c.Member, target, e.cfg, m.managers); !ok {
		return command.Fail(m.catalog.Error("protection_denied", messages.Args{"reason": reason}))
	}
	nick := c.Arg("nickname")
	if utf8.RuneCountInString(nick) > maxNickname {
		return command.Fail("Nickname must be 32 characters or less.")
	}
	if err := m.session.GuildMemberNickname(c.GuildID, target.User.ID, nick); err != nil {
		return forbidden(err, "I don't have permission to change that user's nickname!")
	}
	action := "removed"
	if nick != "" {
		action = fmt.Sprintf("changed to '%s'", nick)
	}
	return c.ReplyEphemeral(fmt.Sprintf("✅ Nickname %s for %s", action, mention(target.User.ID)))
}

// parseSay reads "[#channel] message" where the channel is only taken when
// the first word is a channel mention.
func parseSay(rest string, c *command.Context) error {
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "<#") {
		first, remainder := rest, ""
		if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
			first, remainder = rest[:i], rest[i:]
		}
		if id := command.ParseID(first, "<#"); id != "" {
			c.Args["channel"] = id
			rest = strings.TrimSpace(remainder)
		}
	}
	if rest == "" {
		return &command.ErrMissingArgument{Name: "message"}
	}
	c.Args["message"] = rest
	return nil
}

func (m *Module) say(c *command.Context) error {
	if _, err := m.staff(c); err != nil {
		return err
	}
	channelID := c.ChannelArg("channel")
	if channelID == "" {
		channelID = c.ChannelID
	}
	text := c.Arg("message")
	if text == "" {
		return &command.ErrMissingArgument{Name: "message"}
	}
	if c.Message != nil {
		if err := m.session.ChannelMessageDelete(c.ChannelID, c.Message.ID); err != nil {
			m.logger.Debug("delete say invocation failed", zap.Error(err))
		}
	}
	if _, err := m.session.ChannelMessageSend(channelID, text); err != nil {
		return forbidden(err, "I don't have permission to send messages there!")
	}
	if !c.IsSlash() && channelID == c.ChannelID {
		return nil
	}
	msg, err := c.Send(&discordgo.MessageSend{Content: fmt.Sprintf("✅ Message sent to <#%s>", channelID)}, true)
	if err != nil {
		return err
	}
	m.deleteLater(c, msg)
	return nil
}

func (m *Module) purgeMessages(c *command.Context) error {
	if _, err := m.staff(c); err != nil {
		return err
	}
	if left, ok := m.purge.Take(c.AuthorID()); !ok {
		return command.Fail(m.catalog.Error("cooldown", messages.Args{"time": int(left.Seconds())}))
	}
	amount, err := c.IntArg("amount", 0)
	if err != nil {
		return err
	}
	amount = max(1, min(100, amount))
	if err := c.Defer(true); err != nil {
		return err
	}

	before := ""
	if c.Message != nil {
		before = c.Message.ID
		if err := m.session.ChannelMessageDelete(c.ChannelID, c.Message.ID); err != nil {
			m.logger.Debug("delete purge invocation failed", zap.Error(err))
		}
	}
	history, err := m.session.ChannelMessages(c.ChannelID, amount, before, "", "")
	if err != nil {
		return forbidden(err, "I don't have permission to delete messages in this channel!")
	}
	deleted, err := m.deleteMessages(c.ChannelID, history)
	if err != nil {
		return forbidden(err, "I don't have permission to delete messages in this channel!")
	}

	msg, err := c.Send(&discordgo.MessageSend{Content: fmt.Sprintf("Deleted %d messages.", deleted)}, c.IsSlash())
	if err != nil {
		return err
	}
	m.deleteLater(c, msg)
	return nil
}

// deleteMessages bulk deletes what Discord allows and removes messages
// older than two weeks one by one.
func (m *Module) deleteMessages(channelID string, history []*discordgo.Message) (int, error) {
	cutoff := m.now().Add(-bulkMaxAge)
	var recent, old []string
	for _, msg := range history {
		ts, err := discordgo.SnowflakeTimestamp(msg.ID)
		if err == nil && ts.Before(cutoff) {
			old = append(old, msg.ID)
		} else {
			recent = append(recent, msg.ID)
		}
	}

	deleted := 0
	switch len(recent) {
	case 0:
	case 1:
		old = append(old, recent[0])
	default:
		if err := m.session.ChannelMessagesBulkDelete(channelID, recent); err != nil {
			return 0, errs.Wrap(err)
		}
		deleted += len(recent)
	}
	for _, id := range old {
		if err := m.session.ChannelMessageDelete(channelID, id); err != nil {
			if deleted == 0 {
				return 0, errs.Wrap(err)
			}
			m.logger.Debug("delete old message failed", zap.String("message_id", id), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}

func findRole(roles []*discordgo.Role, id string) *discordgo.Role {
	if id == "" {
		return nil
	}
	for _, role := range roles {
		if role.ID == id {
			return role
		}
	}
	return nil
}
