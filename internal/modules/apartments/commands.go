package apartments

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"worldmachine/internal/command"
	"worldmachine/internal/errs"

	"github.com/bwmarrin/discordgo"
	"github.com/enescakir/emoji"
	"go.uber.org/zap"
)

const (
	noApartment = "You don't have an active apartment room."
	notActive   = "Your apartment room is not currently active."
	notFound    = "Could not find your apartment room."
)

func (m *Module) Commands() []*command.Command {
	sub := func(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{Name: name, Description: description, Type: discordgo.ApplicationCommandOptionSubCommand, Options: options}
	}
	return []*command.Command{{
		Def: &discordgo.ApplicationCommand{
			Name:        "voice",
			Description: "Apartment room management commands",
			Options: []*discordgo.ApplicationCommandOption{
				sub("limit", "Set the user limit for your apartment room",
					&discordgo.ApplicationCommandOption{Name: "limit", Description: "Maximum number of users (0 for unlimited)", Type: discordgo.ApplicationCommandOptionInteger, Required: true}),
				sub("lock", "Lock your apartment room (sets user limit to 1)"),
				sub("unlock", "Unlock your apartment room (sets user limit to 0 for unlimited)"),
				sub("kick", "Kick a user from your apartment room",
					&discordgo.ApplicationCommandOption{Name: "member", Description: "The user to kick from your room", Type: discordgo.ApplicationCommandOptionUser, Required: true}),
				sub("ban", "Ban or unban a user from your apartment room",
					&discordgo.ApplicationCommandOption{Name: "member", Description: "The user to ban from your room", Type: discordgo.ApplicationCommandOptionUser, Required: true}),
				sub("name", "Rename your apartment room",
					&discordgo.ApplicationCommandOption{Name: "new_name", Description: "The new name for your apartment", Type: discordgo.ApplicationCommandOptionString, Required: true}),
				sub("help", "Show help for apartment room commands"),
			},
		},
		Handler: m.voice,
	}}
}

func (m *Module) voice(c *command.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch c.Sub {
	case "limit":
		return m.limit(c)
	case "lock":
		return m.setLock(c, true)
	case "unlock":
		return m.setLock(c, false)
	case "kick":
		return m.kick(c)
	case "ban":
		return m.ban(c)
	case "name":
		return m.rename(c)
	default:
		return m.help(c)
	}
}

// owned finds the invoker's apartment, in the current guild or any guild
// from DMs.
func (m *Module) owned(c *command.Context) (*Settings, bool) {
	if c.GuildID == "" {
		return m.store.Owned(c.AuthorID())
	}
	return m.store.Get(c.GuildID, c.AuthorID())
}

// active returns the live channel of the invoker's apartment.
func (m *Module) active(settings *Settings) (*discordgo.Channel, error) {
	if settings.ActiveChannelID == "" {
		return nil, command.Fail(notActive)
	}
	ch, err := m.session.Channel(settings.ActiveChannelID)
	if err != nil || ch.Type != discordgo.ChannelTypeGuildVoice {
		return nil, command.Fail(notFound)
	}
	return ch, nil
}

func (m *Module) reply(c *command.Context, content string) error {
	msg, err := c.Send(&discordgo.MessageSend{Content: content}, true)
	if err != nil {
		return err
	}
	m.deleteLater(c, msg, replyLifetime)
	return nil
}

// deleteLater removes a prefix reply once it has been read.
func (m *Module) deleteLater(c *command.Context, msg *discordgo.Message, after time.Duration) {
	if c.IsSlash() || c.GuildID == "" || msg == nil || msg.ID == "" {
		return
	}
	channelID := msg.ChannelID
	if channelID == "" {
		channelID = c.ChannelID
	}
	m.scheduler.After("apartment-reply:"+msg.ID, after, func() {
		_ = m.session.ChannelMessageDelete(channelID, msg.ID)
	})
}

// setLimit writes user_limit directly since ChannelEdit drops a zero limit.
func (m *Module) setLimit(channelID string, limit int) error {
	endpoint := discordgo.EndpointChannel(channelID)
	_, err := m.session.RequestWithBucketID(http.MethodPatch, endpoint, map[string]int{"user_limit": limit}, endpoint)
	return errs.Wrap(err)
}

func limitText(limit int) string {
	if limit <= 0 {
		return "unlimited"
	}
	return fmt.Sprint(limit)
}

func (m *Module) limit(c *command.Context) error {
	settings, ok := m.owned(c)
	if !ok {
		return command.Fail(noApartment)
	}
	limit, err := c.IntArg("limit", -1)
	if err != nil {
		return err
	}
	if limit < 0 || limit > maxUserLimit {
		return command.Fail("User limit must be between 0 and 99 (0 for unlimited).")
	}
	ch, err := m.active(settings)
	if err != nil {
		return err
	}
	if err := m.setLimit(ch.ID, limit); err != nil {
		m.logger.Warn("set apartment limit failed", zap.String("channel_id", ch.ID), errs.Field(err))
		return command.Fail("An error occurred while updating the user limit.")
	}
	settings.UserLimit = limit
	m.store.Save()
	return m.reply(c, "✅ User limit set to "+limitText(limit))
}

func (m *Module) setLock(c *command.Context, locked bool) error {
	settings, ok := m.owned(c)
	if !ok {
		return command.Fail(noApartment)
	}
	ch, err := m.active(settings)
	if err != nil {
		return err
	}
	limit := 0
	if locked {
		limit = 1
	}
	if err := m.setLimit(ch.ID, limit); err != nil {
		m.logger.Warn("lock apartment failed", zap.String("channel_id", ch.ID), zap.Bool("locked", locked), errs.Field(err))
		if locked {
			return command.Fail("An error occurred while locking your room.")
		}
		return command.Fail("An error occurred while unlocking your room.")
	}
	settings.Locked = locked
	settings.UserLimit = limit
	m.store.Save()
	if locked {
		return m.reply(c, emoji.Locked.String()+" Your apartment room is now locked (user limit set to 1).")
	}
	return m.reply(c, emoji.Unlocked.String()+" Your apartment room is now unlocked (user limit set to unlimited).")
}

func (m *Module) kick(c *command.Context) error {
	settings, ok := m.owned(c)
	if !ok {
		return command.Fail(noApartment)
	}
	target := c.UserArg("member")
	if target == "" {
		return command.Fail("That user is not in your apartment room.")
	}
	if target == c.AuthorID() {
		return command.Fail("You can't kick yourself!")
	}
	ch, err := m.active(settings)
	if err != nil {
		return err
	}
	if !m.inChannel(settings.GuildID, target, ch.ID) {
		return command.Fail("That user is not in your apartment room.")
	}
	if err := m.move(settings.GuildID, target, nil, "Kicked by "+authorName(c)); err != nil {
		return command.Fail("An error occurred while trying to kick the user.")
	}
	return m.reply(c, fmt.Sprintf("✅ Kicked <@%s> from your apartment room.", target))
}

func (m *Module) ban(c *command.Context) error {
	settings, ok := m.owned(c)
	if !ok {
		return command.Fail(noApartment)
	}
	target := c.UserArg("member")
	if target == "" {
		return command.Fail("An error occurred while trying to update the ban list.")
	}
	if target == c.AuthorID() {
		return command.Fail("You can't ban yourself!")
	}

	_, banned := settings.Banned[target]
	action := "banned from"
	if banned {
		delete(settings.Banned, target)
		action = "unbanned from"
	} else {
		settings.Banned[target] = struct{}{}
	}
	m.store.Save()

	if settings.ActiveChannelID != "" {
		m.applyBan(settings.ActiveChannelID, target, !banned)
		if !banned && m.inChannel(settings.GuildID, target, settings.ActiveChannelID) {
			m.move(settings.GuildID, target, nil, "Banned from apartment by "+authorName(c))
		}
	}
	return m.reply(c, fmt.Sprintf("✅ <@%s> has been %s your apartment room.", target, action))
}

// applyBan keeps the live channel's connect overwrite in step with the ban
// list.
func (m *Module) applyBan(channelID, userID string, banned bool) {
	var err error
	if banned {
		err = m.session.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, 0, discordgo.PermissionVoiceConnect)
	} else {
		err = m.session.ChannelPermissionDelete(channelID, userID)
	}
	if err != nil {
		m.logger.Warn("update apartment overwrite failed", zap.String("channel_id", channelID), zap.String("user_id", userID), zap.Error(err))
	}
}

func (m *Module) rename(c *command.Context) error {
	settings, ok := m.owned(c)
	if !ok {
		return command.Fail(noApartment)
	}
	name := c.Arg("new_name")
	if name == "" {
		return &command.ErrMissingArgument{Name: "new_name"}
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return command.Fail("Apartment name must be 32 characters or less.")
	}
	ch, err := m.active(settings)
	if err != nil {
		return err
	}
	if _, err := m.session.ChannelEdit(ch.ID, &discordgo.ChannelEdit{Name: name}); err != nil {
		m.logger.Warn("rename apartment failed", zap.String("channel_id", ch.ID), zap.Error(err))
		return command.Fail("An error occurred while renaming your apartment.")
	}
	settings.Name = name
	m.store.Save()
	return m.reply(c, "✅ Apartment renamed to: "+name)
}

func (m *Module) help(c *command.Context) error {
	settings, ok := m.store.ByChannel(c.ChannelID)
	if !ok {
		if settings, ok = m.owned(c); !ok {
			return command.Fail(noApartment)
		}
	}
	msg, err := c.Send(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{HelpEmbed(settings, m.colors.Info)}}, true)
	if err != nil {
		return err
	}
	m.deleteLater(c, msg, helpLifetime)
	return nil
}

// HelpEmbed lists the voice commands with the room's current state.
func HelpEmbed(settings *Settings, color int) *discordgo.MessageEmbed {
	limit := limitText(settings.UserLimit)
	status := []string{
		"👥 User limit: " + limit,
		"🔒 Status: Unlocked",
	}
	if settings.Locked {
		status[1] = "🔒 Status: Locked"
	}
	if n := len(settings.Banned); n > 0 {
		var banned string
		if n <= shownBanned {
			mentions := make([]string, 0, n)
			for _, id := range sortedIDs(settings.Banned) {
				mentions = append(mentions, "<@"+string(id)+">")
			}
			banned = strings.Join(mentions, ", ")
		} else {
			banned = fmt.Sprintf("%d users", n)
		}
		status = append(status, "🚫 Banned users: "+banned)
	}
	return &discordgo.MessageEmbed{
		Title: emoji.House.String() + " Apartment Room Commands",
		Description: "Manage your personal apartment room with these commands:\n\n" +
			"• `pls voice help` - Show this help message\n" +
			"• `pls voice limit <number>` - Set user limit (0 for unlimited, current: " + limit + ")\n" +
			"• `pls voice lock` - Lock room (sets user limit to 1)\n" +
			"• `pls voice unlock` - Unlock room (sets user limit to 0 for unlimited)\n" +
			"• `pls voice name <name>` - Rename your apartment room\n" +
			"• `pls voice kick @user` - Kick a user from your room\n" +
			"• `pls voice ban @user` - Ban/unban a user from your room",
		Color:  color,
		Fields: []*discordgo.MessageEmbedField{{Name: "Room Status", Value: strings.Join(status, "\n")}},
	}
}

func authorName(c *command.Context) string {
	if c.Author == nil {
		return "owner"
	}
	return c.Author.Username
}
