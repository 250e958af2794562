package slowmode

import (
	"fmt"

	"worldmachine/internal/command"
	"worldmachine/internal/errs"
	"worldmachine/internal/guildconfig"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	staffOnly  = "❌ This command is restricted to staff members only."
	notEnabled = "❌ Auto slowmode is not enabled in this channel."
)

func (m *Module) Commands() []*command.Command {
	sensitivity := func(required bool, description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{Name: "sensitivity", Description: description, Type: discordgo.ApplicationCommandOptionNumber, Required: required}
	}
	return []*command.Command{{
		Def: &discordgo.ApplicationCommand{
			Name:        "slowmode",
			Description: "Manage auto slowmode settings for this channel (Staff only)",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "add", Description: "Enable auto slowmode for this channel", Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{sensitivity(false, "Sensitivity level (1.0-10.0, default: 5.0)")}},
				{Name: "remove", Description: "Disable auto slowmode for this channel", Type: discordgo.ApplicationCommandOptionSubCommand},
				{Name: "set", Description: "Set the sensitivity for auto slowmode in this channel", Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{sensitivity(true, "New sensitivity level (1.0-10.0)")}},
				{Name: "status", Description: "Show the current auto slowmode status for this channel", Type: discordgo.ApplicationCommandOptionSubCommand},
			},
		},
		GuildOnly:  true,
		Permission: discordgo.PermissionManageChannels,
		Handler:    m.slowmode,
	}}
}

func (m *Module) slowmode(c *command.Context) error {
	if err := m.staff(c); err != nil {
		return err
	}
	switch c.Sub {
	case "add":
		return m.add(c)
	case "remove":
		return m.remove(c)
	case "set":
		return m.set(c)
	case "status":
		return m.status(c)
	}
	return &command.ErrMissingArgument{Name: "subcommand"}
}

func (m *Module) staff(c *command.Context) error {
	guild, err := m.session.Guild(c.GuildID)
	if err != nil {
		return errs.Wrap(err)
	}
	cfg, err := m.configs.Get(c.Ctx, c.GuildID)
	if err != nil {
		m.logger.Warn("load guild config failed, using defaults", zap.String("guild_id", c.GuildID), errs.Field(err))
	}
	if !guildconfig.IsStaff(guild.OwnerID, c.Member, cfg) {
		return command.Fail(staffOnly)
	}
	return nil
}

func (m *Module) add(c *command.Context) error {
	raw, err := c.FloatArg("sensitivity", DefaultSensitivity)
	if err != nil {
		return err
	}
	sensitivity := clampSensitivity(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[c.ChannelID]; ok {
		ch.Enabled = true
		ch.Sensitivity = sensitivity
		m.save()
		return c.ReplyEphemeral(fmt.Sprintf("✅ Updated auto slowmode settings for this channel.\nSensitivity: %.3f", sensitivity))
	}
	m.channels[c.ChannelID] = newChannel(c.ChannelID, sensitivity)
	m.save()
	return c.ReplyEphemeral(fmt.Sprintf("✅ Enabled auto slowmode for this channel.\nSensitivity: %.3f\nMin/Max: %d/%ds\nCache Size: %d",
		sensitivity, MinDelay, MaxDelay, CacheSize))
}

func (m *Module) remove(c *command.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[c.ChannelID]
	if !ok {
		return command.Fail(notEnabled)
	}
	if !ch.Enabled {
		return command.Fail("❌ Auto slowmode is already disabled in this channel.")
	}
	ch.Enabled = false
	ch.LastSlowmode = 0
	m.save()
	if err := m.setDelay(c.ChannelID, 0); err != nil {
		m.logger.Warn("reset slowmode failed", zap.String("channel_id", c.ChannelID), errs.Field(err))
		return c.ReplyEphemeral(fmt.Sprintf("✅ Disabled auto slowmode, but failed to reset slowmode: %v", err))
	}
	return c.ReplyEphemeral("✅ Disabled auto slowmode for this channel and reset slowmode to 0s.")
}

func (m *Module) set(c *command.Context) error {
	if !c.Has("sensitivity") {
		return &command.ErrMissingArgument{Name: "sensitivity"}
	}
	raw, err := c.FloatArg("sensitivity", DefaultSensitivity)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[c.ChannelID]
	if !ok || !ch.Enabled {
		return command.Fail("❌ Auto slowmode is not enabled in this channel. Use `pls slowmode add` first.")
	}
	ch.Sensitivity = clampSensitivity(raw)
	m.save()
	return c.ReplyEphemeral(fmt.Sprintf("✅ Set auto slowmode sensitivity to %.3f for this channel.", ch.Sensitivity))
}

func (m *Module) status(c *command.Context) error {
	ch, ok := m.Get(c.ChannelID)
	if !ok {
		return command.Fail(notEnabled)
	}
	current := ch.LastSlowmode
	if live, err := m.session.Channel(c.ChannelID); err == nil {
		current = live.RateLimitPerUser
	}
	return c.ReplyEmbedEphemeral(StatusEmbed(ch, current, m.colors.Info))
}

func StatusEmbed(ch Channel, current, color int) *discordgo.MessageEmbed {
	state := "🟢 Enabled"
	if !ch.Enabled {
		state = "🔴 Disabled"
	}
	return &discordgo.MessageEmbed{
		Title: "Auto Slowmode Status",
		Description: fmt.Sprintf("**Status:** %s\n**Sensitivity:** %.3f\n**Current Slowmode:** %ds\n**Min/Max:** %ds/%ds\n**Cache Size:** %d",
			state, ch.Sensitivity, current, MinDelay, MaxDelay, CacheSize),
		Color: color,
	}
}
