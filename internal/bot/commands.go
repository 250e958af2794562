package bot

import (
	"errors"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type CommandAPI interface {
	ApplicationCommands(appID, guildID string, opts ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandCreate(appID, guildID string, cmd *discordgo.ApplicationCommand, opts ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandEdit(appID, guildID, cmdID string, cmd *discordgo.ApplicationCommand, opts ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string, opts ...discordgo.RequestOption) error
}

func (b *Bot) registerCommands() error {
	appID := b.botID()
	if appID == "" {
		return errors.New("register commands: session has no user")
	}

	state := b.session.State
	state.RLock()
	guildIDs := make([]string, 0, len(state.Guilds))
	for _, g := range state.Guilds {
		if g != nil {
			guildIDs = append(guildIDs, g.ID)
		}
	}
	state.RUnlock()

	return syncCommands(b.session, appID, guildIDs, b.registry.Definitions(), b.logger)
}

// syncCommands makes the global slash commands match commands, editing the
// ones already registered, and drops stale global and per guild leftovers.
func syncCommands(api CommandAPI, appID string, guildIDs []string, commands []*discordgo.ApplicationCommand, logger *zap.Logger) error {
	existing, err := api.ApplicationCommands(appID, "")
	if err != nil {
		logger.Warn("list commands failed, creating all", zap.Error(err))
		for _, cmd := range commands {
			if _, err := api.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{}, len(commands))
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := api.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := api.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		if err := api.ApplicationCommandDelete(appID, "", cmd.ID); err != nil {
			logger.Debug("delete stale command failed", zap.String("command", cmd.Name), zap.Error(err))
		}
	}

	for _, guildID := range guildIDs {
		guildCmds, err := api.ApplicationCommands(appID, guildID)
		if err != nil {
			continue
		}
		for _, cmd := range guildCmds {
			if _, ok := desired[cmd.Name]; ok {
				continue
			}
			_ = api.ApplicationCommandDelete(appID, guildID, cmd.ID)
		}
	}
	logger.Info("slash commands synced", zap.Int("count", len(commands)))
	return nil
}
