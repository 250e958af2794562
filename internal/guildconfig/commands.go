package guildconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"worldmachine/internal/command"

	"github.com/bwmarrin/discordgo"
)

// maxUpload bounds the size of an uploaded configuration file.
const maxUpload = 256 << 10

// Fetcher downloads attachment contents.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, limit int64) ([]byte, error)
}

// Commands returns the administrator-only config command.
func Commands(svc *Service, fetcher Fetcher) []*command.Command {
	return []*command.Command{{
		Def: &discordgo.ApplicationCommand{
			Name:        "config",
			Description: "Show or manage server configuration",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "get",
					Description: "Get the current server configuration as a YAML file",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Update the server configuration from a YAML file",
					Options: []*discordgo.ApplicationCommandOption{{
						Type:        discordgo.ApplicationCommandOptionAttachment,
						Name:        "file",
						Description: "The edited config.yaml",
					}},
				},
			},
		},
		GuildOnly:  true,
		Permission: discordgo.PermissionAdministrator,
		// a bare "config" shows the current config
		PrefixParse: func(rest string, c *command.Context) error {
			if strings.TrimSpace(rest) == "" {
				c.Sub = "get"
				return nil
			}
			return command.ParsePrefix(configDef, rest, c)
		},
		Handler: func(c *command.Context) error {
			if c.Sub == "set" {
				return set(c, svc, fetcher)
			}
			return get(c, svc)
		},
	}}
}

var configDef = &discordgo.ApplicationCommand{
	Name: "config",
	Options: []*discordgo.ApplicationCommandOption{
		{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "get"},
		{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set", Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionAttachment, Name: "file"},
		}},
	},
}

func get(c *command.Context, svc *Service) error {
	cfg, err := svc.Get(c.Ctx, c.GuildID)
	if err != nil {
		return err
	}
	data, err := Template(cfg)
	if err != nil {
		return err
	}
	_, err = c.Send(&discordgo.MessageSend{
		Content: "Here's your server's configuration. Edit it and use `pls config set` to update.",
		Files: []*discordgo.File{{
			Name:        "config.yaml",
			ContentType: "application/x-yaml",
			Reader:      bytes.NewReader(data),
		}},
	}, true)
	return err
}

func set(c *command.Context, svc *Service, fetcher Fetcher) error {
	if len(c.Attachments) == 0 {
		return command.Fail("❌ Please attach a YAML configuration file.")
	}
	att := c.Attachments[0]
	name := strings.ToLower(att.Filename)
	if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
		return command.Fail("❌ Please upload a YAML file (.yaml or .yml).")
	}

	data, err := fetcher.Fetch(c.Ctx, att.URL, maxUpload)
	if err != nil {
		return command.Fail(fmt.Sprintf("❌ Error updating configuration: %v", err))
	}
	cfg, err := Parse(data)
	switch {
	case errors.Is(err, ErrNotMapping):
		return command.Fail("❌ Error updating configuration: Configuration must be a YAML dictionary")
	case err != nil:
		return command.Fail(fmt.Sprintf("❌ Error parsing YAML: %v", err))
	}
	if err := svc.Save(c.Ctx, c.GuildID, cfg); err != nil {
		return command.Fail(fmt.Sprintf("❌ Error updating configuration: %v", err))
	}
	return c.ReplyEphemeral("✅ Configuration updated successfully!")
}
