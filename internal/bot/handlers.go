package bot

import (
	"context"
	"errors"
	"sync"

	"worldmachine/internal/command"
	"worldmachine/internal/errs"
	"worldmachine/internal/messages"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// InteractionSession is the slice of *discordgo.Session used to answer
// slash commands.
type InteractionSession interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, opts ...discordgo.RequestOption) error
	InteractionResponse(interaction *discordgo.Interaction, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionResponseEdit(interaction *discordgo.Interaction, edit *discordgo.WebhookEdit, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, opts ...discordgo.RequestOption) (*discordgo.Message, error)
}

type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, opts ...discordgo.RequestOption) (*discordgo.Message, error)
}

// PermissionResolver computes a user's effective permissions in a channel.
type PermissionResolver interface {
	UserChannelPermissions(userID, channelID string) (int64, error)
}

// Dispatcher routes slash interactions and prefix messages to registered
// commands and turns their failures into replies.
type Dispatcher struct {
	registry *command.Registry
	catalog  *messages.Catalog
	perms    PermissionResolver
	logger   *zap.Logger
}

func NewDispatcher(registry *command.Registry, catalog *messages.Catalog, perms PermissionResolver, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, catalog: catalog, perms: perms, logger: logger}
}

// HandleInteraction runs the slash command named by i.
func (d *Dispatcher) HandleInteraction(ctx context.Context, session InteractionSession, i *discordgo.Interaction) {
	data := i.ApplicationCommandData()
	cmd, ok := d.registry.Lookup(data.Name)
	if !ok {
		d.logger.Warn("unknown slash command", zap.String("command", data.Name))
		return
	}
	c := command.NewContext(ctx, &interactionReplier{session: session, i: i})
	c.GuildID = i.GuildID
	c.ChannelID = i.ChannelID
	c.Interaction = i
	c.Member = i.Member
	c.Author = i.User
	if i.Member != nil && i.Member.User != nil {
		c.Author = i.Member.User
	}
	command.ParseInteraction(data, c)

	var perms int64
	if i.Member != nil {
		perms = i.Member.Permissions
	}
	d.run(cmd, c, perms)
}

// HandleMessage runs a prefix command when msg starts with one of the
// prefixes. It reports whether msg was a command.
func (d *Dispatcher) HandleMessage(ctx context.Context, session MessageSender, msg *discordgo.Message, prefixes ...string) bool {
	name, rest, ok := command.SplitInvocation(msg.Content, prefixes...)
	if !ok {
		return false
	}
	cmd, ok := d.registry.Lookup(name)
	if !ok {
		return false
	}

	c := command.NewContext(ctx, &messageReplier{session: session, channelID: msg.ChannelID})
	c.GuildID = msg.GuildID
	c.ChannelID = msg.ChannelID
	c.Message = msg
	c.Author = msg.Author
	c.Attachments = msg.Attachments
	if msg.Member != nil {
		member := *msg.Member
		member.User = msg.Author
		member.GuildID = msg.GuildID
		c.Member = &member
	}

	parse := cmd.PrefixParse
	if parse == nil {
		parse = func(rest string, c *command.Context) error { return command.ParsePrefix(cmd.Def, rest, c) }
	}
	if err := parse(rest, c); err != nil {
		var missing *command.ErrMissingArgument
		if !errors.Is(err, command.ErrQuotes) && !errors.As(err, &missing) {
			// an unknown subcommand reads as a missing one
			err = &command.ErrMissingArgument{Name: "subcommand"}
		}
		d.fail(cmd, c, err)
		return true
	}

	var perms int64
	if c.GuildID != "" && cmd.Permission != 0 && d.perms != nil {
		p, err := d.perms.UserChannelPermissions(msg.Author.ID, msg.ChannelID)
		if err != nil {
			d.logger.Warn("resolve permissions failed", zap.String("user_id", msg.Author.ID), zap.Error(err))
		}
		perms = p
	}
	d.run(cmd, c, perms)
	return true
}

func (d *Dispatcher) run(cmd *command.Command, c *command.Context, perms int64) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked",
				zap.String("command", cmd.Name()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			d.reply(c, d.catalog.Error("generic", nil), true)
		}
	}()

	if cmd.GuildOnly && c.GuildID == "" {
		d.reply(c, d.catalog.Error("servers_only", nil), true)
		return
	}
	if cmd.Permission != 0 && c.GuildID != "" && !hasPermission(perms, cmd.Permission) {
		d.reply(c, d.catalog.Error("missing_perms", nil), true)
		return
	}
	if err := cmd.Handler(c); err != nil {
		d.fail(cmd, c, err)
	}
}

func (d *Dispatcher) fail(cmd *command.Command, c *command.Context, err error) {
	if ue, ok := command.AsUserError(err); ok {
		d.reply(c, ue.Message, ue.Ephemeral)
		return
	}
	var missing *command.ErrMissingArgument
	switch {
	case errors.Is(err, command.ErrQuotes):
		d.reply(c, d.catalog.Error("quotes", nil), true)
	case errors.As(err, &missing):
		d.reply(c, d.catalog.Error("missing_required_argument", messages.Args{"argument": missing.Name}), true)
	case isMissingAccess(err):
		d.logger.Warn("command lacked discord permissions", zap.String("command", cmd.Name()), zap.String("guild_id", c.GuildID), zap.Error(err))
		d.reply(c, d.catalog.Error("missing_perms", nil), true)
	default:
		d.logger.Error("command failed",
			zap.String("command", cmd.Name()),
			zap.String("guild_id", c.GuildID),
			zap.String("user_id", c.AuthorID()),
			zap.Error(err),
			errs.Field(err),
		)
		d.reply(c, d.catalog.Error("generic", nil), true)
	}
}

func (d *Dispatcher) reply(c *command.Context, content string, ephemeral bool) {
	if _, err := c.Send(&discordgo.MessageSend{Content: content}, ephemeral); err != nil {
		d.logger.Warn("send reply failed", zap.String("channel_id", c.ChannelID), zap.Error(err))
	}
}

func hasPermission(perms, required int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 || perms&required == required
}

func isMissingAccess(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Message == nil {
		return false
	}
	return rest.Message.Code == discordgo.ErrCodeMissingPermissions || rest.Message.Code == discordgo.ErrCodeMissingAccess
}

// mentionPrefixes lets "@bot command" work like the text prefix.
func mentionPrefixes(botID string) []string {
	if botID == "" {
		return nil
	}
	return []string{"<@" + botID + ">", "<@!" + botID + ">"}
}

const (
	replyFresh = iota
	replyDeferred
	replyDone
)

// interactionReplier answers with the initial interaction response, then
// with followups. Defer after the first response is a no-op.
type interactionReplier struct {
	mu      sync.Mutex
	session InteractionSession
	i       *discordgo.Interaction
	state   int
}

func (r *interactionReplier) Defer(ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != replyFresh {
		return nil
	}
	err := r.session.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags(ephemeral)},
	})
	if err != nil {
		return errs.Wrap(err)
	}
	r.state = replyDeferred
	return nil
}

func (r *interactionReplier) Send(msg *discordgo.MessageSend, ephemeral bool) (*discordgo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case replyFresh:
		err := r.session.InteractionRespond(r.i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content:    msg.Content,
				Embeds:     msg.Embeds,
				Components: msg.Components,
				Files:      msg.Files,
				Flags:      flags(ephemeral),
			},
		})
		if err != nil {
			return nil, errs.Wrap(err)
		}
		r.state = replyDone
		sent, err := r.session.InteractionResponse(r.i)
		if err != nil {
			return &discordgo.Message{ChannelID: r.i.ChannelID}, nil
		}
		return sent, nil
	case replyDeferred:
		edit := &discordgo.WebhookEdit{Content: &msg.Content, Files: msg.Files}
		if len(msg.Embeds) > 0 {
			edit.Embeds = &msg.Embeds
		}
		if len(msg.Components) > 0 {
			edit.Components = &msg.Components
		}
		sent, err := r.session.InteractionResponseEdit(r.i, edit)
		if err != nil {
			return nil, errs.Wrap(err)
		}
		r.state = replyDone
		return sent, nil
	default:
		sent, err := r.session.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{
			Content:    msg.Content,
			Embeds:     msg.Embeds,
			Components: msg.Components,
			Files:      msg.Files,
			Flags:      flags(ephemeral),
		})
		return sent, errs.Wrap(err)
	}
}

func flags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

// messageReplier posts prefix command replies to the invoking channel.
// Ephemeral has no meaning there.
type messageReplier struct {
	session   MessageSender
	channelID string
}

func (r *messageReplier) Send(msg *discordgo.MessageSend, _ bool) (*discordgo.Message, error) {
	sent, err := r.session.ChannelMessageSendComplex(r.channelID, msg)
	return sent, errs.Wrap(err)
}

func (r *messageReplier) Defer(bool) error { return nil }
