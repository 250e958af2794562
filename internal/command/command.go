// Package command adapts slash interactions and prefix messages into one
// invocation shape so modules can declare a single handler per command.
package command

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

type Handler func(*Context) error

type Command struct {
	Def *discordgo.ApplicationCommand
	// GuildOnly rejects use in DMs.
	GuildOnly bool
	// Permission is a member permission bit required to run the command.
	Permission int64
	Handler    Handler
	// Aliases are extra prefix names.
	Aliases []string
	// PrefixParse replaces ParsePrefix for commands whose prefix form
	// cannot be read positionally.
	PrefixParse func(rest string, c *Context) error
}

func (c *Command) Name() string { return c.Def.Name }

// UserError carries a reply for the invoking user, not a failure to log.
type UserError struct {
	Message   string
	Ephemeral bool
}

func (e *UserError) Error() string { return e.Message }

// Fail builds an ephemeral user-facing error.
func Fail(message string) error {
	return &UserError{Message: message, Ephemeral: true}
}

// FailPublic builds a user-facing error shown to the whole channel.
func FailPublic(message string) error {
	return &UserError{Message: message}
}

func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// Replier delivers responses for one invocation.
type Replier interface {
	Send(msg *discordgo.MessageSend, ephemeral bool) (*discordgo.Message, error)
	Defer(ephemeral bool) error
}

type Context struct {
	Ctx       context.Context
	GuildID   string
	ChannelID string
	Author    *discordgo.User
	Member    *discordgo.Member
	// Interaction is set for slash invocations, Message for prefix ones.
	Interaction *discordgo.Interaction
	Message     *discordgo.Message
	// Sub is the selected subcommand, empty when the command has none.
	Sub         string
	Args        map[string]string
	Attachments []*discordgo.MessageAttachment

	replier Replier
}

func NewContext(ctx context.Context, replier Replier) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{Ctx: ctx, Args: map[string]string{}, replier: replier}
}

func (c *Context) IsSlash() bool { return c.Interaction != nil }

func (c *Context) AuthorID() string {
	if c.Author == nil {
		return ""
	}
	return c.Author.ID
}

func (c *Context) Reply(content string) error {
	_, err := c.replier.Send(&discordgo.MessageSend{Content: content}, false)
	return err
}

func (c *Context) ReplyEphemeral(content string) error {
	_, err := c.replier.Send(&discordgo.MessageSend{Content: content}, true)
	return err
}

func (c *Context) ReplyEmbed(embeds ...*discordgo.MessageEmbed) error {
	_, err := c.replier.Send(&discordgo.MessageSend{Embeds: embeds}, false)
	return err
}

func (c *Context) ReplyEmbedEphemeral(embeds ...*discordgo.MessageEmbed) error {
	_, err := c.replier.Send(&discordgo.MessageSend{Embeds: embeds}, true)
	return err
}

func (c *Context) Send(msg *discordgo.MessageSend, ephemeral bool) (*discordgo.Message, error) {
	return c.replier.Send(msg, ephemeral)
}

// Defer acknowledges a slash interaction ahead of slow work. It is a no-op
// for prefix invocations.
func (c *Context) Defer(ephemeral bool) error {
	return c.replier.Defer(ephemeral)
}

func (c *Context) Arg(name string) string {
	return strings.TrimSpace(c.Args[name])
}

func (c *Context) Has(name string) bool {
	_, ok := c.Args[name]
	return ok && c.Arg(name) != ""
}

func (c *Context) IntArg(name string, fallback int) (int, error) {
	raw := c.Arg(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, Fail("❌ `" + name + "` must be a whole number.")
	}
	return n, nil
}

func (c *Context) FloatArg(name string, fallback float64) (float64, error) {
	raw := c.Arg(name)
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, Fail("❌ `" + name + "` must be a number.")
	}
	return f, nil
}

func (c *Context) BoolArg(name string) bool {
	switch strings.ToLower(c.Arg(name)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// UserArg returns the user id in a mention or raw id argument.
func (c *Context) UserArg(name string) string { return ParseID(c.Arg(name), "<@", "<@!") }

func (c *Context) ChannelArg(name string) string { return ParseID(c.Arg(name), "<#") }

func (c *Context) RoleArg(name string) string { return ParseID(c.Arg(name), "<@&") }

// ParseID strips a mention wrapper and validates a snowflake.
func ParseID(raw string, prefixes ...string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasSuffix(raw, ">") {
		inner := strings.TrimSuffix(raw, ">")
		// longest prefix first so <@! and <@& win over <@
		best := ""
		for _, p := range prefixes {
			if strings.HasPrefix(inner, p) && len(p) > len(best) {
				best = p
			}
		}
		if best == "" {
			return ""
		}
		raw = strings.TrimPrefix(inner, best)
	}
	if raw == "" {
		return ""
	}
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		return ""
	}
	return raw
}
