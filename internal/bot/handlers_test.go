package bot

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"worldmachine/internal/command"
	"worldmachine/internal/messages"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMessage struct {
	channelID string
	msg       *discordgo.MessageSend
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{channelID: channelID, msg: data})
	return &discordgo.Message{ID: "m1", ChannelID: channelID, Content: data.Content}, nil
}

func (f *fakeSender) contents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.msg.Content)
	}
	return out
}

type fixedPerms int64

func (p fixedPerms) UserChannelPermissions(string, string) (int64, error) { return int64(p), nil }

func testCatalog() *messages.Catalog {
	return messages.New(messages.WithRand(rand.New(rand.NewSource(1))))
}

// requireVariant checks got is one of the formatted variants of an error key.
func requireVariant(t *testing.T, catalog *messages.Catalog, key, got string, args messages.Args) {
	t.Helper()
	var want []string
	for _, v := range catalog.Variants(messages.Errors, key) {
		want = append(want, messages.Format(v, args))
	}
	require.NotEmpty(t, want, key)
	assert.Contains(t, want, got)
}

func testDispatcher(perms PermissionResolver, cmds ...*command.Command) (*Dispatcher, *messages.Catalog) {
	registry := command.NewRegistry()
	registry.Add(cmds...)
	catalog := testCatalog()
	return NewDispatcher(registry, catalog, perms, zap.NewNop()), catalog
}

func echoCommand() *command.Command {
	return &command.Command{
		Def: &discordgo.ApplicationCommand{
			Name:        "echo",
			Description: "Echo text",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "text", Description: "Text", Required: true},
			},
		},
		Aliases: []string{"say"},
		Handler: func(c *command.Context) error { return c.Reply(c.Arg("text")) },
	}
}

func failing(name string, err error) *command.Command {
	return &command.Command{
		Def:     &discordgo.ApplicationCommand{Name: name, Description: name},
		Handler: func(*command.Context) error { return err },
	}
}

func guildMessage(content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "100",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   content,
		Author:    &discordgo.User{ID: "7", Username: "kip"},
		Member:    &discordgo.Member{Nick: "Kip"},
	}
}

func TestHandleMessageRunsCommand(t *testing.T) {
	d, _ := testDispatcher(nil, echoCommand())
	sender := &fakeSender{}

	assert.True(t, d.HandleMessage(context.Background(), sender, guildMessage("pls echo hello there"), "pls "))
	assert.True(t, d.HandleMessage(context.Background(), sender, guildMessage("PLS say again"), "pls "))
	assert.True(t, d.HandleMessage(context.Background(), sender, guildMessage("<@42> echo mention"), append([]string{"pls "}, mentionPrefixes("42")...)...))
	assert.Equal(t, []string{"hello there", "again", "mention"}, sender.contents())
	assert.Equal(t, "c1", sender.sent[0].channelID)
}

func TestHandleMessageIgnoresOtherText(t *testing.T) {
	d, _ := testDispatcher(nil, echoCommand())
	sender := &fakeSender{}

	assert.False(t, d.HandleMessage(context.Background(), sender, guildMessage("hello world"), "pls "))
	assert.False(t, d.HandleMessage(context.Background(), sender, guildMessage("pls nothing"), "pls "))
	assert.False(t, d.HandleMessage(context.Background(), sender, guildMessage("pls"), "pls "))
	assert.Empty(t, sender.sent)
}

func TestHandleMessageArgumentErrors(t *testing.T) {
	sub := &command.Command{
		Def: &discordgo.ApplicationCommand{
			Name:        "cfg",
			Description: "cfg",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "get", Description: "get"},
			},
		},
		Handler: func(c *command.Context) error { return c.Reply("ok") },
	}
	d, catalog := testDispatcher(nil, echoCommand(), sub)
	sender := &fakeSender{}

	d.HandleMessage(context.Background(), sender, guildMessage("pls echo"), "pls ")
	d.HandleMessage(context.Background(), sender, guildMessage(`pls echo "open`), "pls ")
	d.HandleMessage(context.Background(), sender, guildMessage("pls cfg nope"), "pls ")

	got := sender.contents()
	require.Len(t, got, 3)
	requireVariant(t, catalog, "missing_required_argument", got[0], messages.Args{"argument": "text"})
	requireVariant(t, catalog, "quotes", got[1], nil)
	requireVariant(t, catalog, "missing_required_argument", got[2], messages.Args{"argument": "subcommand"})
}

func TestGuildOnlyAndPermissions(t *testing.T) {
	guarded := &command.Command{
		Def:        &discordgo.ApplicationCommand{Name: "nuke", Description: "nuke"},
		GuildOnly:  true,
		Permission: discordgo.PermissionManageChannels,
		Handler:    func(c *command.Context) error { return c.Reply("done") },
	}

	d, catalog := testDispatcher(fixedPerms(discordgo.PermissionSendMessages), guarded)
	sender := &fakeSender{}
	dm := guildMessage("pls nuke")
	dm.GuildID = ""
	d.HandleMessage(context.Background(), sender, dm, "pls ")
	d.HandleMessage(context.Background(), sender, guildMessage("pls nuke"), "pls ")
	got := sender.contents()
	require.Len(t, got, 2)
	requireVariant(t, catalog, "servers_only", got[0], nil)
	requireVariant(t, catalog, "missing_perms", got[1], nil)

	for _, perms := range []int64{discordgo.PermissionManageChannels, discordgo.PermissionAdministrator} {
		d, _ := testDispatcher(fixedPerms(perms), guarded)
		sender := &fakeSender{}
		d.HandleMessage(context.Background(), sender, guildMessage("pls nuke"), "pls ")
		assert.Equal(t, []string{"done"}, sender.contents())
	}
}

func TestFailureReplies(t *testing.T) {
	forbidden := &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions}}
	panics := &command.Command{
		Def:     &discordgo.ApplicationCommand{Name: "boom", Description: "boom"},
		Handler: func(*command.Context) error { panic("kaboom") },
	}
	d, catalog := testDispatcher(nil,
		failing("user", command.Fail("❌ nope")),
		failing("rest", forbidden),
		failing("broken", errors.New("database on fire")),
		panics,
	)
	sender := &fakeSender{}
	for _, name := range []string{"user", "rest", "broken", "boom"} {
		require.True(t, d.HandleMessage(context.Background(), sender, guildMessage("pls "+name), "pls "))
	}

	got := sender.contents()
	require.Len(t, got, 4)
	assert.Equal(t, "❌ nope", got[0])
	requireVariant(t, catalog, "missing_perms", got[1], nil)
	requireVariant(t, catalog, "generic", got[2], nil)
	requireVariant(t, catalog, "generic", got[3], nil)
}

func TestHandleMessageCopiesMember(t *testing.T) {
	var seen *command.Context
	cmd := &command.Command{
		Def: &discordgo.ApplicationCommand{Name: "who", Description: "who"},
		Handler: func(c *command.Context) error {
			seen = c
			return nil
		},
	}
	d, _ := testDispatcher(nil, cmd)
	msg := guildMessage("pls who")
	d.HandleMessage(context.Background(), &fakeSender{}, msg, "pls ")

	require.NotNil(t, seen)
	assert.Equal(t, "7", seen.AuthorID())
	assert.Equal(t, "g1", seen.Member.GuildID)
	assert.Same(t, msg.Author, seen.Member.User)
	assert.Nil(t, msg.Member.User)
	assert.False(t, seen.IsSlash())
}

type interactionCall struct {
	kind string
	resp *discordgo.InteractionResponse
	edit *discordgo.WebhookEdit
	data *discordgo.WebhookParams
}

type fakeInteractions struct {
	calls []interactionCall
}

func (f *fakeInteractions) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.calls = append(f.calls, interactionCall{kind: "respond", resp: resp})
	return nil
}

func (f *fakeInteractions) InteractionResponse(i *discordgo.Interaction, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return &discordgo.Message{ID: "orig", ChannelID: i.ChannelID}, nil
}

func (f *fakeInteractions) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls = append(f.calls, interactionCall{kind: "edit", edit: edit})
	return &discordgo.Message{ID: "orig"}, nil
}

func (f *fakeInteractions) FollowupMessageCreate(_ *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls = append(f.calls, interactionCall{kind: "followup", data: data})
	return &discordgo.Message{ID: "follow"}, nil
}

func slashInteraction(name string, perms int64, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:        "i1",
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: options},
		Member: &discordgo.Member{
			User:        &discordgo.User{ID: "7", Username: "kip"},
			Permissions: perms,
		},
	}
}

func TestHandleInteraction(t *testing.T) {
	d, catalog := testDispatcher(nil, echoCommand(), &command.Command{
		Def:        &discordgo.ApplicationCommand{Name: "admin", Description: "admin"},
		Permission: discordgo.PermissionBanMembers,
		Handler:    func(c *command.Context) error { return c.Reply("x") },
	})

	session := &fakeInteractions{}
	d.HandleInteraction(context.Background(), session, slashInteraction("echo", 0, &discordgo.ApplicationCommandInteractionDataOption{
		Name: "text", Type: discordgo.ApplicationCommandOptionString, Value: "from slash",
	}))
	require.Len(t, session.calls, 1)
	resp := session.calls[0].resp
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	assert.Equal(t, "from slash", resp.Data.Content)
	assert.Zero(t, resp.Data.Flags)

	session = &fakeInteractions{}
	d.HandleInteraction(context.Background(), session, slashInteraction("admin", discordgo.PermissionSendMessages))
	require.Len(t, session.calls, 1)
	requireVariant(t, catalog, "missing_perms", session.calls[0].resp.Data.Content, nil)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, session.calls[0].resp.Data.Flags)

	session = &fakeInteractions{}
	d.HandleInteraction(context.Background(), session, slashInteraction("unknown", 0))
	assert.Empty(t, session.calls)
}

func TestInteractionReplierStates(t *testing.T) {
	session := &fakeInteractions{}
	r := &interactionReplier{session: session, i: &discordgo.Interaction{ChannelID: "c1"}}

	sent, err := r.Send(&discordgo.MessageSend{Content: "first"}, true)
	require.NoError(t, err)
	assert.Equal(t, "orig", sent.ID)
	require.NoError(t, r.Defer(false))
	_, err = r.Send(&discordgo.MessageSend{Content: "second"}, false)
	require.NoError(t, err)

	require.Len(t, session.calls, 2)
	assert.Equal(t, "respond", session.calls[0].kind)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, session.calls[0].resp.Data.Flags)
	assert.Equal(t, "followup", session.calls[1].kind)
	assert.Equal(t, "second", session.calls[1].data.Content)

	session = &fakeInteractions{}
	r = &interactionReplier{session: session, i: &discordgo.Interaction{}}
	require.NoError(t, r.Defer(true))
	require.NoError(t, r.Defer(true))
	embed := &discordgo.MessageEmbed{Title: "done"}
	_, err = r.Send(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}, true)
	require.NoError(t, err)

	require.Len(t, session.calls, 2)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, session.calls[0].resp.Type)
	assert.Equal(t, "edit", session.calls[1].kind)
	require.NotNil(t, session.calls[1].edit.Embeds)
	assert.Equal(t, []*discordgo.MessageEmbed{embed}, *session.calls[1].edit.Embeds)
	assert.Nil(t, session.calls[1].edit.Components)
}

func TestMentionPrefixes(t *testing.T) {
	assert.Nil(t, mentionPrefixes(""))
	assert.Equal(t, []string{"<@5>", "<@!5>"}, mentionPrefixes("5"))
}
