package modlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"worldmachine/internal/config"
	"worldmachine/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct{ actions []storage.ModAction }

func (m *memStore) AddModAction(_ context.Context, a storage.ModAction) error {
	m.actions = append(m.actions, a)
	return nil
}

type fakeSender struct {
	embedErr error
	embeds   map[string][]*discordgo.MessageEmbed
	texts    map[string][]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{embeds: map[string][]*discordgo.MessageEmbed{}, texts: map[string][]string{}}
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	f.embeds[channelID] = append(f.embeds[channelID], embed)
	return &discordgo.Message{}, nil
}

func (f *fakeSender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.texts[channelID] = append(f.texts[channelID], content)
	return &discordgo.Message{}, nil
}

func entry() Entry {
	return Entry{
		GuildID:   "g1",
		Action:    "banned",
		Target:    &discordgo.User{ID: "10", Username: "target"},
		Moderator: &discordgo.User{ID: "20", Username: "mod"},
		Reason:    "spam",
		Duration:  "1d",
		Length:    24 * time.Hour,
	}
}

func TestLogStoresAndPosts(t *testing.T) {
	store, sender := &memStore{}, newFakeSender()
	l := NewLogger(store, sender, map[string]string{"g1": "logs"}, config.EmbedColors{Info: 0x010203}, zap.NewNop())
	l.now = func() time.Time { return time.Unix(1700000000, 0) }

	l.Log(context.Background(), entry())

	require.Len(t, store.actions, 1)
	assert.Equal(t, "10", store.actions[0].TargetID)
	assert.Equal(t, 24*time.Hour, store.actions[0].Duration)

	require.Len(t, sender.embeds["logs"], 1)
	embed := sender.embeds["logs"][0]
	assert.Equal(t, "User Banned", embed.Title)
	assert.Equal(t, 0x010203, embed.Color)
	assert.Equal(t, "<@10> (10)", embed.Fields[0].Value)
	assert.Equal(t, "spam", embed.Fields[2].Value)
	assert.Equal(t, "Duration", embed.Fields[3].Name)
	assert.Equal(t, "User ID: 10", embed.Footer.Text)
}

func TestLogWithoutChannelOnlyStores(t *testing.T) {
	store, sender := &memStore{}, newFakeSender()
	l := NewLogger(store, sender, map[string]string{}, config.EmbedColors{}, zap.NewNop())
	l.Log(context.Background(), entry())
	assert.Len(t, store.actions, 1)
	assert.Empty(t, sender.embeds)
}

func TestLogFallsBackToText(t *testing.T) {
	sender := newFakeSender()
	sender.embedErr = errors.New("forbidden")
	l := NewLogger(nil, sender, map[string]string{"g1": "logs"}, config.EmbedColors{}, zap.NewNop())
	l.Log(context.Background(), entry())
	require.Len(t, sender.texts["logs"], 1)
	assert.Equal(t, "**BANNED** | target (ID: 10)\n**Moderator:** mod\n**Reason:** spam\nDuration: 1d", sender.texts["logs"][0])
}

func TestEmbedDefaults(t *testing.T) {
	e := entry()
	e.Action, e.Reason, e.Duration = "role added", "", ""
	embed := Embed(e, 0x3498DB, time.Now())
	assert.Equal(t, "User Role added", embed.Title)
	assert.Equal(t, "No reason provided", embed.Fields[2].Value)
	assert.Len(t, embed.Fields, 3)
}
