package tossing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"worldmachine/internal/command"
	"worldmachine/internal/config"
	"worldmachine/internal/guildconfig"
	"worldmachine/internal/messages"
	"worldmachine/internal/schedule"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type configStore struct{ data map[string]string }

func (s *configStore) GetGuildConfig(_ context.Context, guildID string) (string, bool, error) {
	d, ok := s.data[guildID]
	return d, ok, nil
}

func (s *configStore) SaveGuildConfig(_ context.Context, guildID, data string) error {
	s.data[guildID] = data
	return nil
}

type fakeSession struct {
	mu        sync.Mutex
	guild     *discordgo.Guild
	channels  []*discordgo.Channel
	members   map[string]*discordgo.Member
	created   []discordgo.GuildChannelCreateData
	deleted   []string
	edits     map[string][]string
	logs      []*discordgo.MessageEmbed
	reactions []string
	editErr   error
}

func (f *fakeSession) Guild(string, ...discordgo.RequestOption) (*discordgo.Guild, error) {
	return f.guild, nil
}

func (f *fakeSession) GuildChannels(string, ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return f.channels, nil
}

func (f *fakeSession) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	if m, ok := f.members[userID]; ok {
		return m, nil
	}
	return nil, errors.New("unknown member")
}

func (f *fakeSession) GuildChannelCreateComplex(_ string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, data)
	return &discordgo.Channel{ID: "toss-chan", Name: data.Name, ParentID: data.ParentID}, nil
}

func (f *fakeSession) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.deleted = append(f.deleted, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeSession) GuildRoleCreate(_ string, data *discordgo.RoleParams, _ ...discordgo.RequestOption) (*discordgo.Role, error) {
	role := &discordgo.Role{ID: "tossed-role", Name: data.Name}
	f.guild.Roles = append(f.guild.Roles, role)
	return role, nil
}

func (f *fakeSession) GuildMemberEdit(_, userID string, data *discordgo.GuildMemberParams, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	if f.editErr != nil {
		return nil, f.editErr
	}
	f.edits[userID] = append([]string{}, *data.Roles...)
	return &discordgo.Member{}, nil
}

func (f *fakeSession) ChannelMessageSendEmbed(_ string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.logs = append(f.logs, embed)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) MessageReactionAdd(_, messageID, emoji string, _ ...discordgo.RequestOption) error {
	f.reactions = append(f.reactions, messageID+":"+emoji)
	return nil
}

type recordReplier struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordReplier) Send(msg *discordgo.MessageSend, _ bool) (*discordgo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contents = append(r.contents, msg.Content)
	return &discordgo.Message{}, nil
}

func (r *recordReplier) Defer(bool) error { return nil }

type job struct {
	fn      func()
	stopped atomic.Bool
}

func (j *job) Stop() bool {
	j.stopped.Store(true)
	return true
}

// lazyClock records timers and only fires them on demand.
type lazyClock struct {
	mu   sync.Mutex
	jobs []*job
}

func (c *lazyClock) Now() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

func (c *lazyClock) AfterFunc(d time.Duration, fn func()) schedule.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	j := &job{fn: fn}
	c.jobs = append(c.jobs, j)
	return j
}

func (c *lazyClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, j := range c.jobs {
		if !j.stopped.Load() {
			n++
		}
	}
	return n
}

func (c *lazyClock) FireAll() {
	c.mu.Lock()
	jobs := c.jobs
	c.jobs = nil
	c.mu.Unlock()
	for _, j := range jobs {
		if !j.stopped.Load() {
			j.fn()
		}
	}
}

type harness struct {
	m       *Module
	session *fakeSession
	waiter  *schedule.Waiter[*discordgo.MessageCreate]
	clock   *lazyClock
	configs *guildconfig.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	configs := guildconfig.NewService(&configStore{data: map[string]string{}})
	cfg := guildconfig.Defaults()
	cfg.StaffRoles = []string{"staff"}
	cfg.TossCategory = "cat"
	cfg.TossLogs = "logs"
	require.NoError(t, configs.Save(context.Background(), "g1", cfg))

	session := &fakeSession{
		guild: &discordgo.Guild{
			ID: "g1", Name: "Guild", OwnerID: "900",
			Roles: []*discordgo.Role{
				{ID: "g1", Name: "@everyone"},
				{ID: "staff", Name: "Staff", Permissions: discordgo.PermissionManageRoles},
				{ID: "fan", Name: "Fan"},
			},
		},
		channels: []*discordgo.Channel{{ID: "cat", Type: discordgo.ChannelTypeGuildCategory}},
		members: map[string]*discordgo.Member{
			"555": {User: &discordgo.User{ID: "555", Username: "mod"}, Roles: []string{"staff"}},
			"900": {User: &discordgo.User{ID: "900", Username: "owner"}},
			"777": {User: &discordgo.User{ID: "777", Username: "peer"}, Roles: []string{"staff"}},
			"175928847299117063": {
				User:     &discordgo.User{ID: "175928847299117063", Username: "Rowdy"},
				Roles:    []string{"fan", "r1", "r2", "r3", "r4", "r5"},
				JoinedAt: time.Date(2025, 5, 30, 12, 0, 0, 0, time.UTC),
			},
		},
		edits: map[string][]string{},
	}
	clock := &lazyClock{}
	waiter := schedule.NewWaiter[*discordgo.MessageCreate](clock)
	m := New(Options{
		Session:  session,
		Configs:  configs,
		Catalog:  messages.New(),
		Messages: waiter,
		Clock:    clock,
		Colors:   config.EmbedColors{Warning: 0x111111},
		BotID:    func() string { return "bot" },
		Logger:   zap.NewNop(),
	})
	return &harness{m: m, session: session, waiter: waiter, clock: clock, configs: configs}
}

const target = "175928847299117063"

func (h *harness) invocation(authorID, channelID string, args map[string]string) (*command.Context, *recordReplier) {
	r := &recordReplier{}
	c := command.NewContext(context.Background(), r)
	c.GuildID, c.ChannelID = "g1", channelID
	c.Member = h.session.members[authorID]
	c.Author = c.Member.User
	c.Message = &discordgo.Message{ID: "cmd"}
	for k, v := range args {
		c.Args[k] = v
	}
	return c, r
}

func userMessage(t *testing.T, err error) string {
	t.Helper()
	ue, ok := command.AsUserError(err)
	require.True(t, ok, "expected a user error, got %v", err)
	return ue.Message
}

func TestTossAndUntoss(t *testing.T) {
	h := newHarness(t)
	c, _ := h.invocation("555", "general", map[string]string{"member": "<@" + target + ">", "reason": "rude"})
	require.NoError(t, h.m.toss(c))

	require.Len(t, h.session.created, 1)
	created := h.session.created[0]
	assert.Equal(t, "toss-rowdy", created.Name)
	assert.Equal(t, "cat", created.ParentID)
	require.Len(t, created.PermissionOverwrites, 4)
	assert.Equal(t, int64(discordgo.PermissionViewChannel), created.PermissionOverwrites[0].Deny)
	assert.Equal(t, "bot", created.PermissionOverwrites[2].ID)
	assert.Equal(t, "staff", created.PermissionOverwrites[3].ID)

	assert.Equal(t, []string{"tossed-role"}, h.session.edits[target])
	entry, ok := h.m.Tossed().Get("g1", target)
	require.True(t, ok)
	assert.Equal(t, "toss-chan", entry.ChannelID)
	assert.Equal(t, []string{"fan", "r1", "r2", "r3", "r4", "r5"}, entry.Roles)
	assert.Equal(t, []string{"cmd:🚯"}, h.session.reactions)

	require.Len(t, h.session.logs, 1)
	log := h.session.logs[0]
	assert.Equal(t, "🚷 User Tossed", log.Title)
	assert.Equal(t, 0x111111, log.Color, "configured warning color")
	var rolesField, joinedField string
	for _, f := range log.Fields {
		switch f.Name {
		case "🎨 Previous Roles (6)":
			rolesField = f.Value
		case "📅 Joined Server":
			joinedField = f.Value
		}
	}
	assert.Equal(t, "<@&fan>, <@&r1>, <@&r2>, <@&r3>, <@&r4> and 1 more roles", rolesField)
	assert.Equal(t, "May 30, 2025 12:00 PM\n(2 days ago)", joinedField)

	c, _ = h.invocation("555", "general", map[string]string{"member": target})
	assert.Contains(t, userMessage(t, h.m.toss(c)), "<@"+target+">")

	c, r := h.invocation("555", "general", map[string]string{"member": target})
	require.NoError(t, h.m.untoss(c))
	assert.Equal(t, []string{"fan", "r1", "r2", "r3", "r4", "r5"}, h.session.edits[target])
	assert.Equal(t, []string{"toss-chan"}, h.session.deleted)
	assert.Equal(t, []string{"Successfully released <@" + target + ">"}, r.contents)
	assert.Equal(t, 0, h.m.Tossed().Len())
	assert.Equal(t, "✅ User Released", h.session.logs[1].Title)
	assert.Equal(t, 0x2ECC71, h.session.logs[1].Color, "unset colors keep the default")
}

func TestCloseInsideTossChannel(t *testing.T) {
	h := newHarness(t)
	c, _ := h.invocation("555", "general", map[string]string{"member": target})
	require.NoError(t, h.m.toss(c))

	c, _ = h.invocation("555", "general", nil)
	assert.NotEmpty(t, userMessage(t, h.m.close(c)))

	c, r := h.invocation("555", "toss-chan", nil)
	require.NoError(t, h.m.close(c))
	assert.Empty(t, r.contents, "no reply into a deleted channel")
	assert.Equal(t, 0, h.m.Tossed().Len())
}

func TestTossRequiresCategory(t *testing.T) {
	h := newHarness(t)
	cfg := guildconfig.Defaults()
	cfg.StaffRoles = []string{"staff"}
	require.NoError(t, h.configs.Save(context.Background(), "g1", cfg))
	c, _ := h.invocation("555", "general", map[string]string{"member": target})
	assert.NotEmpty(t, userMessage(t, h.m.toss(c)))
	assert.Empty(t, h.session.created)
}

func TestTossCategoryFull(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < MaxChannels; i++ {
		h.session.channels = append(h.session.channels, &discordgo.Channel{ID: "c", ParentID: "cat"})
	}
	c, _ := h.invocation("555", "general", map[string]string{"member": target})
	assert.NotEmpty(t, userMessage(t, h.m.toss(c)))
	assert.Equal(t, 0, h.m.Tossed().Len())
}

func TestTossRollsBackOnFailure(t *testing.T) {
	h := newHarness(t)
	h.session.editErr = errors.New("missing access")
	c, _ := h.invocation("555", "general", map[string]string{"member": target})
	assert.NotEmpty(t, userMessage(t, h.m.toss(c)))
	assert.Equal(t, []string{"toss-chan"}, h.session.deleted)
	assert.Equal(t, 0, h.m.Tossed().Len())
}

func TestTossStaffNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	run := func(answer string) (*recordReplier, error) {
		c, r := h.invocation("900", "general", map[string]string{"member": "777"})
		done := make(chan error, 1)
		go func() { done <- h.m.toss(c) }()
		require.Eventually(t, func() bool { return h.waiter.Len() == 1 && h.clock.Pending() == 1 }, time.Second, time.Millisecond)
		if answer == "" {
			h.clock.FireAll()
		} else {
			// other authors and channels do not count
			h.waiter.Dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{Author: &discordgo.User{ID: "555"}, ChannelID: "general", Content: "yes"}})
			h.waiter.Dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{Author: &discordgo.User{ID: "900"}, ChannelID: "general", Content: answer}})
		}
		return r, <-done
	}

	r, err := run("no")
	assert.Equal(t, "Action cancelled.", userMessage(t, err))
	require.Len(t, r.contents, 1)
	assert.NotEmpty(t, r.contents[0])

	_, err = run("")
	assert.Equal(t, "Confirmation timed out. Please try again.", userMessage(t, err))

	_, err = run("YES")
	require.NoError(t, err)
	_, ok := h.m.Tossed().Get("g1", "777")
	assert.True(t, ok)
}

func TestOnMemberRemove(t *testing.T) {
	h := newHarness(t)
	c, _ := h.invocation("555", "general", map[string]string{"member": target})
	require.NoError(t, h.m.toss(c))
	h.m.OnMemberRemove(context.Background(), "g1", target)
	assert.Equal(t, []string{"toss-chan"}, h.session.deleted)
	assert.Equal(t, 0, h.m.Tossed().Len())
}

func TestAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := map[time.Duration]string{
		800 * 24 * time.Hour: "2 years ago",
		400 * 24 * time.Hour: "1 year ago",
		65 * 24 * time.Hour:  "2 months ago",
		3 * 24 * time.Hour:   "3 days ago",
		25 * time.Hour:       "1 day ago",
		5 * time.Hour:        "5 hours ago",
		59 * time.Minute:     "59 minutes ago",
		10 * time.Second:     "1 minute ago",
	}
	for ago, want := range cases {
		assert.Equal(t, want, Age(now, now.Add(-ago)), ago.String())
	}
}
