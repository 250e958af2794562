package bot

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"worldmachine/internal/command"
	"worldmachine/internal/config"
	"worldmachine/internal/guildconfig"
	"worldmachine/internal/schedule"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memConfigs struct {
	mu   sync.Mutex
	rows map[string]string
}

func (m *memConfigs) GetGuildConfig(_ context.Context, guildID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.rows[guildID]
	return data, ok, nil
}

func (m *memConfigs) SaveGuildConfig(_ context.Context, guildID, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[guildID] = data
	return nil
}

type memTimezones map[string]string

func (m memTimezones) SetUserTimezone(_ context.Context, userID, timezone string) error {
	m[userID] = timezone
	return nil
}

func (m memTimezones) GetUserTimezone(_ context.Context, userID string) (string, error) {
	return m[userID], nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (c fixedClock) AfterFunc(d time.Duration, f func()) schedule.Timer {
	return time.AfterFunc(d, f)
}

type reply struct {
	msg       *discordgo.MessageSend
	ephemeral bool
}

type recorder struct {
	replies []reply
}

func (r *recorder) Send(msg *discordgo.MessageSend, ephemeral bool) (*discordgo.Message, error) {
	r.replies = append(r.replies, reply{msg: msg, ephemeral: ephemeral})
	return &discordgo.Message{}, nil
}

func (r *recorder) Defer(bool) error { return nil }

func (r *recorder) last(t *testing.T) reply {
	t.Helper()
	require.NotEmpty(t, r.replies)
	return r.replies[len(r.replies)-1]
}

var june = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testGuild() *discordgo.Guild {
	return &discordgo.Guild{
		ID:          "g1",
		Name:        "Hometown",
		MemberCount: 42,
		Roles:       []*discordgo.Role{{ID: "10", Name: "Staff"}},
		Members: []*discordgo.Member{
			{User: &discordgo.User{ID: "1", Username: "niko"}, Roles: []string{"10"}},
			{User: &discordgo.User{ID: "2", Username: "alula"}, Nick: "Alula", Roles: []string{"10"}},
			{User: &discordgo.User{ID: "3", Username: "silver", GlobalName: "Silver"}, Roles: []string{"10"}},
			{User: &discordgo.User{ID: "9", Username: "rue"}},
		},
		Presences: []*discordgo.Presence{
			{User: &discordgo.User{ID: "1"}, Status: discordgo.StatusIdle},
			{User: &discordgo.User{ID: "2"}, Status: discordgo.StatusOnline},
		},
	}
}

type utilityFixture struct {
	utility   *Utility
	timezones memTimezones
	configs   *guildconfig.Service
}

func newUtilityFixture(t *testing.T, staffRoles string) *utilityFixture {
	t.Helper()
	state := discordgo.NewState()
	require.NoError(t, state.GuildAdd(testGuild()))
	rows := map[string]string{}
	if staffRoles != "" {
		rows["g1"] = "staff_roles: [" + staffRoles + "]\n"
	}
	f := &utilityFixture{
		timezones: memTimezones{},
		configs:   guildconfig.NewService(&memConfigs{rows: rows}),
	}
	f.utility = NewUtility(UtilityOptions{
		Directory: state,
		Configs:   f.configs,
		Catalog:   testCatalog(),
		Timezones: f.timezones,
		Latency:   func() time.Duration { return 87 * time.Millisecond },
		DocsURL:   "https://docs.example",
		Colors:    config.EmbedColors{Accent: 0x654321},
		Rand:      rand.New(rand.NewSource(3)),
		Clock:     fixedClock{now: june},
	})
	return f
}

func (f *utilityFixture) run(t *testing.T, name string, args map[string]string) (*recorder, error) {
	t.Helper()
	var cmd *command.Command
	for _, c := range f.utility.Commands() {
		if c.Name() == name {
			cmd = c
		}
	}
	require.NotNil(t, cmd, name)
	r := &recorder{}
	c := command.NewContext(context.Background(), r)
	c.GuildID = "g1"
	c.ChannelID = "c1"
	c.Author = &discordgo.User{ID: "7", Username: "kip"}
	c.Member = &discordgo.Member{Nick: "Kip"}
	for k, v := range args {
		c.Args[k] = v
	}
	return r, cmd.Handler(c)
}

func userMessage(t *testing.T, err error) string {
	t.Helper()
	ue, ok := command.AsUserError(err)
	require.True(t, ok, "expected a user error, got %v", err)
	return ue.Message
}

func TestRoll(t *testing.T) {
	f := newUtilityFixture(t, "")
	r, err := f.run(t, "roll", map[string]string{"dice": "3d6"})
	require.NoError(t, err)
	want := rollText(rollDice(rand.New(rand.NewSource(3)), 3, 6), 6)
	assert.Equal(t, want, r.last(t).msg.Content)

	_, err = f.run(t, "roll", map[string]string{"dice": "0d6"})
	assert.Equal(t, "❌ Number of dice must be between 1 and 100. Example: `pls roll 2d6`", userMessage(t, err))
}

func TestPingAndMemberCount(t *testing.T) {
	f := newUtilityFixture(t, "")
	r, err := f.run(t, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "🏓 Pong! Latency: `87ms`", r.last(t).msg.Content)

	r, err = f.run(t, "membercount", nil)
	require.NoError(t, err)
	assert.Equal(t, "👥 **Hometown** has **42** members.", r.last(t).msg.Content)
}

func TestHelpLinksDocs(t *testing.T) {
	f := newUtilityFixture(t, "")
	r, err := f.run(t, "help", nil)
	require.NoError(t, err)
	embed := r.last(t).msg.Embeds[0]
	assert.Equal(t, "📚 The World Machine - Command Documentation", embed.Title)
	assert.Equal(t, 0x654321, embed.Color)
	assert.Contains(t, embed.Fields[0].Value, "https://docs.example")
}

func TestTimezoneCommand(t *testing.T) {
	f := newUtilityFixture(t, "")

	r, err := f.run(t, "timezone", nil)
	require.NoError(t, err)
	assert.Equal(t, "🌐 Get Your Timezone", r.last(t).msg.Embeds[0].Title)

	r, err = f.run(t, "timezone", map[string]string{"timezone": "pst"})
	require.NoError(t, err)
	assert.Equal(t, "✅ Your timezone has been set to: `America/Los_Angeles`", r.last(t).msg.Content)
	assert.Equal(t, "America/Los_Angeles", f.timezones["7"])

	_, err = f.run(t, "timezone", map[string]string{"timezone": "Nowhere/Special"})
	ue, ok := command.AsUserError(err)
	require.True(t, ok)
	assert.False(t, ue.Ephemeral)
	assert.Contains(t, ue.Message, "❌ Invalid timezone code.")
	assert.Equal(t, "America/Los_Angeles", f.timezones["7"])
}

func TestTimefor(t *testing.T) {
	f := newUtilityFixture(t, "")

	r, err := f.run(t, "timefor", nil)
	require.NoError(t, err)
	assert.Equal(t, "❌ You haven't set your timezone yet. Use `pls timezone` to set it.", r.last(t).msg.Content)

	r, err = f.run(t, "timefor", map[string]string{"user": "<@9>"})
	require.NoError(t, err)
	assert.Equal(t, "❌ rue hasn't set their timezone yet.", r.last(t).msg.Content)

	f.timezones["7"] = "Europe/London"
	f.timezones["9"] = "America/New_York"

	r, err = f.run(t, "timefor", nil)
	require.NoError(t, err)
	assert.Equal(t, "🕒 It's currently **1:00 PM** in Kip's timezone (`Europe/London`).", r.last(t).msg.Content)

	r, err = f.run(t, "timefor", map[string]string{"user": "9", "time": "2PM"})
	require.NoError(t, err)
	assert.Equal(t, "🕒 **2:00 PM** in <@9>'s timezone (`America/New_York`) is **7:00 PM** in your timezone (`Europe/London`).", r.last(t).msg.Content)

	r, err = f.run(t, "timefor", map[string]string{"time": "9:30 am"})
	require.NoError(t, err)
	assert.Equal(t, "🕒 **9:30 AM** in your timezone (`Europe/London`) is **9:30 AM** in Europe/London.", r.last(t).msg.Content)

	r, err = f.run(t, "timefor", map[string]string{"time": "whenever"})
	require.NoError(t, err)
	assert.Equal(t, "❌ Invalid time format. Use formats like '2PM', '2:30 PM', or '14:30'.", r.last(t).msg.Content)
}

func TestTimeforNeedsAuthorZone(t *testing.T) {
	f := newUtilityFixture(t, "")
	f.timezones["9"] = "Asia/Tokyo"
	r, err := f.run(t, "timefor", map[string]string{"user": "9", "time": "14:00"})
	require.NoError(t, err)
	assert.Equal(t, "❌ You need to set your timezone first with `pls timezone`.", r.last(t).msg.Content)
}

func TestParseTimefor(t *testing.T) {
	c := command.NewContext(context.Background(), &recorder{})
	require.NoError(t, parseTimefor("<@!9> 2:30 PM", c))
	assert.Equal(t, map[string]string{"user": "<@!9>", "time": "2:30 PM"}, c.Args)

	c = command.NewContext(context.Background(), &recorder{})
	require.NoError(t, parseTimefor("14:00", c))
	assert.Equal(t, map[string]string{"time": "14:00"}, c.Args)

	c = command.NewContext(context.Background(), &recorder{})
	require.NoError(t, parseTimefor("  ", c))
	assert.Empty(t, c.Args)
}

func TestStaff(t *testing.T) {
	f := newUtilityFixture(t, "")
	_, err := f.run(t, "staff", nil)
	assert.Equal(t, "No staff roles are configured for this server.", userMessage(t, err))

	f = newUtilityFixture(t, "10")
	r, err := f.run(t, "staff", nil)
	require.NoError(t, err)
	embed := r.last(t).msg.Embeds[0]
	assert.Equal(t, "👥 Hometown Staff Team", embed.Title)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "Online (1)", embed.Fields[0].Name)
	assert.Equal(t, "• Alula", embed.Fields[0].Value)
	assert.Equal(t, "Idle (1)", embed.Fields[1].Name)
	assert.Equal(t, "• niko", embed.Fields[1].Value)
	assert.Equal(t, "Offline (1)", embed.Fields[2].Name)
	assert.Equal(t, "• Silver", embed.Fields[2].Value)
	assert.Equal(t, june.Format(time.RFC3339), embed.Timestamp)

	f = newUtilityFixture(t, "99")
	r, err = f.run(t, "staff", nil)
	require.NoError(t, err)
	assert.Equal(t, "No staff members found.", r.last(t).msg.Content)
}

func TestStaffEmbedOrdersByName(t *testing.T) {
	embed := staffEmbed("G", []staffMember{
		{name: "zed", status: discordgo.StatusOnline},
		{name: "Amy", status: discordgo.StatusOnline},
		{name: "bo", status: discordgo.StatusDoNotDisturb},
		{name: "cy", status: discordgo.StatusInvisible},
	}, 0x3498DB, june)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, 0x3498DB, embed.Color)
	assert.Equal(t, "• Amy\n• zed", embed.Fields[0].Value)
	assert.Equal(t, "Do Not Disturb (1)", embed.Fields[1].Name)
	assert.Equal(t, "Offline (1)", embed.Fields[2].Name)
}

func TestPingStaff(t *testing.T) {
	f := newUtilityFixture(t, "10, 55")
	r, err := f.run(t, "pingstaff", map[string]string{"reason": "raid in #general"})
	require.NoError(t, err)
	require.Len(t, r.replies, 2)
	embed := r.replies[0].msg.Embeds[0]
	assert.Equal(t, "📢 Staff Ping", embed.Title)
	assert.Equal(t, "<@&10>\n\n**Reason:** raid in #general", embed.Description)
	assert.Equal(t, "Requested by kip", embed.Footer.Text)
	assert.Equal(t, "✅ Staff have been notified!", r.replies[1].msg.Content)
	assert.True(t, r.replies[1].ephemeral)

	_, err = f.run(t, "pingstaff", nil)
	assert.Contains(t, userMessage(t, err), "⏳ This command is on cooldown. Please try again in ")
}

func TestPingStaffChecksRoles(t *testing.T) {
	f := newUtilityFixture(t, "")
	_, err := f.run(t, "pingstaff", nil)
	assert.Equal(t, "❌ No staff roles are configured for this server.", userMessage(t, err))

	f = newUtilityFixture(t, "55")
	_, err = f.run(t, "pingstaff", nil)
	assert.Equal(t, "❌ Could not find any staff roles to ping.", userMessage(t, err))
}

func TestMemberName(t *testing.T) {
	u := &discordgo.User{Username: "user", GlobalName: "Global"}
	assert.Equal(t, "Nick", memberName(&discordgo.Member{Nick: "Nick"}, u))
	assert.Equal(t, "Global", memberName(nil, u))
	assert.Equal(t, "user", memberName(&discordgo.Member{}, &discordgo.User{Username: "user"}))
	assert.Equal(t, "", memberName(nil, nil))
}
