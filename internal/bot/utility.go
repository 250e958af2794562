package bot

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"worldmachine/internal/command"
	"worldmachine/internal/config"
	"worldmachine/internal/guildconfig"
	"worldmachine/internal/messages"
	"worldmachine/internal/schedule"

	"github.com/bwmarrin/discordgo"
)

const (
	tzPicker          = "https://xske.github.io/tz/"
	pingStaffCooldown = 120 * time.Second
)

// Directory is the cached guild view kept by *discordgo.State. Guild
// contents must be read under RLock.
type Directory interface {
	RLock()
	RUnlock()
	Guild(guildID string) (*discordgo.Guild, error)
	Member(guildID, userID string) (*discordgo.Member, error)
}

type MemberSession interface {
	GuildMember(guildID, userID string, opts ...discordgo.RequestOption) (*discordgo.Member, error)
}

type TimezoneStore interface {
	SetUserTimezone(ctx context.Context, userID, timezone string) error
	GetUserTimezone(ctx context.Context, userID string) (string, error)
}

type UtilityOptions struct {
	Directory Directory
	Session   MemberSession
	Configs   *guildconfig.Service
	Catalog   *messages.Catalog
	Timezones TimezoneStore
	// Latency reports the gateway heartbeat round trip.
	Latency func() time.Duration
	DocsURL string
	Colors  config.EmbedColors
	Rand    *rand.Rand
	Clock   schedule.Clock
}

// Utility serves the general purpose commands.
type Utility struct {
	directory Directory
	session   MemberSession
	configs   *guildconfig.Service
	catalog   *messages.Catalog
	timezones TimezoneStore
	latency   func() time.Duration
	docsURL   string
	colors    config.EmbedColors
	clock     schedule.Clock
	pingStaff *command.Cooldown

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewUtility(opts UtilityOptions) *Utility {
	clock := opts.Clock
	if clock == nil {
		clock = schedule.RealClock()
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	latency := opts.Latency
	if latency == nil {
		latency = func() time.Duration { return 0 }
	}
	return &Utility{
		directory: opts.Directory,
		session:   opts.Session,
		configs:   opts.Configs,
		catalog:   opts.Catalog,
		timezones: opts.Timezones,
		latency:   latency,
		docsURL:   opts.DocsURL,
		colors:    opts.Colors.OrDefault(),
		clock:     clock,
		pingStaff: command.NewCooldown(pingStaffCooldown),
		rand:      rnd,
	}
}

func (u *Utility) Commands() []*command.Command {
	return []*command.Command{
		{
			Def: &discordgo.ApplicationCommand{Name: "about", Description: "Learn about this bot"},
			Handler: func(c *command.Context) error {
				return c.Reply("I am The World Machine. My main purpose is for moderation and providing " +
					"useful utilities for server management and member interaction. " +
					"Use `pls help` to see all available commands.")
			},
		},
		{
			Def:     &discordgo.ApplicationCommand{Name: "help", Description: "Show help information and command documentation"},
			Handler: func(c *command.Context) error { return c.ReplyEmbed(u.helpEmbed()) },
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "roll",
				Description: "Roll dice in XdY format (e.g., 2d6)",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "dice",
					Description: "Dice to roll in XdY format (e.g., 2d6)",
					Required:    true,
				}},
			},
			Handler: u.roll,
		},
		{
			Def:       &discordgo.ApplicationCommand{Name: "staff", Description: "Show currently active staff members"},
			GuildOnly: true,
			Handler:   u.staff,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "timezone",
				Description: "Get or set your timezone",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "timezone",
					Description: "Optional: Your timezone code (e.g., 'America/New_York')",
				}},
			},
			Aliases: []string{"tz"},
			Handler: u.timezone,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "timefor",
				Description: "Check someone's local time",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "The user to check (mention or ID)",
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "time",
						Description: "Optional time in 12h or 24h format (e.g., '2PM', '14:00')",
					},
				},
			},
			Aliases:     []string{"tf"},
			PrefixParse: parseTimefor,
			Handler:     u.timefor,
		},
		{
			Def: &discordgo.ApplicationCommand{Name: "ping", Description: "Check the bot's latency"},
			Handler: func(c *command.Context) error {
				return c.Reply(fmt.Sprintf("🏓 Pong! Latency: `%dms`", u.latency().Round(time.Millisecond).Milliseconds()))
			},
		},
		{
			Def:       &discordgo.ApplicationCommand{Name: "membercount", Description: "Show server member count"},
			GuildOnly: true,
			Handler:   u.memberCount,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "pingstaff",
				Description: "Ping the staff team",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Reason for pinging staff",
				}},
			},
			GuildOnly: true,
			Handler:   u.pingstaff,
		},
	}
}

func (u *Utility) helpEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "📚 The World Machine - Command Documentation",
		Description: "Click the link below to view all available commands and their usage:",
		Color:       u.colors.Accent,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Documentation", Value: "[View Documentation](" + u.docsURL + ")"},
			{Name: "Prefix", Value: "• The default prefix is `pls`, and mentioning me works too.\n"},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Documentation is updated regularly. Check back for new commands and features!"},
	}
}

func (u *Utility) roll(c *command.Context) error {
	count, sides, err := ParseDice(c.Arg("dice"))
	if err != nil {
		return command.Fail("❌ " + err.Error() + ". Example: `pls roll 2d6`")
	}
	u.randMu.Lock()
	rolls := rollDice(u.rand, count, sides)
	u.randMu.Unlock()
	return c.Reply(rollText(rolls, sides))
}

type staffMember struct {
	name   string
	status discordgo.Status
}

var statusGroups = []struct {
	label    string
	statuses []discordgo.Status
}{
	{"Online", []discordgo.Status{discordgo.StatusOnline}},
	{"Idle", []discordgo.Status{discordgo.StatusIdle}},
	{"Do Not Disturb", []discordgo.Status{discordgo.StatusDoNotDisturb}},
	{"Offline", nil},
}

func statusRank(s discordgo.Status) int {
	for i, g := range statusGroups {
		if slices.Contains(g.statuses, s) {
			return i
		}
	}
	return len(statusGroups) - 1
}

func (u *Utility) staff(c *command.Context) error {
	cfg, err := u.configs.Get(c.Ctx, c.GuildID)
	if err != nil {
		return err
	}
	if len(cfg.StaffRoles) == 0 {
		return command.Fail("No staff roles are configured for this server.")
	}
	guild, err := u.directory.Guild(c.GuildID)
	if err != nil {
		return err
	}

	u.directory.RLock()
	name := guild.Name
	statuses := make(map[string]discordgo.Status, len(guild.Presences))
	for _, p := range guild.Presences {
		if p != nil && p.User != nil {
			statuses[p.User.ID] = p.Status
		}
	}
	var staff []staffMember
	for _, m := range guild.Members {
		if m == nil || m.User == nil || !hasAnyRole(m, cfg.StaffRoles) {
			continue
		}
		staff = append(staff, staffMember{name: memberName(m, m.User), status: statuses[m.User.ID]})
	}
	u.directory.RUnlock()

	if len(staff) == 0 {
		return c.Reply("No staff members found.")
	}
	return c.ReplyEmbed(staffEmbed(name, staff, u.colors.Info, u.clock.Now()))
}

// staffEmbed lists staff by presence, online first, then by name.
func staffEmbed(guildName string, staff []staffMember, color int, at time.Time) *discordgo.MessageEmbed {
	sort.SliceStable(staff, func(i, j int) bool {
		ri, rj := statusRank(staff[i].status), statusRank(staff[j].status)
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(staff[i].name) < strings.ToLower(staff[j].name)
	})
	groups := make([][]string, len(statusGroups))
	for _, s := range staff {
		r := statusRank(s.status)
		groups[r] = append(groups[r], "• "+s.name)
	}
	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("👥 %s Staff Team", guildName),
		Color:     color,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
	for i, names := range groups {
		if len(names) == 0 {
			continue
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s (%d)", statusGroups[i].label, len(names)),
			Value: strings.Join(names, "\n"),
		})
	}
	return embed
}

func (u *Utility) timezone(c *command.Context) error {
	if !c.Has("timezone") {
		return c.ReplyEmbed(&discordgo.MessageEmbed{
			Title: "🌐 Get Your Timezone",
			Description: "To set your timezone, use: `pls timezone <timezone>`\n" +
				"Example: `pls timezone America/New_York`\n\n" +
				"To find your timezone code:\n" +
				"1. [🌍 Click here to get your timezone code](" + tzPicker + ")\n" +
				"2. Click the timezone code to copy it\n" +
				"3. Use `pls timezone <paste code>` to set it",
			Color: u.colors.Info,
		})
	}
	loc, err := ResolveTimezone(c.Arg("timezone"))
	if err != nil {
		return command.FailPublic("❌ Invalid timezone code. Please use a valid timezone code from " +
			"[this website](" + tzPicker + ").\n" +
			"Example: `pls timezone America/New_York`")
	}
	if err := u.timezones.SetUserTimezone(c.Ctx, c.AuthorID(), loc.String()); err != nil {
		return command.FailPublic("❌ Failed to set timezone. Please try again.")
	}
	return c.Reply(fmt.Sprintf("✅ Your timezone has been set to: `%s`", loc.String()))
}

// parseTimefor takes an optional leading member, then the time text.
func parseTimefor(rest string, c *command.Context) error {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil
	}
	first, tail, _ := strings.Cut(rest, " ")
	if command.ParseID(first, "<@", "<@!") != "" {
		c.Args["user"] = first
		rest = strings.TrimSpace(tail)
	}
	if rest != "" {
		c.Args["time"] = rest
	}
	return nil
}

func (u *Utility) timefor(c *command.Context) error {
	self := true
	targetID := c.AuthorID()
	if c.Has("user") {
		id := c.UserArg("user")
		if id == "" {
			return command.Fail(u.catalog.Error("member_not_found", nil))
		}
		self = id == targetID
		targetID = id
	}

	targetTZ, err := u.timezones.GetUserTimezone(c.Ctx, targetID)
	if err != nil {
		return err
	}
	if targetTZ == "" {
		if self {
			return c.Reply("❌ You haven't set your timezone yet. Use `pls timezone` to set it.")
		}
		return c.Reply(fmt.Sprintf("❌ %s hasn't set their timezone yet.", u.displayName(c, targetID)))
	}
	loc, err := time.LoadLocation(targetTZ)
	if err != nil {
		return c.Reply(fmt.Sprintf("❌ An error occurred: %v", err))
	}
	now := u.clock.Now().In(loc)

	if !c.Has("time") {
		return c.Reply(fmt.Sprintf("🕒 It's currently **%s** in %s's timezone (`%s`).", formatClock(now), u.displayName(c, targetID), targetTZ))
	}
	hour, minute, ok := ParseClock(c.Arg("time"))
	if !ok {
		return c.Reply("❌ Invalid time format. Use formats like '2PM', '2:30 PM', or '14:30'.")
	}

	authorTZ, err := u.timezones.GetUserTimezone(c.Ctx, c.AuthorID())
	if err != nil {
		return err
	}
	if authorTZ == "" {
		return c.Reply("❌ You need to set your timezone first with `pls timezone`.")
	}
	authorLoc, err := time.LoadLocation(authorTZ)
	if err != nil {
		return c.Reply(fmt.Sprintf("❌ An error occurred: %v", err))
	}

	at := onDay(now, loc, hour, minute)
	theirs, mine := formatClock(at), formatClock(at.In(authorLoc))
	if self {
		return c.Reply(fmt.Sprintf("🕒 **%s** in your timezone (`%s`) is **%s** in %s.", theirs, targetTZ, mine, authorTZ))
	}
	return c.Reply(fmt.Sprintf("🕒 **%s** in <@%s>'s timezone (`%s`) is **%s** in your timezone (`%s`).", theirs, targetID, targetTZ, mine, authorTZ))
}

func (u *Utility) displayName(c *command.Context, userID string) string {
	if userID == c.AuthorID() && c.Author != nil {
		return memberName(c.Member, c.Author)
	}
	if c.GuildID != "" {
		if m, err := u.directory.Member(c.GuildID, userID); err == nil {
			return memberName(m, m.User)
		}
		if u.session != nil {
			if m, err := u.session.GuildMember(c.GuildID, userID); err == nil {
				return memberName(m, m.User)
			}
		}
	}
	return "<@" + userID + ">"
}

func (u *Utility) memberCount(c *command.Context) error {
	guild, err := u.directory.Guild(c.GuildID)
	if err != nil {
		return err
	}
	u.directory.RLock()
	name, count := guild.Name, guild.MemberCount
	u.directory.RUnlock()
	return c.Reply(fmt.Sprintf("👥 **%s** has **%d** members.", name, count))
}

func (u *Utility) pingstaff(c *command.Context) error {
	if left, ok := u.pingStaff.Take("global"); !ok {
		secs := int(left.Seconds())
		return command.Fail(fmt.Sprintf("⏳ This command is on cooldown. Please try again in %dm %ds.", secs/60, secs%60))
	}
	cfg, err := u.configs.Get(c.Ctx, c.GuildID)
	if err != nil {
		return err
	}
	if len(cfg.StaffRoles) == 0 {
		return command.Fail("❌ No staff roles are configured for this server.")
	}

	var mentions []string
	if guild, err := u.directory.Guild(c.GuildID); err == nil {
		u.directory.RLock()
		for _, id := range cfg.StaffRoles {
			if slices.ContainsFunc(guild.Roles, func(r *discordgo.Role) bool { return r != nil && r.ID == id }) {
				mentions = append(mentions, "<@&"+id+">")
			}
		}
		u.directory.RUnlock()
	}
	if len(mentions) == 0 {
		return command.Fail("❌ Could not find any staff roles to ping.")
	}

	reason := c.Arg("reason")
	if reason == "" {
		reason = "No reason provided"
	}
	embed := &discordgo.MessageEmbed{
		Title:       "📢 Staff Ping",
		Description: fmt.Sprintf("%s\n\n**Reason:** %s", strings.Join(mentions, ", "), reason),
		Color:       u.colors.Info,
	}
	if c.Author != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Requested by " + c.Author.Username, IconURL: c.Author.AvatarURL("")}
	}
	if err := c.ReplyEmbed(embed); err != nil {
		return err
	}
	return c.ReplyEphemeral("✅ Staff have been notified!")
}

func hasAnyRole(m *discordgo.Member, roles []string) bool {
	for _, r := range m.Roles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

func memberName(m *discordgo.Member, u *discordgo.User) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
