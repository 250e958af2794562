package ranking

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"worldmachine/internal/beatleader"
	"worldmachine/internal/command"
	"worldmachine/internal/config"
	"worldmachine/internal/errs"
	"worldmachine/internal/httpapi"
	"worldmachine/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Session is the slice of *discordgo.Session the ranking commands use.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, opts ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, opts ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, opts ...discordgo.RequestOption) error
	MessageReactionsRemoveAll(channelID, messageID string, opts ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, opts ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, opts ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, opts ...discordgo.RequestOption) error
}

type Settings struct {
	TeamRoleID        string
	AllowedGuildID    string
	OwnerID           string
	ReviewChannelID   string
	AnnounceChannelID string
	LevelRoleIDs      []string
	Colors            config.EmbedColors
}

type Module struct {
	svc      *Service
	session  Session
	settings Settings
	palette  Palette
	pager    *command.Pager
	reviews  *Reviews
	logger   *zap.Logger
	now      func() time.Time
}

func NewModule(svc *Service, session Session, settings Settings, pager *command.Pager, logger *zap.Logger) *Module {
	return &Module{
		svc:      svc,
		session:  session,
		settings: settings,
		palette:  NewPalette(settings.Colors),
		pager:    pager,
		reviews:  NewReviews(),
		logger:   logger,
		now:      time.Now,
	}
}

func choices(values []string) []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(values))
	for _, v := range values {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: v, Value: v})
	}
	return out
}

func (m *Module) Commands() []*command.Command {
	minLevel := float64(MinLevel)
	minLimit, maxLimit := 1.0, 10.0
	return []*command.Command{
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "rankmap",
				Description: "Rank a Beat Saber map",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "bsr_code", Description: "The BeatSaver ID or URL of the map", Type: discordgo.ApplicationCommandOptionString, Required: true},
					{Name: "category", Description: "The category of the map", Type: discordgo.ApplicationCommandOptionString, Required: true, Choices: choices(Categories)},
					{Name: "level", Description: "The difficulty level (1-32 for ranked, 100 for unranked)", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
					{Name: "characteristic", Description: "The map characteristic", Type: discordgo.ApplicationCommandOptionString, Required: true, Choices: choices(Characteristics)},
					{Name: "difficulty", Description: "The difficulty name", Type: discordgo.ApplicationCommandOptionString, Required: true, Choices: choices(Difficulties)},
					{Name: "additional_info", Description: "Optional additional information about the map ranking", Type: discordgo.ApplicationCommandOptionString},
				},
			},
			GuildOnly: true,
			Handler:   m.rankMap,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "updatemap",
				Description: "Update a ranked map's information",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "bsr_code", Description: "The BeatSaver ID of the map to update", Type: discordgo.ApplicationCommandOptionString, Required: true},
					{Name: "category", Description: "New category for the map", Type: discordgo.ApplicationCommandOptionString, Choices: choices(Categories)},
					{Name: "level", Description: "New level (1-32)", Type: discordgo.ApplicationCommandOptionInteger, MinValue: &minLevel, MaxValue: MaxLevel},
					{Name: "characteristic", Description: "New characteristic", Type: discordgo.ApplicationCommandOptionString, Choices: choices(Characteristics)},
					{Name: "difficulty", Description: "New difficulty", Type: discordgo.ApplicationCommandOptionString, Choices: choices(Difficulties)},
					{Name: "additional_info", Description: "New additional information", Type: discordgo.ApplicationCommandOptionString},
					{Name: "song_hash", Description: "New song hash", Type: discordgo.ApplicationCommandOptionString},
				},
			},
			GuildOnly: true,
			Handler:   m.updateMap,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "removemap",
				Description: "Remove a ranked map",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "bsr_code", Description: "The BeatSaver ID of the map to remove", Type: discordgo.ApplicationCommandOptionString, Required: true},
					{Name: "reason", Description: "Optional reason for removal", Type: discordgo.ApplicationCommandOptionString},
				},
			},
			GuildOnly: true,
			Handler:   m.removeMap,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "viewallmaps",
				Description: "View all ranked maps with pagination",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "show_levels", Description: "Show map levels distribution", Type: discordgo.ApplicationCommandOptionBoolean},
				},
			},
			Handler: m.viewAllMaps,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "getinfo",
				Description: "Get information about a ranked map by ID or name",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "query", Description: "The map ID or name to search for", Type: discordgo.ApplicationCommandOptionString, Required: true},
					{Name: "limit", Description: "Maximum number of results to return (1-10, default: 5)", Type: discordgo.ApplicationCommandOptionInteger, MinValue: &minLimit, MaxValue: maxLimit},
				},
			},
			Handler: m.getInfo,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "link",
				Description: "Link your BeatLeader profile to apply for SSC",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "profile_identifier", Description: "Your BeatLeader profile URL, numeric ID, or username", Type: discordgo.ApplicationCommandOptionString, Required: true},
				},
			},
			GuildOnly: true,
			Handler:   m.link,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "forcelink",
				Description: "[Ranking Team] Manually link a user to a BeatLeader profile (skips verification)",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "user", Description: "Discord user to link", Type: discordgo.ApplicationCommandOptionUser, Required: true},
					{Name: "profile_identifier", Description: "BeatLeader profile URL, numeric ID, or username", Type: discordgo.ApplicationCommandOptionString, Required: true},
				},
			},
			GuildOnly: true,
			Handler:   m.forceLink,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "unlink",
				Description: "Remove a BeatLeader profile link",
				Options: []*discordgo.ApplicationCommandOption{
					{Name: "user", Description: "User to unlink (Ranking Team only)", Type: discordgo.ApplicationCommandOptionUser},
				},
			},
			GuildOnly: true,
			Handler:   m.unlink,
		},
		{
			Def: &discordgo.ApplicationCommand{
				Name:        "scan",
				Description: "Scan your BeatLeader scores and update passed maps",
			},
			GuildOnly: true,
			Handler:   m.scan,
		},
	}
}

// guard limits a command to the ranking guild. The owner may use it
// anywhere.
func (m *Module) guard(c *command.Context) error {
	if c.AuthorID() == m.settings.OwnerID {
		return nil
	}
	if c.GuildID != m.settings.AllowedGuildID {
		return command.Fail("❌ This command can only be used in the SSC server.")
	}
	return nil
}

func (m *Module) isTeam(member *discordgo.Member) bool {
	return member != nil && slices.Contains(member.Roles, m.settings.TeamRoleID)
}

func (m *Module) requireTeam(c *command.Context, action string) error {
	if !m.isTeam(c.Member) {
		return command.Fail("❌ You don't have permission to use this command. Only Ranking Team members can " + action + ".")
	}
	return nil
}

func actor(c *command.Context) Actor {
	a := Actor{ID: c.AuthorID()}
	if c.Author != nil {
		a.Name = c.Author.Username
		a.DisplayName = c.Author.Username
		if c.Author.GlobalName != "" {
			a.DisplayName = c.Author.GlobalName
		}
	}
	if c.Member != nil && c.Member.Nick != "" {
		a.DisplayName = c.Member.Nick
	}
	return a
}

func (m *Module) announce(embed *discordgo.MessageEmbed) {
	if m.settings.AnnounceChannelID == "" {
		return
	}
	if _, err := m.session.ChannelMessageSendEmbed(m.settings.AnnounceChannelID, embed); err != nil {
		m.logger.Error("ranked maps announcement failed", zap.String("title", embed.Title), errs.Field(err))
	}
}

func (m *Module) rankMap(c *command.Context) error {
	if err := m.guard(c); err != nil {
		return err
	}
	if err := m.requireTeam(c, "rank maps"); err != nil {
		return err
	}
	level, err := c.IntArg("level", 0)
	if err != nil {
		return err
	}
	if !ValidRankLevel(level) {
		return command.Fail(fmt.Sprintf("Invalid level: %d. Must be between 1-32 for ranked maps, or exactly 100 for unranked maps.", level))
	}
	if err := c.Defer(false); err != nil {
		return err
	}

	code := ParseCode(c.Arg("bsr_code"))
	by := actor(c)
	ranked, err := m.svc.RankMap(c.Ctx, RankRequest{
		Code:           code,
		Category:       c.Arg("category"),
		Level:          level,
		Characteristic: c.Arg("characteristic"),
		Difficulty:     c.Arg("difficulty"),
		Info:           c.Arg("additional_info"),
		RankedBy:       by.ID,
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDuplicateMap):
		return command.FailPublic(fmt.Sprintf("❌ Map `%s` is already ranked.", code))
	case errors.Is(err, httpapi.ErrNotFound):
		return command.FailPublic("Error: Failed to fetch map data: 404")
	case errors.Is(err, ErrDifficultyNotFound):
		return command.FailPublic(fmt.Sprintf("Could not find %s %s version of this map.", c.Arg("characteristic"), c.Arg("difficulty")))
	case errors.Is(err, ErrInvalidField):
		return command.FailPublic("❌ " + err.Error())
	default:
		return err
	}

	m.announce(m.palette.AnnouncementEmbed(ranked, code, by))
	return c.ReplyEmbed(m.palette.RankedEmbed(ranked, code, by))
}

var updateFields = []storage.MapField{
	storage.FieldCategory,
	storage.FieldLevel,
	storage.FieldCharacteristic,
	storage.FieldDifficulty,
	storage.FieldAdditionalInfo,
	storage.FieldSongHash,
}

func sameValueMessage(field storage.MapField, value string) string {
	switch field {
	case storage.FieldLevel:
		return "❌ The level is already set to " + value
	case storage.FieldAdditionalInfo:
		return "❌ The additional info is already set to the provided value"
	case storage.FieldSongHash:
		return "❌ The song hash is already set to the provided value"
	}
	return fmt.Sprintf("❌ The %s is already set to '%s'", field, value)
}

func (m *Module) updateMap(c *command.Context) error {
	if err := m.guard(c); err != nil {
		return err
	}
	if err := m.requireTeam(c, "update maps"); err != nil {
		return err
	}
	if err := c.Defer(false); err != nil {
		return err
	}

	var set []storage.MapField
	for _, f := range updateFields {
		if c.Has(string(f)) {
			set = append(set, f)
		}
	}
	if len(set) != 1 {
		return command.FailPublic("❌ Please specify exactly one field to update. You can only update one field at a time.")
	}
	field, value := set[0], c.Arg(string(set[0]))
	if field == storage.FieldLevel {
		level, err := c.IntArg("level", 0)
		if err != nil || level < MinLevel || level > MaxLevel {
			return command.FailPublic("❌ Level must be between 1 and 32.")
		}
	}

	code := ParseCode(c.Arg("bsr_code"))
	up, err := m.svc.UpdateMap(c.Ctx, code, field, value)
	switch {
	case err == nil:
	case errors.Is(err, ErrMapNotFound):
		return command.FailPublic("❌ Could not find a ranked map with BSR: " + code)
	case errors.Is(err, ErrSameValue):
		return command.FailPublic(sameValueMessage(field, value))
	case errors.Is(err, ErrInvalidField):
		return command.FailPublic("❌ " + err.Error())
	default:
		return err
	}

	m.announce(m.palette.UpdateEmbed(up, code, actor(c)))
	return c.Reply("✅ Map updated successfully!")
}

func (m *Module) removeMap(c *command.Context) error {
	if err := m.guard(c); err != nil {
		return err
	}
	if err := m.requireTeam(c, "remove maps"); err != nil {
		return err
	}
	if err := c.Defer(true); err != nil {
		return err
	}

	code := ParseCode(c.Arg("bsr_code"))
	removed, err := m.svc.RemoveMap(c.Ctx, code)
	if errors.Is(err, ErrMapNotFound) {
		return command.Fail("❌ Could not find or remove the map with BSR: " + code)
	}
	if err != nil {
		return err
	}

	m.announce(m.palette.RemovedEmbed(removed, code, c.Arg("reason"), actor(c)))
	return c.ReplyEphemeral(fmt.Sprintf("✅ Successfully removed map: %s (BSR: %s)", removed.Name, code))
}

func (m *Module) viewAllMaps(c *command.Context) error {
	if err := c.Defer(false); err != nil {
		return err
	}
	if c.BoolArg("show_levels") {
		dist, err := m.svc.LevelDistribution(c.Ctx)
		if err != nil {
			return err
		}
		if len(dist) == 0 {
			return command.FailPublic("❌ No map data available.")
		}
		return c.ReplyEmbed(m.palette.LevelsEmbed(dist))
	}

	maps, err := m.svc.ListMaps(c.Ctx)
	if err != nil {
		return err
	}
	if len(maps) == 0 {
		return command.FailPublic("❌ No ranked maps found in the database.")
	}
	_, err = c.Send(m.pager.Message(m.palette.MapPages(maps)), false)
	return err
}

func (m *Module) getInfo(c *command.Context) error {
	if err := c.Defer(false); err != nil {
		return err
	}
	query := c.Arg("query")
	limit, err := c.IntArg("limit", 5)
	if err != nil {
		if c.IsSlash() {
			return err
		}
		// prefix form: a multi-word song name spills into limit
		query, limit = query+" "+c.Arg("limit"), 5
	}
	limit = max(1, min(10, limit))

	maps, err := m.svc.Search(c.Ctx, query, limit)
	if err != nil {
		return err
	}
	if len(maps) == 0 {
		return command.FailPublic(fmt.Sprintf("❌ No ranked maps found matching: `%s`. Try a different search term or check the spelling.", query))
	}
	_, err = c.Send(m.pager.Message(m.palette.SearchPages(maps)), false)
	return err
}

const profileHelp = "❌ Could not find a BeatLeader profile with that identifier. Please check and try again.\n\n" +
	"You can use:\n" +
	"- Your full BeatLeader profile URL (https://www.beatleader.com/u/...)\n" +
	"- Your numeric BeatLeader ID\n" +
	"- Your exact BeatLeader username (case sensitive)"

func (m *Module) link(c *command.Context) error {
	if err := m.guard(c); err != nil {
		return err
	}
	if err := c.Defer(true); err != nil {
		return err
	}

	username := ""
	if c.Author != nil {
		username = c.Author.Username
	}
	app, err := m.svc.Apply(c.Ctx, c.AuthorID(), username, c.Arg("profile_identifier"))
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyLinked):
		return command.Fail("✅ Your BeatLeader profile is already linked and approved!")
	case errors.Is(err, storage.ErrPendingApplication):
		return command.Fail("⏳ You already have a pending application. Please wait for it to be reviewed.")
	case errors.Is(err, beatleader.ErrNoPlayer), errors.Is(err, httpapi.ErrNotFound):
		return command.Fail(profileHelp)
	default:
		return err
	}

	if err := m.postApplication(app, false); err != nil {
		m.logger.Error("post application failed", zap.String("discord_id", app.DiscordID), errs.Field(err))
		return command.Fail("❌ An error occurred while processing your application. Please try again later.")
	}
	return c.Reply("✅ Your application has been submitted to the ranking team! You'll be notified when it's reviewed.")
}

func (m *Module) forceLink(c *command.Context) error {
	if err := m.requireTeam(c, "link profiles"); err != nil {
		return err
	}
	target := c.UserArg("user")
	if target == "" {
		return command.Fail("❌ Please mention a valid user.")
	}
	if err := c.Defer(true); err != nil {
		return err
	}

	user, err := m.svc.ForceLink(c.Ctx, target, c.Arg("profile_identifier"), c.AuthorID())
	if errors.Is(err, beatleader.ErrNoPlayer) || errors.Is(err, httpapi.ErrNotFound) {
		return command.FailPublic("❌ Could not find the specified BeatLeader profile.")
	}
	if err != nil {
		return err
	}

	if err := c.ReplyEmbed(m.palette.ForceLinkedEmbed(user, c.AuthorID())); err != nil {
		return err
	}
	m.sendDM(target, m.palette.ForceLinkedDM(user.Profile))
	return nil
}

func (m *Module) unlink(c *command.Context) error {
	target := c.AuthorID()
	if c.Has("user") {
		target = c.UserArg("user")
		if target == "" {
			return command.Fail("❌ Please mention a valid user.")
		}
	}
	if target != c.AuthorID() && !m.isTeam(c.Member) {
		return command.Fail("❌ Only Ranking Team members can unlink other users.")
	}

	removed, err := m.svc.Unlink(c.Ctx, target)
	if err != nil {
		return err
	}
	if !removed {
		return command.Fail(fmt.Sprintf("❌ <@%s> is not linked to a BeatLeader profile.", target))
	}
	m.logger.Info("profile unlinked", zap.String("discord_id", target), zap.String("by", c.AuthorID()))
	return c.ReplyEphemeral(fmt.Sprintf("✅ Unlinked <@%s> from their BeatLeader profile.", target))
}

func (m *Module) scan(c *command.Context) error {
	if err := c.Defer(false); err != nil {
		return err
	}

	report, err := m.svc.Scan(c.Ctx, c.AuthorID())
	switch {
	case err == nil:
	case errors.Is(err, ErrNotLinked):
		return command.FailPublic("❌ You must be linked to use this command.")
	case errors.Is(err, ErrNoScores):
		return command.FailPublic("❌ No scores found for this player.")
	case errors.Is(err, ErrNoRankedMaps):
		return command.FailPublic("❌ No ranked maps found in the database.")
	case errors.Is(err, ErrFetchScores):
		m.logger.Warn("beatleader scores unavailable", zap.String("discord_id", c.AuthorID()), zap.Error(err))
		return command.FailPublic("❌ Failed to fetch scores from BeatLeader. Please try again later.")
	default:
		return err
	}

	for _, pass := range report.Result.Unranked {
		_, err := c.Send(&discordgo.MessageSend{
			Content: UnrankedNotice(m.settings.TeamRoleID, c.AuthorID(), pass),
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Roles: []string{m.settings.TeamRoleID},
			},
		}, false)
		if err != nil {
			m.logger.Warn("unranked notice failed", zap.String("map_id", pass.Map.ID), zap.Error(err))
		}
	}

	levelUp := m.swapLevelRoles(c.GuildID, c.AuthorID(), c.Member, report.Result.Level)
	username := report.User.Profile.Username
	if username == "" && c.Author != nil {
		username = c.Author.Username
	}
	return c.ReplyEmbed(m.palette.ScanEmbeds(report, username, levelUp)...)
}

// swapLevelRoles leaves the member holding only the role for level. It
// reports a level up when level beats the highest role held before.
func (m *Module) swapLevelRoles(guildID, userID string, member *discordgo.Member, level int) bool {
	if member == nil || guildID == "" {
		return false
	}
	previous := HighestLevelRole(m.settings.LevelRoleIDs, member.Roles)
	want, hasWant := LevelRole(m.settings.LevelRoleIDs, level)

	for _, roleID := range m.settings.LevelRoleIDs {
		if roleID == "" || roleID == want || !slices.Contains(member.Roles, roleID) {
			continue
		}
		if err := m.session.GuildMemberRoleRemove(guildID, userID, roleID); err != nil {
			m.logger.Warn("remove level role failed", zap.String("user_id", userID), zap.String("role_id", roleID), zap.Error(err))
		}
	}
	if !hasWant {
		return false
	}
	if !slices.Contains(member.Roles, want) {
		if err := m.session.GuildMemberRoleAdd(guildID, userID, want); err != nil {
			m.logger.Error("add level role failed", zap.String("user_id", userID), zap.Int("level", level), errs.Field(err))
			return false
		}
		m.logger.Info("level role added", zap.String("user_id", userID), zap.Int("level", level))
	}
	return level > previous
}
