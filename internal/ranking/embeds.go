package ranking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"worldmachine/internal/beatsaver"
	"worldmachine/internal/config"
	"worldmachine/internal/storage"

	"github.com/bwmarrin/discordgo"
)

const (
	mapsPerPage    = 4
	topPassesShown = 10
	disallowedRows = 10
)

// Palette renders the ranking embeds in the configured colors.
type Palette struct{ colors config.EmbedColors }

func NewPalette(colors config.EmbedColors) Palette {
	return Palette{colors: colors.OrDefault()}
}

// Actor identifies who ran a command in embed footers.
type Actor struct {
	ID          string
	Name        string
	DisplayName string
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

func thumbnail(url string) *discordgo.MessageEmbedThumbnail {
	if url == "" {
		return nil
	}
	return &discordgo.MessageEmbedThumbnail{URL: url}
}

// AnnouncementEmbed is posted to the ranked maps channel for a new map.
func (pal Palette) AnnouncementEmbed(m storage.RankedMap, code string, by Actor) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:     "🎉 New Ranked Map: " + m.Name,
		Color:     pal.colors.Info,
		Thumbnail: thumbnail(m.CoverURL),
		Fields: []*discordgo.MessageEmbedField{
			field("Difficulty", m.Difficulty, true),
			field("Level", strconv.Itoa(m.Level), true),
			field("Category", titleCase(m.Category), true),
		},
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Ranked by %s (%s)", by.Name, by.ID)},
	}
	if m.AdditionalInfo != "" {
		e.Fields = append(e.Fields, field("Notes", m.AdditionalInfo, false))
	}
	e.Fields = append(e.Fields, field("Map Link", beatsaver.PageURL(code), false))
	return e
}

// RankedEmbed answers the ranking team member who ranked the map.
func (pal Palette) RankedEmbed(m storage.RankedMap, code string, by Actor) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "✅ Map Ranked Successfully",
		Description: fmt.Sprintf("**%s** has been ranked!", m.Name),
		Color:       pal.colors.Success,
		Thumbnail:   thumbnail(m.CoverURL),
		Fields: []*discordgo.MessageEmbedField{
			field("Song", m.SongName, true),
			field("Artist", m.SongAuthor, true),
			field("Mapper", m.LevelAuthor, true),
			field("Duration", fmt.Sprintf("%d:%02d", m.Duration/60, m.Duration%60), true),
			field("BPM", strconv.FormatFloat(m.BPM, 'f', -1, 64), true),
			field("NPS", fmt.Sprintf("%.2f", m.NPS), true),
			field("Notes", strconv.Itoa(m.Notes), true),
			field("NJS", strconv.FormatFloat(m.NJS, 'f', -1, 64), true),
			field("Category", titleCase(m.Category), true),
			field("Level", fmt.Sprintf("Level %d", m.Level), true),
			field("Characteristic", m.Characteristic, true),
			field("Difficulty", m.Difficulty, true),
		},
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("BSR: %s • Ranked by %s", code, by.DisplayName)},
	}
}

var fieldLabels = map[storage.MapField]string{
	storage.FieldCategory:       "Category",
	storage.FieldLevel:          "Level",
	storage.FieldCharacteristic: "Characteristic",
	storage.FieldDifficulty:     "Difficulty",
	storage.FieldAdditionalInfo: "Additional Info",
	storage.FieldSongHash:       "Song Hash",
}

// UpdateLine renders one change. Free text fields only say they changed.
func UpdateLine(up MapUpdate) string {
	label := fieldLabels[up.Field]
	switch up.Field {
	case storage.FieldAdditionalInfo, storage.FieldSongHash:
		return fmt.Sprintf("**%s**: Updated", label)
	}
	return fmt.Sprintf("**%s**: %s → %s", label, up.Old, up.New)
}

func (pal Palette) UpdateEmbed(up MapUpdate, code string, by Actor) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🔄 Map Updated: " + up.Map.Name,
		Description: UpdateLine(up),
		Color:       pal.colors.Warning,
		Thumbnail:   thumbnail(up.Map.CoverURL),
		Fields:      []*discordgo.MessageEmbedField{field("Map Link", beatsaver.PageURL(code), false)},
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Updated by %s (%s)", by.Name, by.ID)},
	}
}

func (pal Palette) RemovedEmbed(m storage.RankedMap, code, reason string, by Actor) *discordgo.MessageEmbed {
	details := []string{
		"**Category**: " + m.Category,
		"**Level**: " + strconv.Itoa(m.Level),
		"**Characteristic**: " + m.Characteristic,
		"**Difficulty**: " + m.Difficulty,
	}
	if m.AdditionalInfo != "" {
		details = append(details, "**Additional Info**: "+m.AdditionalInfo)
	}
	e := &discordgo.MessageEmbed{
		Title:       "🗑️ Map Removed: " + m.Name,
		Description: "This map has been removed from the ranked pool.",
		Color:       pal.colors.Error,
		Thumbnail:   thumbnail(m.CoverURL),
		Fields: []*discordgo.MessageEmbedField{
			field("Map Details", strings.Join(details, "\n"), false),
			field("BSR", code, true),
		},
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Removed by %s (%s)", by.Name, by.ID)},
	}
	if reason != "" {
		e.Fields = append(e.Fields, field("Reason", reason, true))
	}
	e.Fields = append(e.Fields, field("Map Link", beatsaver.PageURL(code), false))
	return e
}

// LevelsEmbed draws the level distribution as three fixed-width columns.
func (pal Palette) LevelsEmbed(dist map[int]int) *discordgo.MessageEmbed {
	total := 0
	column := func(from, to int) []string {
		var lines []string
		for level := from; level <= to; level++ {
			count := dist[level]
			total += count
			lines = append(lines, fmt.Sprintf("Lvl %2d: %3d", level, count))
		}
		return lines
	}
	cols := [][]string{column(1, 10), column(11, 20), column(21, 32)}
	unranked := dist[UnrankedLevel]
	total += unranked

	var b strings.Builder
	b.WriteString("```\n")
	fmt.Fprintf(&b, "%-20s%-20s%s\n", "Levels 1-10", "Levels 11-20", "Levels 21-32")
	b.WriteString(strings.Repeat("-", 60) + "\n")
	rows := max(len(cols[0]), len(cols[1]), len(cols[2]))
	for i := 0; i < rows; i++ {
		cell := func(c []string) string {
			if i < len(c) {
				return c[i]
			}
			return ""
		}
		fmt.Fprintf(&b, "%-20s%-20s%s\n", cell(cols[0]), cell(cols[1]), cell(cols[2]))
	}
	fmt.Fprintf(&b, "\nLvl 100: %3d\n```", unranked)

	return &discordgo.MessageEmbed{
		Title:       "📊 Map Levels Distribution",
		Description: b.String(),
		Color:       pal.colors.Info,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Total: %d maps", total)},
	}
}

func (pal Palette) mapInfoEmbed(m storage.RankedMap) *discordgo.MessageEmbed {
	title := m.SongName
	if m.SongAuthor != "" {
		title = m.SongAuthor + " - " + m.SongName
	}
	e := &discordgo.MessageEmbed{
		Title:     title,
		URL:       beatsaver.PageURL(strings.TrimPrefix(m.ID, "!")),
		Color:     pal.colors.Info,
		Thumbnail: thumbnail(m.CoverURL),
		Fields: []*discordgo.MessageEmbedField{
			field("ID", "`"+m.ID+"`", true),
			field("Difficulty", m.Characteristic+" "+m.Difficulty, true),
			field("Level", strconv.Itoa(m.Level), true),
			field("Category", titleCase(m.Category), true),
		},
	}
	if m.LevelAuthor != "" {
		e.Description = "Mapped by: " + m.LevelAuthor
	}
	if m.RankedBy != "" {
		e.Fields = append(e.Fields, field("Ranked By", "<@"+m.RankedBy+">", true))
	}
	return e
}

// MapPages renders the full map list, four maps per page.
func (pal Palette) MapPages(maps []storage.RankedMap) [][]*discordgo.MessageEmbed {
	var pages [][]*discordgo.MessageEmbed
	totalPages := (len(maps) + mapsPerPage - 1) / mapsPerPage
	for start := 0; start < len(maps); start += mapsPerPage {
		end := min(start+mapsPerPage, len(maps))
		page := make([]*discordgo.MessageEmbed, 0, end-start)
		for i, m := range maps[start:end] {
			e := pal.mapInfoEmbed(m)
			e.Footer = &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf("Map %d of %d • Page %d of %d", i+1, end-start, len(pages)+1, totalPages),
			}
			page = append(page, e)
		}
		pages = append(pages, page)
	}
	return pages
}

// SearchPages renders getinfo results one per page.
func (pal Palette) SearchPages(maps []storage.RankedMap) [][]*discordgo.MessageEmbed {
	pages := make([][]*discordgo.MessageEmbed, 0, len(maps))
	for i, m := range maps {
		e := pal.mapInfoEmbed(m)
		e.Fields = append(e.Fields, field("BSR", "`"+m.ID+"`", true))
		e.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Result %d of %d", i+1, len(maps))}
		pages = append(pages, []*discordgo.MessageEmbed{e})
	}
	return pages
}

// ApplicationEmbed is posted to the review channel. Reposted applications
// after a restart use the "Pending Application" title.
func (pal Palette) ApplicationEmbed(app storage.Application, reposted bool) *discordgo.MessageEmbed {
	p := app.Profile
	title := "New Application: " + p.Username
	status := ""
	color := pal.colors.Info
	if reposted {
		title = "Pending Application: " + p.Username
		status = "\n**Status:** Pending Review"
		color = pal.colors.Warning
	}
	country := p.Country
	if country == "" {
		country = "??"
	}
	return &discordgo.MessageEmbed{
		Title: title,
		Description: fmt.Sprintf("**PP:** %.2f (#%d Global, #%d %s)%s\n**Submitted:** <t:%d:R>",
			p.PP, p.Rank, p.CountryRank, country, status, app.AppliedAt.Unix()),
		Color:     color,
		Thumbnail: thumbnail(p.AvatarURL),
		Fields: []*discordgo.MessageEmbedField{
			field("Profile", fmt.Sprintf("[View on BeatLeader](%s)", p.ProfileURL), true),
			field("Discord User", fmt.Sprintf("<@%s> (`%s`)", app.DiscordID, app.DiscordUsername), true),
		},
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("User ID: %s | Application ID: %s", app.DiscordID, p.BeatLeaderID)},
	}
}

// ReviewedEmbed recolors an application after review.
func (pal Palette) ReviewedEmbed(original *discordgo.MessageEmbed, approved bool, reviewer string, at time.Time) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{}
	if original != nil {
		copied := *original
		e = &copied
	}
	if approved {
		e.Color = pal.colors.Success
		e.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("✅ Approved by %s • %s", reviewer, at.Format("2006-01-02 15:04"))}
	} else {
		e.Color = pal.colors.Error
		e.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("❌ Denied by %s • %s", reviewer, at.Format("2006-01-02 15:04"))}
	}
	return e
}

func (pal Palette) ApprovedDM(p storage.Profile) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "✅ Application Approved!",
		Description: "Your BeatLeader profile has been approved by the SSC ranking team!",
		Color:       pal.colors.Success,
		Thumbnail:   thumbnail(p.AvatarURL),
		Fields:      []*discordgo.MessageEmbedField{field("BeatLeader Profile", fmt.Sprintf("[View Profile](%s)", p.ProfileURL), false)},
	}
}

func (pal Palette) DeniedDM() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "❌ Application Denied",
		Description: "Your BeatLeader profile was not approved by the SSC ranking team.",
		Color:       pal.colors.Error,
		Fields:      []*discordgo.MessageEmbedField{field("Reason", "Please contact a ranking team member for more information.", false)},
	}
}

func (pal Palette) ForceLinkedEmbed(user storage.ApprovedUser, linkedBy string) *discordgo.MessageEmbed {
	p := user.Profile
	return &discordgo.MessageEmbed{
		Title:       "✅ Profile Linked Successfully",
		Description: fmt.Sprintf("<@%s> has been linked to BeatLeader profile:", user.DiscordID),
		Color:       pal.colors.Success,
		Thumbnail:   thumbnail(p.AvatarURL),
		Fields: []*discordgo.MessageEmbedField{
			field("BeatLeader Username", p.Username, true),
			field("PP", fmt.Sprintf("%.2f", p.PP), true),
			field("Global Rank", fmt.Sprintf("#%d", p.Rank), true),
			field("Country Rank", fmt.Sprintf("#%d", p.CountryRank), true),
			field("Linked By", "<@"+linkedBy+">", true),
		},
	}
}

func (pal Palette) ForceLinkedDM(p storage.Profile) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🔗 BeatLeader Profile Linked",
		Description: fmt.Sprintf("Your account has been linked to the BeatLeader profile **%s** by a ranking team member.", p.Username),
		Color:       pal.colors.Info,
		Thumbnail:   thumbnail(p.AvatarURL),
		Fields:      []*discordgo.MessageEmbedField{field("Profile", fmt.Sprintf("[View on BeatLeader](%s)", p.ProfileURL), false)},
	}
}

// UnrankedNotice pings the ranking team about a new best on a level 100 map.
func UnrankedNotice(teamRoleID, userID string, pass PassResult) string {
	return fmt.Sprintf("🚨 <@&%s> - Unranked map passed!\n"+
		"**Map:** %s (%s %s)\n"+
		"**Player:** <@%s>\n"+
		"**Accuracy:** %.2f%%\n"+
		"Please update this map's level using `/updatemap` if it should be ranked.",
		teamRoleID, pass.Map.SongName, pass.Map.Characteristic, pass.Map.Difficulty, userID, pass.Accuracy)
}

// ScanEmbeds renders the scan summary and, when present, the passes that
// were voided by modifiers.
func (pal Palette) ScanEmbeds(report ScanReport, username string, levelUp bool) []*discordgo.MessageEmbed {
	r := report.Result
	stats := []string{
		"**Total Points:** " + groupThousands(r.TotalPoints),
		fmt.Sprintf("**Current Level:** %d", r.Level),
		fmt.Sprintf("**Total Maps Passed:** %d", report.TotalPasses),
	}
	if levelUp {
		stats = append(stats, fmt.Sprintf("🎉 **Level Up!** Reached Level %d!", r.Level))
	}
	if n := r.NewCount(); n > 0 {
		stats = append(stats, fmt.Sprintf("**New Passes:** %d", n))
	}
	if n := r.ImprovedCount(); n > 0 {
		stats = append(stats, fmt.Sprintf("**Improved Scores:** %d", n))
	}

	summary := &discordgo.MessageEmbed{
		Title:  "🔍 Scan Results for " + username,
		Color:  pal.colors.Success,
		Fields: []*discordgo.MessageEmbedField{field("Summary", strings.Join(stats, "\n"), false)},
	}
	if len(report.Disallowed) > 0 {
		summary.Fields = append(summary.Fields, field("⚠️ Note",
			fmt.Sprintf("%d map(s) were passed with disallowed modifiers and didn't count. See below for details.", len(report.Disallowed)),
			false))
	}

	var ranked []PassResult
	for _, p := range r.Passes {
		if p.Map.Level != UnrankedLevel {
			ranked = append(ranked, p)
		}
	}
	if len(ranked) > 0 {
		top := ranked[:min(topPassesShown, len(ranked))]
		lines := make([]string, 0, len(top))
		for _, p := range top {
			line := fmt.Sprintf("`Level %2d` %s | %.1f%% → %4d pts", p.Map.Level, truncate(p.Map.SongName, 30), p.Accuracy, p.Points)
			if p.New {
				line += " 🆕"
			}
			lines = append(lines, line)
		}
		name := "Best Passes"
		if len(ranked) > topPassesShown {
			name = fmt.Sprintf("Top %d Best Passes", len(top))
			summary.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Showing %d of %d passed maps", topPassesShown, len(ranked))}
		}
		summary.Fields = append(summary.Fields, field(name, strings.Join(lines, "\n"), false))
	}

	embeds := []*discordgo.MessageEmbed{summary}
	if len(report.Disallowed) > 0 {
		embeds = append(embeds, pal.DisallowedEmbed(report.Disallowed))
	}
	return embeds
}

func (pal Palette) DisallowedEmbed(passes []DisallowedResult) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title: "⚠️ Passes with Disallowed Modifiers",
		Description: "The following maps were passed with prohibited modifiers and did not count:\n" +
			"*(" + strings.Join(DisallowedModifiers, ", ") + " modifiers are not allowed for ranked play)*",
		Color: pal.colors.Warning,
	}
	lines := make([]string, 0, len(passes))
	for _, p := range passes {
		lines = append(lines, fmt.Sprintf("`%5.2f%%` `%s` %s (%s)", p.Accuracy, p.Map.Difficulty, truncate(p.Map.SongName, 30), strings.Join(p.Modifiers, ", ")))
	}
	for i := 0; i < len(lines); i += disallowedRows {
		name := "\u200b"
		if i == 0 {
			name = "Passes"
		}
		e.Fields = append(e.Fields, field(name, strings.Join(lines[i:min(i+disallowedRows, len(lines))], "\n"), false))
	}
	return e
}

// groupThousands formats n with comma separators.
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
