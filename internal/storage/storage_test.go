package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateTwice(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSaveGuildConfig(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, found, err := store.GetGuildConfig(ctx, "g1")
	if err != nil {
		t.Fatalf("get missing config: %v", err)
	}
	if found {
		t.Fatalf("expected no config for fresh guild")
	}

	if err := store.SaveGuildConfig(ctx, "g1", "staff_roles: []\n"); err != nil {
		t.Fatalf("save config: %v", err)
	}
	if err := store.SaveGuildConfig(ctx, "g1", "staff_roles: ['1']\n"); err != nil {
		t.Fatalf("update config: %v", err)
	}

	data, found, err := store.GetGuildConfig(ctx, "g1")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if !found || data != "staff_roles: ['1']\n" {
		t.Fatalf("expected updated config, got %q (found=%v)", data, found)
	}
}

func TestUserTimezone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tz, err := store.GetUserTimezone(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tz)

	require.NoError(t, store.SetUserTimezone(ctx, "u1", "America/New_York"))
	require.NoError(t, store.SetUserTimezone(ctx, "u1", "Europe/London"))

	tz, err = store.GetUserTimezone(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", tz)
}

func TestModActionsAndTempBans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AddModAction(ctx, ModAction{GuildID: "g1", Action: "ban", TargetID: "u1", ModeratorID: "m1", Reason: "spam", Duration: time.Hour, CreatedAt: now}))
	require.NoError(t, store.AddModAction(ctx, ModAction{GuildID: "g2", Action: "kick", TargetID: "u2", ModeratorID: "m1", CreatedAt: now}))

	actions, err := store.ListModActions(ctx, "g1", now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "ban", actions[0].Action)
	assert.Equal(t, time.Hour, actions[0].Duration)

	require.NoError(t, store.AddTempBan(ctx, TempBan{GuildID: "g1", UserID: "u1", UnbanAt: now.Add(time.Hour)}))
	require.NoError(t, store.AddTempBan(ctx, TempBan{GuildID: "g1", UserID: "u1", UnbanAt: now.Add(2 * time.Hour)}))
	bans, err := store.ListTempBans(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, now.Add(2*time.Hour).Unix(), bans[0].UnbanAt.Unix())

	require.NoError(t, store.RemoveTempBan(ctx, "g1", "u1"))
	bans, err = store.ListTempBans(ctx)
	require.NoError(t, err)
	assert.Empty(t, bans)
}

func sampleMap(id, song string, level int) RankedMap {
	return RankedMap{
		ID:             id,
		Name:           song + " map",
		SongName:       song,
		SongAuthor:     "Artist",
		LevelAuthor:    "Mapper",
		BPM:            180,
		Duration:       125,
		Characteristic: "Standard",
		Difficulty:     "Expert+",
		Category:       "tech",
		Level:          level,
		RankedBy:       "r1",
		RankedAt:       time.Now().UTC().Format(time.RFC3339),
		SongHash:       "ABC" + id,
	}
}

func TestRankedMapLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRankedMap(ctx, sampleMap("1a2b", "Ghost", 12)))
	err := store.SaveRankedMap(ctx, sampleMap("1a2b", "Ghost", 12))
	assert.True(t, errors.Is(err, ErrDuplicateMap))

	got, err := store.GetRankedMap(ctx, "1a2b")
	require.NoError(t, err)
	assert.Equal(t, "Ghost", got.SongName)
	assert.Equal(t, 12, got.Level)

	changed, err := store.UpdateRankedMap(ctx, "1a2b", FieldLevel, 14)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.UpdateRankedMap(ctx, "nope", FieldLevel, 14)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = store.UpdateRankedMap(ctx, "1a2b", MapField("name; DROP TABLE ranked_maps"), "x")
	assert.Error(t, err)

	removed, err := store.RemoveRankedMap(ctx, "1a2b")
	require.NoError(t, err)
	assert.Equal(t, 14, removed.Level)

	_, err = store.GetRankedMap(ctx, "1a2b")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestSearchRankedMaps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, song := range []string{"Night Ghost", "Ghost", "Ghostly Lights", "Other"} {
		require.NoError(t, store.SaveRankedMap(ctx, sampleMap(fmt.Sprintf("m%d", i), song, i+1)))
	}

	maps, err := store.SearchRankedMaps(ctx, "ghost", 10)
	require.NoError(t, err)
	require.Len(t, maps, 3)
	assert.Equal(t, "Ghost", maps[0].SongName)
	assert.Equal(t, "Ghostly Lights", maps[1].SongName)
	assert.Equal(t, "Night Ghost", maps[2].SongName)

	byID, err := store.FindRankedMapsByID(ctx, 5, "M2", "!M2")
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "m2", byID[0].ID)
}

func TestLevelDistribution(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRankedMap(ctx, sampleMap("a", "A", 3)))
	require.NoError(t, store.SaveRankedMap(ctx, sampleMap("b", "B", 3)))
	require.NoError(t, store.SaveRankedMap(ctx, sampleMap("c", "C", 100)))
	require.NoError(t, store.SaveRankedMap(ctx, sampleMap("d", "D", 40)))

	dist, err := store.LevelDistribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{3: 2, 100: 2}, dist)
}

func TestApplicationReview(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	profile := Profile{BeatLeaderID: "765", Username: "player", PP: 1234.5, Rank: 10, CountryRank: 2, Country: "US"}

	require.NoError(t, store.SaveApplication(ctx, Application{DiscordID: "u1", DiscordUsername: "user", Profile: profile, AppliedAt: time.Now()}))
	err := store.SaveApplication(ctx, Application{DiscordID: "u1", DiscordUsername: "user", Profile: profile, AppliedAt: time.Now()})
	assert.True(t, errors.Is(err, ErrPendingApplication))

	pending, err := store.HasPendingApplication(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, pending)

	apps, err := store.ListPendingApplications(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "player", apps[0].Profile.Username)

	require.NoError(t, store.ReviewApplication(ctx, "u1", "765", StatusDenied, "r1", time.Now()))
	_, err = store.GetApprovedUser(ctx, "u1")
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	// a denied applicant may apply again
	require.NoError(t, store.SaveApplication(ctx, Application{DiscordID: "u1", DiscordUsername: "user", Profile: profile, AppliedAt: time.Now()}))
	require.NoError(t, store.ReviewApplication(ctx, "u1", "765", StatusApproved, "r1", time.Now()))

	user, err := store.GetApprovedUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "765", user.Profile.BeatLeaderID)
	assert.Equal(t, "r1", user.ApprovedBy)

	apps, err = store.ListPendingApplications(ctx)
	require.NoError(t, err)
	assert.Empty(t, apps)

	removed, err := store.RemoveApprovedUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestUpsertPassesKeepsBest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := Pass{DiscordID: "u1", BeatLeaderID: "765", SongName: "Ghost", Characteristic: "Standard", Difficulty: "Expert+", Level: 10, PassedAt: time.Now()}

	first := base
	first.Accuracy, first.Points = 95, 202
	require.NoError(t, store.UpsertPasses(ctx, []Pass{first}))

	worse := base
	worse.Accuracy, worse.Points = 90, 192
	require.NoError(t, store.UpsertPasses(ctx, []Pass{worse}))

	kept, err := store.ListPasses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, 95.0, kept[0].Accuracy)
	assert.Equal(t, "ghost:Standard:Expert+", PassKey(kept[0].SongName, kept[0].Characteristic, kept[0].Difficulty))

	better := base
	better.Accuracy, better.Points = 97, 207
	require.NoError(t, store.UpsertPasses(ctx, []Pass{better}))

	passes, err := store.ListPasses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, 207, passes[0].Points)

	n, err := store.CountPasses(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSaveDisallowedPass(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := DisallowedPass{
		Pass:      Pass{DiscordID: "u1", BeatLeaderID: "765", SongName: "Ghost", Characteristic: "Standard", Difficulty: "Expert", Level: 5, Accuracy: 91},
		Modifiers: []string{"SS", "NF"},
	}

	stored, err := store.SaveDisallowedPass(ctx, p)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = store.SaveDisallowedPass(ctx, p)
	require.NoError(t, err)
	assert.False(t, stored)

	p.Modifiers = []string{"NF", "SS"}
	p.Accuracy = 93
	stored, err = store.SaveDisallowedPass(ctx, p)
	require.NoError(t, err)
	assert.True(t, stored)

	n, err := store.CountPasses(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJoinModifiers(t *testing.T) {
	assert.Equal(t, "NF,SS", JoinModifiers([]string{"SS", "NF"}))
	assert.Equal(t, "", JoinModifiers(nil))
}

func TestIsLocked(t *testing.T) {
	assert.True(t, isLocked(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isLocked(errors.New("no such table")))
	assert.False(t, isLocked(nil))
}
