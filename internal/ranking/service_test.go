package ranking

import (
	"context"
	"errors"
	"testing"
	"time"

	"worldmachine/internal/beatleader"
	"worldmachine/internal/beatsaver"
	"worldmachine/internal/httpapi"
	"worldmachine/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMaps map[string]beatsaver.Map

func (f fakeMaps) GetMap(_ context.Context, code string) (beatsaver.Map, error) {
	m, ok := f[code]
	if !ok {
		return beatsaver.Map{}, httpapi.ErrNotFound
	}
	return m, nil
}

type fakePlayers struct {
	players map[string]beatleader.Player
	scores  []beatleader.Score
}

func (f *fakePlayers) ResolveProfile(_ context.Context, identifier string) (beatleader.Player, error) {
	p, ok := f.players[identifier]
	if !ok {
		return beatleader.Player{}, beatleader.ErrNoPlayer
	}
	return p, nil
}

func (f *fakePlayers) RecentScores(context.Context, string, int) ([]beatleader.Score, error) {
	return f.scores, nil
}

func newTestService(t *testing.T) (*Service, *fakePlayers) {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	maps := fakeMaps{"3f2a1": {
		ID:       "3f2a1",
		Name:     "Test Map",
		Metadata: beatsaver.Metadata{SongName: "Song", SongAuthorName: "Artist", BPM: 174, Duration: 125},
		Versions: []beatsaver.Version{{
			Hash:     "ABCDEF",
			CoverURL: "https://cdn/cover.jpg",
			Diffs: []beatsaver.Diff{
				{Characteristic: "Standard", Difficulty: "ExpertPlus", NPS: 9.25, Notes: 1100, NJS: 20},
			},
		}},
	}}
	players := &fakePlayers{players: map[string]beatleader.Player{
		"77": {ID: "77", Name: "Player", PP: 100, Rank: 5, CountryRank: 1, Country: "US"},
	}}
	svc := NewService(store, maps, players, zap.NewNop(), 10)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return svc, players
}

func rankTestMap(t *testing.T, svc *Service) storage.RankedMap {
	t.Helper()
	m, err := svc.RankMap(context.Background(), RankRequest{
		Code: "https://beatsaver.com/maps/3f2a1", Category: "Tech", Level: 12,
		Characteristic: "standard", Difficulty: "expert+", RankedBy: "900",
	})
	require.NoError(t, err)
	return m
}

func TestRankMap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m := rankTestMap(t, svc)
	assert.Equal(t, "3f2a1", m.ID)
	assert.Equal(t, "tech", m.Category)
	assert.Equal(t, "Expert+", m.Difficulty)
	assert.Equal(t, "ABCDEF", m.SongHash)
	assert.Equal(t, "Unknown", m.LevelAuthor)
	assert.Equal(t, 1100, m.Notes)

	_, err := svc.RankMap(ctx, RankRequest{Code: "3f2a1", Category: "tech", Level: 12, Characteristic: "Standard", Difficulty: "Expert+"})
	assert.ErrorIs(t, err, storage.ErrDuplicateMap)

	_, err = svc.RankMap(ctx, RankRequest{Code: "3f2a1", Category: "tech", Level: 40, Characteristic: "Standard", Difficulty: "Expert+"})
	assert.ErrorIs(t, err, ErrInvalidLevel)

	_, err = svc.RankMap(ctx, RankRequest{Code: "3f2a1", Category: "tech", Level: 3, Characteristic: "Lawless", Difficulty: "Expert+"})
	assert.ErrorIs(t, err, ErrDifficultyNotFound)

	_, err = svc.RankMap(ctx, RankRequest{Code: "nope", Category: "tech", Level: 3, Characteristic: "Standard", Difficulty: "Expert+"})
	assert.ErrorIs(t, err, httpapi.ErrNotFound)
}

func TestUpdateAndRemoveMap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rankTestMap(t, svc)

	up, err := svc.UpdateMap(ctx, "!3F2A1", storage.FieldLevel, "14")
	require.NoError(t, err)
	assert.Equal(t, "12", up.Old)
	assert.Equal(t, "14", up.New)

	_, err = svc.UpdateMap(ctx, "3f2a1", storage.FieldLevel, "14")
	assert.ErrorIs(t, err, ErrSameValue)
	_, err = svc.UpdateMap(ctx, "3f2a1", storage.FieldLevel, "100")
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = svc.UpdateMap(ctx, "3f2a1", storage.FieldCategory, "JUMPS")
	require.NoError(t, err)

	found, err := svc.FindMap(ctx, "3f2a1")
	require.NoError(t, err)
	assert.Equal(t, 14, found.Level)
	assert.Equal(t, "jumps", found.Category)

	hits, err := svc.Search(ctx, "son", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	removed, err := svc.RemoveMap(ctx, "3f2a1")
	require.NoError(t, err)
	assert.Equal(t, "Song", removed.SongName)
	_, err = svc.RemoveMap(ctx, "3f2a1")
	assert.ErrorIs(t, err, ErrMapNotFound)
}

func TestApplyReviewAndUnlink(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Apply(ctx, "u1", "user", "nobody")
	assert.ErrorIs(t, err, beatleader.ErrNoPlayer)

	app, err := svc.Apply(ctx, "u1", "user", "77")
	require.NoError(t, err)
	assert.Equal(t, "https://beatleader.com/u/77", app.Profile.ProfileURL)

	_, err = svc.Apply(ctx, "u1", "user", "77")
	assert.ErrorIs(t, err, storage.ErrPendingApplication)

	pending, err := svc.PendingApplications(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, svc.Review(ctx, pending[0], true, "rev"))
	_, err = svc.Apply(ctx, "u1", "user", "77")
	assert.ErrorIs(t, err, ErrAlreadyLinked)

	user, ok, err := svc.LinkedUser(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rev", user.ApprovedBy)

	removed, err := svc.Unlink(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, removed)
	_, ok, err = svc.LinkedUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScan(t *testing.T) {
	svc, players := newTestService(t)
	ctx := context.Background()
	rankTestMap(t, svc)

	_, err := svc.Scan(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotLinked)

	_, err = svc.ForceLink(ctx, "u1", "77", "staff")
	require.NoError(t, err)

	players.scores = nil
	_, err = svc.Scan(ctx, "u1")
	assert.ErrorIs(t, err, ErrNoScores)

	players.scores = []beatleader.Score{
		score("Song", "abcdef", "Standard", "ExpertPlus", 0.91, ""),
		score("Song", "abcdef", "Standard", "ExpertPlus", 0.97, "NF"),
	}
	report, err := svc.Scan(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 12, report.Result.Level)
	assert.Equal(t, 1, report.TotalPasses)
	assert.Equal(t, 1, report.Result.NewCount())
	require.Len(t, report.Disallowed, 1)
	assert.Equal(t, []string{"NF"}, report.Disallowed[0].Modifiers)

	// Rescanning the same scores changes nothing.
	report, err = svc.Scan(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Result.NewCount())
	assert.Empty(t, report.Disallowed)
	assert.Empty(t, report.Result.Writes)
}

func TestParseCode(t *testing.T) {
	assert.Equal(t, "3f2a1", ParseCode(" !3f2a1 "))
	assert.Equal(t, "3f2a1", ParseCode("https://beatsaver.com/maps/3f2a1?x=1"))
	assert.True(t, errors.Is(ErrNotLinked, ErrNotLinked))
}
