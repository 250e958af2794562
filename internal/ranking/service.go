package ranking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"worldmachine/internal/beatleader"
	"worldmachine/internal/beatsaver"
	"worldmachine/internal/errs"
	"worldmachine/internal/storage"

	"go.uber.org/zap"
)

var (
	ErrInvalidLevel       = errors.New("invalid level")
	ErrDifficultyNotFound = errors.New("difficulty not found on map")
	ErrMapNotFound        = errors.New("map not ranked")
	ErrSameValue          = errors.New("value unchanged")
	ErrAlreadyLinked      = errors.New("already linked")
	ErrNotLinked          = errors.New("not linked")
	ErrNoScores           = errors.New("no scores found")
	ErrNoRankedMaps       = errors.New("no ranked maps")
	ErrInvalidField       = errors.New("invalid field value")
	ErrFetchScores        = errors.New("fetch scores")
)

type MapSource interface {
	GetMap(ctx context.Context, code string) (beatsaver.Map, error)
}

type PlayerSource interface {
	ResolveProfile(ctx context.Context, identifier string) (beatleader.Player, error)
	RecentScores(ctx context.Context, playerID string, maxPages int) ([]beatleader.Score, error)
}

type Service struct {
	store    *storage.Store
	maps     MapSource
	players  PlayerSource
	logger   *zap.Logger
	maxPages int
	now      func() time.Time
}

func NewService(store *storage.Store, maps MapSource, players PlayerSource, logger *zap.Logger, maxPages int) *Service {
	if maxPages <= 0 {
		maxPages = 10
	}
	return &Service{store: store, maps: maps, players: players, logger: logger, maxPages: maxPages, now: time.Now}
}

// ParseCode accepts a bare BSR code, a "!code" form, or a beatsaver.com
// map URL.
func ParseCode(input string) string {
	code := strings.TrimSpace(input)
	if i := strings.Index(code, "/maps/"); i >= 0 {
		code = code[i+len("/maps/"):]
		if j := strings.IndexAny(code, "/?#"); j >= 0 {
			code = code[:j]
		}
	}
	return strings.TrimPrefix(code, "!")
}

type RankRequest struct {
	Code           string
	Category       string
	Level          int
	Characteristic string
	Difficulty     string
	Info           string
	RankedBy       string
}

func (s *Service) RankMap(ctx context.Context, req RankRequest) (storage.RankedMap, error) {
	if !ValidRankLevel(req.Level) {
		return storage.RankedMap{}, fmt.Errorf("%w: %d. Must be between 1-32 for ranked maps, or exactly 100 for unranked maps", ErrInvalidLevel, req.Level)
	}
	category, ok := CanonicalCategory(req.Category)
	if !ok {
		return storage.RankedMap{}, fmt.Errorf("%w: category %q", ErrInvalidField, req.Category)
	}
	characteristic, ok := CanonicalCharacteristic(req.Characteristic)
	if !ok {
		return storage.RankedMap{}, fmt.Errorf("%w: characteristic %q", ErrInvalidField, req.Characteristic)
	}
	difficulty, ok := CanonicalDifficulty(req.Difficulty)
	if !ok {
		return storage.RankedMap{}, fmt.Errorf("%w: difficulty %q", ErrInvalidField, req.Difficulty)
	}

	data, err := s.maps.GetMap(ctx, ParseCode(req.Code))
	if err != nil {
		return storage.RankedMap{}, err
	}
	version, diff, ok := data.FindDifficulty(characteristic, difficulty)
	if !ok {
		return storage.RankedMap{}, fmt.Errorf("%w: %s %s", ErrDifficultyNotFound, characteristic, difficulty)
	}

	levelAuthor := data.Metadata.LevelAuthorName
	if levelAuthor == "" {
		levelAuthor = "Unknown"
	}
	m := storage.RankedMap{
		ID:             data.ID,
		Name:           data.Name,
		SongName:       data.Metadata.SongName,
		SongAuthor:     data.Metadata.SongAuthorName,
		LevelAuthor:    levelAuthor,
		BPM:            data.Metadata.BPM,
		Duration:       data.Metadata.Duration,
		CoverURL:       version.CoverURL,
		DownloadURL:    version.DownloadURL,
		Characteristic: characteristic,
		Difficulty:     difficulty,
		NPS:            diff.NPS,
		Notes:          diff.Notes,
		NJS:            diff.NJS,
		Category:       category,
		Level:          req.Level,
		RankedBy:       req.RankedBy,
		RankedAt:       s.now().UTC().Format(time.RFC3339),
		SongHash:       data.SongHash(),
		AdditionalInfo: strings.TrimSpace(req.Info),
	}
	if err := s.store.SaveRankedMap(ctx, m); err != nil {
		return storage.RankedMap{}, err
	}
	s.logger.Info("map ranked", zap.String("map_id", m.ID), zap.Int("level", m.Level), zap.String("ranked_by", m.RankedBy))
	return m, nil
}

// FindMap looks a ranked map up by code, ignoring case and a leading "!".
func (s *Service) FindMap(ctx context.Context, code string) (storage.RankedMap, error) {
	code = ParseCode(code)
	if code == "" {
		return storage.RankedMap{}, ErrMapNotFound
	}
	maps, err := s.store.FindRankedMapsByID(ctx, 1, code, "!"+code)
	if err != nil {
		return storage.RankedMap{}, err
	}
	if len(maps) == 0 {
		return storage.RankedMap{}, ErrMapNotFound
	}
	return maps[0], nil
}

type MapUpdate struct {
	Map   storage.RankedMap
	Field storage.MapField
	Old   string
	New   string
}

// UpdateMap changes exactly one field. Values are validated and
// canonicalized per field; an unchanged value is rejected.
func (s *Service) UpdateMap(ctx context.Context, code string, field storage.MapField, value string) (MapUpdate, error) {
	m, err := s.FindMap(ctx, code)
	if err != nil {
		return MapUpdate{}, err
	}
	value = strings.TrimSpace(value)
	var old string
	var stored any = value

	switch field {
	case storage.FieldCategory:
		old = m.Category
		v, ok := CanonicalCategory(value)
		if !ok {
			return MapUpdate{}, fmt.Errorf("%w: category %q", ErrInvalidField, value)
		}
		value, stored = v, v
	case storage.FieldLevel:
		old = strconv.Itoa(m.Level)
		level, err := strconv.Atoi(value)
		if err != nil || level < MinLevel || level > MaxLevel {
			return MapUpdate{}, fmt.Errorf("%w: level must be between 1 and 32", ErrInvalidField)
		}
		value, stored = strconv.Itoa(level), level
	case storage.FieldCharacteristic:
		old = m.Characteristic
		v, ok := CanonicalCharacteristic(value)
		if !ok {
			return MapUpdate{}, fmt.Errorf("%w: characteristic %q", ErrInvalidField, value)
		}
		value, stored = v, v
	case storage.FieldDifficulty:
		old = m.Difficulty
		v, ok := CanonicalDifficulty(value)
		if !ok {
			return MapUpdate{}, fmt.Errorf("%w: difficulty %q", ErrInvalidField, value)
		}
		value, stored = v, v
	case storage.FieldAdditionalInfo:
		old = m.AdditionalInfo
	case storage.FieldSongHash:
		old = m.SongHash
	default:
		return MapUpdate{}, fmt.Errorf("%w: unknown field %q", ErrInvalidField, field)
	}
	if old == value {
		return MapUpdate{}, ErrSameValue
	}
	if _, err := s.store.UpdateRankedMap(ctx, m.ID, field, stored); err != nil {
		return MapUpdate{}, err
	}
	s.logger.Info("map updated", zap.String("map_id", m.ID), zap.String("field", string(field)), zap.String("old", old), zap.String("new", value))
	return MapUpdate{Map: m, Field: field, Old: old, New: value}, nil
}

func (s *Service) RemoveMap(ctx context.Context, code string) (storage.RankedMap, error) {
	m, err := s.FindMap(ctx, code)
	if err != nil {
		return storage.RankedMap{}, err
	}
	removed, err := s.store.RemoveRankedMap(ctx, m.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RankedMap{}, ErrMapNotFound
		}
		return storage.RankedMap{}, err
	}
	s.logger.Info("map removed", zap.String("map_id", removed.ID))
	return removed, nil
}

func (s *Service) ListMaps(ctx context.Context) ([]storage.RankedMap, error) {
	return s.store.ListRankedMaps(ctx)
}

func (s *Service) LevelDistribution(ctx context.Context) (map[int]int, error) {
	return s.store.LevelDistribution(ctx)
}

// Search answers getinfo: a code form first, then a song name search.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]storage.RankedMap, error) {
	code := ParseCode(query)
	if code != "" && !strings.ContainsAny(code, " \t") {
		maps, err := s.store.FindRankedMapsByID(ctx, limit, code, "!"+code)
		if err != nil {
			return nil, err
		}
		if len(maps) > 0 {
			return maps, nil
		}
	}
	return s.store.SearchRankedMaps(ctx, strings.TrimSpace(query), limit)
}

func profileFrom(p beatleader.Player) storage.Profile {
	return storage.Profile{
		BeatLeaderID: p.ID,
		Username:     p.Name,
		PP:           p.PP,
		Rank:         p.Rank,
		CountryRank:  p.CountryRank,
		Country:      p.Country,
		AvatarURL:    p.Avatar,
		ProfileURL:   p.ProfileURL(),
	}
}

func (s *Service) linked(ctx context.Context, discordID string) (storage.ApprovedUser, bool, error) {
	user, err := s.store.GetApprovedUser(ctx, discordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ApprovedUser{}, false, nil
		}
		return storage.ApprovedUser{}, false, err
	}
	return user, true, nil
}

func (s *Service) LinkedUser(ctx context.Context, discordID string) (storage.ApprovedUser, bool, error) {
	return s.linked(ctx, discordID)
}

// Apply files a link application for review.
func (s *Service) Apply(ctx context.Context, discordID, discordUsername, identifier string) (storage.Application, error) {
	if _, ok, err := s.linked(ctx, discordID); err != nil {
		return storage.Application{}, err
	} else if ok {
		return storage.Application{}, ErrAlreadyLinked
	}
	pending, err := s.store.HasPendingApplication(ctx, discordID)
	if err != nil {
		return storage.Application{}, err
	}
	if pending {
		return storage.Application{}, storage.ErrPendingApplication
	}

	player, err := s.players.ResolveProfile(ctx, identifier)
	if err != nil {
		return storage.Application{}, err
	}
	app := storage.Application{
		DiscordID:       discordID,
		DiscordUsername: discordUsername,
		Profile:         profileFrom(player),
		AppliedAt:       s.now(),
		Status:          storage.StatusPending,
	}
	if err := s.store.SaveApplication(ctx, app); err != nil {
		return storage.Application{}, err
	}
	s.logger.Info("link application saved", zap.String("discord_id", discordID), zap.String("beatleader_id", player.ID))
	return app, nil
}

func (s *Service) PendingApplications(ctx context.Context) ([]storage.Application, error) {
	return s.store.ListPendingApplications(ctx)
}

func (s *Service) Review(ctx context.Context, app storage.Application, approve bool, reviewerID string) error {
	status := storage.StatusDenied
	if approve {
		status = storage.StatusApproved
	}
	if err := s.store.ReviewApplication(ctx, app.DiscordID, app.Profile.BeatLeaderID, status, reviewerID, s.now()); err != nil {
		return err
	}
	s.logger.Info("link application reviewed", zap.String("discord_id", app.DiscordID), zap.String("status", status), zap.String("reviewer", reviewerID))
	return nil
}

// ForceLink links a profile without an application.
func (s *Service) ForceLink(ctx context.Context, discordID, identifier, by string) (storage.ApprovedUser, error) {
	player, err := s.players.ResolveProfile(ctx, identifier)
	if err != nil {
		return storage.ApprovedUser{}, err
	}
	now := s.now()
	user := storage.ApprovedUser{
		DiscordID:   discordID,
		Profile:     profileFrom(player),
		ApprovedAt:  now,
		ApprovedBy:  by,
		LastUpdated: now,
	}
	if err := s.store.UpsertApprovedUser(ctx, user); err != nil {
		return storage.ApprovedUser{}, err
	}
	s.logger.Info("profile force linked", zap.String("discord_id", discordID), zap.String("beatleader_id", player.ID), zap.String("by", by))
	return user, nil
}

func (s *Service) Unlink(ctx context.Context, discordID string) (bool, error) {
	return s.store.RemoveApprovedUser(ctx, discordID)
}

type ScanReport struct {
	User        storage.ApprovedUser
	Result      Reconciliation
	Disallowed  []DisallowedResult
	TotalPasses int
}

// Scan pulls recent scores and reconciles them into stored passes.
func (s *Service) Scan(ctx context.Context, discordID string) (ScanReport, error) {
	user, ok, err := s.linked(ctx, discordID)
	if err != nil {
		return ScanReport{}, err
	}
	if !ok {
		return ScanReport{}, ErrNotLinked
	}

	scores, err := s.players.RecentScores(ctx, user.Profile.BeatLeaderID, s.maxPages)
	if err != nil {
		return ScanReport{}, errs.Wrap(fmt.Errorf("%w: %w", ErrFetchScores, err))
	}
	if len(scores) == 0 {
		return ScanReport{}, ErrNoScores
	}
	maps, err := s.store.ListRankedMaps(ctx)
	if err != nil {
		return ScanReport{}, err
	}
	if len(maps) == 0 {
		return ScanReport{}, ErrNoRankedMaps
	}
	stored, err := s.store.ListPasses(ctx, discordID)
	if err != nil {
		return ScanReport{}, err
	}

	result := Reconcile(discordID, user.Profile.BeatLeaderID, scores, maps, stored, s.now())
	if err := s.store.UpsertPasses(ctx, result.Writes); err != nil {
		// passes already matched still show up in the report
		s.logger.Error("save passes failed", zap.String("discord_id", discordID), errs.Field(err))
	}

	var improved []storage.DisallowedPass
	for _, p := range result.Disallowed {
		ok, err := s.store.SaveDisallowedPass(ctx, p)
		if err != nil {
			s.logger.Warn("save disallowed pass failed", zap.String("discord_id", discordID), zap.String("song", p.SongName), zap.Error(err))
			continue
		}
		if ok {
			improved = append(improved, p)
		}
	}

	total, err := s.store.CountPasses(ctx, discordID)
	if err != nil {
		total = len(result.Passes)
	}
	s.logger.Info("scan complete",
		zap.String("discord_id", discordID),
		zap.Int("scores", len(scores)),
		zap.Int("writes", len(result.Writes)),
		zap.Int("disallowed", len(improved)),
		zap.Int("level", result.Level),
	)
	return ScanReport{
		User:        user,
		Result:      result,
		Disallowed:  GroupDisallowed(improved),
		TotalPasses: total,
	}, nil
}
