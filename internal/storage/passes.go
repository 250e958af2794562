package storage

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"worldmachine/internal/errs"
)

type Pass struct {
	DiscordID      string
	BeatLeaderID   string
	SongName       string
	Characteristic string
	Difficulty     string
	Level          int
	Accuracy       float64 // percent, 0-100
	Points         int
	PassedAt       time.Time
}

type DisallowedPass struct {
	Pass
	Modifiers []string
}

// PassKey identifies a pass independent of song name casing.
func PassKey(songName, characteristic, difficulty string) string {
	return strings.ToLower(songName) + ":" + characteristic + ":" + difficulty
}

// UpsertPasses inserts passes, replacing stored ones only when accuracy
// improved.
func (s *Store) UpsertPasses(ctx context.Context, passes []Pass) error {
	if len(passes) == 0 {
		return nil
	}
	return s.immediate(ctx, func(conn *sql.Conn) error {
		for _, p := range passes {
			_, err := conn.ExecContext(ctx, `
				INSERT INTO user_passes (discord_id, beatleader_id, song_name, characteristic, difficulty, level, accuracy, points, passed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(discord_id, song_name, characteristic, difficulty) DO UPDATE SET
					accuracy = excluded.accuracy,
					points = excluded.points,
					level = excluded.level,
					passed_at = excluded.passed_at
				WHERE excluded.accuracy > user_passes.accuracy
			`, p.DiscordID, p.BeatLeaderID, p.SongName, p.Characteristic, p.Difficulty, p.Level, p.Accuracy, p.Points, formatTime(p.PassedAt))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CountPasses(ctx context.Context, discordID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_passes WHERE discord_id = ?`, discordID).Scan(&n)
	return n, errs.Wrap(err)
}

func (s *Store) ListPasses(ctx context.Context, discordID string) ([]Pass, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT discord_id, beatleader_id, song_name, characteristic, difficulty, level, accuracy, points, passed_at
		FROM user_passes WHERE discord_id = ?
		ORDER BY level DESC, accuracy DESC
	`, discordID)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()

	var passes []Pass
	for rows.Next() {
		var p Pass
		var passed string
		if err := rows.Scan(&p.DiscordID, &p.BeatLeaderID, &p.SongName, &p.Characteristic, &p.Difficulty, &p.Level, &p.Accuracy, &p.Points, &passed); err != nil {
			return nil, errs.Wrap(err)
		}
		p.PassedAt = parseTime(passed)
		passes = append(passes, p)
	}
	return passes, errs.Wrap(rows.Err())
}

// SaveDisallowedPass stores p when it beats the stored accuracy for the same
// map and modifier set. It reports whether p was stored.
func (s *Store) SaveDisallowedPass(ctx context.Context, p DisallowedPass) (bool, error) {
	mods := JoinModifiers(p.Modifiers)
	var stored bool
	err := s.immediate(ctx, func(conn *sql.Conn) error {
		var existing float64
		err := conn.QueryRowContext(ctx, `
			SELECT accuracy FROM disallowed_passes
			WHERE discord_id = ? AND song_name = ? AND characteristic = ? AND difficulty = ? AND modifiers = ?
		`, p.DiscordID, p.SongName, p.Characteristic, p.Difficulty, mods).Scan(&existing)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if p.Accuracy <= existing {
			return nil
		}
		_, err = conn.ExecContext(ctx, `
			INSERT OR REPLACE INTO disallowed_passes
				(discord_id, beatleader_id, song_name, characteristic, difficulty, level, accuracy, modifiers, passed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.DiscordID, p.BeatLeaderID, p.SongName, p.Characteristic, p.Difficulty, p.Level, p.Accuracy, mods, formatTime(p.PassedAt))
		stored = err == nil
		return err
	})
	return stored, err
}

// JoinModifiers sorts and comma-joins a modifier set.
func JoinModifiers(mods []string) string {
	sorted := append([]string(nil), mods...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
