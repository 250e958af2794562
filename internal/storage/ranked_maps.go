package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"worldmachine/internal/errs"
)

// ErrDuplicateMap is returned when a map id is already ranked.
var ErrDuplicateMap = errors.New("map already ranked")

type RankedMap struct {
	ID             string
	Name           string
	SongName       string
	SongAuthor     string
	LevelAuthor    string
	BPM            float64
	Duration       int
	CoverURL       string
	DownloadURL    string
	Characteristic string
	Difficulty     string
	NPS            float64
	Notes          int
	NJS            float64
	Category       string
	Level          int
	RankedBy       string
	RankedAt       string
	SongHash       string
	AdditionalInfo string
}

// MapField names a single updatable column of ranked_maps.
type MapField string

const (
	FieldCategory       MapField = "category"
	FieldLevel          MapField = "level"
	FieldCharacteristic MapField = "characteristic"
	FieldDifficulty     MapField = "difficulty"
	FieldAdditionalInfo MapField = "additional_info"
	FieldSongHash       MapField = "song_hash"
)

func (f MapField) valid() bool {
	switch f {
	case FieldCategory, FieldLevel, FieldCharacteristic, FieldDifficulty, FieldAdditionalInfo, FieldSongHash:
		return true
	}
	return false
}

const rankedMapColumns = `id, name, song_name, song_author, level_author, bpm, duration, cover_url, download_url,
	characteristic, difficulty, nps, notes, njs, category, level, ranked_by, ranked_at, song_hash, additional_info`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRankedMap(row rowScanner) (RankedMap, error) {
	var m RankedMap
	err := row.Scan(&m.ID, &m.Name, &m.SongName, &m.SongAuthor, &m.LevelAuthor, &m.BPM, &m.Duration, &m.CoverURL, &m.DownloadURL,
		&m.Characteristic, &m.Difficulty, &m.NPS, &m.Notes, &m.NJS, &m.Category, &m.Level, &m.RankedBy, &m.RankedAt, &m.SongHash, &m.AdditionalInfo)
	return m, err
}

func (s *Store) SaveRankedMap(ctx context.Context, m RankedMap) error {
	return s.immediate(ctx, func(conn *sql.Conn) error {
		var existing string
		err := conn.QueryRowContext(ctx, `SELECT id FROM ranked_maps WHERE id = ?`, m.ID).Scan(&existing)
		if err == nil {
			return ErrDuplicateMap
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = conn.ExecContext(ctx, `INSERT INTO ranked_maps (`+rankedMapColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.Name, m.SongName, m.SongAuthor, m.LevelAuthor, m.BPM, m.Duration, m.CoverURL, m.DownloadURL,
			m.Characteristic, m.Difficulty, m.NPS, m.Notes, m.NJS, m.Category, m.Level, m.RankedBy, m.RankedAt, m.SongHash, m.AdditionalInfo)
		return err
	})
}

// GetRankedMap returns sql.ErrNoRows when the id is unknown.
func (s *Store) GetRankedMap(ctx context.Context, id string) (RankedMap, error) {
	var m RankedMap
	err := s.immediate(ctx, func(conn *sql.Conn) error {
		var err error
		m, err = scanRankedMap(conn.QueryRowContext(ctx, `SELECT `+rankedMapColumns+` FROM ranked_maps WHERE id = ?`, id))
		return err
	})
	return m, err
}

// UpdateRankedMap sets one field and reports whether a row changed.
func (s *Store) UpdateRankedMap(ctx context.Context, id string, field MapField, value any) (bool, error) {
	if !field.valid() {
		return false, fmt.Errorf("unknown map field %q", field)
	}
	var changed bool
	err := s.immediate(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `UPDATE ranked_maps SET `+string(field)+` = ? WHERE id = ?`, value, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		changed = n > 0
		return err
	})
	return changed, err
}

// RemoveRankedMap deletes the map and returns what was stored.
func (s *Store) RemoveRankedMap(ctx context.Context, id string) (RankedMap, error) {
	var m RankedMap
	err := s.immediate(ctx, func(conn *sql.Conn) error {
		var err error
		m, err = scanRankedMap(conn.QueryRowContext(ctx, `SELECT `+rankedMapColumns+` FROM ranked_maps WHERE id = ?`, id))
		if err != nil {
			return err
		}
		_, err = conn.ExecContext(ctx, `DELETE FROM ranked_maps WHERE id = ?`, id)
		return err
	})
	return m, err
}

func (s *Store) ListRankedMaps(ctx context.Context) ([]RankedMap, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rankedMapColumns+` FROM ranked_maps ORDER BY id`)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return collectRankedMaps(rows)
}

// LevelDistribution counts maps per level. Levels outside 1-32 count as 100.
func (s *Store) LevelDistribution(ctx context.Context) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN level BETWEEN 1 AND 32 THEN level ELSE 100 END AS level_group, COUNT(*)
		FROM ranked_maps
		GROUP BY level_group
		ORDER BY level_group
	`)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()

	dist := make(map[int]int)
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, errs.Wrap(err)
		}
		dist[level] = count
	}
	return dist, errs.Wrap(rows.Err())
}

// FindRankedMapsByID matches any of the ids case-insensitively, in the
// order given.
func (s *Store) FindRankedMapsByID(ctx context.Context, limit int, ids ...string) ([]RankedMap, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)*2+1)
	for _, id := range ids {
		args = append(args, strings.ToLower(id))
	}
	args = append(args, strings.ToLower(ids[0]), limit)
	rows, err := s.db.QueryContext(ctx, `SELECT `+rankedMapColumns+` FROM ranked_maps
		WHERE LOWER(id) IN (`+placeholders+`)
		ORDER BY LOWER(id) = ? DESC, id
		LIMIT ?`, args...)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return collectRankedMaps(rows)
}

// SearchRankedMaps matches song names containing query. Exact matches sort
// first, then prefix matches, then the rest by name.
func (s *Store) SearchRankedMaps(ctx context.Context, query string, limit int) ([]RankedMap, error) {
	lower := strings.ToLower(query)
	rows, err := s.db.QueryContext(ctx, `SELECT `+rankedMapColumns+` FROM ranked_maps
		WHERE LOWER(song_name) LIKE ?
		ORDER BY
			CASE
				WHEN LOWER(song_name) = ? THEN 0
				WHEN LOWER(song_name) LIKE ? THEN 1
				ELSE 2
			END,
			song_name
		LIMIT ?`, "%"+lower+"%", lower, lower+"%", limit)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return collectRankedMaps(rows)
}

func collectRankedMaps(rows *sql.Rows) ([]RankedMap, error) {
	defer rows.Close()
	var maps []RankedMap
	for rows.Next() {
		m, err := scanRankedMap(rows)
		if err != nil {
			return nil, errs.Wrap(err)
		}
		maps = append(maps, m)
	}
	return maps, errs.Wrap(rows.Err())
}
