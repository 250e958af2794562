package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"worldmachine/internal/errs"
)

// GetGuildConfig returns the stored YAML blob for a guild. found is false
// when the guild has never saved a config.
func (s *Store) GetGuildConfig(ctx context.Context, guildID string) (data string, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT config_data FROM guild_configs WHERE guild_id = ?`, guildID)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errs.Wrap(err)
	}
	return data, true, nil
}

func (s *Store) SaveGuildConfig(ctx context.Context, guildID, data string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_configs (guild_id, config_data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			config_data = excluded.config_data,
			updated_at = excluded.updated_at
	`, guildID, data, time.Now().Unix())
	return errs.Wrap(err)
}
