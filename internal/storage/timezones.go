package storage

import (
	"context"
	"database/sql"
	"errors"

	"worldmachine/internal/errs"
)

func (s *Store) SetUserTimezone(ctx context.Context, userID, timezone string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO user_timezones (user_id, timezone) VALUES (?, ?)`, userID, timezone)
	return errs.Wrap(err)
}

// GetUserTimezone returns "" when the user never set one.
func (s *Store) GetUserTimezone(ctx context.Context, userID string) (string, error) {
	var tz string
	err := s.db.QueryRowContext(ctx, `SELECT timezone FROM user_timezones WHERE user_id = ?`, userID).Scan(&tz)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", errs.Wrap(err)
	}
	return tz, nil
}
