package storage

import (
	"context"
	"time"

	"worldmachine/internal/errs"
)

type ModAction struct {
	ID          int64
	GuildID     string
	Action      string
	TargetID    string
	ModeratorID string
	Reason      string
	Duration    time.Duration
	CreatedAt   time.Time
}

type TempBan struct {
	GuildID string
	UserID  string
	UnbanAt time.Time
}

func (s *Store) AddModAction(ctx context.Context, action ModAction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mod_actions (guild_id, action, target_id, moderator_id, reason, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, action.GuildID, action.Action, action.TargetID, action.ModeratorID, action.Reason, int64(action.Duration/time.Second), action.CreatedAt.Unix())
	return errs.Wrap(err)
}

func (s *Store) ListModActions(ctx context.Context, guildID string, since time.Time) ([]ModAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, action, target_id, moderator_id, reason, duration_seconds, created_at
		FROM mod_actions
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()

	var actions []ModAction
	for rows.Next() {
		var action ModAction
		var seconds, created int64
		if err := rows.Scan(&action.ID, &action.GuildID, &action.Action, &action.TargetID, &action.ModeratorID, &action.Reason, &seconds, &created); err != nil {
			return nil, errs.Wrap(err)
		}
		action.Duration = time.Duration(seconds) * time.Second
		action.CreatedAt = time.Unix(created, 0)
		actions = append(actions, action)
	}
	return actions, errs.Wrap(rows.Err())
}

func (s *Store) AddTempBan(ctx context.Context, ban TempBan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO temp_bans (guild_id, user_id, unban_at) VALUES (?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET unban_at = excluded.unban_at
	`, ban.GuildID, ban.UserID, ban.UnbanAt.Unix())
	return errs.Wrap(err)
}

func (s *Store) RemoveTempBan(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM temp_bans WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	return errs.Wrap(err)
}

func (s *Store) ListTempBans(ctx context.Context) ([]TempBan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, user_id, unban_at FROM temp_bans ORDER BY unban_at`)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()

	var bans []TempBan
	for rows.Next() {
		var ban TempBan
		var unbanAt int64
		if err := rows.Scan(&ban.GuildID, &ban.UserID, &unbanAt); err != nil {
			return nil, errs.Wrap(err)
		}
		ban.UnbanAt = time.Unix(unbanAt, 0)
		bans = append(bans, ban)
	}
	return bans, errs.Wrap(rows.Err())
}
