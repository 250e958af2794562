package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"worldmachine/internal/errs"
)

// ErrPendingApplication is returned when a user already waits for review.
var ErrPendingApplication = errors.New("application already pending")

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
)

// Profile is the BeatLeader snapshot kept with applications and links.
type Profile struct {
	BeatLeaderID string
	Username     string
	PP           float64
	Rank         int
	CountryRank  int
	Country      string
	AvatarURL    string
	ProfileURL   string
}

type Application struct {
	ID              int64
	DiscordID       string
	DiscordUsername string
	Profile         Profile
	AppliedAt       time.Time
	Status          string
	ReviewedBy      string
	ReviewedAt      time.Time
}

type ApprovedUser struct {
	DiscordID   string
	Profile     Profile
	ApprovedAt  time.Time
	ApprovedBy  string
	LastUpdated time.Time
}

func (s *Store) HasPendingApplication(ctx context.Context, discordID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM user_applications WHERE discord_id = ? AND status = ?`, discordID, StatusPending).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errs.Wrap(err)
	}
	return true, nil
}

// SaveApplication records a pending application. A previously reviewed
// application for the same profile is reopened.
func (s *Store) SaveApplication(ctx context.Context, app Application) error {
	return s.immediate(ctx, func(conn *sql.Conn) error {
		var one int
		err := conn.QueryRowContext(ctx, `SELECT 1 FROM user_applications WHERE discord_id = ? AND status = ?`, app.DiscordID, StatusPending).Scan(&one)
		if err == nil {
			return ErrPendingApplication
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		p := app.Profile
		_, err = conn.ExecContext(ctx, `
			INSERT INTO user_applications (
				discord_id, discord_username, beatleader_id, beatleader_username, pp, rank, country_rank,
				country, avatar_url, profile_url, application_time, status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(discord_id, beatleader_id) DO UPDATE SET
				discord_username = excluded.discord_username,
				beatleader_username = excluded.beatleader_username,
				pp = excluded.pp,
				rank = excluded.rank,
				country_rank = excluded.country_rank,
				country = excluded.country,
				avatar_url = excluded.avatar_url,
				profile_url = excluded.profile_url,
				application_time = excluded.application_time,
				status = excluded.status,
				reviewed_by = '',
				review_time = ''
		`, app.DiscordID, app.DiscordUsername, p.BeatLeaderID, p.Username, p.PP, p.Rank, p.CountryRank,
			p.Country, p.AvatarURL, p.ProfileURL, formatTime(app.AppliedAt), StatusPending)
		return err
	})
}

func (s *Store) ListPendingApplications(ctx context.Context) ([]Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, discord_id, discord_username, beatleader_id, beatleader_username, pp, rank, country_rank,
			country, avatar_url, profile_url, application_time, status, reviewed_by, review_time
		FROM user_applications
		WHERE status = ?
		ORDER BY id
	`, StatusPending)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()

	var apps []Application
	for rows.Next() {
		var app Application
		var applied, reviewed string
		p := &app.Profile
		if err := rows.Scan(&app.ID, &app.DiscordID, &app.DiscordUsername, &p.BeatLeaderID, &p.Username, &p.PP, &p.Rank, &p.CountryRank,
			&p.Country, &p.AvatarURL, &p.ProfileURL, &applied, &app.Status, &app.ReviewedBy, &reviewed); err != nil {
			return nil, errs.Wrap(err)
		}
		app.AppliedAt = parseTime(applied)
		app.ReviewedAt = parseTime(reviewed)
		apps = append(apps, app)
	}
	return apps, errs.Wrap(rows.Err())
}

// ReviewApplication moves a pending application to approved or denied. An
// approval also links the profile in approved_users.
func (s *Store) ReviewApplication(ctx context.Context, discordID, beatleaderID, status, reviewerID string, at time.Time) error {
	if status != StatusApproved && status != StatusDenied {
		return errs.Wrap(errors.New("invalid review status " + status))
	}
	return s.immediate(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			UPDATE user_applications SET status = ?, reviewed_by = ?, review_time = ?
			WHERE discord_id = ? AND beatleader_id = ?
		`, status, reviewerID, formatTime(at), discordID, beatleaderID)
		if err != nil || status != StatusApproved {
			return err
		}
		_, err = conn.ExecContext(ctx, `
			INSERT OR REPLACE INTO approved_users (
				discord_id, beatleader_id, username, pp, rank, country_rank, country, avatar_url, profile_url,
				approved_at, approved_by, last_updated
			)
			SELECT discord_id, beatleader_id, beatleader_username, pp, rank, country_rank, country, avatar_url, profile_url,
				?, ?, ?
			FROM user_applications
			WHERE discord_id = ? AND beatleader_id = ?
		`, formatTime(at), reviewerID, formatTime(at), discordID, beatleaderID)
		return err
	})
}

// GetApprovedUser returns sql.ErrNoRows when the user is not linked.
func (s *Store) GetApprovedUser(ctx context.Context, discordID string) (ApprovedUser, error) {
	var user ApprovedUser
	var approved, updated string
	p := &user.Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT discord_id, beatleader_id, username, pp, rank, country_rank, country, avatar_url, profile_url,
			approved_at, approved_by, last_updated
		FROM approved_users WHERE discord_id = ?
	`, discordID).Scan(&user.DiscordID, &p.BeatLeaderID, &p.Username, &p.PP, &p.Rank, &p.CountryRank, &p.Country, &p.AvatarURL, &p.ProfileURL,
		&approved, &user.ApprovedBy, &updated)
	if err != nil {
		return ApprovedUser{}, errs.Wrap(err)
	}
	user.ApprovedAt = parseTime(approved)
	user.LastUpdated = parseTime(updated)
	return user, nil
}

// UpsertApprovedUser links a profile directly, keeping the original
// approval time of an existing link.
func (s *Store) UpsertApprovedUser(ctx context.Context, user ApprovedUser) error {
	p := user.Profile
	return s.immediate(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO approved_users (
				discord_id, beatleader_id, username, pp, rank, country_rank, country, avatar_url, profile_url,
				approved_at, approved_by, last_updated
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(discord_id) DO UPDATE SET
				beatleader_id = excluded.beatleader_id,
				username = excluded.username,
				pp = excluded.pp,
				rank = excluded.rank,
				country_rank = excluded.country_rank,
				country = excluded.country,
				avatar_url = excluded.avatar_url,
				profile_url = excluded.profile_url,
				approved_by = excluded.approved_by,
				last_updated = excluded.last_updated
		`, user.DiscordID, p.BeatLeaderID, p.Username, p.PP, p.Rank, p.CountryRank, p.Country, p.AvatarURL, p.ProfileURL,
			formatTime(user.ApprovedAt), user.ApprovedBy, formatTime(user.LastUpdated))
		return err
	})
}

// RemoveApprovedUser reports whether a link existed.
func (s *Store) RemoveApprovedUser(ctx context.Context, discordID string) (bool, error) {
	var removed bool
	err := s.immediate(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM approved_users WHERE discord_id = ?`, discordID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		removed = n > 0
		return err
	})
	return removed, err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
