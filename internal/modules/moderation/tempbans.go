package moderation

import (
	"context"
	"time"

	"worldmachine/internal/errs"
	"worldmachine/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func unbanKey(guildID, userID string) string { return "unban:" + guildID + ":" + userID }

// scheduleUnban persists a temporary ban and arms its timer.
func (m *Module) scheduleUnban(ctx context.Context, guildID, userID string, at time.Time) {
	if m.tempBans != nil {
		if err := m.tempBans.AddTempBan(ctx, storage.TempBan{GuildID: guildID, UserID: userID, UnbanAt: at}); err != nil {
			m.logger.Error("store temp ban failed", zap.String("guild_id", guildID), zap.String("user_id", userID), errs.Field(err))
		}
	}
	m.scheduler.At(unbanKey(guildID, userID), at, func() { m.expireBan(guildID, userID) })
}

func (m *Module) expireBan(guildID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := m.session.GuildBanDelete(guildID, userID, discordgo.WithAuditLogReason("Temporary ban expired"))
	if err != nil && !notFound(err) {
		// keep the row so the next start retries
		m.logger.Warn("temp ban unban failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return
	}
	m.logger.Info("temp ban expired", zap.String("guild_id", guildID), zap.String("user_id", userID))
	if m.tempBans != nil {
		if err := m.tempBans.RemoveTempBan(ctx, guildID, userID); err != nil {
			m.logger.Error("remove temp ban failed", zap.String("guild_id", guildID), errs.Field(err))
		}
	}
}

// forgetTempBan drops a pending unban after a manual one.
func (m *Module) forgetTempBan(ctx context.Context, guildID, userID string) {
	m.scheduler.Cancel(unbanKey(guildID, userID))
	if m.tempBans == nil {
		return
	}
	if err := m.tempBans.RemoveTempBan(ctx, guildID, userID); err != nil {
		m.logger.Error("remove temp ban failed", zap.String("guild_id", guildID), errs.Field(err))
	}
}

// RestoreTempBans re-arms every stored temporary ban. Bans that ran out
// while the bot was down are lifted right away.
func (m *Module) RestoreTempBans(ctx context.Context) (int, error) {
	if m.tempBans == nil {
		return 0, nil
	}
	bans, err := m.tempBans.ListTempBans(ctx)
	if err != nil {
		return 0, err
	}
	for _, ban := range bans {
		ban := ban
		m.scheduler.At(unbanKey(ban.GuildID, ban.UserID), ban.UnbanAt, func() { m.expireBan(ban.GuildID, ban.UserID) })
	}
	return len(bans), nil
}
