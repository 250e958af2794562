package ranking

import (
	"context"
	"slices"
	"sync"

	"worldmachine/internal/errs"
	"worldmachine/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	approveEmoji = "✅"
	denyEmoji    = "❌"
)

// Reviews maps review channel message ids to the application they show.
type Reviews struct {
	mu        sync.Mutex
	byMessage map[string]storage.Application
}

func NewReviews() *Reviews {
	return &Reviews{byMessage: make(map[string]storage.Application)}
}

func (r *Reviews) Track(messageID string, app storage.Application) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMessage[messageID] = app
}

func (r *Reviews) Get(messageID string) (storage.Application, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.byMessage[messageID]
	return app, ok
}

// Take removes and returns the application for messageID. Only the first
// caller for a message gets ok, so one reaction settles each review.
func (r *Reviews) Take(messageID string) (storage.Application, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.byMessage[messageID]
	delete(r.byMessage, messageID)
	return app, ok
}

func (r *Reviews) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byMessage)
}

// postApplication sends app to the review channel with approve and deny
// reactions and starts tracking it.
func (m *Module) postApplication(app storage.Application, reposted bool) error {
	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{m.palette.ApplicationEmbed(app, reposted)}}
	if !reposted {
		msg.Content = "New application to review!"
	}
	sent, err := m.session.ChannelMessageSendComplex(m.settings.ReviewChannelID, msg)
	if err != nil {
		return errs.Wrap(err)
	}
	for _, emoji := range []string{approveEmoji, denyEmoji} {
		if err := m.session.MessageReactionAdd(sent.ChannelID, sent.ID, emoji); err != nil {
			m.logger.Warn("add review reaction failed", zap.String("message_id", sent.ID), zap.Error(err))
		}
	}
	m.reviews.Track(sent.ID, app)
	return nil
}

// RepostPending puts every stored pending application back in the review
// channel. Message ids do not survive a restart, so each one is posted anew.
func (m *Module) RepostPending(ctx context.Context) {
	apps, err := m.svc.PendingApplications(ctx)
	if err != nil {
		m.logger.Error("load pending applications failed", errs.Field(err))
		return
	}
	if len(apps) == 0 {
		m.logger.Info("no pending applications")
		return
	}
	for _, app := range apps {
		if err := m.postApplication(app, true); err != nil {
			m.logger.Error("repost application failed", zap.String("discord_id", app.DiscordID), errs.Field(err))
		}
	}
	m.logger.Info("pending applications loaded", zap.Int("count", m.reviews.Len()))
}

// OnReactionAdd settles applications from ranking team reactions in the
// review channel.
func (m *Module) OnReactionAdd(ctx context.Context, r *discordgo.MessageReactionAdd) {
	if r.ChannelID != m.settings.ReviewChannelID || r.Member == nil || r.Member.User == nil || r.Member.User.Bot {
		return
	}
	if _, ok := m.reviews.Get(r.MessageID); !ok {
		return
	}
	if !slices.Contains(r.Member.Roles, m.settings.TeamRoleID) {
		return
	}
	emoji := r.Emoji.Name
	defer func() {
		if err := m.session.MessageReactionRemove(r.ChannelID, r.MessageID, emoji, r.UserID); err != nil {
			m.logger.Debug("remove reviewer reaction failed", zap.Error(err))
		}
	}()
	if emoji != approveEmoji && emoji != denyEmoji {
		return
	}
	app, ok := m.reviews.Take(r.MessageID)
	if !ok {
		return
	}

	approved := emoji == approveEmoji
	if err := m.svc.Review(ctx, app, approved, r.UserID); err != nil {
		m.logger.Error("review application failed", zap.String("discord_id", app.DiscordID), errs.Field(err))
		m.reviews.Track(r.MessageID, app)
		return
	}

	dm := m.palette.DeniedDM()
	if approved {
		dm = m.palette.ApprovedDM(app.Profile)
	}
	m.sendDM(app.DiscordID, dm)

	var original *discordgo.MessageEmbed
	if msg, err := m.session.ChannelMessage(r.ChannelID, r.MessageID); err == nil && len(msg.Embeds) > 0 {
		original = msg.Embeds[0]
	}
	reviewed := m.palette.ReviewedEmbed(original, approved, displayName(r.Member), m.now())
	if _, err := m.session.ChannelMessageEditEmbed(r.ChannelID, r.MessageID, reviewed); err != nil {
		m.logger.Warn("edit application message failed", zap.String("message_id", r.MessageID), zap.Error(err))
	}
	if err := m.session.MessageReactionsRemoveAll(r.ChannelID, r.MessageID); err != nil {
		m.logger.Warn("clear application reactions failed", zap.String("message_id", r.MessageID), zap.Error(err))
	}
}

func (m *Module) sendDM(userID string, embed *discordgo.MessageEmbed) {
	ch, err := m.session.UserChannelCreate(userID)
	if err == nil {
		_, err = m.session.ChannelMessageSendEmbed(ch.ID, embed)
	}
	if err != nil {
		// users with closed DMs are common
		m.logger.Debug("dm failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func displayName(member *discordgo.Member) string {
	if member == nil || member.User == nil {
		return ""
	}
	if member.Nick != "" {
		return member.Nick
	}
	if member.User.GlobalName != "" {
		return member.User.GlobalName
	}
	return member.User.Username
}
