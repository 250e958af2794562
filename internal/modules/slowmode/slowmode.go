// Package slowmode tunes a channel's slowmode to its recent message rate.
package slowmode

import (
	"context"
	"sort"
	"sync"
	"time"

	"worldmachine/internal/config"
	"worldmachine/internal/errs"
	"worldmachine/internal/guildconfig"
	"worldmachine/internal/jsonfile"
	"worldmachine/internal/schedule"
	"worldmachine/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	DefaultSensitivity = 5.0
	MinSensitivity     = 1.0
	MaxSensitivity     = 10.0
	MinDelay           = 0
	MaxDelay           = 30
	CacheSize          = 15
	rateWindow         = time.Minute
	maxRateFactor      = 3.0
	delayStep          = 5
)

// Delay is the slowmode in seconds for n messages in the last minute.
func Delay(n int, sensitivity float64) int {
	if n <= 1 {
		return MinDelay
	}
	factor := min(float64(n)/(sensitivity*2), maxRateFactor)
	return min(MaxDelay, int(factor*delayStep))
}

func clampSensitivity(s float64) float64 {
	return max(MinSensitivity, min(MaxSensitivity, s))
}

// Channel is one monitored channel. The message window is not persisted.
type Channel struct {
	ID           string
	Sensitivity  float64
	Enabled      bool
	LastSlowmode int
	window       *utils.SlidingWindow
}

func newChannel(id string, sensitivity float64) *Channel {
	return &Channel{
		ID:          id,
		Sensitivity: clampSensitivity(sensitivity),
		Enabled:     true,
		window:      utils.NewSlidingWindow(rateWindow, CacheSize),
	}
}

type record struct {
	ChannelID    jsonfile.Snowflake `json:"channel_id"`
	Sensitivity  *float64           `json:"sensitivity,omitempty"`
	Enabled      *bool              `json:"enabled,omitempty"`
	LastSlowmode int                `json:"last_slowmode"`
}

type document struct {
	Channels []record `json:"channels"`
}

type Session interface {
	Guild(guildID string, opts ...discordgo.RequestOption) (*discordgo.Guild, error)
	Channel(channelID string, opts ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, opts ...discordgo.RequestOption) (*discordgo.Channel, error)
}

type Options struct {
	Session Session
	Configs *guildconfig.Service
	Path    string
	Tick    time.Duration
	Clock   schedule.Clock
	Colors  config.EmbedColors
	Logger  *zap.Logger
}

type Module struct {
	mu       sync.Mutex
	channels map[string]*Channel
	session  Session
	configs  *guildconfig.Service
	path     string
	tick     time.Duration
	clock    schedule.Clock
	colors   config.EmbedColors
	logger   *zap.Logger
}

func New(opts Options) *Module {
	clock := opts.Clock
	if clock == nil {
		clock = schedule.RealClock()
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Module{
		channels: make(map[string]*Channel),
		session:  opts.Session,
		configs:  opts.Configs,
		path:     opts.Path,
		tick:     tick,
		clock:    clock,
		colors:   opts.Colors.OrDefault(),
		logger:   opts.Logger,
	}
}

// Load reads the persisted channel settings.
func (m *Module) Load() error {
	if m.path == "" {
		return nil
	}
	var doc document
	if _, err := jsonfile.Load(m.path, &doc); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range doc.Channels {
		sensitivity := DefaultSensitivity
		if r.Sensitivity != nil {
			sensitivity = *r.Sensitivity
		}
		ch := newChannel(string(r.ChannelID), sensitivity)
		if r.Enabled != nil {
			ch.Enabled = *r.Enabled
		}
		ch.LastSlowmode = r.LastSlowmode
		m.channels[ch.ID] = ch
	}
	return nil
}

// save writes every channel. Callers hold mu.
func (m *Module) save() {
	if m.path == "" {
		return
	}
	doc := document{Channels: make([]record, 0, len(m.channels))}
	for _, ch := range m.channels {
		sensitivity, enabled := ch.Sensitivity, ch.Enabled
		doc.Channels = append(doc.Channels, record{
			ChannelID:    jsonfile.Snowflake(ch.ID),
			Sensitivity:  &sensitivity,
			Enabled:      &enabled,
			LastSlowmode: ch.LastSlowmode,
		})
	}
	sort.Slice(doc.Channels, func(i, j int) bool { return doc.Channels[i].ChannelID < doc.Channels[j].ChannelID })
	if err := jsonfile.Save(m.path, doc); err != nil {
		m.logger.Error("save slowmode settings failed", zap.String("path", m.path), errs.Field(err))
	}
}

func (m *Module) Get(channelID string) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// OnMessage counts a guild message toward its channel's rate.
func (m *Module) OnMessage(msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[msg.ChannelID]; ok && ch.Enabled {
		ch.window.Add(m.clock.Now())
	}
}

// Run adjusts slowmodes every tick until ctx ends.
func (m *Module) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick applies the delay each enabled channel's rate calls for. Channels
// already at that delay are left alone.
func (m *Module) Tick(ctx context.Context) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for _, ch := range m.channels {
		if ctx.Err() != nil {
			break
		}
		if !ch.Enabled {
			continue
		}
		delay := Delay(ch.window.Count(now), ch.Sensitivity)
		if delay == ch.LastSlowmode {
			continue
		}
		if err := m.setDelay(ch.ID, delay); err != nil {
			m.logger.Warn("update slowmode failed", zap.String("channel_id", ch.ID), zap.Int("delay", delay), errs.Field(err))
			continue
		}
		m.logger.Debug("slowmode updated", zap.String("channel_id", ch.ID), zap.Int("delay", delay))
		ch.LastSlowmode = delay
		changed = true
	}
	if changed {
		m.save()
	}
}

func (m *Module) setDelay(channelID string, delay int) error {
	_, err := m.session.ChannelEdit(channelID, &discordgo.ChannelEdit{RateLimitPerUser: &delay}, discordgo.WithAuditLogReason("Auto slowmode"))
	return errs.Wrap(err)
}
