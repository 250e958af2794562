package bot

import (
	"context"
	"sync"
	"time"

	"worldmachine/internal/beatleader"
	"worldmachine/internal/beatsaver"
	"worldmachine/internal/command"
	"worldmachine/internal/config"
	"worldmachine/internal/guildconfig"
	"worldmachine/internal/httpapi"
	"worldmachine/internal/messages"
	"worldmachine/internal/modules/apartments"
	"worldmachine/internal/modules/moderation"
	"worldmachine/internal/modules/modlog"
	"worldmachine/internal/modules/slowmode"
	"worldmachine/internal/modules/tossing"
	"worldmachine/internal/ranking"
	"worldmachine/internal/schedule"
	"worldmachine/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	startupStatus  = "my program start..."
	presenceKey    = "presence"
	presenceSettle = 5 * time.Second
	pagerTTL       = 3 * time.Minute
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	session    *discordgo.Session
	registry   *command.Registry
	dispatcher *Dispatcher
	pager      *command.Pager
	scheduler  *schedule.Scheduler
	messages   *schedule.Waiter[*discordgo.MessageCreate]
	reactions  *schedule.Waiter[*discordgo.MessageReactionAdd]

	moderation *moderation.Module
	tossing    *tossing.Module
	apartments *apartments.Module
	slowmode   *slowmode.Module
	ranking    *ranking.Module

	ctx     context.Context
	cancel  context.CancelFunc
	loops   *errgroup.Group
	startup sync.Once
	refresh sync.Mutex

	guildsMu sync.Mutex
	guilds   map[string]struct{}
	ready    bool
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsMessageContent |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsDirectMessageReactions
	session.Identify.Presence = discordgo.GatewayStatusUpdate{
		Game: discordgo.Activity{Name: startupStatus, Type: discordgo.ActivityTypeWatching},
	}

	catalog := messages.New()
	if err := catalog.LoadOverrides(cfg.Messages.OverridesPath); err != nil {
		return nil, err
	}

	scheduler := schedule.NewScheduler(nil)
	configs := guildconfig.NewService(store)
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		session:   session,
		registry:  command.NewRegistry(),
		pager:     command.NewPager(pagerTTL),
		scheduler: scheduler,
		messages:  schedule.NewWaiter[*discordgo.MessageCreate](scheduler.Clock()),
		reactions: schedule.NewWaiter[*discordgo.MessageReactionAdd](scheduler.Clock()),
		ctx:       ctx,
		cancel:    cancel,
		guilds:    make(map[string]struct{}),
	}

	b.moderation = moderation.New(moderation.Options{
		Session:       session,
		Configs:       configs,
		TempBans:      store,
		ModLog:        modlog.NewLogger(store, session, cfg.Moderation.LogChannels, cfg.EmbedColors, logger.Named("modlog")),
		Catalog:       catalog,
		Scheduler:     scheduler,
		Managers:      cfg.ManagerIDs,
		PurgeCooldown: time.Duration(cfg.Moderation.PurgeCooldownMs) * time.Millisecond,
		Logger:        logger.Named("moderation"),
	})
	b.tossing = tossing.New(tossing.Options{
		Session:  session,
		Configs:  configs,
		Catalog:  catalog,
		Messages: b.messages,
		Clock:    scheduler.Clock(),
		Managers: cfg.ManagerIDs,
		Colors:   cfg.EmbedColors,
		BotID:    b.botID,
		Logger:   logger.Named("tossing"),
	})

	rooms := apartments.NewStore(cfg.Apartments.Path, logger.Named("apartments"))
	if err := rooms.Load(); err != nil {
		cancel()
		return nil, err
	}
	b.apartments = apartments.New(apartments.Options{
		Session:   session,
		Presence:  voiceStates{state: session.State},
		Configs:   configs,
		Store:     rooms,
		Reactions: b.reactions,
		Scheduler: scheduler,
		Colors:    cfg.EmbedColors,
		Logger:    logger.Named("apartments"),
	})

	b.slowmode = slowmode.New(slowmode.Options{
		Session: session,
		Configs: configs,
		Path:    cfg.Slowmode.Path,
		Tick:    time.Duration(cfg.Slowmode.TickSeconds) * time.Second,
		Clock:   scheduler.Clock(),
		Colors:  cfg.EmbedColors,
		Logger:  logger.Named("slowmode"),
	})
	if err := b.slowmode.Load(); err != nil {
		cancel()
		return nil, err
	}

	pause := rate.Every(time.Duration(cfg.Ranking.PagePauseMs) * time.Millisecond)
	players := beatleader.New(cfg.Ranking.BeatLeaderURL, beatleader.WithPageLimiter(rate.NewLimiter(pause, 1)))
	maps := beatsaver.New(cfg.Ranking.BeatSaverURL)
	rankingLogger := logger.Named("ranking")
	b.ranking = ranking.NewModule(
		ranking.NewService(store, maps, players, rankingLogger, cfg.Ranking.MaxPages),
		session,
		ranking.Settings{
			TeamRoleID:        cfg.Ranking.TeamRoleID,
			AllowedGuildID:    cfg.Ranking.AllowedGuildID,
			OwnerID:           cfg.Ranking.OwnerID,
			ReviewChannelID:   cfg.Ranking.ReviewChannelID,
			AnnounceChannelID: cfg.Ranking.AnnounceChannelID,
			LevelRoleIDs:      cfg.Ranking.LevelRoleIDs,
			Colors:            cfg.EmbedColors,
		},
		b.pager,
		rankingLogger,
	)

	utility := NewUtility(UtilityOptions{
		Directory: session.State,
		Session:   session,
		Configs:   configs,
		Catalog:   catalog,
		Timezones: store,
		Latency:   session.HeartbeatLatency,
		DocsURL:   cfg.DocsURL,
		Colors:    cfg.EmbedColors,
		Clock:     scheduler.Clock(),
	})

	b.registry.Add(utility.Commands()...)
	b.registry.Add(guildconfig.Commands(configs, httpapi.New("discord-cdn", ""))...)
	b.registry.Add(b.moderation.Commands()...)
	b.registry.Add(b.tossing.Commands()...)
	b.registry.Add(b.apartments.Commands()...)
	b.registry.Add(b.slowmode.Commands()...)
	b.registry.Add(b.ranking.Commands()...)
	b.dispatcher = NewDispatcher(b.registry, catalog, session.State, logger.Named("commands"))

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageReactionAdd)
	b.session.AddHandler(b.onInteractionCreate)
	b.session.AddHandler(b.onVoiceStateUpdate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)

	if err := b.session.Open(); err != nil {
		return err
	}
	if err := b.registerCommands(); err != nil {
		return err
	}

	loops, ctx := errgroup.WithContext(b.ctx)
	loops.Go(func() error { return b.slowmode.Run(ctx) })
	loops.Go(func() error { return b.presenceLoop(ctx) })
	b.loops = loops
	return nil
}

func (b *Bot) Close(ctx context.Context) {
	b.cancel()
	if b.loops != nil {
		done := make(chan struct{})
		go func() {
			if err := b.loops.Wait(); err != nil {
				b.logger.Warn("background loop stopped with error", zap.Error(err))
			}
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			b.logger.Warn("background loops did not stop in time")
		}
	}
	b.scheduler.StopAll()
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) botID() string {
	state := b.session.State
	state.RLock()
	defer state.RUnlock()
	if state.User == nil {
		return ""
	}
	return state.User.ID
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("discord ready",
		zap.String("user", r.User.Username),
		zap.Int("guilds", len(r.Guilds)),
	)

	b.guildsMu.Lock()
	for _, g := range r.Guilds {
		b.guilds[g.ID] = struct{}{}
	}
	b.ready = true
	b.guildsMu.Unlock()

	b.startup.Do(func() {
		b.ranking.RepostPending(b.ctx)
		restored, err := b.moderation.RestoreTempBans(b.ctx)
		if err != nil {
			b.logger.Error("restore temp bans failed", zap.Error(err))
			return
		}
		b.logger.Info("temp bans restored", zap.Int("count", restored))
	})

	b.refreshPresence(b.ctx)
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable {
		return
	}
	if err := s.RequestGuildMembers(g.ID, "", 0, "", true); err != nil {
		b.logger.Debug("request guild members failed", zap.String("guild_id", g.ID), zap.Error(err))
	}

	b.guildsMu.Lock()
	_, known := b.guilds[g.ID]
	b.guilds[g.ID] = struct{}{}
	ready := b.ready
	b.guildsMu.Unlock()
	if known || !ready {
		return
	}

	b.logger.Info("joined guild", zap.String("guild_id", g.ID), zap.String("name", g.Name))
	b.welcome(g.ID)
	b.schedulePresence()
}

// welcome greets a guild that just added the bot and thanks its owner.
func (b *Bot) welcome(guildID string) {
	state := b.session.State
	g, err := state.Guild(guildID)
	if err != nil {
		return
	}
	state.RLock()
	snapshot := &discordgo.Guild{
		ID:              g.ID,
		Name:            g.Name,
		OwnerID:         g.OwnerID,
		SystemChannelID: g.SystemChannelID,
		Channels:        append([]*discordgo.Channel(nil), g.Channels...),
	}
	state.RUnlock()

	botID := b.botID()
	const needed = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages
	canSend := func(channelID string) bool {
		perms, err := state.UserChannelPermissions(botID, channelID)
		return err == nil && perms&needed == needed
	}

	channelID := welcomeChannel(snapshot, canSend)
	if channelID == "" {
		b.logger.Info("no channel for welcome message", zap.String("guild_id", guildID))
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, welcomeEmbed(b.cfg.DocsURL, b.cfg.EmbedColors.OrDefault().Info)); err != nil {
		b.logger.Warn("send welcome failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}

	if snapshot.OwnerID == "" || snapshot.OwnerID == botID {
		return
	}
	dm, err := b.session.UserChannelCreate(snapshot.OwnerID)
	if err != nil {
		b.logger.Debug("open owner dm failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if _, err := b.session.ChannelMessageSend(dm.ID, ownerWelcome(snapshot.Name)); err != nil {
		b.logger.Debug("owner dm failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	b.messages.Dispatch(m)
	if m.Author.Bot {
		return
	}
	if m.GuildID != "" {
		b.slowmode.OnMessage(m)
	}

	prefixes := append([]string{b.cfg.Prefix}, mentionPrefixes(b.botID())...)
	b.dispatcher.HandleMessage(b.ctx, s, m.Message, prefixes...)
}

func (b *Bot) onMessageReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.UserID == b.botID() {
		return
	}
	b.reactions.Dispatch(r)
	b.ranking.OnReactionAdd(b.ctx, r)
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.dispatcher.HandleInteraction(b.ctx, s, i.Interaction)
	case discordgo.InteractionMessageComponent:
		resp, ok := b.pager.Handle(i.MessageComponentData().CustomID)
		if !ok {
			return
		}
		if err := s.InteractionRespond(i.Interaction, resp); err != nil {
			b.logger.Warn("page turn failed", zap.Error(err))
		}
	}
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	b.apartments.OnVoiceStateUpdate(b.ctx, v)
}

func (b *Bot) onGuildMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	b.schedulePresence()
}

func (b *Bot) onGuildMemberRemove(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.Member != nil && m.User != nil {
		b.tossing.OnMemberRemove(b.ctx, m.GuildID, m.User.ID)
	}
	b.schedulePresence()
}

// schedulePresence coalesces bursts of joins and leaves into one refresh.
func (b *Bot) schedulePresence() {
	b.scheduler.After(presenceKey, presenceSettle, func() { b.refreshPresence(b.ctx) })
}

func (b *Bot) presenceLoop(ctx context.Context) error {
	every := time.Duration(b.cfg.StatusSeconds) * time.Second
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.refreshPresence(ctx)
		}
	}
}

func (b *Bot) refreshPresence(ctx context.Context) {
	if !b.refresh.TryLock() {
		return
	}
	defer b.refresh.Unlock()

	members, servers := countMembers(ctx, b.session, b.cachedGuilds(), b.cfg.ExcludedGuildID, b.logger)
	if ctx.Err() != nil {
		return
	}
	if err := b.session.UpdateWatchStatus(0, watchStatus(members, servers)); err != nil {
		b.logger.Warn("update presence failed", zap.Error(err))
	}
}

func (b *Bot) cachedGuilds() []guildCache {
	state := b.session.State
	state.RLock()
	defer state.RUnlock()
	out := make([]guildCache, 0, len(state.Guilds))
	for _, g := range state.Guilds {
		cache := guildCache{id: g.ID}
		for _, m := range g.Members {
			if m.User != nil && !m.User.Bot {
				cache.humans = append(cache.humans, m.User.ID)
			}
		}
		out = append(out, cache)
	}
	return out
}

// voiceStates reads voice channel occupancy from the gateway cache.
type voiceStates struct {
	state *discordgo.State
}

func (v voiceStates) VoiceStates(guildID string) []*discordgo.VoiceState {
	g, err := v.state.Guild(guildID)
	if err != nil {
		return nil
	}
	v.state.RLock()
	defer v.state.RUnlock()
	return append([]*discordgo.VoiceState(nil), g.VoiceStates...)
}
