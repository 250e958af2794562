package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken    string           `yaml:"discord_token"`
	DatabasePath    string           `yaml:"database_path"`
	LogLevel        string           `yaml:"log_level"`
	Prefix          string           `yaml:"prefix"`
	ManagerIDs      []string         `yaml:"manager_ids"`
	ExcludedGuildID string           `yaml:"excluded_guild_id"`
	DocsURL         string           `yaml:"docs_url"`
	StatusSeconds   int              `yaml:"status_seconds"`
	Health          HealthConfig     `yaml:"health"`
	Messages        MessagesConfig   `yaml:"messages"`
	Moderation      ModerationConfig `yaml:"moderation"`
	Apartments      ApartmentsConfig `yaml:"apartments"`
	Slowmode        SlowmodeConfig   `yaml:"slowmode"`
	Ranking         RankingConfig    `yaml:"ranking"`
	EmbedColors     EmbedColors      `yaml:"embed_colors"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MessagesConfig struct {
	// OverridesPath points at an optional HuJSON file of extra variants.
	OverridesPath string `yaml:"overrides_path"`
}

type ModerationConfig struct {
	// LogChannels maps guild id to the channel receiving moderation embeds.
	LogChannels     map[string]string `yaml:"log_channels"`
	PurgeCooldownMs int               `yaml:"purge_cooldown_ms"`
}

type ApartmentsConfig struct {
	Path string `yaml:"path"`
}

type SlowmodeConfig struct {
	Path        string `yaml:"path"`
	TickSeconds int    `yaml:"tick_seconds"`
}

type RankingConfig struct {
	TeamRoleID        string   `yaml:"team_role_id"`
	AllowedGuildID    string   `yaml:"allowed_guild_id"`
	OwnerID           string   `yaml:"owner_id"`
	ReviewChannelID   string   `yaml:"review_channel_id"`
	AnnounceChannelID string   `yaml:"announce_channel_id"`
	LevelRoleIDs      []string `yaml:"level_role_ids"`
	BeatLeaderURL     string   `yaml:"beatleader_url"`
	BeatSaverURL      string   `yaml:"beatsaver_url"`
	PagePauseMs       int      `yaml:"page_pause_ms"`
	MaxPages          int      `yaml:"max_pages"`
}

type EmbedColors struct {
	Info    int `yaml:"info"`
	Success int `yaml:"success"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
	Accent  int `yaml:"accent"`
}

var defaultEmbedColors = EmbedColors{
	Info:    0x3498DB,
	Success: 0x2ECC71,
	Warning: 0xE67E22,
	Error:   0xE74C3C,
	Accent:  0x8E6578,
}

// OrDefault fills unset colors with the stock palette.
func (c EmbedColors) OrDefault() EmbedColors {
	pick := func(v, d int) int {
		if v == 0 {
			return d
		}
		return v
	}
	return EmbedColors{
		Info:    pick(c.Info, defaultEmbedColors.Info),
		Success: pick(c.Success, defaultEmbedColors.Success),
		Warning: pick(c.Warning, defaultEmbedColors.Warning),
		Error:   pick(c.Error, defaultEmbedColors.Error),
		Accent:  pick(c.Accent, defaultEmbedColors.Accent),
	}
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:    "worldmachine.db",
		LogLevel:        "info",
		Prefix:          "pls ",
		ManagerIDs:      []string{"1125692090123309056"},
		ExcludedGuildID: "1313847386925170778",
		DocsURL:         "https://lucasongithub.github.io/the-world-machine/",
		StatusSeconds:   60,
		Health:          HealthConfig{Enabled: false, Addr: ":8080"},
		Moderation:      ModerationConfig{LogChannels: map[string]string{}, PurgeCooldownMs: 5000},
		Apartments:      ApartmentsConfig{Path: "apartment_rooms.json"},
		Slowmode:        SlowmodeConfig{Path: "auto_slowmode.json", TickSeconds: 30},
		Ranking: RankingConfig{
			TeamRoleID:        "1373413539196305500",
			AllowedGuildID:    "1371217348660560023",
			OwnerID:           "1125692090123309056",
			ReviewChannelID:   "1384780527751397436",
			AnnounceChannelID: "1385101828416602213",
			LevelRoleIDs: []string{
				"1373413894101536769", "1373413939676713020", "1373413953627230298", "1373413967744991242",
				"1373413984958550036", "1373413998405484604", "1373414011823063081", "1373414025085325403",
				"1373414041585848380", "1373414057293648053", "1373414071684169748", "1373414090432577556",
				"1373414106379583688", "1373414120539295835", "1373414140714160230", "1373414156228624527",
				"1373414174951997561", "1373414190835961986", "1373414203578388612", "1373414217637564590",
				"1373414239913377853", "1373414252240437418", "1373414269084766310", "1373414283605708880",
				"1373414307664101397", "1373414322369331331", "1373414339578691754", "1373414356762759351",
				"1373414376354218076", "1373414395815657544", "1373414413687587079", "1373414438547362002",
			},
			BeatLeaderURL: "https://api.beatleader.com",
			BeatSaverURL:  "https://api.beatsaver.com",
			PagePauseMs:   500,
			MaxPages:      10,
		},
		EmbedColors: defaultEmbedColors,
	}
}

func Load() (Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.Moderation.LogChannels == nil {
		cfg.Moderation.LogChannels = map[string]string{}
	}
	if cfg.StatusSeconds <= 0 {
		cfg.StatusSeconds = 60
	}
	if cfg.Slowmode.TickSeconds <= 0 {
		cfg.Slowmode.TickSeconds = 30
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Prefix = envString("COMMAND_PREFIX", cfg.Prefix)
	cfg.ManagerIDs = envList("MANAGER_IDS", cfg.ManagerIDs)
	cfg.ExcludedGuildID = envString("EXCLUDED_GUILD_ID", cfg.ExcludedGuildID)
	cfg.StatusSeconds = envInt("STATUS_SECONDS", cfg.StatusSeconds)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Messages.OverridesPath = envString("MESSAGES_PATH", cfg.Messages.OverridesPath)
	cfg.Apartments.Path = envString("APARTMENTS_PATH", cfg.Apartments.Path)
	cfg.Slowmode.Path = envString("SLOWMODE_PATH", cfg.Slowmode.Path)
	cfg.Slowmode.TickSeconds = envInt("SLOWMODE_TICK_SECONDS", cfg.Slowmode.TickSeconds)
	cfg.Ranking.TeamRoleID = envString("RANKING_TEAM_ROLE_ID", cfg.Ranking.TeamRoleID)
	cfg.Ranking.AllowedGuildID = envString("RANKING_GUILD_ID", cfg.Ranking.AllowedGuildID)
	cfg.Ranking.OwnerID = envString("RANKING_OWNER_ID", cfg.Ranking.OwnerID)
	cfg.Ranking.ReviewChannelID = envString("RANKING_REVIEW_CHANNEL_ID", cfg.Ranking.ReviewChannelID)
	cfg.Ranking.AnnounceChannelID = envString("RANKING_ANNOUNCE_CHANNEL_ID", cfg.Ranking.AnnounceChannelID)
	cfg.Ranking.LevelRoleIDs = envList("RANKING_LEVEL_ROLE_IDS", cfg.Ranking.LevelRoleIDs)
	cfg.Ranking.BeatLeaderURL = envString("BEATLEADER_URL", cfg.Ranking.BeatLeaderURL)
	cfg.Ranking.BeatSaverURL = envString("BEATSAVER_URL", cfg.Ranking.BeatSaverURL)
	cfg.EmbedColors.Info = envInt("EMBED_COLOR_INFO", cfg.EmbedColors.Info)
	cfg.EmbedColors.Success = envInt("EMBED_COLOR_SUCCESS", cfg.EmbedColors.Success)
	cfg.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.EmbedColors.Warning)
	cfg.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.EmbedColors.Error)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
