package apartments

import (
	"encoding/json"
	"errors"
	"slices"
	"strconv"

	"worldmachine/internal/errs"
	"worldmachine/internal/jsonfile"

	"go.uber.org/zap"
)

const DefaultName = "Apartment"

// Settings is one member's apartment in one guild. ActiveChannelID only
// lives in memory.
type Settings struct {
	GuildID              string
	UserID               string
	Name                 string
	UserLimit            int
	Locked               bool
	Banned               map[string]struct{}
	Allowed              map[string]struct{}
	InstructionMessageID string
	ActiveChannelID      string
}

func NewSettings(guildID, userID string) *Settings {
	return &Settings{
		GuildID: guildID,
		UserID:  userID,
		Name:    DefaultName,
		Banned:  map[string]struct{}{},
		Allowed: map[string]struct{}{},
	}
}

type record struct {
	Name                 string               `json:"name"`
	UserLimit            int                  `json:"user_limit"`
	Locked               bool                 `json:"locked"`
	BannedUsers          []jsonfile.Snowflake `json:"banned_users"`
	AllowedUsers         []jsonfile.Snowflake `json:"allowed_users"`
	InstructionMessageID *jsonfile.Snowflake  `json:"instruction_message_id"`
}

var (
	ErrMissingGuild = errors.New("guild id is required")
	ErrMissingUser  = errors.New("user id is required")
)

func nonZero(id string) bool {
	n, err := strconv.ParseUint(id, 10, 64)
	return err == nil && n != 0
}

// Encode renders s in its persisted form.
func Encode(s *Settings) ([]byte, error) {
	r := record{
		Name:         s.Name,
		UserLimit:    s.UserLimit,
		Locked:       s.Locked,
		BannedUsers:  sortedIDs(s.Banned),
		AllowedUsers: sortedIDs(s.Allowed),
	}
	if s.InstructionMessageID != "" {
		id := jsonfile.Snowflake(s.InstructionMessageID)
		r.InstructionMessageID = &id
	}
	return json.Marshal(r)
}

// Decode reads persisted settings for the guild and user keys they were
// stored under. Absent fields take their defaults.
func Decode(guildID, userID string, data []byte) (*Settings, error) {
	if !nonZero(guildID) {
		return nil, ErrMissingGuild
	}
	if !nonZero(userID) {
		return nil, ErrMissingUser
	}
	r := record{Name: DefaultName}
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errs.Wrap(err)
	}
	s := NewSettings(guildID, userID)
	s.Name = r.Name
	s.UserLimit = r.UserLimit
	s.Locked = r.Locked
	for _, id := range r.BannedUsers {
		s.Banned[string(id)] = struct{}{}
	}
	for _, id := range r.AllowedUsers {
		s.Allowed[string(id)] = struct{}{}
	}
	if r.InstructionMessageID != nil {
		s.InstructionMessageID = string(*r.InstructionMessageID)
	}
	return s, nil
}

// sortedIDs orders ids numerically so saved files diff cleanly.
func sortedIDs(set map[string]struct{}) []jsonfile.Snowflake {
	out := make([]jsonfile.Snowflake, 0, len(set))
	for id := range set {
		out = append(out, jsonfile.Snowflake(id))
	}
	slices.SortFunc(out, func(a, b jsonfile.Snowflake) int {
		x, _ := strconv.ParseUint(string(a), 10, 64)
		y, _ := strconv.ParseUint(string(b), 10, 64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	})
	return out
}

// Store holds every apartment keyed by guild then owner, plus an index of
// live channels. Callers serialize access.
type Store struct {
	path      string
	guilds    map[string]map[string]*Settings
	byChannel map[string]*Settings
	logger    *zap.Logger
}

func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:      path,
		guilds:    make(map[string]map[string]*Settings),
		byChannel: make(map[string]*Settings),
		logger:    logger,
	}
}

// Load reads the settings file. Entries that fail to decode are skipped.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	var doc map[string]map[string]json.RawMessage
	if _, err := jsonfile.Load(s.path, &doc); err != nil {
		return err
	}
	for guildID, users := range doc {
		for userID, raw := range users {
			settings, err := Decode(guildID, userID, raw)
			if err != nil {
				s.logger.Warn("skip apartment entry", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
				continue
			}
			s.put(settings)
		}
	}
	return nil
}

// Save writes every apartment to disk. Failures are logged.
func (s *Store) Save() {
	if s.path == "" {
		return
	}
	doc := make(map[string]map[string]json.RawMessage, len(s.guilds))
	for guildID, users := range s.guilds {
		doc[guildID] = make(map[string]json.RawMessage, len(users))
		for userID, settings := range users {
			raw, err := Encode(settings)
			if err != nil {
				s.logger.Warn("encode apartment failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
				continue
			}
			doc[guildID][userID] = raw
		}
	}
	if err := jsonfile.Save(s.path, doc); err != nil {
		s.logger.Error("save apartments failed", zap.String("path", s.path), errs.Field(err))
	}
}

func (s *Store) put(settings *Settings) {
	users := s.guilds[settings.GuildID]
	if users == nil {
		users = make(map[string]*Settings)
		s.guilds[settings.GuildID] = users
	}
	users[settings.UserID] = settings
}

func (s *Store) Get(guildID, userID string) (*Settings, bool) {
	settings, ok := s.guilds[guildID][userID]
	return settings, ok
}

// GetOrCreate returns the member's settings, creating defaults on first
// use.
func (s *Store) GetOrCreate(guildID, userID string) *Settings {
	if settings, ok := s.Get(guildID, userID); ok {
		return settings
	}
	settings := NewSettings(guildID, userID)
	s.put(settings)
	return settings
}

// Owned finds the user's apartment in any guild. DMs carry no guild.
func (s *Store) Owned(userID string) (*Settings, bool) {
	for _, users := range s.guilds {
		if settings, ok := users[userID]; ok {
			return settings, true
		}
	}
	return nil, false
}

func (s *Store) ByChannel(channelID string) (*Settings, bool) {
	settings, ok := s.byChannel[channelID]
	return settings, ok
}

func (s *Store) Activate(settings *Settings, channelID string) {
	settings.ActiveChannelID = channelID
	s.byChannel[channelID] = settings
}

func (s *Store) Deactivate(settings *Settings) {
	delete(s.byChannel, settings.ActiveChannelID)
	settings.ActiveChannelID = ""
}
