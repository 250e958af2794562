package guildconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"worldmachine/internal/errs"

	"gopkg.in/yaml.v3"
)

var ErrNotMapping = errors.New("configuration must be a YAML dictionary")

type GuildConfig struct {
	StaffRoles     []string `yaml:"staff_roles"`
	TossCategory   string   `yaml:"toss_category"`
	TossLogs       string   `yaml:"toss_logs"`
	VoiceCategory  string   `yaml:"voice_category"`
	ApartmentLobby string   `yaml:"apartment_lobby"`
	// OwnerRoles maps an owner's user id to their co-owner's user id.
	OwnerRoles map[string]string `yaml:"owner_roles"`
	MuteRole   string            `yaml:"mute_role,omitempty"`
}

func Defaults() GuildConfig {
	return GuildConfig{
		StaffRoles: []string{},
		OwnerRoles: map[string]string{},
	}
}

func (c GuildConfig) clone() GuildConfig {
	out := c
	out.StaffRoles = append([]string{}, c.StaffRoles...)
	out.OwnerRoles = make(map[string]string, len(c.OwnerRoles))
	for k, v := range c.OwnerRoles {
		out.OwnerRoles[k] = v
	}
	return out
}

func (c GuildConfig) IsOwnerKey(userID string) bool {
	_, ok := c.OwnerRoles[userID]
	return ok
}

func (c GuildConfig) IsCoOwner(userID string) bool {
	for _, co := range c.OwnerRoles {
		if co == userID {
			return true
		}
	}
	return false
}

// Parse decodes an uploaded document over the defaults. Only a mapping at
// the top level is accepted.
func Parse(data []byte) (GuildConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return GuildConfig{}, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return GuildConfig{}, ErrNotMapping
	}
	cfg := Defaults()
	if err := doc.Content[0].Decode(&cfg); err != nil {
		return GuildConfig{}, err
	}
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *GuildConfig) {
	if cfg.StaffRoles == nil {
		cfg.StaffRoles = []string{}
	}
	if cfg.OwnerRoles == nil {
		cfg.OwnerRoles = map[string]string{}
	}
}

var keyComments = map[string]string{
	"staff_roles": "Staff Roles: List of role IDs that have staff permissions.\n" +
		"This will allow users with said staff roles to use staff commands.\n" +
		"This is a requirement.\n" +
		"Example: [123456789012345678, 234567890123456789]",
	"toss_category": "Toss Category: Category ID where toss channels will be created.\n" +
		"Tossing lets staff talk to a user privately after they have broken the rules.\n" +
		"Example: 123456789012345678",
	"toss_logs": "Toss Logs: Channel ID where toss logs will be sent.\n" +
		"Example: 123456789012345678",
	"voice_category": "Voice Category: Category ID for Apartment Rooms, voice channels users can edit to their liking.\n" +
		"Example: 123456789012345678",
	"apartment_lobby": "Apartment Lobby: Voice channel ID a user joins for their room to be created.\n" +
		"Example: 123456789012345678",
	"owner_roles": "Owner Roles: Mapping of owner user IDs to co-owner user IDs.\n" +
		"Owners can't moderate each other, but they can moderate Staff.\n" +
		"This is a requirement.\n" +
		"Example: {123456789012345678: 234567890123456789}",
	"mute_role": "Mute Role: Role ID removed by the unmute command.\n" +
		"Example: 123456789012345678",
}

// Template renders cfg as YAML with a descriptive comment above each key.
func Template(cfg GuildConfig) ([]byte, error) {
	normalize(&cfg)
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return nil, err
	}
	if root.Kind == yaml.MappingNode {
		if cfg.MuteRole == "" {
			root.Content = append(root.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: "mute_role"},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: ""},
			)
		}
		for i := 0; i+1 < len(root.Content); i += 2 {
			key := root.Content[i]
			if comment, ok := keyComments[key.Value]; ok {
				key.HeadComment = comment
			}
		}
	}
	root.HeadComment = "Server Configuration\n---------------------"

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type Store interface {
	GetGuildConfig(ctx context.Context, guildID string) (string, bool, error)
	SaveGuildConfig(ctx context.Context, guildID, data string) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns the guild's config, or a fresh copy of the defaults when the
// guild has none. Keys missing from the stored blob keep their defaults.
func (s *Service) Get(ctx context.Context, guildID string) (GuildConfig, error) {
	data, found, err := s.store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return Defaults(), err
	}
	if !found {
		return Defaults(), nil
	}
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
		return Defaults(), errs.Wrap(fmt.Errorf("decode guild %s config: %w", guildID, err))
	}
	normalize(&cfg)
	return cfg.clone(), nil
}

func (s *Service) Save(ctx context.Context, guildID string, cfg GuildConfig) error {
	normalize(&cfg)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errs.Wrap(err)
	}
	return s.store.SaveGuildConfig(ctx, guildID, string(data))
}
