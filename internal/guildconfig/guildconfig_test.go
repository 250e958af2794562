package guildconfig

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	rows map[string]string
}

func (m *memStore) GetGuildConfig(_ context.Context, guildID string) (string, bool, error) {
	data, ok := m.rows[guildID]
	return data, ok, nil
}

func (m *memStore) SaveGuildConfig(_ context.Context, guildID, data string) error {
	m.rows[guildID] = data
	return nil
}

func TestGetReturnsDefaultsCopy(t *testing.T) {
	svc := NewService(&memStore{rows: map[string]string{}})
	cfg, err := svc.Get(context.Background(), "g1")
	require.NoError(t, err)
	cfg.StaffRoles = append(cfg.StaffRoles, "r1")
	cfg.OwnerRoles["a"] = "b"

	again, err := svc.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Empty(t, again.StaffRoles)
	assert.Empty(t, again.OwnerRoles)
}

func TestSaveThenGet(t *testing.T) {
	store := &memStore{rows: map[string]string{}}
	svc := NewService(store)
	ctx := context.Background()

	want := Defaults()
	want.StaffRoles = []string{"10", "11"}
	want.TossCategory = "20"
	want.OwnerRoles = map[string]string{"1": "2"}
	require.NoError(t, svc.Save(ctx, "g", want))

	got, err := svc.Get(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	want.TossLogs = "30"
	require.NoError(t, svc.Save(ctx, "g", want))
	got, err = svc.Get(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, "30", got.TossLogs)
}

func TestGetFillsMissingKeys(t *testing.T) {
	svc := NewService(&memStore{rows: map[string]string{"g": "toss_logs: 5\n"}})
	cfg, err := svc.Get(context.Background(), "g")
	require.NoError(t, err)
	assert.Equal(t, "5", cfg.TossLogs)
	assert.NotNil(t, cfg.StaffRoles)
	assert.NotNil(t, cfg.OwnerRoles)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte("staff_roles: [123456789012345678]\nowner_roles: {1: 2}\ntoss_category: null\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"123456789012345678"}, cfg.StaffRoles)
	assert.Equal(t, map[string]string{"1": "2"}, cfg.OwnerRoles)
	assert.Empty(t, cfg.TossCategory)

	for name, doc := range map[string]string{
		"list":      "- a\n- b\n",
		"scalar":    "hello\n",
		"empty":     "",
		"malformed": "staff_roles: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestTemplateRoundTrips(t *testing.T) {
	cfg := Defaults()
	cfg.StaffRoles = []string{"7"}
	cfg.VoiceCategory = "8"
	cfg.OwnerRoles = map[string]string{"1": "2"}

	out, err := Template(cfg)
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "# Staff Roles")
	assert.Contains(t, text, "# Owner Roles")
	assert.True(t, strings.Contains(text, "mute_role"))

	parsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func member(id string, roles ...string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: id}, Roles: roles}
}

func TestProtectionLevel(t *testing.T) {
	cfg := Defaults()
	cfg.StaffRoles = []string{"staff"}
	cfg.OwnerRoles = map[string]string{"o1": "co1"}
	managers := []string{"mgr"}

	cases := map[string]struct {
		m    *discordgo.Member
		want Level
	}{
		"manager":     {member("mgr"), LevelOwner},
		"guild owner": {member("g"), LevelOwner},
		"owner key":   {member("o1"), LevelOwner},
		"co-owner":    {member("co1"), LevelCoOwner},
		"staff":       {member("s", "staff"), LevelStaff},
		"member":      {member("x", "other"), LevelNone},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ProtectionLevel("g", tc.m, cfg, managers))
		})
	}
}

func TestCanModerate(t *testing.T) {
	cfg := Defaults()
	cfg.StaffRoles = []string{"staff"}
	cfg.OwnerRoles = map[string]string{"o1": "co1", "o2": "co2"}
	managers := []string{"mgr"}

	cases := []struct {
		name     string
		mod, tgt *discordgo.Member
		ok       bool
		reason   string
	}{
		{"self", member("s", "staff"), member("s", "staff"), false, "You cannot moderate yourself."},
		{"manager", member("mgr"), member("o1"), true, "Bot manager"},
		{"guild owner", member("g"), member("o1"), true, "Server owner"},
		{"owner vs owner", member("o1"), member("o2"), false, "Cannot moderate other owners/co-owners"},
		{"owner vs co-owner", member("o1"), member("co2"), false, "Cannot moderate other owners/co-owners"},
		{"owner vs staff", member("o1"), member("s", "staff"), true, "Owner"},
		{"co-owner vs owner", member("co1"), member("o2"), false, "Cannot moderate owners/co-owners"},
		{"co-owner vs member", member("co1"), member("x"), true, "Co-owner"},
		{"staff vs staff", member("s", "staff"), member("t", "staff"), false, "Cannot moderate other staff/owners/co-owners"},
		{"staff vs guild owner", member("s", "staff"), member("g"), false, "Cannot moderate other staff/owners/co-owners"},
		{"staff vs co-owner", member("s", "staff"), member("co1"), false, "Cannot moderate other staff/owners/co-owners"},
		{"staff vs member", member("s", "staff"), member("x"), true, "Staff"},
		{"member vs member", member("x"), member("y"), false, "Insufficient permissions"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := CanModerate("g", tc.mod, tc.tgt, cfg, managers)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestOutranksTarget(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "low", Position: 1},
		{ID: "mid", Position: 5},
		{ID: "high", Position: 9},
	}
	assert.True(t, OutranksTarget("g", roles, member("m", "high"), member("t", "mid")))
	assert.False(t, OutranksTarget("g", roles, member("m", "mid"), member("t", "mid")))
	assert.False(t, OutranksTarget("g", roles, member("m", "low"), member("t", "high")))
	assert.True(t, OutranksTarget("g", roles, member("g"), member("t", "high")))
	assert.Equal(t, 0, TopRolePosition(roles, member("n")))
}
