package guildconfig

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

type Level string

const (
	LevelNone    Level = ""
	LevelStaff   Level = "staff"
	LevelCoOwner Level = "co_owner"
	LevelOwner   Level = "owner"
)

func memberID(m *discordgo.Member) string {
	if m == nil || m.User == nil {
		return ""
	}
	return m.User.ID
}

// IsStaff reports whether member owns the guild or holds a staff role.
func IsStaff(ownerID string, member *discordgo.Member, cfg GuildConfig) bool {
	id := memberID(member)
	if id == "" {
		return false
	}
	if id == ownerID {
		return true
	}
	for _, role := range member.Roles {
		if slices.Contains(cfg.StaffRoles, role) {
			return true
		}
	}
	return false
}

func ProtectionLevel(ownerID string, member *discordgo.Member, cfg GuildConfig, managers []string) Level {
	id := memberID(member)
	switch {
	case id == "":
		return LevelNone
	case slices.Contains(managers, id), id == ownerID, cfg.IsOwnerKey(id):
		return LevelOwner
	case cfg.IsCoOwner(id):
		return LevelCoOwner
	case IsStaff(ownerID, member, cfg):
		return LevelStaff
	}
	return LevelNone
}

// CanModerate decides whether moderator may act on target and why.
func CanModerate(ownerID string, moderator, target *discordgo.Member, cfg GuildConfig, managers []string) (bool, string) {
	modID, targetID := memberID(moderator), memberID(target)
	if modID == targetID {
		return false, "You cannot moderate yourself."
	}
	if slices.Contains(managers, modID) {
		return true, "Bot manager"
	}
	if modID == ownerID {
		return true, "Server owner"
	}

	targetIsOwner := cfg.IsOwnerKey(targetID) || cfg.IsCoOwner(targetID)
	if cfg.IsOwnerKey(modID) {
		if targetIsOwner {
			return false, "Cannot moderate other owners/co-owners"
		}
		return true, "Owner"
	}
	if cfg.IsCoOwner(modID) {
		if targetIsOwner {
			return false, "Cannot moderate owners/co-owners"
		}
		return true, "Co-owner"
	}
	if IsStaff(ownerID, moderator, cfg) {
		if IsStaff(ownerID, target, cfg) || targetIsOwner {
			return false, "Cannot moderate other staff/owners/co-owners"
		}
		return true, "Staff"
	}
	return false, "Insufficient permissions"
}

// TopRolePosition is the highest position among the member's roles, 0 when
// the member only has @everyone.
func TopRolePosition(roles []*discordgo.Role, member *discordgo.Member) int {
	if member == nil {
		return 0
	}
	top := 0
	for _, role := range roles {
		if role.Position > top && slices.Contains(member.Roles, role.ID) {
			top = role.Position
		}
	}
	return top
}

func RolePosition(roles []*discordgo.Role, roleID string) (int, bool) {
	for _, role := range roles {
		if role.ID == roleID {
			return role.Position, true
		}
	}
	return 0, false
}

// OutranksTarget applies the role hierarchy guard: the guild owner always
// passes, everyone else needs a strictly higher top role.
func OutranksTarget(ownerID string, roles []*discordgo.Role, moderator, target *discordgo.Member) bool {
	if memberID(moderator) == ownerID {
		return true
	}
	return TopRolePosition(roles, moderator) > TopRolePosition(roles, target)
}
