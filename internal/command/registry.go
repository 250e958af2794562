package command

import (
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
)

type Registry struct {
	cmds   []*Command
	byName map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command)}
}

// Add registers commands. A later command with the same name replaces the
// earlier one.
func (r *Registry) Add(cmds ...*Command) {
	for _, cmd := range cmds {
		if existing, ok := r.byName[cmd.Name()]; ok {
			for i, c := range r.cmds {
				if c == existing {
					r.cmds = append(r.cmds[:i], r.cmds[i+1:]...)
					break
				}
			}
		}
		r.cmds = append(r.cmds, cmd)
		r.byName[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases {
			r.byName[strings.ToLower(alias)] = cmd
		}
	}
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	cmd, ok := r.byName[strings.ToLower(name)]
	return cmd, ok
}

func (r *Registry) Commands() []*Command {
	out := append([]*Command(nil), r.cmds...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions returns the slash command payloads, with guild-only and
// permission requirements folded in.
func (r *Registry) Definitions() []*discordgo.ApplicationCommand {
	defs := make([]*discordgo.ApplicationCommand, 0, len(r.cmds))
	for _, cmd := range r.Commands() {
		def := *cmd.Def
		if cmd.GuildOnly {
			dm := false
			def.DMPermission = &dm
		}
		if cmd.Permission != 0 && def.DefaultMemberPermissions == nil {
			perm := cmd.Permission
			def.DefaultMemberPermissions = &perm
		}
		defs = append(defs, &def)
	}
	return defs
}

// SplitInvocation separates a prefixed message into command name and the
// remaining text. ok is false when content does not start with one of the
// prefixes.
func SplitInvocation(content string, prefixes ...string) (name, rest string, ok bool) {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			body := strings.TrimSpace(trimmed[len(prefix):])
			if body == "" {
				return "", "", false
			}
			if i := strings.IndexFunc(body, isSpace); i >= 0 {
				return strings.ToLower(body[:i]), strings.TrimSpace(body[i:]), true
			}
			return strings.ToLower(body), "", true
		}
	}
	return "", "", false
}

func isSpace(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }
