package tossing

import (
	"strings"
	"sync"
)

// Entry is what a toss takes away from a member.
type Entry struct {
	ChannelID string
	Roles     []string
}

// Registry tracks tossed members per guild. It lives in memory only.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

func key(guildID, userID string) string { return guildID + ":" + userID }

// Reserve claims the member. It fails when the member is already tossed.
func (r *Registry) Reserve(guildID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(guildID, userID)
	if _, ok := r.entries[k]; ok {
		return false
	}
	r.entries[k] = Entry{}
	return true
}

func (r *Registry) Set(guildID, userID string, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key(guildID, userID)] = e
}

func (r *Registry) Get(guildID, userID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key(guildID, userID)]
	return e, ok
}

// ByChannel finds the member tossed into channelID.
func (r *Registry) ByChannel(guildID, channelID string) (string, Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.entries {
		if userID, ok := strings.CutPrefix(k, guildID+":"); ok && e.ChannelID == channelID {
			return userID, e, true
		}
	}
	return "", Entry{}, false
}

func (r *Registry) Remove(guildID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key(guildID, userID))
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
