package ranking

import (
	"slices"
	"sort"
	"strings"
	"time"

	"worldmachine/internal/beatleader"
	"worldmachine/internal/storage"
)

// PassResult is one ranked map passed in this scan.
type PassResult struct {
	Map      storage.RankedMap
	Accuracy float64 // percent
	Points   int
	// New means no pass was stored before; Improved means one was, but lower.
	New      bool
	Improved bool
}

type DisallowedResult struct {
	Map       storage.RankedMap
	Accuracy  float64 // percent
	Modifiers []string
}

type Reconciliation struct {
	Passes []PassResult
	// Writes are the allowed passes that beat what is stored.
	Writes []storage.Pass
	// Disallowed candidates still need the store to confirm an improvement.
	Disallowed []storage.DisallowedPass
	// Unranked are level 100 passes that beat the stored accuracy.
	Unranked    []PassResult
	TotalPoints int
	Level       int
}

func (r *Reconciliation) NewCount() int {
	n := 0
	for _, p := range r.Passes {
		if p.New && p.Map.Level != UnrankedLevel {
			n++
		}
	}
	return n
}

func (r *Reconciliation) ImprovedCount() int {
	n := 0
	for _, p := range r.Passes {
		if p.Improved && p.Map.Level != UnrankedLevel {
			n++
		}
	}
	return n
}

// Changed lists new or improved ranked passes, highest level first.
func (r *Reconciliation) Changed() []PassResult {
	var out []PassResult
	for _, p := range r.Passes {
		if (p.New || p.Improved) && p.Map.Level != UnrankedLevel {
			out = append(out, p)
		}
	}
	return out
}

// MatchMap finds the ranked map a score belongs to. Characteristic and
// difficulty must agree. A score carrying a hash only matches by hash; the
// song name is used when the score has none.
func MatchMap(maps []storage.RankedMap, score beatleader.Score) (storage.RankedMap, bool) {
	characteristic := score.Leaderboard.Difficulty.ModeName
	difficulty := NormalizeDifficulty(score.Leaderboard.Difficulty.DifficultyName)
	hash := strings.TrimSpace(score.Leaderboard.Song.Hash)
	name := strings.TrimSpace(score.Leaderboard.Song.Name)

	for _, m := range maps {
		if m.Characteristic != characteristic || m.Difficulty != difficulty {
			continue
		}
		if hash != "" {
			if m.SongHash != "" && strings.EqualFold(hash, m.SongHash) {
				return m, true
			}
			continue
		}
		if name != "" && strings.EqualFold(name, strings.TrimSpace(m.SongName)) {
			return m, true
		}
	}
	return storage.RankedMap{}, false
}

// Reconcile matches scores against ranked maps and the user's stored passes.
// Scores with disallowed modifiers never become passes.
func Reconcile(discordID, beatleaderID string, scores []beatleader.Score, maps []storage.RankedMap, stored []storage.Pass, now time.Time) Reconciliation {
	existing := make(map[string]float64, len(stored))
	level := 0
	for _, p := range stored {
		existing[storage.PassKey(p.SongName, p.Characteristic, p.Difficulty)] = p.Accuracy
		if p.Level >= MinLevel && p.Level <= MaxLevel && p.Level > level {
			level = p.Level
		}
	}

	type candidate struct {
		m    storage.RankedMap
		acc  float64
		mods []string
	}
	allowed := make(map[string]*candidate)
	disallowed := make(map[string]*candidate)
	var allowedOrder, disallowedOrder []string

	for _, score := range scores {
		if score.Accuracy <= 0 {
			continue
		}
		m, ok := MatchMap(maps, score)
		if !ok {
			continue
		}
		mods := Disallowed(score.ModifierList())
		if len(mods) > 0 {
			key := m.ID + "|" + storage.JoinModifiers(mods)
			if c := disallowed[key]; c == nil {
				disallowed[key] = &candidate{m: m, acc: score.Accuracy, mods: mods}
				disallowedOrder = append(disallowedOrder, key)
			} else if score.Accuracy > c.acc {
				c.acc = score.Accuracy
			}
			continue
		}
		if c := allowed[m.ID]; c == nil {
			allowed[m.ID] = &candidate{m: m, acc: score.Accuracy}
			allowedOrder = append(allowedOrder, m.ID)
		} else if score.Accuracy > c.acc {
			c.acc = score.Accuracy
		}
	}

	var out Reconciliation
	for _, id := range allowedOrder {
		c := allowed[id]
		pct := c.acc * 100
		prev, had := existing[storage.PassKey(c.m.SongName, c.m.Characteristic, c.m.Difficulty)]
		result := PassResult{
			Map:      c.m,
			Accuracy: pct,
			Points:   Points(c.m.Level, c.acc),
			New:      !had,
			Improved: had && pct > prev,
		}
		out.Passes = append(out.Passes, result)
		if c.m.Level == UnrankedLevel {
			if result.New || result.Improved {
				out.Unranked = append(out.Unranked, result)
			}
		} else {
			out.TotalPoints += result.Points
			if c.m.Level > level {
				level = c.m.Level
			}
		}
		if result.New || result.Improved {
			out.Writes = append(out.Writes, storage.Pass{
				DiscordID:      discordID,
				BeatLeaderID:   beatleaderID,
				SongName:       c.m.SongName,
				Characteristic: c.m.Characteristic,
				Difficulty:     c.m.Difficulty,
				Level:          c.m.Level,
				Accuracy:       pct,
				Points:         result.Points,
				PassedAt:       now,
			})
		}
	}
	for _, key := range disallowedOrder {
		c := disallowed[key]
		out.Disallowed = append(out.Disallowed, storage.DisallowedPass{
			Pass: storage.Pass{
				DiscordID:      discordID,
				BeatLeaderID:   beatleaderID,
				SongName:       c.m.SongName,
				Characteristic: c.m.Characteristic,
				Difficulty:     c.m.Difficulty,
				Level:          c.m.Level,
				Accuracy:       c.acc * 100,
				PassedAt:       now,
			},
			Modifiers: c.mods,
		})
	}
	out.Level = level

	sort.SliceStable(out.Passes, func(i, j int) bool {
		if out.Passes[i].Map.Level != out.Passes[j].Map.Level {
			return out.Passes[i].Map.Level > out.Passes[j].Map.Level
		}
		return out.Passes[i].Accuracy > out.Passes[j].Accuracy
	})
	return out
}

// GroupDisallowed merges stored disallowed passes by song, level and
// difficulty, uniting their modifiers and keeping the best accuracy.
func GroupDisallowed(passes []storage.DisallowedPass) []DisallowedResult {
	type key struct {
		song  string
		level int
		diff  string
	}
	groups := make(map[key]*DisallowedResult)
	var order []key
	for _, p := range passes {
		k := key{p.SongName, p.Level, p.Difficulty}
		g := groups[k]
		if g == nil {
			g = &DisallowedResult{Map: storage.RankedMap{SongName: p.SongName, Level: p.Level, Difficulty: p.Difficulty, Characteristic: p.Characteristic}}
			groups[k] = g
			order = append(order, k)
		}
		if p.Accuracy > g.Accuracy {
			g.Accuracy = p.Accuracy
		}
		for _, m := range p.Modifiers {
			if !slices.Contains(g.Modifiers, m) {
				g.Modifiers = append(g.Modifiers, m)
			}
		}
	}
	out := make([]DisallowedResult, 0, len(order))
	for _, k := range order {
		g := groups[k]
		sort.Strings(g.Modifiers)
		out = append(out, *g)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Accuracy > out[j].Accuracy })
	return out
}
