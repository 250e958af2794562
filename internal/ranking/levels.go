package ranking

import (
	"math"
	"slices"
	"strings"
)

const (
	MinLevel      = 1
	MaxLevel      = 32
	UnrankedLevel = 100

	pointsFactor = 21.3
)

var (
	Categories          = []string{"tech", "jumps", "streams", "shitpost", "vibro"}
	Characteristics     = []string{"Standard", "Lawless", "OneSaber"}
	Difficulties        = []string{"Easy", "Normal", "Hard", "Expert", "Expert+"}
	DisallowedModifiers = []string{"NO", "NB", "NF", "SS", "NA", "OP"}
)

// ValidRankLevel accepts ranked levels and the unranked marker.
func ValidRankLevel(level int) bool {
	return level == UnrankedLevel || (level >= MinLevel && level <= MaxLevel)
}

// Points scores a pass: acc is a fraction in [0, 1].
func Points(level int, acc float64) int {
	if level == UnrankedLevel {
		return 0
	}
	return int(math.Round(float64(level) * acc * pointsFactor))
}

// NormalizeDifficulty maps BeatLeader's ExpertPlus onto Expert+.
func NormalizeDifficulty(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "ExpertPlus", "Expert+")
}

// CanonicalDifficulty matches a user supplied difficulty case-insensitively
// and turns a trailing "Plus" into "+".
func CanonicalDifficulty(input string) (string, bool) {
	normalized := strings.ReplaceAll(strings.TrimSpace(input), "plus", "+")
	normalized = strings.ReplaceAll(normalized, "Plus", "+")
	for _, d := range Difficulties {
		if strings.EqualFold(d, normalized) {
			return d, true
		}
	}
	return "", false
}

func CanonicalCharacteristic(input string) (string, bool) {
	return canonical(Characteristics, input)
}

func CanonicalCategory(input string) (string, bool) {
	return canonical(Categories, input)
}

func canonical(set []string, input string) (string, bool) {
	input = strings.TrimSpace(input)
	for _, v := range set {
		if strings.EqualFold(v, input) {
			return v, true
		}
	}
	return "", false
}

// Disallowed returns the modifiers in mods that void a ranked pass.
func Disallowed(mods []string) []string {
	var out []string
	for _, m := range mods {
		if slices.Contains(DisallowedModifiers, strings.ToUpper(m)) && !slices.Contains(out, strings.ToUpper(m)) {
			out = append(out, strings.ToUpper(m))
		}
	}
	slices.Sort(out)
	return out
}

// LevelRole returns the role id for a level, if configured.
func LevelRole(roleIDs []string, level int) (string, bool) {
	if level < MinLevel || level > len(roleIDs) {
		return "", false
	}
	id := roleIDs[level-1]
	return id, id != ""
}

// HighestLevelRole finds the highest level whose role the member holds.
func HighestLevelRole(roleIDs []string, memberRoles []string) int {
	for level := len(roleIDs); level >= MinLevel; level-- {
		if roleIDs[level-1] != "" && slices.Contains(memberRoles, roleIDs[level-1]) {
			return level
		}
	}
	return 0
}
