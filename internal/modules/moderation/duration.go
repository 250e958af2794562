package moderation

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationToken = regexp.MustCompile(`(\d+)([smhdw])`)

var unitSeconds = map[string]int64{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
	"w": 604800,
}

const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// MaxTimeout is the longest timeout Discord accepts.
const MaxTimeout = 28 * 24 * time.Hour

// ParseDuration sums every number-unit token in s, so "1h30m" is ninety
// minutes and text between tokens is ignored. ok is false when nothing
// parses or the total is not positive.
func ParseDuration(s string) (time.Duration, bool) {
	matches := durationToken.FindAllStringSubmatch(strings.ToLower(s), -1)
	if len(matches) == 0 {
		return 0, false
	}
	var total int64
	for _, m := range matches {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		unit := unitSeconds[m[2]]
		if n > (maxDurationSeconds-total)/unit {
			return 0, false
		}
		total += n * unit
	}
	if total <= 0 {
		return 0, false
	}
	return time.Duration(total) * time.Second, true
}
