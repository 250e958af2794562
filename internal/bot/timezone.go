package bot

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var errUnknownZone = errors.New("unknown time zone")

var timezoneAliases = map[string]string{
	"est": "America/New_York",
	"edt": "America/New_York",
	"pst": "America/Los_Angeles",
	"pdt": "America/Los_Angeles",
	"cst": "America/Chicago",
	"cdt": "America/Chicago",
	"mst": "America/Denver",
	"mdt": "America/Denver",
	"gmt": "GMT",
	"utc": "UTC",
}

// ResolveTimezone maps a short alias or an IANA name to a location.
func ResolveTimezone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if alias, ok := timezoneAliases[strings.ToLower(name)]; ok {
		name = alias
	}
	// LoadLocation treats these as the host zone
	if name == "" || strings.EqualFold(name, "local") {
		return nil, errUnknownZone
	}
	return time.LoadLocation(name)
}

var clockPattern = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*([AP]M)?`)

// ParseClock reads times like 2PM, 2:30 PM, 12 AM and 14:30.
func ParseClock(s string) (hour, minute int, ok bool) {
	m := clockPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "PM":
		if hour < 12 {
			hour += 12
		}
	case "AM":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func formatClock(t time.Time) string {
	return t.Format("3:04 PM")
}

// onDay places hour:minute on the calendar day of now, in loc.
func onDay(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
}
