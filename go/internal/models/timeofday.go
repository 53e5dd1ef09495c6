package models

import (
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

var timeOfDayLayouts = []string{"15:04", "15:04:05"}

// ParseDay resolves a calendar day to its midnight in loc. Accepts plain dates and
// RFC 3339 timestamps, of which only the date part is used.
func ParseDay(day string, loc *time.Location) (time.Time, bool) {
	day = strings.TrimSpace(day)
	if len(day) < len(dayLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dayLayout, day[:len(dayLayout)], locOrUTC(loc))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseTimeOfDay returns the offset of a "15:04" or "15:04:05" clock time from midnight.
func ParseTimeOfDay(clock string) (time.Duration, bool) {
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return 0, false
	}
	for _, layout := range timeOfDayLayouts {
		t, err := time.Parse(layout, clock)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

// Combine resolves a calendar day plus a time of day to an instant in loc.
func Combine(day, clock string, loc *time.Location) (time.Time, bool) {
	midnight, ok := ParseDay(day, loc)
	if !ok {
		return time.Time{}, false
	}
	offset, ok := ParseTimeOfDay(clock)
	if !ok {
		return time.Time{}, false
	}
	// Built from wall-clock fields so DST days resolve to the displayed time.
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(),
		int(offset/time.Hour), int(offset%time.Hour/time.Minute), int(offset%time.Minute/time.Second),
		0, midnight.Location()), true
}

func locOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
