package config

import (
	"fmt"
	"time"

	"energyflow/internal/model"
)

// Window presets.
const (
	WindowToday     = "today"
	WindowYesterday = "yesterday"
	WindowLast24h   = "last_24h"
	WindowThisWeek  = "this_week"
)

func validWindow(w string) bool {
	switch w {
	case WindowToday, WindowYesterday, WindowLast24h, WindowThisWeek:
		return true
	}
	return false
}

// ResolveWindow turns a preset into a concrete [start, end) range in loc,
// relative to now.
func ResolveWindow(preset string, now time.Time, loc *time.Location) (model.TimeRange, error) {
	if loc == nil {
		loc = time.Local
	}
	lt := now.In(loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)

	switch preset {
	case WindowToday:
		return model.TimeRange{Start: midnight, End: midnight.AddDate(0, 0, 1)}, nil
	case WindowYesterday:
		return model.TimeRange{Start: midnight.AddDate(0, 0, -1), End: midnight}, nil
	case WindowLast24h:
		end := lt.Truncate(time.Hour).Add(time.Hour)
		return model.TimeRange{Start: end.Add(-24 * time.Hour), End: end}, nil
	case WindowThisWeek:
		offset := (int(lt.Weekday()) + 6) % 7 // Monday first
		start := midnight.AddDate(0, 0, -offset)
		return model.TimeRange{Start: start, End: start.AddDate(0, 0, 7)}, nil
	default:
		return model.TimeRange{}, fmt.Errorf("unknown window %q", preset)
	}
}
