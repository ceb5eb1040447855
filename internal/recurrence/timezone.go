package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrUnknownTimezone indicates the rule names a zone missing from the tz database.
var ErrUnknownTimezone = errors.New("recurrence: unknown timezone")

var locationCache sync.Map

// LoadLocation resolves an IANA zone name, caching successful lookups.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty zone name", ErrUnknownTimezone)
	}
	if cached, ok := locationCache.Load(name); ok {
		return cached.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimezone, name)
	}
	locationCache.Store(name, loc)
	return loc, nil
}

// ResolveLocal converts a wall-clock date and time in loc to an absolute instant.
//
// Wall times skipped by a forward transition resolve with the offset in force
// before the transition, which moves them forward by the size of the gap
// (02:30 on a spring-forward night becomes 03:30 daylight time). Wall times
// repeated by a backward transition resolve to the earlier instant.
func ResolveLocal(d Date, t LocalTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	naive := time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, 0, 0, time.UTC)

	_, offsetBefore := naive.Add(-12 * time.Hour).In(loc).Zone()
	_, offsetAfter := naive.Add(12 * time.Hour).In(loc).Zone()

	candidates := []time.Time{
		naive.Add(-time.Duration(offsetBefore) * time.Second),
		naive.Add(-time.Duration(offsetAfter) * time.Second),
	}

	var resolved time.Time
	for _, candidate := range candidates {
		if !matchesWallClock(candidate.In(loc), d, t) {
			continue
		}
		if resolved.IsZero() || candidate.Before(resolved) {
			resolved = candidate
		}
	}
	if resolved.IsZero() {
		// Gap: no candidate shows the requested wall clock.
		resolved = candidates[0]
	}
	return resolved.UTC()
}

func matchesWallClock(ts time.Time, d Date, t LocalTime) bool {
	y, m, day := ts.Date()
	return y == d.Year && m == d.Month && day == d.Day && ts.Hour() == t.Hour && ts.Minute() == t.Minute
}
