package recurrence

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var (
	errEmptyRRule    = errors.New("rrule is empty")
	errSubDailyRRule = errors.New("rrule frequency must be DAILY, WEEKLY, MONTHLY or YEARLY")
	errRRuleTimePart = errors.New("rrule must not set BYHOUR, BYMINUTE or BYSECOND")
)

// parseRRule builds the rule anchored at dtstart so that parts derived from
// DTSTART (weekday, month day) never depend on the wall clock. Rules finer
// than a day are refused.
func parseRRule(value string, dtstart time.Time) (*rrule.RRule, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(strings.TrimPrefix(value, "RRULE:"), "rrule:")
	if value == "" {
		return nil, errEmptyRRule
	}
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return nil, err
	}
	if opt.Freq > rrule.DAILY {
		return nil, errSubDailyRRule
	}
	if len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 {
		return nil, errRRuleTimePart
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(*opt)
}

// expandRRule lists the dates the RRULE yields between start and last
// inclusive. The rule is anchored at start in a zone-naive frame, so only
// the date part of each instant matters.
func expandRRule(value string, start, last Date) ([]Date, error) {
	r, err := parseRRule(value, start.midnight())
	if err != nil {
		return nil, err
	}

	upper := last.midnight().Add(24*time.Hour - time.Second)
	next := r.Iterator()
	var dates []Date
	// A daily or coarser rule yields at most one instant per day.
	for range maxRuleSpanDays + 1 {
		ts, ok := next()
		if !ok || ts.After(upper) {
			break
		}
		dates = append(dates, dateOf(ts.UTC()))
	}
	return dates, nil
}
