// Package icalendar renders a program's occurrences as an RFC 5545 feed.
package icalendar

import (
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/example/program-scheduler/internal/persistence"
)

const (
	productID = "-//program-scheduler//schedule feed//EN"
	uidDomain = "program-scheduler"

	propertySourceKey  = "X-SCHEDULER-SOURCE-KEY"
	propertySourceType = "X-SCHEDULER-SOURCE-TYPE"
)

// Feed names the calendar and fixes the DTSTAMP written on every event.
type Feed struct {
	Name    string
	Stamped time.Time
}

// Build turns the scheduled occurrences into a calendar. Cancelled
// occurrences are left out so subscribers drop them.
func Build(feed Feed, occurrences []persistence.Occurrence) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if feed.Name != "" {
		cal.SetName(feed.Name)
	}

	stamp := feed.Stamped.UTC()
	for _, o := range occurrences {
		if o.Status != persistence.StatusScheduled {
			continue
		}
		event := cal.AddEvent(UID(o))
		event.SetDtStampTime(stamp)
		event.SetStartAt(o.StartsAt)
		event.SetEndAt(o.EndsAt)
		event.SetSummary(summary(o))
		event.SetStatus(ical.ObjectStatusConfirmed)
		if !o.UpdatedAt.IsZero() {
			event.SetModifiedAt(o.UpdatedAt)
		}
		if o.ProgramNodeID != nil {
			event.SetLocation(*o.ProgramNodeID)
		}
		event.AddProperty(ical.ComponentProperty(propertySourceKey), o.SourceKey)
		event.AddProperty(ical.ComponentProperty(propertySourceType), string(o.SourceType))
	}
	return cal
}

// Write serializes the feed to w.
func Write(w io.Writer, feed Feed, occurrences []persistence.Occurrence) error {
	_, err := io.WriteString(w, Build(feed, occurrences).Serialize())
	return err
}

// UID is the stable event identifier of an occurrence.
func UID(o persistence.Occurrence) string {
	return o.ID + "@" + uidDomain
}

func summary(o persistence.Occurrence) string {
	if title := strings.TrimSpace(o.Title); title != "" {
		return title
	}
	return "Session " + o.LocalDate.String()
}
