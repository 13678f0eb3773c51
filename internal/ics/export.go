// Package ics renders the merged event view as an iCalendar feed so it can be
// subscribed to from any calendar client.
package ics

import (
	"errors"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "portalcal/internal/log"
	"portalcal/internal/model"
)

const (
	defaultProductID = "-//portalcal//student portal calendar//EN"
	defaultName      = "Student portal"
	defaultDuration  = time.Hour
	uidDomain        = "@portalcal"
)

// ExportOptions controls how events are rendered.
type ExportOptions struct {
	// Location is the timezone event dates are interpreted in. If nil,
	// time.Local is used.
	Location *time.Location
	Name     string
	// Duration is the length given to timed events, which carry only a
	// start. Defaults to one hour.
	Duration time.Duration
	// Now stamps DTSTAMP. Defaults to time.Now.
	Now func() time.Time
}

// Export builds a calendar from events. Holidays are rendered as all-day
// entries; everything else starts at its date and time. Events whose date
// cannot be parsed are skipped.
func Export(events []model.Event, opts ExportOptions) *ical.Calendar {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Name == "" {
		opts.Name = defaultName
	}
	if opts.Duration <= 0 {
		opts.Duration = defaultDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	stamp := opts.Now().UTC()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(defaultProductID)
	cal.SetXWRCalName(opts.Name)
	cal.SetXWRTimezone(opts.Location.String())

	skipped := 0
	for _, ev := range events {
		start, err := ev.StartIn(opts.Location)
		if err != nil {
			skipped++
			continue
		}

		ve := cal.AddEvent(ev.ID + uidDomain)
		ve.SetDtStampTime(stamp)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}

		if ev.Type == model.EventHoliday {
			ve.SetAllDayStartAt(start)
			ve.SetAllDayEndAt(start.AddDate(0, 0, 1))
		} else {
			ve.SetStartAt(start)
			ve.SetEndAt(start.Add(opts.Duration))
		}

		if ev.Recurrence != "" {
			ve.AddRrule(strings.TrimPrefix(ev.Recurrence, "RRULE:"))
		}

		categories := []string{string(ev.Type)}
		if ev.Course != "" {
			categories = append(categories, ev.Course)
		}
		ve.SetProperty(ical.ComponentPropertyCategories, strings.Join(categories, ","))
		ve.SetProperty(ical.ComponentProperty("X-PORTAL-ORIGIN"), string(ev.Origin))
	}

	if skipped > 0 {
		appLog.Warn("ics export skipped events with bad dates", "skipped", skipped)
	}
	appLog.Debug("ics export built", "events", len(events)-skipped)
	return cal
}

// Write serializes events as iCalendar text to w.
func Write(w io.Writer, events []model.Event, opts ExportOptions) error {
	if w == nil {
		return errors.New("ics: nil writer")
	}
	_, err := io.WriteString(w, Export(events, opts).Serialize())
	return err
}
