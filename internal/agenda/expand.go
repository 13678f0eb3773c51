// Package agenda expands merged events into concrete occurrences inside a
// time window, honoring optional RRULE recurrences.
package agenda

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "portalcal/internal/log"
	"portalcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// Config controls how expansion is performed.
type Config struct {
	// Location is the timezone event dates are interpreted in and
	// occurrences are reported in. If nil, time.Local is used.
	Location *time.Location

	// RangeStart / RangeEnd define the inclusive time window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps expansion of a single recurring event.
	MaxOccurrencesPerEvent int
}

// Result wraps the expanded occurrences and the ids of events that hit the
// per-event cap.
type Result struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	TruncatedEvents []string           `json:"truncated_events,omitempty"`
}

// Window returns the range starting backfill days before today's midnight
// and spanning days+backfill days.
func Window(now time.Time, loc *time.Location, days, backfill int) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	start := midnight.AddDate(0, 0, -backfill)
	end := midnight.AddDate(0, 0, days).Add(-time.Nanosecond)
	return start, end
}

// Expand returns every occurrence of events inside the configured range,
// sorted by start time. Events with an unparseable date or recurrence are
// logged and skipped.
func Expand(events []model.Event, cfg Config) (Result, error) {
	var result Result

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("agenda: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make([]model.Occurrence, 0)
	for _, ev := range events {
		start, err := ev.StartIn(cfg.Location)
		if err != nil {
			appLog.Warn("agenda: skipping event with bad date", "id", ev.ID, "date", ev.Date, "time", ev.Time)
			continue
		}

		if ev.Recurrence == "" {
			if inRange(start, cfg.RangeStart, cfg.RangeEnd) {
				out = append(out, makeOccurrence(ev, start, cfg.Location))
			}
			continue
		}

		occ, hitCap := expandRecurring(ev, start, cfg)
		out = append(out, occ...)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
			appLog.Warn("agenda: truncated occurrences due to cap", "id", ev.ID, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].Title < out[j].Title
		}
		return out[i].Start.Before(out[j].Start)
	})
	result.Occurrences = out
	return result, nil
}

func expandRecurring(ev model.Event, start time.Time, cfg Config) ([]model.Occurrence, bool) {
	opt, err := rrule.StrToROption(ev.Recurrence)
	if err != nil {
		appLog.Error("agenda: failed to parse RRULE", err, "id", ev.ID, "rrule", ev.Recurrence)
		return nil, false
	}
	opt.Dtstart = start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Error("agenda: failed to build RRULE", err, "id", ev.ID, "rrule", ev.Recurrence)
		return nil, false
	}

	times := r.Between(cfg.RangeStart.In(cfg.Location), cfg.RangeEnd.In(cfg.Location), true)
	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(times))
	for _, t := range times {
		out = append(out, makeOccurrence(ev, t, cfg.Location))
	}
	return out, hitCap
}

func makeOccurrence(ev model.Event, start time.Time, loc *time.Location) model.Occurrence {
	startLocal := start.In(loc)
	return model.Occurrence{
		EventID:     ev.ID,
		InstanceKey: ev.ID + "@" + startLocal.Format(time.RFC3339),
		Title:       ev.Title,
		Type:        ev.Type,
		Description: ev.Description,
		Course:      ev.Course,
		Location:    ev.Location,
		Origin:      ev.Origin,
		Start:       startLocal,
	}
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
