package model

import (
	"strings"
	"time"
)

// Origin tells whether a record is owned by this client or mirrored from the
// backend. It is set when a record enters the system and never inferred while
// merging.
type Origin string

const (
	OriginLocal         Origin = "local"
	OriginAuthoritative Origin = "authoritative"
)

// AdminCreator is the createdBy value the backend stamps on admin events.
const AdminCreator = "admin"

// EventType is the fixed set of calendar entry kinds the portal knows about.
type EventType string

const (
	EventDeadline      EventType = "deadline"
	EventAssignment    EventType = "assignment"
	EventPresentation  EventType = "presentation"
	EventMeeting       EventType = "meeting"
	EventClass         EventType = "class"
	EventExam          EventType = "exam"
	EventHoliday       EventType = "holiday"
	EventViva          EventType = "viva"
	EventLabAssessment EventType = "lab_assessment"
)

// EventTypes lists every valid EventType.
var EventTypes = []EventType{
	EventDeadline, EventAssignment, EventPresentation, EventMeeting, EventClass,
	EventExam, EventHoliday, EventViva, EventLabAssessment,
}

// Valid reports whether t is one of EventTypes.
func (t EventType) Valid() bool {
	for _, v := range EventTypes {
		if v == t {
			return true
		}
	}
	return false
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Event is a calendar entry as exchanged with the UI and the backend.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title" validate:"notblank"`
	Date        string    `json:"date" validate:"required,datelayout"`
	Time        string    `json:"time" validate:"required,timelayout"`
	Type        EventType `json:"type" validate:"eventtype"`
	Description string    `json:"description"`
	Course      string    `json:"course,omitempty"`
	Location    string    `json:"location,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	Origin      Origin    `json:"origin,omitempty"`

	// Recurrence is an optional RRULE body (without the "RRULE:" prefix).
	Recurrence string `json:"recurrence,omitempty" validate:"omitempty,rrule"`
}

// Authoritative reports whether the event mirrors a backend record.
func (e Event) Authoritative() bool {
	return e.Origin == OriginAuthoritative
}

// StartIn returns the event start in loc. Events with an unparseable time
// fall back to midnight of their date.
func (e Event) StartIn(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, e.Date+" "+e.Time, loc)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation(DateLayout, e.Date, loc)
}

// MigrateOrigins fills in Origin for records persisted before the field
// existed, using the legacy createdBy sentinel. Records that already carry an
// origin are left untouched.
func MigrateOrigins(events []Event) []Event {
	for i := range events {
		if events[i].Origin != "" {
			continue
		}
		if events[i].CreatedBy == AdminCreator {
			events[i].Origin = OriginAuthoritative
		} else {
			events[i].Origin = OriginLocal
		}
	}
	return events
}

// EventIDs returns the set of ids in events.
func EventIDs(events []Event) map[string]struct{} {
	ids := make(map[string]struct{}, len(events))
	for _, e := range events {
		ids[e.ID] = struct{}{}
	}
	return ids
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Announcement is a notice shown on the dashboard. Time is a display string
// and is not meant to be sorted on.
type Announcement struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Time     string   `json:"time"`
	Priority Priority `json:"priority"`
	Category string   `json:"category"`
	Read     bool     `json:"read"`
}

const eventAnnouncementPrefix = "event-announcement-"

// EventAnnouncementID returns the id of the announcement linked to eventID.
func EventAnnouncementID(eventID string) string {
	return eventAnnouncementPrefix + eventID
}

// LinkedEventID extracts the referenced event id from an event-linked
// announcement id.
func LinkedEventID(announcementID string) (string, bool) {
	if !strings.HasPrefix(announcementID, eventAnnouncementPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(announcementID, eventAnnouncementPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// Snapshot is the merged view handed to the UI.
type Snapshot struct {
	Events        []Event         `json:"events"`
	Announcements []Announcement  `json:"announcements"`
	Read          map[string]bool `json:"read"`
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	EventID string `json:"event_id"`

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string `json:"instance_key"`

	Title       string    `json:"title"`
	Type        EventType `json:"type"`
	Description string    `json:"description,omitempty"`
	Course      string    `json:"course,omitempty"`
	Location    string    `json:"location,omitempty"`
	Origin      Origin    `json:"origin"`

	Start time.Time `json:"start"`
}
