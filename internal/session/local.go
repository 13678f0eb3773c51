package session

import (
	"fmt"

	"github.com/google/uuid"

	appLog "portalcal/internal/log"
	"portalcal/internal/metrics"
	"portalcal/internal/model"
	"portalcal/internal/reconcile"
	"portalcal/internal/store"
)

// defaultLocalCreator is stamped on local events that arrive without one.
const defaultLocalCreator = "user"

// CreateLocalEvent validates ev, tags it local and merges it into the local
// partition. An empty id is replaced by a fresh uuid. The returned event is
// the one stored.
func (s *Session) CreateLocalEvent(ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Origin = model.OriginLocal
	if ev.CreatedBy == "" || ev.CreatedBy == model.AdminCreator {
		ev.CreatedBy = defaultLocalCreator
	}
	if err := model.ValidateEvent(ev); err != nil {
		return model.Event{}, err
	}

	s.mu.Lock()
	for _, e := range s.events {
		if e.ID == ev.ID {
			s.mu.Unlock()
			return model.Event{}, fmt.Errorf("%w: %s", ErrDuplicateID, ev.ID)
		}
	}

	local := append(reconcile.LocalPartition(s.events), ev)
	s.events = reconcile.ReconcileEvents(local, reconcile.AuthoritativePartition(s.events))
	s.persist(store.KeyEvents, s.events)
	metrics.MergedItems.WithLabelValues(string(KindEvents)).Set(float64(len(s.events)))

	// A stale tombstone for a reused id would hide the new announcement.
	if s.tombs.Has(ev.ID) {
		delete(s.tombs, ev.ID)
		s.persist(store.KeyTombstones, s.tombs)
	}

	ann := eventAnnouncement(ev)
	anns := make([]model.Announcement, 0, len(s.announcements)+1)
	anns = append(anns, ann)
	for _, a := range s.announcements {
		if a.ID != ann.ID {
			anns = append(anns, a)
		}
	}
	s.announcements = anns
	s.persist(store.KeyAnnouncements, s.announcements)
	metrics.MergedItems.WithLabelValues(string(KindAnnouncements)).Set(float64(len(s.announcements)))

	snap := s.snapshotLocked()
	s.mu.Unlock()

	appLog.Info("local event created", "id", ev.ID, "title", ev.Title, "date", ev.Date)
	s.deliver([]notification{{kind: KindEvents, snap: snap}, {kind: KindAnnouncements, snap: snap}})
	return ev, nil
}

// DeleteLocalEvent removes a local event and any announcement linked to it.
func (s *Session) DeleteLocalEvent(id string) error {
	s.mu.Lock()
	idx := -1
	for i, e := range s.events {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	if s.events[idx].Authoritative() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotLocal, id)
	}

	events := make([]model.Event, 0, len(s.events)-1)
	events = append(events, s.events[:idx]...)
	events = append(events, s.events[idx+1:]...)
	s.events = events
	s.persist(store.KeyEvents, s.events)
	metrics.MergedItems.WithLabelValues(string(KindEvents)).Set(float64(len(s.events)))

	s.tombs[id] = s.opts.Now()
	s.persist(store.KeyTombstones, s.tombs)

	notes := []notification{{kind: KindEvents, snap: s.snapshotLocked()}}
	if n, ok := s.repruneLocked(); ok {
		notes = append(notes, n)
	}
	s.mu.Unlock()

	appLog.Info("local event deleted", "id", id)
	s.deliver(notes)
	return nil
}

// MarkRead marks one announcement read.
func (s *Session) MarkRead(id string) error {
	s.mu.Lock()
	found := false
	for _, a := range s.announcements {
		if a.ID == id {
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("%w: announcement %s", ErrNotFound, id)
	}
	if s.read[id] {
		s.mu.Unlock()
		return nil
	}
	s.read[id] = true
	s.persist(store.KeyRead, s.read)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deliver([]notification{{kind: KindAnnouncements, snap: snap}})
	return nil
}

// MarkAllRead marks every current announcement read and returns how many
// changed.
func (s *Session) MarkAllRead() int {
	s.mu.Lock()
	n := 0
	for _, a := range s.announcements {
		if a.Read || s.read[a.ID] {
			continue
		}
		s.read[a.ID] = true
		n++
	}
	if n == 0 {
		s.mu.Unlock()
		return 0
	}
	s.persist(store.KeyRead, s.read)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deliver([]notification{{kind: KindAnnouncements, snap: snap}})
	return n
}

// eventAnnouncement builds the announcement shown right after a local event
// is created. The next successful announcement fetch replaces it.
func eventAnnouncement(ev model.Event) model.Announcement {
	return model.Announcement{
		ID:       model.EventAnnouncementID(ev.ID),
		Title:    "New " + eventTypeLabel(ev.Type) + ": " + ev.Title,
		Content:  fmt.Sprintf("%s on %s at %s", ev.Title, ev.Date, ev.Time),
		Time:     "Just now",
		Priority: priorityFor(ev.Type),
		Category: "event",
	}
}

func priorityFor(t model.EventType) model.Priority {
	switch t {
	case model.EventExam, model.EventDeadline, model.EventViva:
		return model.PriorityHigh
	case model.EventAssignment, model.EventPresentation, model.EventLabAssessment:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

func eventTypeLabel(t model.EventType) string {
	if t == model.EventLabAssessment {
		return "lab assessment"
	}
	return string(t)
}
