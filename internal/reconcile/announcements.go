package reconcile

import (
	"time"

	"portalcal/internal/model"
)

// Outcome is the terminal state of one reconciliation cycle.
type Outcome string

const (
	// OutcomeMerged: a well-formed remote payload was applied.
	OutcomeMerged Outcome = "merged"
	// OutcomeFallbackToCache: the payload was malformed; the last persisted
	// snapshot was used instead.
	OutcomeFallbackToCache Outcome = "fallback_to_cache"
	// OutcomeClearedOnError: the fetch failed; announcements were cleared.
	OutcomeClearedOnError Outcome = "cleared_on_error"
	// OutcomeRetained: the fetch failed; the previous events were kept.
	OutcomeRetained Outcome = "retained"
)

// RemoteAnnouncements is the decoded announcements response. Present is false
// when the backend answered but the payload did not contain an announcements
// list, which is different from an explicit empty list.
type RemoteAnnouncements struct {
	Items   []model.Announcement
	Present bool
}

// AnnouncementResult is the output of ReconcileAnnouncements.
type AnnouncementResult struct {
	Announcements []model.Announcement
	Outcome       Outcome
}

// ReconcileAnnouncements applies the backend-wins policy.
//
// A present remote list (even an empty one) replaces everything held locally.
// An absent list falls back to the persisted snapshot, or to an empty list
// when there is none. Either way the result is pruned of event-linked
// announcements whose event is not in eventIDs or has been tombstoned.
func ReconcileAnnouncements(remote RemoteAnnouncements, fallback []model.Announcement, eventIDs map[string]struct{}, tombs Tombstones) AnnouncementResult {
	if !remote.Present {
		return AnnouncementResult{
			Announcements: PruneOrphans(fallback, eventIDs, tombs),
			Outcome:       OutcomeFallbackToCache,
		}
	}
	return AnnouncementResult{
		Announcements: PruneOrphans(remote.Items, eventIDs, tombs),
		Outcome:       OutcomeMerged,
	}
}

// PruneOrphans drops event-linked announcements that reference an event not
// in eventIDs, or one that was deleted locally. Other announcements are kept.
// The result is never nil.
func PruneOrphans(anns []model.Announcement, eventIDs map[string]struct{}, tombs Tombstones) []model.Announcement {
	out := make([]model.Announcement, 0, len(anns))
	for _, a := range anns {
		if eventID, linked := model.LinkedEventID(a.ID); linked {
			if _, ok := eventIDs[eventID]; !ok {
				continue
			}
			if tombs.Has(eventID) {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// ApplyReadOverlay marks announcements read when the overlay says so. The
// overlay only ever adds read state; it never unmarks what the backend sent.
func ApplyReadOverlay(anns []model.Announcement, overlay map[string]bool) []model.Announcement {
	out := make([]model.Announcement, len(anns))
	for i, a := range anns {
		if overlay[a.ID] {
			a.Read = true
		}
		out[i] = a
	}
	return out
}

// Tombstones records locally deleted event ids and when they were deleted.
type Tombstones map[string]time.Time

func (t Tombstones) Has(id string) bool {
	if t == nil {
		return false
	}
	_, ok := t[id]
	return ok
}

// Collect removes tombstones that are older than ttl, or whose id no longer
// shows up in the latest successful fetch as either an event or the target
// of an event-linked announcement. It returns the number removed.
func (t Tombstones) Collect(now time.Time, ttl time.Duration, remoteEventIDs map[string]struct{}, remoteAnns []model.Announcement) int {
	if len(t) == 0 {
		return 0
	}
	linked := make(map[string]struct{}, len(remoteAnns))
	for _, a := range remoteAnns {
		if id, ok := model.LinkedEventID(a.ID); ok {
			linked[id] = struct{}{}
		}
	}

	removed := 0
	for id, deletedAt := range t {
		_, stillEvent := remoteEventIDs[id]
		_, stillLinked := linked[id]
		expired := ttl > 0 && now.Sub(deletedAt) >= ttl
		if expired || (!stillEvent && !stillLinked) {
			delete(t, id)
			removed++
		}
	}
	return removed
}
