package session

import (
	"context"

	appLog "portalcal/internal/log"
	"portalcal/internal/metrics"
	"portalcal/internal/model"
	"portalcal/internal/reconcile"
	"portalcal/internal/store"
)

// outcomeDiscarded marks a cycle whose result arrived after the session that
// started it had ended.
const outcomeDiscarded reconcile.Outcome = "discarded"

// SyncNow runs one event cycle followed by one announcement cycle on the
// caller's goroutine, independent of the poller.
func (s *Session) SyncNow(ctx context.Context) (events, announcements reconcile.Outcome) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	events = s.runEventCycle(ctx, gen)
	announcements = s.runAnnouncementCycle(ctx, gen)
	return events, announcements
}

func (s *Session) setState(kind Kind, state CycleState, outcome reconcile.Outcome) {
	st := s.status[kind]
	st.State = state
	if outcome != "" {
		st.LastOutcome = outcome
		st.LastRun = s.opts.Now()
		metrics.CyclesTotal.WithLabelValues(string(kind), string(outcome)).Inc()
	}
	s.status[kind] = st
}

// begin marks kind as fetching unless gen is stale.
func (s *Session) begin(kind Kind, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.setState(kind, StateFetching, "")
	return true
}

// runEventCycle fetches authoritative events and merges them into the local
// partition. A failed fetch leaves events untouched and writes nothing.
func (s *Session) runEventCycle(ctx context.Context, gen uint64) reconcile.Outcome {
	if !s.begin(KindEvents, gen) {
		return outcomeDiscarded
	}

	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	remote, err := s.fetcher.FetchEvents(fctx)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		metrics.DiscardedResultsTotal.WithLabelValues(string(KindEvents)).Inc()
		appLog.Debug("event fetch result discarded; session ended")
		return outcomeDiscarded
	}
	if err != nil {
		s.setState(KindEvents, StateIdle, reconcile.OutcomeRetained)
		s.mu.Unlock()
		appLog.Error("event fetch failed; keeping previous events", err)
		return reconcile.OutcomeRetained
	}

	s.remoteIDs = model.EventIDs(remote)
	// Merge against the local partition as it is now, so edits made while
	// the fetch was in flight are not lost.
	merged := reconcile.ReconcileEvents(s.events, remote)

	var notes []notification
	if s.detector.HasChanged(s.events, merged) {
		s.events = merged
		s.persist(store.KeyEvents, s.events)
		metrics.MergedItems.WithLabelValues(string(KindEvents)).Set(float64(len(s.events)))
		notes = append(notes, notification{kind: KindEvents, snap: s.snapshotLocked()})
	}
	if n, ok := s.repruneLocked(); ok {
		notes = append(notes, n)
	}
	s.setState(KindEvents, StateIdle, reconcile.OutcomeMerged)
	s.mu.Unlock()

	appLog.Debug("event cycle done", "remote", len(remote), "merged", len(merged), "changed", len(notes) > 0)
	s.deliver(notes)
	return reconcile.OutcomeMerged
}

// runAnnouncementCycle fetches announcements and applies the backend-wins
// policy. A failed fetch clears the persisted announcements; a malformed
// payload falls back to them.
func (s *Session) runAnnouncementCycle(ctx context.Context, gen uint64) reconcile.Outcome {
	if !s.begin(KindAnnouncements, gen) {
		return outcomeDiscarded
	}

	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	remote, err := s.fetcher.FetchAnnouncements(fctx)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		metrics.DiscardedResultsTotal.WithLabelValues(string(KindAnnouncements)).Inc()
		appLog.Debug("announcement fetch result discarded; session ended")
		return outcomeDiscarded
	}

	var (
		next    []model.Announcement
		outcome reconcile.Outcome
	)
	if err != nil {
		appLog.Error("announcement fetch failed; clearing announcements", err)
		if derr := s.store.Delete(store.KeyAnnouncements); derr != nil {
			appLog.Error("clearing persisted announcements failed", derr)
		}
		next = []model.Announcement{}
		outcome = reconcile.OutcomeClearedOnError
	} else {
		var fallback []model.Announcement
		if !remote.Present {
			s.load(store.KeyAnnouncements, &fallback)
		}
		res := reconcile.ReconcileAnnouncements(remote, fallback, model.EventIDs(s.events), s.tombs)
		next, outcome = res.Announcements, res.Outcome

		if outcome == reconcile.OutcomeMerged {
			s.collectLocked(remote.Items, next)
		}
	}

	var notes []notification
	if s.detector.HasChanged(s.announcements, next) {
		s.announcements = next
		if outcome != reconcile.OutcomeClearedOnError {
			s.persist(store.KeyAnnouncements, s.announcements)
		}
		metrics.MergedItems.WithLabelValues(string(KindAnnouncements)).Set(float64(len(s.announcements)))
		notes = append(notes, notification{kind: KindAnnouncements, snap: s.snapshotLocked()})
	}
	s.setState(KindAnnouncements, StateIdle, outcome)
	s.mu.Unlock()

	appLog.Debug("announcement cycle done", "outcome", string(outcome), "count", len(next))
	s.deliver(notes)
	return outcome
}

// collectLocked garbage-collects tombstones and read flags after a
// successful announcement fetch.
func (s *Session) collectLocked(remoteAnns, current []model.Announcement) {
	if s.remoteIDs != nil {
		if n := s.tombs.Collect(s.opts.Now(), s.opts.TombstoneTTL, s.remoteIDs, remoteAnns); n > 0 {
			s.persist(store.KeyTombstones, s.tombs)
			appLog.Debug("tombstones collected", "removed", n)
		}
	}

	keep := make(map[string]struct{}, len(current))
	for _, a := range current {
		keep[a.ID] = struct{}{}
	}
	dropped := false
	for id := range s.read {
		if _, ok := keep[id]; !ok {
			delete(s.read, id)
			dropped = true
		}
	}
	if dropped {
		s.persist(store.KeyRead, s.read)
	}
}

// repruneLocked drops announcements orphaned by the current events and
// returns a notification when anything was removed.
func (s *Session) repruneLocked() (notification, bool) {
	pruned := reconcile.PruneOrphans(s.announcements, model.EventIDs(s.events), s.tombs)
	if len(pruned) == len(s.announcements) {
		return notification{}, false
	}
	s.announcements = pruned
	s.persist(store.KeyAnnouncements, s.announcements)
	metrics.MergedItems.WithLabelValues(string(KindAnnouncements)).Set(float64(len(s.announcements)))
	return notification{kind: KindAnnouncements, snap: s.snapshotLocked()}, true
}
