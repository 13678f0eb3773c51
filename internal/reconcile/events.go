// Package reconcile holds the pure merge rules for events and announcements.
// Nothing here performs I/O; scheduling and persistence live in
// internal/session.
package reconcile

import "portalcal/internal/model"

// ReconcileEvents merges the locally held events with a fresh authoritative
// fetch.
//
// Local entries are kept only when they are local-origin and their id does not
// appear in remote, so an authoritative copy always replaces a local one with
// the same id. The result is local entries first (stored order) followed by
// remote entries (fetched order). Duplicate ids inside remote keep the first
// occurrence. Running the function again with its own output as local and the
// same remote yields the same result.
func ReconcileEvents(local, remote []model.Event) []model.Event {
	remoteIDs := make(map[string]struct{}, len(remote))
	dedupedRemote := make([]model.Event, 0, len(remote))
	for _, ev := range remote {
		if _, dup := remoteIDs[ev.ID]; dup {
			continue
		}
		remoteIDs[ev.ID] = struct{}{}
		dedupedRemote = append(dedupedRemote, ev)
	}

	merged := make([]model.Event, 0, len(local)+len(dedupedRemote))
	seenLocal := make(map[string]struct{}, len(local))
	for _, ev := range local {
		if ev.Authoritative() {
			continue
		}
		if _, shadowed := remoteIDs[ev.ID]; shadowed {
			continue
		}
		if _, dup := seenLocal[ev.ID]; dup {
			continue
		}
		seenLocal[ev.ID] = struct{}{}
		merged = append(merged, ev)
	}
	return append(merged, dedupedRemote...)
}

// LocalPartition returns the local-origin events of merged, in order.
func LocalPartition(merged []model.Event) []model.Event {
	out := make([]model.Event, 0, len(merged))
	for _, ev := range merged {
		if !ev.Authoritative() {
			out = append(out, ev)
		}
	}
	return out
}

// AuthoritativePartition returns the authoritative events of merged, in order.
func AuthoritativePartition(merged []model.Event) []model.Event {
	out := make([]model.Event, 0, len(merged))
	for _, ev := range merged {
		if ev.Authoritative() {
			out = append(out, ev)
		}
	}
	return out
}
