// Package session owns the merged view of events and announcements for one
// signed-in portal user. It loads the persisted snapshot on start, polls the
// backend while a student session is active, applies local edits, and tells
// subscribers when the merged view actually changes.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "portalcal/internal/log"
	"portalcal/internal/metrics"
	"portalcal/internal/model"
	"portalcal/internal/poll"
	"portalcal/internal/reconcile"
	"portalcal/internal/store"
)

type Role string

const (
	RoleNone    Role = ""
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Kind names a reconciled collection.
type Kind string

const (
	KindEvents        Kind = "events"
	KindAnnouncements Kind = "announcements"
)

var (
	// ErrLoggedOut is returned by Begin when no role is given.
	ErrLoggedOut = errors.New("session: not logged in")
	ErrNotFound  = errors.New("session: not found")
	// ErrNotLocal is returned when trying to delete an authoritative event.
	ErrNotLocal    = errors.New("session: event is managed by the backend")
	ErrDuplicateID = errors.New("session: event id already exists")
)

// Fetcher is the backend the session polls. *remote.Client implements it.
type Fetcher interface {
	FetchEvents(ctx context.Context) ([]model.Event, error)
	FetchAnnouncements(ctx context.Context) (reconcile.RemoteAnnouncements, error)
}

// Listener is called after a collection changed. It runs outside the session
// lock and may call back into the session.
type Listener func(kind Kind, snap model.Snapshot)

// Options tunes polling and reconciliation.
type Options struct {
	PollInterval    time.Duration
	FetchTimeout    time.Duration
	TombstoneTTL    time.Duration
	ChangeDetection string
	// Now is used for tombstone timestamps. Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) normalize() {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 10 * time.Second
	}
	if o.TombstoneTTL <= 0 {
		o.TombstoneTTL = 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// CycleState is where a collection is in its reconciliation cycle.
type CycleState string

const (
	StateIdle     CycleState = "idle"
	StateFetching CycleState = "fetching"
)

// Status describes the last cycle of one collection.
type Status struct {
	State       CycleState        `json:"state"`
	LastOutcome reconcile.Outcome `json:"last_outcome,omitempty"`
	LastRun     time.Time         `json:"last_run,omitempty"`
}

// Session is safe for concurrent use.
type Session struct {
	fetcher  Fetcher
	store    store.Store
	detector reconcile.ChangeDetector
	opts     Options

	mu            sync.Mutex
	events        []model.Event
	announcements []model.Announcement
	read          map[string]bool
	tombs         reconcile.Tombstones
	remoteIDs     map[string]struct{} // event ids from the latest successful fetch
	status        map[Kind]Status

	// lifecycleMu serializes Begin and End so a restart is one step.
	lifecycleMu sync.Mutex
	role        Role
	gen         uint64
	cancel      context.CancelFunc
	poller      *poll.Poller

	subsMu  sync.Mutex
	subs    map[int]Listener
	nextSub int
}

// New creates a session and loads the persisted snapshot. Unreadable
// snapshots are logged and treated as absent.
func New(fetcher Fetcher, st store.Store, opts Options) *Session {
	opts.normalize()
	s := &Session{
		fetcher:  fetcher,
		store:    st,
		detector: reconcile.NewChangeDetector(opts.ChangeDetection),
		opts:     opts,
		read:     map[string]bool{},
		tombs:    reconcile.Tombstones{},
		status: map[Kind]Status{
			KindEvents:        {State: StateIdle},
			KindAnnouncements: {State: StateIdle},
		},
		subs: map[int]Listener{},
	}
	s.loadSnapshot()
	return s
}

func (s *Session) loadSnapshot() {
	var events []model.Event
	if s.load(store.KeyEvents, &events) {
		s.events = model.MigrateOrigins(events)
	}
	var anns []model.Announcement
	if s.load(store.KeyAnnouncements, &anns) {
		s.announcements = anns
	}
	var read map[string]bool
	if s.load(store.KeyRead, &read) && read != nil {
		s.read = read
	}
	var tombs reconcile.Tombstones
	if s.load(store.KeyTombstones, &tombs) && tombs != nil {
		s.tombs = tombs
	}
	if s.events == nil {
		s.events = []model.Event{}
	}
	if s.announcements == nil {
		s.announcements = []model.Announcement{}
	}
	// Snapshots written before a crash may still hold orphans.
	s.announcements = reconcile.PruneOrphans(s.announcements, model.EventIDs(s.events), s.tombs)

	metrics.MergedItems.WithLabelValues(string(KindEvents)).Set(float64(len(s.events)))
	metrics.MergedItems.WithLabelValues(string(KindAnnouncements)).Set(float64(len(s.announcements)))
	appLog.Info("snapshot loaded", "events", len(s.events), "announcements", len(s.announcements), "tombstones", len(s.tombs))
}

// load reads key into v, logging failures. It reports whether a value was
// found and decoded.
func (s *Session) load(key string, v any) bool {
	ok, err := s.store.Load(key, v)
	if err != nil {
		appLog.Error("snapshot load failed; treating as empty", err, "key", key)
		return false
	}
	return ok
}

// persist writes v under key, logging failures. Callers hold s.mu.
func (s *Session) persist(key string, v any) {
	if err := s.store.Save(key, v); err != nil {
		metrics.PersistWritesTotal.WithLabelValues(key, "error").Inc()
		appLog.Error("snapshot save failed", err, "key", key)
		return
	}
	metrics.PersistWritesTotal.WithLabelValues(key, "ok").Inc()
}

// Begin starts a session for role, ending any previous one. Students get a
// poller that runs the event cycle and then the announcement cycle on every
// tick; admins manage data on the backend and get none. ctx bounds the
// lifetime of the poller and should outlive the caller's request.
func (s *Session) Begin(ctx context.Context, role Role) error {
	if role != RoleStudent && role != RoleAdmin {
		return ErrLoggedOut
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.end()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
	s.gen++
	gen := s.gen

	if role == RoleAdmin {
		appLog.Info("admin session started; polling disabled")
		return nil
	}

	pctx, cancel := context.WithCancel(ctx)
	p, err := poll.SchedulePolling(pctx, poll.Options{Name: "sync", Interval: s.opts.PollInterval},
		func(c context.Context) {
			// Announcements are pruned against the events this tick produced.
			s.runEventCycle(c, gen)
			if c.Err() != nil {
				return
			}
			s.runAnnouncementCycle(c, gen)
		})
	if err != nil {
		cancel()
		s.role = RoleNone
		return err
	}

	s.cancel = cancel
	s.poller = p
	appLog.Info("student session started", "poll_interval", s.opts.PollInterval.String(), "fetch_timeout", s.opts.FetchTimeout.String())
	return nil
}

// End stops polling. Fetches still in flight complete but their results are
// discarded. Safe to call when no session is active.
func (s *Session) End() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.end()
}

// end is End without the lifecycle lock. Callers hold s.lifecycleMu.
func (s *Session) end() {
	s.mu.Lock()
	p, cancel, role := s.poller, s.cancel, s.role
	s.poller, s.cancel = nil, nil
	s.role = RoleNone
	s.gen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if p != nil {
		p.Stop()
	}
	if role != RoleNone {
		appLog.Info("session ended", "role", string(role))
	}
}

// Role returns the active role, RoleNone when logged out.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Events returns a copy of the merged events.
func (s *Session) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyEvents(s.events)
}

// Announcements returns the merged announcements with read state applied.
func (s *Session) Announcements() []model.Announcement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reconcile.ApplyReadOverlay(s.announcements, s.read)
}

// Snapshot returns a copy of the whole merged view.
func (s *Session) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() model.Snapshot {
	read := make(map[string]bool, len(s.read))
	for k, v := range s.read {
		read[k] = v
	}
	return model.Snapshot{
		Events:        copyEvents(s.events),
		Announcements: reconcile.ApplyReadOverlay(s.announcements, s.read),
		Read:          read,
	}
}

func copyEvents(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	copy(out, events)
	return out
}

// Status reports the cycle state of both collections.
func (s *Session) Status() map[Kind]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Kind]Status, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}

// Subscribe registers l and returns a func that removes it.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = l
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

// notification is queued under s.mu and delivered after it is released.
type notification struct {
	kind Kind
	snap model.Snapshot
}

func (s *Session) deliver(notes []notification) {
	if len(notes) == 0 {
		return
	}
	s.subsMu.Lock()
	listeners := make([]Listener, 0, len(s.subs))
	for _, l := range s.subs {
		listeners = append(listeners, l)
	}
	s.subsMu.Unlock()

	for _, n := range notes {
		for _, l := range listeners {
			l(n.kind, n.snap)
		}
	}
}

// Close ends the session and closes the store.
func (s *Session) Close() error {
	s.End()
	return s.store.Close()
}
