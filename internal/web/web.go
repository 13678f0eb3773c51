package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portalcal/internal/agenda"
	"portalcal/internal/config"
	"portalcal/internal/ics"
	appLog "portalcal/internal/log"
	"portalcal/internal/model"
	"portalcal/internal/session"
)

// Server exposes the merged portal view over HTTP.
type Server struct {
	cfg  *config.Config
	sess *session.Session
	// baseCtx outlives individual requests and bounds polling started by
	// POST /api/session.
	baseCtx context.Context
	router  *mux.Router
	now     func() time.Time

	// Expanded agenda responses keyed by window, dropped whenever the
	// session reports a change. agendaGen counts those drops.
	agendaMu    sync.RWMutex
	agendaCache map[string]agendaResponse
	agendaGen   uint64
	unsubscribe func()
}

// NewServer constructs a new Server. ctx bounds sessions begun over HTTP.
func NewServer(ctx context.Context, cfg *config.Config, sess *session.Session) *Server {
	s := &Server{
		cfg:         cfg,
		sess:        sess,
		baseCtx:     ctx,
		router:      mux.NewRouter(),
		now:         time.Now,
		agendaCache: map[string]agendaResponse{},
	}
	s.unsubscribe = sess.Subscribe(func(session.Kind, model.Snapshot) {
		s.agendaMu.Lock()
		s.agendaCache = map[string]agendaResponse{}
		s.agendaGen++
		s.agendaMu.Unlock()
	})
	s.registerRoutes()
	return s
}

// Close detaches the server from the session.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="portalcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves until ctx is canceled, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.Config, sess *session.Session) error {
	s := NewServer(ctx, cfg, sess)
	defer s.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(requestLogger)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/calendar.ics", s.handleCalendar).Methods(http.MethodGet)

	// API routes live on the root router so a method mismatch is a 405.
	r.HandleFunc("/api/session", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/api/session", s.handleBeginSession).Methods(http.MethodPost)
	r.HandleFunc("/api/session", s.handleEndSession).Methods(http.MethodDelete)
	r.HandleFunc("/api/sync", s.handleSync).Methods(http.MethodPost)

	r.HandleFunc("/api/events", s.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleCreateEvent).Methods(http.MethodPost)
	r.HandleFunc("/api/events/{id}", s.handleDeleteEvent).Methods(http.MethodDelete)

	r.HandleFunc("/api/announcements", s.handleListAnnouncements).Methods(http.MethodGet)
	r.HandleFunc("/api/announcements/read-all", s.handleMarkAllRead).Methods(http.MethodPost)
	r.HandleFunc("/api/announcements/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	r.HandleFunc("/api/agenda", s.handleAgenda).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start).String())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type sessionResponse struct {
	Role   session.Role                    `json:"role"`
	Status map[session.Kind]session.Status `json:"status"`
}

func (s *Server) sessionState() sessionResponse {
	return sessionResponse{Role: s.sess.Role(), Status: s.sess.Status()}
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionState())
}

// handleBeginSession starts a session.
//
// POST /api/session {"role":"student"|"admin"}
func (s *Server) handleBeginSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role session.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.sess.Begin(s.baseCtx, req.Role); err != nil {
		if errors.Is(err, session.ErrLoggedOut) {
			writeError(w, http.StatusBadRequest, "role must be student or admin")
			return
		}
		appLog.Error("begin session failed", err, "role", string(req.Role))
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	writeJSON(w, http.StatusOK, s.sessionState())
}

func (s *Server) handleEndSession(w http.ResponseWriter, _ *http.Request) {
	s.sess.End()
	w.WriteHeader(http.StatusNoContent)
}

// handleSync runs one reconciliation cycle immediately. Only student
// sessions sync with the backend.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.sess.Role() != session.RoleStudent {
		writeError(w, http.StatusConflict, "no student session")
		return
	}
	events, anns := s.sess.SyncNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"events":        string(events),
		"announcements": string(anns),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Events())
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	created, err := s.sess.CreateLocalEvent(ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, created)
	case errors.Is(err, model.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("create event failed", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
	}
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.sess.DeleteLocalEvent(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNotLocal):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		appLog.Error("delete event failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to delete event")
	}
}

func (s *Server) handleListAnnouncements(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Announcements())
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.MarkRead(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"marked": s.sess.MarkAllRead()})
}

// agendaResponse is the JSON response shape for /api/agenda.
type agendaResponse struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	TruncatedEvents []string           `json:"truncated_events,omitempty"`
	RangeStart      time.Time          `json:"range_start"`
	RangeEnd        time.Time          `json:"range_end"`
	DisplayTimeZone string             `json:"display_timezone"`
}

// handleAgenda returns expanded occurrences of the merged events.
//
// GET /api/agenda?days=7&backfill=1
//   - days:     how many days ahead to include (default horizon_days)
//   - backfill: how many past days to include (default 1)
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), s.cfg.HorizonDays)
	if days <= 0 {
		days = s.cfg.HorizonDays
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	loc := s.cfg.Location()
	rangeStart, rangeEnd := agenda.Window(s.now(), loc, days, backfill)
	key := rangeStart.Format(time.RFC3339) + "|" + strconv.Itoa(days+backfill)

	cached, gen, ok := s.cachedAgenda(key)
	if ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	res, err := agenda.Expand(s.sess.Events(), agenda.Config{
		Location:   loc,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	})
	if err != nil {
		appLog.Error("agenda expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	resp := agendaResponse{
		Occurrences:     res.Occurrences,
		TruncatedEvents: res.TruncatedEvents,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	}

	s.storeAgenda(key, gen, resp)
	writeJSON(w, http.StatusOK, resp)
}

// cachedAgenda returns the cached response for key and the cache generation
// it was looked up in.
func (s *Server) cachedAgenda(key string) (agendaResponse, uint64, bool) {
	s.agendaMu.RLock()
	defer s.agendaMu.RUnlock()
	resp, ok := s.agendaCache[key]
	return resp, s.agendaGen, ok
}

// storeAgenda caches resp unless the session changed after gen was read,
// in which case resp may be built from stale events.
func (s *Server) storeAgenda(key string, gen uint64, resp agendaResponse) {
	s.agendaMu.Lock()
	defer s.agendaMu.Unlock()
	if gen != s.agendaGen {
		return
	}
	s.agendaCache[key] = resp
}

func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="portal.ics"`)
	if err := ics.Write(w, s.sess.Events(), ics.ExportOptions{Location: s.cfg.Location(), Now: s.now}); err != nil {
		appLog.Error("calendar export failed", err)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
