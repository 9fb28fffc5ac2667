// Package server exposes the local cache over a read-only HTTP API: feeds,
// their calendars, and the occurrences of a calendar over a time range as
// JSON or iCalendar.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tonimelisma/calsync/internal/calendar"
	"github.com/tonimelisma/calsync/internal/store"
)

const (
	defaultWindow     = 30 * 24 * time.Hour
	maxWindow         = 5 * 366 * 24 * time.Hour
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	compressLevel     = 5
)

// Store is the read side of the cache the server needs.
type Store interface {
	ListFeeds(ctx context.Context) ([]*calendar.Feed, error)
	LoadFeed(ctx context.Context, name string) (*calendar.Feed, error)
}

// Server serves the query API.
type Server struct {
	store    Store
	expander *calendar.Expander
	logger   *slog.Logger
	router   chi.Router
	nowFunc  func() time.Time
}

// New returns a Server reading from st and expanding recurring events with
// x. A nil x gets default expander options.
func New(st Store, x *calendar.Expander, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if x == nil {
		x = calendar.NewExpander(calendar.ExpanderOptions{}, logger)
	}

	s := &Server{
		store:    st,
		expander: x,
		logger:   logger,
		nowFunc:  time.Now,
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(escapedRouting)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(compressLevel))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/feeds", func(r chi.Router) {
		r.Get("/", s.handleFeeds)
		r.Get("/{feed}/calendars", s.handleCalendars)
		r.Get("/{feed}/calendars/{uid}/events", s.handleEvents)
		r.Get("/{feed}/calendars/{uid}/events.ics", s.handleICS)
	})

	s.router = r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("query server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}

	return nil
}

// escapedRouting routes on the escaped path. Calendar uids are URLs, so a
// client sends them path-escaped and "%2F" must not split a segment.
func escapedRouting(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePath == "" {
			rctx.RoutePath = r.URL.EscapedPath()
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type feedJSON struct {
	Name     string     `json:"name"`
	Account  string     `json:"account"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]feedJSON, 0, len(feeds))

	for _, f := range feeds {
		fj := feedJSON{Name: f.Name, Account: f.Account}
		if t, ok := f.Stamp().Get(); ok {
			fj.SyncedAt = &t
		}

		out = append(out, fj)
	}

	writeJSON(w, http.StatusOK, out)
}

type calendarJSON struct {
	UID      string    `json:"uid"`
	Title    string    `json:"title"`
	Summary  string    `json:"summary,omitempty"`
	Color    string    `json:"color,omitempty"`
	TimeZone string    `json:"timezone,omitempty"`
	Hidden   bool      `json:"hidden"`
	Events   int       `json:"events"`
	Updated  time.Time `json:"updated"`
}

func (s *Server) handleCalendars(w http.ResponseWriter, r *http.Request) {
	feed, err := s.loadFeed(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	cals := feed.Calendars()
	out := make([]calendarJSON, 0, len(cals))

	for _, c := range cals {
		out = append(out, calendarJSON{
			UID:      c.UID,
			Title:    c.Title,
			Summary:  c.Summary.OrEmpty(),
			Color:    c.Color.OrEmpty(),
			TimeZone: c.TimeZone.OrEmpty(),
			Hidden:   c.Hidden,
			Events:   c.Len(),
			Updated:  c.Updated,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

type occurrenceJSON struct {
	UID         string `json:"uid"`
	TemplateUID string `json:"template_uid,omitempty"`
	Exception   bool   `json:"exception,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	Location    string `json:"location,omitempty"`
	Status      string `json:"status"`
	Start       string `json:"start"`
	End         string `json:"end,omitempty"`
	AllDay      bool   `json:"all_day"`
}

type eventsJSON struct {
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Occurrences []occurrenceJSON `json:"occurrences"`
	Errors      []string         `json:"errors,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := eventsJSON{
		From:        q.rng.From,
		To:          q.rng.To,
		Occurrences: make([]occurrenceJSON, 0, len(q.occurrences)),
	}

	for _, o := range q.occurrences {
		out.Occurrences = append(out.Occurrences, occurrenceJSON{
			UID:         o.Source.UID,
			TemplateUID: o.TemplateUID,
			Exception:   o.Exception,
			Title:       o.Title.OrEmpty(),
			Description: o.Description.OrEmpty(),
			Author:      o.Author.OrEmpty(),
			Location:    o.Location.OrEmpty(),
			Status:      string(o.Status),
			Start:       o.Start.String(),
			End:         o.End.String(),
			AllDay:      o.AllDay,
		})
	}

	if q.err != nil {
		out.Errors = []string{q.err.Error()}
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")

	if err := WriteICS(w, q.cal, q.occurrences, s.nowFunc()); err != nil {
		s.logger.Warn("writing calendar export", slog.String("error", err.Error()))
	}
}

// rangeQuery is the result of a range query on one calendar. err holds
// expansion failures that did not prevent a partial result.
type rangeQuery struct {
	cal         *calendar.Calendar
	rng         calendar.Range
	occurrences []calendar.Occurrence
	err         error
}

func (s *Server) query(r *http.Request) (*rangeQuery, error) {
	rng, err := s.parseRange(r)
	if err != nil {
		return nil, err
	}

	feed, err := s.loadFeed(r)
	if err != nil {
		return nil, err
	}

	uid, err := url.PathUnescape(chi.URLParam(r, "uid"))
	if err != nil {
		return nil, badRequest("calendar uid: %v", err)
	}

	cal, ok := feed.Calendar(uid)
	if !ok {
		return nil, fmt.Errorf("%w: calendar %q", store.ErrNotFound, uid)
	}

	occ, qerr := cal.EventsInRange(rng, s.expander)
	if qerr != nil {
		s.logger.Warn("range query incomplete",
			slog.String("calendar", uid),
			slog.String("error", qerr.Error()),
		)
	}

	return &rangeQuery{cal: cal, rng: rng, occurrences: occ, err: qerr}, nil
}

// parseRange reads from and to. Either accepts a date or an RFC 3339 time;
// from defaults to now and to to from plus thirty days. Ranges spanning
// more than maxWindow are rejected.
func (s *Server) parseRange(r *http.Request) (calendar.Range, error) {
	from := s.nowFunc().UTC()
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := calendar.ParseTime(v)
		if err != nil {
			return calendar.Range{}, badRequest("from: %v", err)
		}

		from = t.Time
	}

	to := from.Add(defaultWindow)
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := calendar.ParseTime(v)
		if err != nil {
			return calendar.Range{}, badRequest("to: %v", err)
		}

		to = t.Time
	}

	rng, err := calendar.NewRange(from, to)
	if err != nil {
		return calendar.Range{}, badRequest("%v", err)
	}

	if rng.To.Sub(rng.From) > maxWindow {
		return calendar.Range{}, badRequest("range wider than %s", maxWindow)
	}

	return rng, nil
}

func (s *Server) loadFeed(r *http.Request) (*calendar.Feed, error) {
	name, err := url.PathUnescape(chi.URLParam(r, "feed"))
	if err != nil {
		return nil, badRequest("feed: %v", err)
	}

	return s.store.LoadFeed(r.Context(), name)
}

// requestError is a client error carrying its own message.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var reqErr *requestError

	switch {
	case errors.As(err, &reqErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("query failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
