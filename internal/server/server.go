// Package server exposes the feed window over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/feedwindow/internal/authors"
	"github.com/bryan-buckman/feedwindow/internal/model"
	"github.com/bryan-buckman/feedwindow/internal/opml"
	"github.com/bryan-buckman/feedwindow/internal/pager"
	"github.com/bryan-buckman/feedwindow/internal/rss"
	"github.com/bryan-buckman/feedwindow/internal/window"
)

const maxScopeLen = 128

// Option configures a Server.
type Option func(*Server)

// WithSeeder enables the feed management routes.
func WithSeeder(seeder *rss.Seeder) Option {
	return func(s *Server) { s.seeder = seeder }
}

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server is the HTTP front end.
type Server struct {
	pager   *pager.Coordinator
	window  *window.Cache
	authors *authors.Cache
	seeder  *rss.Seeder
	logger  *slog.Logger
	router  chi.Router
	http    *http.Server
}

// New creates a server.
func New(p *pager.Coordinator, w *window.Cache, a *authors.Cache, opts ...Option) *Server {
	s := &Server{
		pager:   p,
		window:  w,
		authors: a,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Route("/scopes/{scope}", func(r chi.Router) {
			r.Get("/items", s.handleItems)
			r.Get("/state", s.handleState)
			r.Post("/initial", s.handleLoad(s.pager.LoadInitial))
			r.Post("/more", s.handleMore)
			r.Post("/newer", s.handleLoad(s.pager.LoadMoreReverse))
		})
		r.Get("/authors/{owner}", s.handleAuthor)
		r.Delete("/cache", s.handleClear)

		if s.seeder != nil {
			r.Get("/feeds", s.handleFeeds)
			r.Post("/feeds/import", s.handleImportOPML)
			r.Get("/feeds/export", s.handleExportOPML)
			r.Post("/feeds/refresh", s.handleRefresh)
		}
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// --- Scope handlers ---

type itemView struct {
	model.FeedItem
	Author      model.AuthorSnapshot `json:"author"`
	AuthorState string               `json:"author_state"`
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeParam(w, r)
	if !ok {
		return
	}
	items := s.window.Items(scope)
	views := make([]itemView, len(items))
	for i, it := range items {
		views[i] = s.view(it)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scope":     scope,
		"items":     views,
		"state":     s.pager.Snapshot(scope),
		"capacity":  s.window.Capacity(),
		"page_size": s.window.PageSize(),
	})
}

// view attaches display info: the snapshot stored with the item, else the
// memo's current state for its owner.
func (s *Server) view(it model.CachedFeedItem) itemView {
	v := itemView{FeedItem: it.FeedItem}
	if it.Author != nil {
		v.Author = *it.Author
		v.AuthorState = model.StateName(model.AuthorLoaded{Snapshot: *it.Author})
		return v
	}
	state := s.authors.State(it.OwnerID)
	v.Author = model.DisplaySnapshot(state)
	v.AuthorState = model.StateName(state)
	return v
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.pager.Snapshot(scope))
}

func (s *Server) handleAuthor(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":  owner,
		"author": s.authors.Resolve(owner),
		"state":  model.StateName(s.authors.State(owner)),
	})
}

type loadFunc func(ctx context.Context, scope string) (pager.Result, error)

// handleMore pages in the direction named by the direction query parameter,
// older by default.
func (s *Server) handleMore(w http.ResponseWriter, r *http.Request) {
	load := s.pager.LoadMore
	if raw := r.URL.Query().Get("direction"); raw != "" {
		dir, err := model.ParseDirection(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if dir == model.Backward {
			load = s.pager.LoadMoreReverse
		}
	}
	s.handleLoad(load)(w, r)
}

type loadResponse struct {
	Accepted   bool        `json:"accepted"`
	Superseded bool        `json:"superseded,omitempty"`
	Fetched    int         `json:"fetched"`
	Inserted   int         `json:"inserted"`
	Evicted    int         `json:"evicted"`
	Warning    string      `json:"warning,omitempty"`
	State      pager.State `json:"state"`
}

func (s *Server) handleLoad(load loadFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := scopeParam(w, r)
		if !ok {
			return
		}
		res, err := load(r.Context(), scope)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		resp := loadResponse{
			Accepted:   res.Accepted,
			Superseded: res.Superseded,
			Fetched:    res.Fetched,
			Inserted:   res.Inserted,
			Evicted:    res.Evicted,
			State:      s.pager.Snapshot(scope),
		}
		if res.CursorErr != nil {
			resp.Warning = res.CursorErr.Error()
		}
		status := http.StatusOK
		if !res.Accepted {
			status = http.StatusConflict
		}
		writeJSON(w, status, resp)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.pager.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// --- Feed handlers ---

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	feeds := s.seeder.Feeds()
	type feedView struct {
		opml.FeedEntry
		Scope string `json:"scope"`
	}
	views := make([]feedView, len(feeds))
	for i, f := range feeds {
		views[i] = feedView{FeedEntry: f, Scope: f.Scope()}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feeds": views})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("no file provided"))
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to parse OPML: %w", err))
		return
	}
	imported := s.seeder.AddFeeds(entries...)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"imported": imported,
		"total":    len(entries),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	data, err := opml.Export("feedwindow feeds", s.seeder.Feeds())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=feedwindow-feeds.opml")
	w.Write(data)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	results, err := s.seeder.SeedAll(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("seed: %w", err))
		return
	}
	total := 0
	for _, c := range results {
		total += c
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"new_items": total,
		"feeds":     len(results),
	})
}

// --- Helpers ---

func scopeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	scope := strings.TrimSpace(chi.URLParam(r, "scope"))
	if scope == "" || len(scope) > maxScopeLen {
		writeError(w, http.StatusBadRequest, model.ErrEmptyScope)
		return "", false
	}
	return scope, true
}

func statusFor(err error) int {
	var fe *model.FetchError
	switch {
	case errors.As(err, &fe):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrScopeSwitch):
		return http.StatusConflict
	case errors.Is(err, model.ErrEmptyScope), errors.Is(err, model.ErrCursorMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
