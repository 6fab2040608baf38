// Package http exposes script inspection and checkpoint management over a chi router.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aretw0/marionette"
	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/internal/presentation/graph"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/inspect"
	"github.com/aretw0/marionette/pkg/ports"
	"github.com/aretw0/marionette/pkg/script"
)

// maxScriptSize bounds request bodies.
const maxScriptSize = 4 << 20

// Server serves the inspection API.
type Server struct {
	catalog  *marionette.Catalog
	store    ports.CheckpointStore
	resolver ports.ExtensionResolver
	metrics  http.Handler
	streams  *StreamManager
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the /checkpoints routes. Checkpoint changes made through
// the server are broadcast on /events.
func WithStore(store ports.CheckpointStore) Option {
	return func(s *Server) { s.store = store }
}

// WithResolver checks script dependencies during inspection.
func WithResolver(r ports.ExtensionResolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithStreams shares a StreamManager, e.g. with an in-process runner.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) { s.streams = sm }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server. A nil catalog means marionette.NewCatalog().
func New(catalog *marionette.Catalog, opts ...Option) *Server {
	if catalog == nil {
		catalog = marionette.NewCatalog()
	}
	s := &Server{
		catalog: catalog,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.streams == nil {
		s.streams = NewStreamManager(s.logger)
	}
	if s.store != nil {
		s.store = s.streams.Middleware()(s.store)
	}
	return s
}

// NewHandler is a shortcut for New(catalog, opts...).Handler().
func NewHandler(catalog *marionette.Catalog, opts ...Option) http.Handler {
	return New(catalog, opts...).Handler()
}

// Streams returns the event hub.
func (s *Server) Streams() *StreamManager { return s.streams }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.getHealth)
	r.Get("/info", s.getInfo)
	r.Get("/catalog", s.getCatalog)

	r.Route("/scripts", func(r chi.Router) {
		r.Post("/inspect", s.postInspect)
		r.Post("/validate", s.postValidate)
		r.Post("/search", s.postSearch)
		r.Post("/graph", s.postGraph)
	})

	if s.store != nil {
		r.Route("/checkpoints", func(r chi.Router) {
			r.Get("/", s.listCheckpoints)
			r.Get("/{id}", s.getCheckpoint)
			r.Delete("/{id}", s.deleteCheckpoint)
		})
		r.Get("/events", s.subscribeEvents)
	}

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := domain.CodeOf(err)
	switch {
	case errors.Is(err, domain.ErrCheckpointNotFound):
		status = http.StatusNotFound
	case code == domain.CodeInvalidScript, code == domain.CodeInvalidParameter:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "marionette-http",
		"version": strings.TrimSpace(marionette.Version),
	})
}

func (s *Server) getCatalog(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.catalog.Describe())
}

// decodeScript reads a JSON or YAML script from the request body.
func (s *Server) decodeScript(r *http.Request) (*script.Script, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxScriptSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxScriptSize {
		return nil, domain.InvalidScript("script exceeds %d bytes", maxScriptSize)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, domain.InvalidScript("empty script")
	}
	return marionette.Decode(data, s.catalog)
}

func (s *Server) inspect(ctx context.Context, sc *script.Script) (*inspect.Report, error) {
	report := inspect.Inspect(sc, s.catalog)
	if err := report.CheckDependencies(ctx, s.resolver, sc.Dependencies); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Server) postInspect(w http.ResponseWriter, r *http.Request) {
	sc, err := s.decodeScript(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	report, err := s.inspect(r.Context(), sc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// ValidateResponse is the body of /scripts/validate.
type ValidateResponse struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// postValidate always answers 200 once the body is read; decode failures are problems.
func (s *Server) postValidate(w http.ResponseWriter, r *http.Request) {
	sc, err := s.decodeScript(r)
	if err != nil {
		if domain.CodeOf(err) != domain.CodeInvalidScript {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, ValidateResponse{Problems: []string{err.Error()}})
		return
	}
	report, err := s.inspect(r.Context(), sc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ValidateResponse{Valid: report.Valid(), Problems: report.Problems()})
}

func (s *Server) postSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, domain.Fatal(domain.CodeInvalidParameter, "missing query parameter q"))
		return
	}
	sc, err := s.decodeScript(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	hits, err := inspect.Search(sc, query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hits == nil {
		hits = []inspect.Hit{}
	}
	s.writeJSON(w, http.StatusOK, hits)
}

// postGraph renders Mermaid; ?checkpoint=<id> overlays a stored playhead.
func (s *Server) postGraph(w http.ResponseWriter, r *http.Request) {
	sc, err := s.decodeScript(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var overlay *graph.Overlay
	if id := r.URL.Query().Get("checkpoint"); id != "" {
		if s.store == nil {
			s.writeError(w, marionette.ErrNoStore)
			return
		}
		cp, err := s.store.Load(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		overlay = graph.OverlayFromCheckpoint(cp)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, graph.GenerateMermaid(sc, overlay))
}

// CheckpointSummary is one entry of GET /checkpoints.
type CheckpointSummary struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]CheckpointSummary, 0, len(ids))
	for _, id := range ids {
		sum := CheckpointSummary{ID: id}
		if cp, err := s.store.Load(r.Context(), id); err == nil {
			sum.Label = cp.Label
			sum.URL = cp.URL
		}
		out = append(out, sum)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.store.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cp)
}

func (s *Server) deleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Load(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
