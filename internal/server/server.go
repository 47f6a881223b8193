// Package server exposes the lattice engine over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/lattice/internal/engine"
	"github.com/lazypower/lattice/internal/store"
)

// Server is the lattice HTTP API server.
type Server struct {
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server over an engine.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Post("/nodes", s.handleCreateNode)
		r.Get("/nodes/{nodeID}", s.handleGetNode)
		r.Put("/nodes/{nodeID}", s.handleUpdateNode)
		r.Delete("/nodes/{nodeID}", s.handleDeleteNode)
		r.Get("/nodes/{nodeID}/confidence", s.handleNodeConfidence)
		r.Get("/nodes/{nodeID}/relationships", s.handleListRelationships)

		r.Post("/nodes/{nodeID}/attributes", s.handleAddAttribute)
		r.Get("/nodes/{nodeID}/attributes", s.handleGetAttributes)
		r.Put("/attributes/{attrID}", s.handleUpdateAttribute)
		r.Delete("/attributes/{attrID}", s.handleDeleteAttribute)

		r.Post("/relationships", s.handleCreateRelationship)
		r.Delete("/relationships/{relID}", s.handleDeleteRelationship)
		r.Get("/relationships/{relID}/confidence", s.handleRelationshipConfidence)

		r.Put("/nodes/{nodeID}/embedding", s.handleUpsertEmbedding)
		r.Post("/search", s.handleSearch)

		r.Post("/maintenance/run", s.handleRunMaintenance)
		r.Put("/config", s.handleApplyConfig)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.DB.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.engine.DB.Path,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the store's typed errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrSelfReference), errors.Is(err, store.ErrDuplicateEdge):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrConflict):
		status = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrResourceExceeded):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
