// Package api exposes the HTTP surface: audio upload, pipeline dispatch,
// project reads and lyric edits. Backends are injected so the same handlers
// serve both the Postgres/Redis deployment and the standalone binary.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LyricSync/internal/autosave"
	"github.com/dharsanguruparan/LyricSync/internal/config"
	"github.com/dharsanguruparan/LyricSync/internal/logger"
	"github.com/dharsanguruparan/LyricSync/internal/model"
	"github.com/dharsanguruparan/LyricSync/internal/pipeline"
	"github.com/dharsanguruparan/LyricSync/internal/processing"
	"github.com/dharsanguruparan/LyricSync/internal/signing"
	"github.com/dharsanguruparan/LyricSync/internal/storage"
)

// OwnerHeader carries the authenticated user id set by the auth proxy.
const OwnerHeader = "X-Owner-ID"

// ProjectStore is the project record store as the API uses it.
type ProjectStore interface {
	pipeline.Store
	Create(ctx context.Context, p *model.Project) error
}

// AudioStore persists an uploaded recording and returns a URL the inference
// services can fetch.
type AudioStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// Dispatcher starts a pipeline run somewhere else.
type Dispatcher interface {
	Dispatch(ctx context.Context, projectID, ownerID string) error
}

// MediaSource serves signed local audio. Only the standalone binary has one.
type MediaSource interface {
	Open(key, expires, signature string) (*os.File, error)
}

// Deps are the backends a Server talks to. Media and Autosave are optional.
type Deps struct {
	Projects   ProjectStore
	Audio      AudioStore
	Dispatcher Dispatcher
	Media      MediaSource
	Autosave   *autosave.Scheduler
	Log        *logger.Logger
}

// Server exposes HTTP endpoints for projects.
type Server struct {
	cfg      *config.Config
	deps     Deps
	log      *logger.Logger
	validate *validator.Validate
	server   *http.Server
	once     sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.New()
	}
	if deps.Autosave == nil {
		deps.Autosave = autosave.New(cfg.AutosaveDelay, 0, log.Component("autosave"))
	}
	return &Server{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		validate: validator.New(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
// Pending lyric edits are flushed on the way out.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	defer s.deps.Autosave.Close()
	s.log.WithField("address", s.cfg.Address).Info("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/projects", s.handleProjects)
	mux.HandleFunc("/projects/", s.handleProjectRoute)
	if s.deps.Media != nil {
		mux.HandleFunc("/media/", s.handleMedia)
	}
	return corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createProjectRequest struct {
	ID string `json:"id" validate:"omitempty,max=128,excludesall=/?#"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	project := &model.Project{ID: req.ID, OwnerID: owner}
	if err := s.deps.Projects.Create(r.Context(), project); err != nil {
		s.requestLog(r).WithError(err).Warn("create project failed")
		http.Error(w, "failed to create project", http.StatusConflict)
		return
	}
	respondJSON(w, http.StatusCreated, project)
}

func (s *Server) handleProjectRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/projects/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleProject(w, r, id, owner)
		return
	}
	switch parts[1] {
	case "audio":
		s.handleUpload(w, r, id, owner)
	case "process":
		s.handleProcess(w, r, id, owner)
	case "lyrics":
		s.handleLyrics(w, r, id, owner)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request, id, owner string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	project, err := s.deps.Projects.Get(r.Context(), id, owner)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, project)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, id, owner string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	project, err := s.deps.Projects.Get(ctx, id, owner)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !project.HasAudio() {
		s.respondError(w, r, model.ErrNoAudio)
		return
	}
	// A status stuck in a running state after a crash must not block a
	// retry; the task id and the pipeline lease keep runs exclusive.
	// A pending lyric edit would overwrite the new transcript once it fires.
	if s.deps.Autosave.Cancel(id) {
		s.requestLog(r).WithField("project_id", id).Info("pending lyric edit discarded for new run")
	}
	if err := s.deps.Dispatcher.Dispatch(ctx, id, owner); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.requestLog(r).WithField("project_id", id).Info("pipeline run dispatched")
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "queued",
	})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/media/")
	q := r.URL.Query()
	f, err := s.deps.Media.Open(key, q.Get("expires"), q.Get("signature"))
	if err != nil {
		switch {
		case errors.Is(err, signing.ErrInvalidSignature), errors.Is(err, signing.ErrExpired):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, storage.ErrInvalidKey), errors.Is(err, os.ErrNotExist):
			http.NotFound(w, r)
		default:
			s.requestLog(r).WithError(err).Error("open media failed")
			http.Error(w, "failed to open media", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "failed to open media", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// respondError maps the error taxonomy onto status codes. Messages of known
// errors are safe to show; everything else is logged and hidden.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrAccessDenied):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, model.ErrPreconditionFailed):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, model.ErrLeaseHeld):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, processing.ErrQueueFull):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.requestLog(r).WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) requestLog(r *http.Request) *logrus.Entry {
	return s.log.WithRequest(r)
}

func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		http.Error(w, model.ErrAccessDenied.Error(), http.StatusUnauthorized)
		return "", false
	}
	return owner, true
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Warn("encode response")
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,"+OwnerHeader+","+logger.RequestIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := logger.RequestID(r)
		w.Header().Set(logger.RequestIDHeader, reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.requestLog(r).WithFields(logrus.Fields{
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request handled")
	})
}
