// Package server exposes the story pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storyteller/internal/paths"
	"storyteller/internal/store"
	"storyteller/internal/story"
)

// MaxUploadBytes caps the accepted image size.
const MaxUploadBytes = 5 << 20

// UserHeader carries the caller's identity, set by the fronting auth layer.
const UserHeader = "X-User-ID"

// Pipeline is the story coordinator. *story.Coordinator satisfies it.
type Pipeline interface {
	GenerateStoryFromImage(ctx context.Context, imagePath string) (story.StoryResult, error)
	GenerateAudioFromText(ctx context.Context, text string) (*story.AudioArtifact, error)
}

// Records persists saved stories. *store.Store satisfies it.
type Records interface {
	Create(ctx context.Context, st store.Story) (store.Story, error)
	ListByUser(ctx context.Context, userID string) ([]store.Story, error)
	Get(ctx context.Context, id, userID string) (store.Story, error)
	Delete(ctx context.Context, id, userID string) (store.Story, error)
}

// Publisher copies audio to durable storage. *storage.Publisher satisfies it.
type Publisher interface {
	PublishAudio(ctx context.Context, localPath string, createdAt time.Time) (string, error)
	DeleteURL(ctx context.Context, objectURL string) (bool, error)
}

// Server is the storyteller HTTP API.
type Server struct {
	pipeline  Pipeline
	paths     *paths.Builder
	records   Records
	publisher Publisher
	maxUpload int64
}

// New creates a server for pipeline. Uploads are written under pb.Uploads and
// audio is served from pb.Audio.
func New(pipeline Pipeline, pb *paths.Builder) *Server {
	return &Server{pipeline: pipeline, paths: pb, maxUpload: MaxUploadBytes}
}

// SetRecords enables the saved-story routes.
func (s *Server) SetRecords(r Records) { s.records = r }

// SetPublisher enables publishing audio on request.
func (s *Server) SetPublisher(p Publisher) { s.publisher = p }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/audio/{name}", s.handleAudio)

	r.Route("/api/stories", func(r chi.Router) {
		r.Post("/generate", s.handleGenerateStory)
		r.Post("/audio", s.handleGenerateAudio)

		if s.records != nil {
			r.Group(func(r chi.Router) {
				r.Use(requireUser)
				r.Post("/", s.handleCreateRecord)
				r.Get("/", s.handleListRecords)
				r.Get("/{id}", s.handleGetRecord)
				r.Delete("/{id}", s.handleDeleteRecord)
			})
		}
	})

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writePipelineError maps the pipeline's error taxonomy onto HTTP. Internal
// causes are logged, never returned.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var vErr *story.ValidationError
	if errors.As(err, &vErr) {
		writeError(w, http.StatusBadRequest, vErr.Error())
		return
	}
	slog.Error(msg, "err", err, "requestId", middleware.GetReqID(r.Context()))
	writeError(w, http.StatusInternalServerError, msg)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info(
			"http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).String(),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
