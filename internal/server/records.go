package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"storyteller/internal/store"
)

type ctxKey int

const userKey ctxKey = iota

type recordRequest struct {
	Title    string `json:"title"`
	ImageURL string `json:"imageUrl"`
	Story    string `json:"story"`
	AudioURL string `json:"audioUrl"`
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userKey).(string)
	return user
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Story) == "" {
		writeError(w, http.StatusBadRequest, "story is required")
		return
	}
	created, err := s.records.Create(r.Context(), store.Story{
		UserID:   userFrom(r),
		Title:    req.Title,
		ImageURL: req.ImageURL,
		Story:    req.Story,
		AudioURL: req.AudioURL,
	})
	if err != nil {
		slog.Error("failed to save story", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save story")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	stories, err := s.records.ListByUser(r.Context(), userFrom(r))
	if err != nil {
		slog.Error("failed to list stories", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch stories")
		return
	}
	writeJSON(w, http.StatusOK, stories)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	st, err := s.records.Get(r.Context(), chi.URLParam(r, "id"), userFrom(r))
	if err != nil {
		s.writeRecordError(w, err, "failed to fetch story")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.records.Delete(r.Context(), chi.URLParam(r, "id"), userFrom(r))
	if err != nil {
		s.writeRecordError(w, err, "failed to delete story")
		return
	}
	if s.publisher != nil && deleted.AudioURL != "" {
		// The record is gone either way; a leaked object is only logged.
		if _, err := s.publisher.DeleteURL(r.Context(), deleted.AudioURL); err != nil {
			slog.Warn("failed to delete published audio", "url", deleted.AudioURL, "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeRecordError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "story not found")
		return
	}
	slog.Error(msg, "err", err)
	writeError(w, http.StatusInternalServerError, msg)
}
