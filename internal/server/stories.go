package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
)

// multipart framing allowance on top of the image itself
const formOverhead = 1 << 20

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type audioRequest struct {
	StoryText string `json:"storyText"`
	Publish   bool   `json:"publish,omitempty"`
}

type audioResponse struct {
	AudioPath string    `json:"audioPath"`
	AudioURL  string    `json:"audioUrl,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleGenerateStory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+formOverhead)
	file, _, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	imagePath, status, err := s.saveUpload(file)
	if err != nil {
		if status == http.StatusInternalServerError {
			slog.Error("failed to save upload", "err", err)
			writeError(w, status, "failed to save image")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	// The pipeline owns the upload from here and deletes it.
	res, err := s.pipeline.GenerateStoryFromImage(r.Context(), imagePath)
	if err != nil {
		writePipelineError(w, r, err, "failed to generate story")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// saveUpload validates the image by content and writes it under a fresh name.
func (s *Server) saveUpload(src io.Reader) (string, int, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", http.StatusBadRequest, errors.New("could not read image")
	}
	head = head[:n]
	if n == 0 {
		return "", http.StatusBadRequest, errors.New("image file is empty")
	}
	ext, ok := imageExtensions[http.DetectContentType(head)]
	if !ok {
		return "", http.StatusUnsupportedMediaType, errors.New("only JPEG, PNG and WebP images are accepted")
	}

	if err := os.MkdirAll(s.paths.Uploads, 0o755); err != nil {
		return "", http.StatusInternalServerError, err
	}
	path := s.paths.UploadPath(ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", http.StatusInternalServerError, err
	}
	written, err := io.Copy(dst, io.LimitReader(io.MultiReader(bytes.NewReader(head), src), s.maxUpload+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > s.maxUpload {
		err = errTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, errTooLarge) {
			return "", http.StatusRequestEntityTooLarge, errors.New("image is too large")
		}
		return "", http.StatusInternalServerError, err
	}
	return path, http.StatusOK, nil
}

var errTooLarge = errors.New("upload exceeds limit")

func (s *Server) handleGenerateAudio(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Publish && s.publisher == nil {
		writeError(w, http.StatusBadRequest, "publishing is not configured")
		return
	}

	artifact, err := s.pipeline.GenerateAudioFromText(r.Context(), req.StoryText)
	if err != nil {
		writePipelineError(w, r, err, "failed to generate audio")
		return
	}

	resp := audioResponse{AudioPath: artifact.Name(), ExpiresAt: artifact.ExpiresAt()}
	if req.Publish {
		url, err := s.publisher.PublishAudio(r.Context(), artifact.FilePath, artifact.CreatedAt)
		if err != nil {
			slog.Error("failed to publish audio", "path", artifact.FilePath, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to publish audio")
			return
		}
		resp.AudioURL = url
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	path, err := s.paths.AudioFile(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid audio name")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "audio not found or expired")
			return
		}
		slog.Error("failed to open audio", "path", path, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read audio")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read audio")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
