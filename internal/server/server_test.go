package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyteller/internal/ai"
	"storyteller/internal/models"
	"storyteller/internal/paths"
	"storyteller/internal/store"
	"storyteller/internal/story"
)

var pngImage = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type fakeCaptioner struct{ err error }

func (f *fakeCaptioner) Caption(ctx context.Context, model string, image []byte, mimeType string) (string, error) {
	return "a person walking on a beach", f.err
}

type fakeGenerator struct{}

func (fakeGenerator) Generate(ctx context.Context, req ai.GenerateRequest) (ai.Generation, error) {
	return ai.Generation{Text: req.Prompt + "\nThe tide returned every shell it had borrowed."}, nil
}

type fakeSynthesizer struct{}

func (fakeSynthesizer) Synthesize(ctx context.Context, model, voice, text string) ([]byte, error) {
	return ai.WrapPCM([]byte{1, 2, 3, 4}, 24000, 1, 16), nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	deleted   []string
}

func (f *fakePublisher) PublishAudio(ctx context.Context, localPath string, createdAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, localPath)
	return "s3://bucket/storyteller/" + filepath.Base(localPath), nil
}

func (f *fakePublisher) DeleteURL(ctx context.Context, objectURL string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, objectURL)
	return true, nil
}

type testEnv struct {
	srv       *Server
	handler   http.Handler
	paths     *paths.Builder
	captioner *fakeCaptioner
	publisher *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tmp := t.TempDir()
	pb := paths.New(filepath.Join(tmp, "uploads"), filepath.Join(tmp, "audio"))
	require.NoError(t, pb.EnsureDirs())

	captioner := &fakeCaptioner{}
	cache := models.New(map[models.Kind]models.Spec{
		models.KindCaption: {Load: func(ctx context.Context) (models.Handle, error) {
			return models.Handle{Model: "vision", Value: ai.Captioner(captioner)}, nil
		}},
		models.KindGenerate: {Load: func(ctx context.Context) (models.Handle, error) {
			return models.Handle{Model: "text", Value: ai.Generator(fakeGenerator{})}, nil
		}},
		models.KindSpeech: {Load: func(ctx context.Context) (models.Handle, error) {
			return models.Handle{Model: "tts", Value: ai.Synthesizer(fakeSynthesizer{})}, nil
		}},
	})
	coord := story.NewCoordinator(
		story.NewCaptionEngine(cache, nil),
		story.NewNarrativeEngine(cache, nil),
		story.NewSpeechEngine(cache, "alloy", nil),
		pb,
		time.Minute,
	)
	t.Cleanup(coord.Shutdown)

	records, err := store.Open(context.Background(), filepath.Join(tmp, "stories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	pub := &fakePublisher{}
	srv := New(coord, pb)
	srv.SetRecords(records)
	srv.SetPublisher(pub)
	return &testEnv{srv: srv, handler: srv.Handler(), paths: pb, captioner: captioner, publisher: pub}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func imageRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "beach.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/stories/generate", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, v any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadsLeft(t *testing.T, pb *paths.Builder) int {
	t.Helper()
	entries, err := os.ReadDir(pb.Uploads)
	require.NoError(t, err)
	return len(entries)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storyteller_")
}

func TestGenerateStory(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(imageRequest(t, "image", pngImage))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res story.StoryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "a person walking on a beach", res.Caption)
	assert.Equal(t, "The tide returned every shell it had borrowed.", res.Story)
	assert.Equal(t, 0, uploadsLeft(t, env.paths))
}

func TestGenerateStoryRejectsBadUploads(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(imageRequest(t, "photo", pngImage))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(imageRequest(t, "image", []byte("just some text, not an image")))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	env.srv.maxUpload = 32
	rec = env.do(imageRequest(t, "image", pngImage))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	assert.Equal(t, 0, uploadsLeft(t, env.paths))
}

func TestGenerateStoryFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	env.captioner.err = errors.New("vision backend exploded: secret detail")

	rec := env.do(imageRequest(t, "image", pngImage))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to generate story"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Equal(t, 0, uploadsLeft(t, env.paths))
}

func TestGenerateAudioAndFetch(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(jsonRequest(t, http.MethodPost, "/api/stories/audio", map[string]string{"storyText": "Once upon a time."}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp audioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.AudioPath, "speech-"))
	assert.NotContains(t, resp.AudioPath, "/")
	assert.Empty(t, resp.AudioURL)
	assert.False(t, resp.ExpiresAt.IsZero())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/audio/"+resp.AudioPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, ai.WrapPCM([]byte{1, 2, 3, 4}, 24000, 1, 16), rec.Body.Bytes())
}

func TestGenerateAudioValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(jsonRequest(t, http.MethodPost, "/api/stories/audio", map[string]string{"storyText": "   "}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/stories/audio", strings.NewReader("{"))
	rec = env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateAudioPublish(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(jsonRequest(t, http.MethodPost, "/api/stories/audio", map[string]any{"storyText": "Once upon a time.", "publish": true}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp audioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "s3://bucket/storyteller/"+resp.AudioPath, resp.AudioURL)
	assert.Len(t, env.publisher.published, 1)

	env.srv.SetPublisher(nil)
	rec = env.do(jsonRequest(t, http.MethodPost, "/api/stories/audio", map[string]any{"storyText": "Once upon a time.", "publish": true}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeAudioRejectsBadNames(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/audio/missing.wav", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/audio/..", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordsRequireUser(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/stories", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecordsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	withUser := func(req *http.Request, user string) *http.Request {
		req.Header.Set(UserHeader, user)
		return req
	}

	rec := env.do(withUser(jsonRequest(t, http.MethodPost, "/api/stories", map[string]string{"title": ""}), "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(withUser(jsonRequest(t, http.MethodPost, "/api/stories", map[string]string{
		"story":    "The tide returned every shell it had borrowed.",
		"audioUrl": "s3://bucket/storyteller/a.wav",
	}), "u1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created store.Story
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, store.DefaultTitle, created.Title)
	assert.Equal(t, "u1", created.UserID)

	rec = env.do(withUser(httptest.NewRequest(http.MethodGet, "/api/stories", nil), "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Story
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	rec = env.do(withUser(httptest.NewRequest(http.MethodGet, "/api/stories/"+created.ID, nil), "u2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(withUser(httptest.NewRequest(http.MethodDelete, "/api/stories/"+created.ID, nil), "u2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(withUser(httptest.NewRequest(http.MethodGet, "/api/stories/"+created.ID, nil), "u1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(withUser(httptest.NewRequest(http.MethodDelete, "/api/stories/"+created.ID, nil), "u1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"s3://bucket/storyteller/a.wav"}, env.publisher.deleted)

	rec = env.do(withUser(httptest.NewRequest(http.MethodGet, "/api/stories/"+created.ID, nil), "u1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
