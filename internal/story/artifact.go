package story

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"storyteller/internal/metrics"
)

// AudioArtifact is a generated audio file with a managed lifetime. Unless
// kept, it is deleted when its expiry timer fires.
type AudioArtifact struct {
	SourceText string
	FilePath   string
	CreatedAt  time.Time

	mu        sync.Mutex
	timer     *time.Timer
	expiresAt time.Time
	settled   bool
	done      chan struct{}
	onSettle  func(*AudioArtifact)
}

func newAudioArtifact(text, path string, createdAt time.Time, onSettle func(*AudioArtifact)) *AudioArtifact {
	return &AudioArtifact{
		SourceText: text,
		FilePath:   path,
		CreatedAt:  createdAt,
		done:       make(chan struct{}),
		onSettle:   onSettle,
	}
}

// Name is the artifact's bare file name, as handed to clients.
func (a *AudioArtifact) Name() string { return filepath.Base(a.FilePath) }

// ExpiresAt reports when the file is due for deletion. It is zero once the
// artifact has been kept or reclaimed.
func (a *AudioArtifact) ExpiresAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return time.Time{}
	}
	return a.expiresAt
}

// Done is closed once the artifact has been deleted or kept.
func (a *AudioArtifact) Done() <-chan struct{} { return a.done }

func (a *AudioArtifact) scheduleExpiry(grace time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return
	}
	a.expiresAt = time.Now().Add(grace)
	a.timer = time.AfterFunc(grace, a.Expire)
}

// Keep cancels the pending deletion; the file then belongs to the caller.
// It reports false if the artifact was already settled.
func (a *AudioArtifact) Keep() bool {
	if !a.settle() {
		return false
	}
	slog.Info("audio artifact kept", "path", a.FilePath)
	a.finish()
	return true
}

// Expire deletes the file now. Calling it more than once, or after Keep, does nothing.
func (a *AudioArtifact) Expire() {
	if !a.settle() {
		return
	}
	if err := os.Remove(a.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		metrics.FileDeleteFailures.WithLabelValues("audio").Inc()
		slog.Warn("failed to delete audio artifact", "path", a.FilePath, "err", err)
	} else {
		slog.Debug("audio artifact deleted", "path", a.FilePath)
	}
	a.finish()
}

func (a *AudioArtifact) settle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return false
	}
	a.settled = true
	if a.timer != nil {
		a.timer.Stop()
	}
	return true
}

func (a *AudioArtifact) finish() {
	close(a.done)
	if a.onSettle != nil {
		a.onSettle(a)
	}
}
