package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultUploadDir = "uploads"
	defaultAudioDir  = "out/audio"
	audioExt         = ".wav"
)

// ErrInvalidName is returned for file names that are not a bare base name.
var ErrInvalidName = errors.New("invalid file name")

// Builder constructs request-scoped file paths for uploads and generated audio.
type Builder struct {
	Uploads string
	Audio   string

	now func() time.Time
}

func New(uploads, audio string) *Builder {
	if uploads == "" {
		uploads = defaultUploadDir
	}
	if audio == "" {
		audio = defaultAudioDir
	}
	return &Builder{Uploads: uploads, Audio: audio, now: time.Now}
}

// UploadPath returns a fresh path for an uploaded image with the given extension (".jpg").
func (b *Builder) UploadPath(ext string) string {
	return filepath.Join(b.Uploads, b.uniqueName("image", ext))
}

// AudioPath returns a fresh path for a generated audio artifact. Two calls never
// return the same path, even within the same millisecond.
func (b *Builder) AudioPath() string {
	return filepath.Join(b.Audio, b.uniqueName("speech", audioExt))
}

// AudioFile resolves a bare artifact name, as handed to clients, inside the audio directory.
func (b *Builder) AudioFile(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(b.Audio, name), nil
}

// EnsureDirs creates the upload and audio directories if they do not exist.
func (b *Builder) EnsureDirs() error {
	for _, dir := range []string{b.Uploads, b.Audio} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// uniqueName is "<prefix>-<unix millis>-<uuid v7><ext>".
func (b *Builder) uniqueName(prefix, ext string) string {
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%d-%s%s", prefix, now().UTC().UnixMilli(), id.String(), ext)
}
