package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// AudioArtifact is a downloaded audio track on local disk.
// Whoever receives one owns it and must call Release on every exit path.
type AudioArtifact struct {
	Path   string
	Size   int64
	MIME   string
	Source string // strategy that produced it, e.g. "mirror:piped@host" or "yt-dlp"

	fs   afero.Fs
	once sync.Once
}

// NewAudioArtifact wraps an existing file on fs.
func NewAudioArtifact(fs afero.Fs, path string, size int64, source string) *AudioArtifact {
	return &AudioArtifact{
		Path:   path,
		Size:   size,
		MIME:   AudioMIME(path),
		Source: source,
		fs:     fs,
	}
}

// Open opens the artifact for reading.
func (a *AudioArtifact) Open() (afero.File, error) {
	return a.fs.Open(a.Path)
}

// ReadAll returns the full artifact contents.
func (a *AudioArtifact) ReadAll() ([]byte, error) {
	f, err := a.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Release deletes the file. Safe to call more than once.
func (a *AudioArtifact) Release() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		if err := a.fs.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("artifact: remove failed", slog.String("path", a.Path), slog.Any("error", err))
		}
	})
}

// ArtifactBase returns a per-request unique file stem derived from the video id.
// Two concurrent requests for the same video never share a path.
func ArtifactBase(dir, videoID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return filepath.Join(dir, fmt.Sprintf("%s-%s", videoID, suffix))
}

// AudioMIME guesses the upload MIME type from the file extension.
func AudioMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".webm":
		return "audio/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	}
	return "application/octet-stream"
}

// ExtForMIME maps a stream mimeType (e.g. `audio/mp4; codecs="mp4a.40.2"`) to a file extension.
func ExtForMIME(mime string) string {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "audio/mp4"):
		return ".m4a"
	case strings.HasPrefix(mime, "audio/webm"):
		return ".webm"
	case strings.HasPrefix(mime, "audio/mpeg"):
		return ".mp3"
	case strings.HasPrefix(mime, "audio/ogg"):
		return ".ogg"
	}
	return ".m4a"
}
