// Package transcribe turns downloaded audio into text, choosing a remote
// backend by artifact size.
package transcribe

import (
	"context"
	"errors"
	"log/slog"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// Result is transcribed (or directly summarised) audio.
type Result struct {
	Text       string
	Summarized bool   // true when the backend already produced a digest
	Backend    string // "whisper" or "gemini-file"
}

// Backend is one remote transcription capability. It reads the artifact but
// never releases it; the caller owns the file.
type Backend interface {
	Transcribe(ctx context.Context, art *engine.AudioArtifact) (string, error)
}

// Router sends small artifacts to the fast speech-to-text backend and large
// ones to the file-based backend, which returns a summary instead of a transcript.
type Router struct {
	fast      Backend
	large     Backend
	threshold int64
}

// NewRouter creates a router. Either backend may be nil when unconfigured.
func NewRouter(fast, large Backend, threshold int64) *Router {
	return &Router{fast: fast, large: large, threshold: threshold}
}

// Transcribe routes art by size: below the threshold to the fast path,
// at or above it to the large-file path.
func (r *Router) Transcribe(ctx context.Context, art *engine.AudioArtifact) (Result, error) {
	if art.Size >= r.threshold {
		if r.large == nil {
			return Result{}, errors.New("large audio backend not configured")
		}
		engine.IncrTranscriptionsLarge()
		slog.Info("transcribe: large-file path", slog.Int64("bytes", art.Size), slog.String("source", art.Source))
		text, err := r.large.Transcribe(ctx, art)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: text, Summarized: true, Backend: "gemini-file"}, nil
	}

	if r.fast == nil {
		return Result{}, errors.New("speech-to-text backend not configured")
	}
	engine.IncrTranscriptionsFast()
	slog.Info("transcribe: fast path", slog.Int64("bytes", art.Size), slog.String("source", art.Source))
	text, err := r.fast.Transcribe(ctx, art)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, Backend: "whisper"}, nil
}
