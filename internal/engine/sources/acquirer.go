package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// AudioSource yields a downloaded audio artifact for a video.
type AudioSource interface {
	FetchAudio(ctx context.Context, ref VideoRef) (*engine.AudioArtifact, error)
}

// AudioExtractor downloads audio directly from the video host.
type AudioExtractor interface {
	Extract(ctx context.Context, ref VideoRef) (*engine.AudioArtifact, error)
}

// AudioAcquirer tries mirror audio streams first, then the direct extractor.
type AudioAcquirer struct {
	mirrors   AudioSource
	extractor AudioExtractor
}

// NewAudioAcquirer creates an acquirer. Either strategy may be nil.
func NewAudioAcquirer(mirrors AudioSource, extractor AudioExtractor) *AudioAcquirer {
	return &AudioAcquirer{mirrors: mirrors, extractor: extractor}
}

// FetchAudio returns an artifact the caller must Release.
func (a *AudioAcquirer) FetchAudio(ctx context.Context, ref VideoRef) (*engine.AudioArtifact, error) {
	var errs []error
	if a.mirrors != nil {
		art, err := a.mirrors.FetchAudio(ctx, ref)
		if err == nil {
			return art, nil
		}
		slog.Debug("audio: mirrors exhausted, trying extractor", slog.String("id", ref.ID), slog.Any("err", err))
		errs = append(errs, err)
	}
	if a.extractor != nil {
		art, err := a.extractor.Extract(ctx, ref)
		if err == nil {
			return art, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no audio strategy configured", engine.ErrNotFound)
	}
	// the last strategy's failure decides how the caller reports it
	last := errs[len(errs)-1]
	if engine.IsNotFound(last) {
		return nil, fmt.Errorf("audio: %w", errors.Join(errs...))
	}
	return nil, fmt.Errorf("audio: %w", last)
}
