package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anatolykoptev/go_recap/internal/engine"
	"github.com/anatolykoptev/go_recap/internal/engine/sources"
	"github.com/anatolykoptev/go_recap/internal/engine/transcribe"
)

// State is one step of the acquisition cascade.
type State string

const (
	StateTryTranscript State = "TRY_TRANSCRIPT"
	StateTryMirrorText State = "TRY_MIRROR_TEXT"
	StateTryAudio      State = "TRY_MIRROR_AUDIO_OR_EXTRACTOR"
	StateTranscribe    State = "TRANSCRIBE"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// TranscriptSource is the authoritative caption source.
type TranscriptSource interface {
	FetchTranscript(ctx context.Context, ref sources.VideoRef) (string, error)
}

// SubtitleSource is the mirror subtitle poll.
type SubtitleSource interface {
	FetchSubtitles(ctx context.Context, ref sources.VideoRef) (string, error)
}

// Transcriber converts audio to text (or a digest, for large files).
type Transcriber interface {
	Transcribe(ctx context.Context, art *engine.AudioArtifact) (transcribe.Result, error)
}

// Orchestrator runs the acquisition cascade. Nil strategies are skipped.
type Orchestrator struct {
	Transcripts TranscriptSource
	Subtitles   SubtitleSource
	Audio       sources.AudioSource
	Transcriber Transcriber
}

// Acquire resolves rawURL and walks the cascade until a strategy yields content.
// States only move forward; none is entered twice. Audio is returned as
// KindAudio only when no Transcriber is configured; otherwise every artifact
// is released before Acquire returns.
func (o *Orchestrator) Acquire(ctx context.Context, rawURL string) Content {
	ref, err := sources.ParseVideoRef(rawURL)
	if err != nil {
		c := failure(ReasonUnrecognizedURL, err)
		c.Trace = []State{StateFailed}
		return c
	}

	var (
		trace    []State
		art      *engine.AudioArtifact
		handOver bool
	)
	defer func() {
		if !handOver {
			art.Release()
		}
	}()

	finish := func(c Content, final State) Content {
		c.Trace = append(trace, final)
		return c
	}

	state := StateTryTranscript
	for {
		trace = append(trace, state)
		switch state {
		case StateTryTranscript:
			state = StateTryMirrorText
			if o.Transcripts == nil {
				continue
			}
			text, err := o.Transcripts.FetchTranscript(ctx, ref)
			if err == nil && strings.TrimSpace(text) != "" {
				return finish(textContent(text, TagCaptions, false), StateDone)
			}
			logMiss(ref, state, err)

		case StateTryMirrorText:
			state = StateTryAudio
			if o.Subtitles == nil {
				continue
			}
			text, err := o.Subtitles.FetchSubtitles(ctx, ref)
			if err == nil && strings.TrimSpace(text) != "" {
				return finish(textContent(text, TagMirror, false), StateDone)
			}
			logMiss(ref, state, err)

		case StateTryAudio:
			if o.Audio == nil {
				return finish(failure(ReasonNoContent, engine.ErrNotFound), StateFailed)
			}
			art, err = o.Audio.FetchAudio(ctx, ref)
			if err != nil {
				slog.Info("pipeline: no content", slog.String("id", ref.ID), slog.Any("err", err))
				return finish(failure(ReasonNoContent, err), StateFailed)
			}
			if o.Transcriber == nil {
				handOver = true
				return finish(audioContent(art), StateDone)
			}
			state = StateTranscribe

		case StateTranscribe:
			res, err := o.Transcriber.Transcribe(ctx, art)
			art.Release()
			if err != nil {
				slog.Warn("pipeline: transcription failed", slog.String("id", ref.ID), slog.Any("err", err))
				return finish(failure(fmt.Sprintf("%s: %s", ReasonTranscribe, userError(err)), err), StateFailed)
			}
			tag := TagSpeech
			if res.Summarized {
				tag = TagAudioSummary
			}
			return finish(textContent(res.Text, tag, res.Summarized), StateDone)

		default:
			return finish(failure(ReasonNoContent, fmt.Errorf("unexpected state %s", state)), StateFailed)
		}
	}
}

// logMiss records a fall-through. Not-found is routine and stays at Debug.
func logMiss(ref sources.VideoRef, next State, err error) {
	if err == nil || engine.IsNotFound(err) {
		slog.Debug("pipeline: strategy yielded nothing", slog.String("id", ref.ID),
			slog.String("next", string(next)), slog.Any("err", err))
		return
	}
	slog.Warn("pipeline: strategy failed", slog.String("id", ref.ID),
		slog.String("next", string(next)), slog.Any("err", err))
}

// userError renders err as a short single line for chat output.
func userError(err error) string {
	var ue *engine.UpstreamError
	if errors.As(err, &ue) && ue.Status != 0 {
		return fmt.Sprintf("HTTP %d: %s", ue.Status, engine.Snippet(ue.Err.Error(), 160))
	}
	return engine.Snippet(err.Error(), 200)
}
