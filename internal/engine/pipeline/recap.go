package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anatolykoptev/go_recap/internal/engine/summarize"
)

// Summarizer produces the final digest; it reports failure in the result, never panics.
type Summarizer interface {
	Summarize(ctx context.Context, text string) summarize.Result
}

// Recap is the user-facing outcome of a full run.
type Recap struct {
	SourceTag string
	Body      string
	Failure   string // non-empty when the run failed
	Attempts  int    // generation attempts made
}

// Failed reports whether the run produced no body.
func (r Recap) Failed() bool { return r.Failure != "" }

// Pipeline couples acquisition with generation.
type Pipeline struct {
	Acquirer   *Orchestrator
	Summarizer Summarizer
}

// Run acquires content for rawURL and summarises it unless it already is a digest.
func (p *Pipeline) Run(ctx context.Context, rawURL string) Recap {
	c := p.Acquirer.Acquire(ctx, rawURL)
	switch c.Kind {
	case KindFailure:
		return Recap{Failure: c.Reason}
	case KindAudio:
		// only reachable without a transcriber; nothing can read it
		c.Audio.Release()
		return Recap{Failure: ReasonTranscribe + ": 未設定語音轉錄服務"}
	}

	if c.Summarized || p.Summarizer == nil {
		return Recap{SourceTag: c.SourceTag, Body: c.Text}
	}

	res := p.Summarizer.Summarize(ctx, c.Text)
	if res.Failed() {
		slog.Info("pipeline: generation failed", slog.String("source", c.SourceTag),
			slog.Int("attempts", res.Attempts), slog.Any("err", res.Err))
		return Recap{
			SourceTag: c.SourceTag,
			Failure:   fmt.Sprintf("%s: %s", ReasonGenerate, userError(res.Err)),
			Attempts:  res.Attempts,
		}
	}
	return Recap{SourceTag: c.SourceTag, Body: res.Text, Attempts: res.Attempts}
}
