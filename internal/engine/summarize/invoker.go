// Package summarize produces the final digest from acquired text by walking
// a credential × model matrix of generation backends.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"text/template"
	"time"

	"github.com/samber/lo"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// Generator runs one prompt on one model with one credential.
// Implementations wrap quota errors with engine.ErrRateLimited and
// model-access errors with engine.ErrNotAuthorized.
type Generator interface {
	Generate(ctx context.Context, key, model, prompt string) (string, error)
}

// Result is the outcome of a Summarize call. Exactly one of Text and Err is set.
type Result struct {
	Text        string
	Err         error // last error seen across the matrix
	Attempts    int
	Passthrough bool // input was already a summary and returned unchanged
}

// Failed reports whether no backend produced text.
func (r Result) Failed() bool { return r.Err != nil }

// Invoker holds the read-only credential pool and model priority list.
type Invoker struct {
	gen      Generator
	keys     []string
	models   []string
	tmpl     *template.Template
	markers  []string
	maxChars int
	timeout  time.Duration

	// shuffle reorders credentials per request; tests pin it.
	shuffle func([]string) []string
}

// NewInvoker builds an invoker from configuration. cfg must have defaults applied.
func NewInvoker(gen Generator, cfg engine.Config) (*Invoker, error) {
	tmpl, err := template.New("summary").Option("missingkey=error").Parse(cfg.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("prompt template: %w", err)
	}
	return &Invoker{
		gen:      gen,
		keys:     lo.Uniq(lo.Compact(cfg.GeminiAPIKeys)),
		models:   lo.Uniq(lo.Compact(cfg.GeminiModels)),
		tmpl:     tmpl,
		markers:  cfg.SummaryMarkers,
		maxChars: cfg.MaxInputChars,
		timeout:  cfg.GenerationTimeout,
		shuffle: func(keys []string) []string {
			return lo.Shuffle(slices.Clone(keys))
		},
	}, nil
}

// Summarize turns text into a digest. It never returns an error directly:
// failures are carried in Result.Err after every distinct (key, model) pair was tried once.
func (inv *Invoker) Summarize(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Err: errors.New("nothing to summarize")}
	}
	if IsSummary(text, inv.markers) {
		return Result{Text: text, Passthrough: true}
	}
	if len(inv.keys) == 0 || len(inv.models) == 0 {
		return Result{Err: errors.New("no generation credentials or models configured")}
	}

	prompt, err := inv.render(engine.TruncateRunes(text, inv.maxChars, ""))
	if err != nil {
		return Result{Err: err}
	}

	var res Result
	for _, key := range inv.shuffle(inv.keys) {
		for _, model := range inv.models {
			if err := ctx.Err(); err != nil {
				res.Err = err
				return res
			}
			res.Attempts++
			engine.IncrGenerationAttempts()

			out, err := inv.attempt(ctx, key, model, prompt)
			if err == nil {
				slog.Info("summarize: generated", slog.String("model", model), slog.Int("attempts", res.Attempts))
				res.Text = out
				res.Err = nil
				return res
			}
			res.Err = err

			switch {
			case errors.Is(err, engine.ErrRateLimited):
				engine.IncrGenerationRateLimit()
				slog.Info("summarize: rate limited", slog.String("model", model), slog.String("key", keyHint(key)))
			case errors.Is(err, engine.ErrNotAuthorized):
				slog.Info("summarize: model not available for key", slog.String("model", model), slog.String("key", keyHint(key)))
			default:
				slog.Warn("summarize: generation failed", slog.String("model", model), slog.Any("error", err))
			}
		}
	}

	engine.IncrGenerationFailures()
	slog.Info("summarize: matrix exhausted", slog.Int("attempts", res.Attempts), slog.Any("last_error", res.Err))
	return res
}

func (inv *Invoker) attempt(ctx context.Context, key, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()
	out, err := inv.gen.Generate(ctx, key, model, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", engine.Upstream("generate "+model, 0, errors.New("empty output"))
	}
	return out, nil
}

func (inv *Invoker) render(text string) (string, error) {
	var sb strings.Builder
	if err := inv.tmpl.Execute(&sb, struct{ Text string }{text}); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// IsSummary reports whether text already carries digest section markers.
func IsSummary(text string, markers []string) bool {
	return lo.SomeBy(markers, func(m string) bool {
		return m != "" && strings.Contains(text, m)
	})
}

// keyHint identifies a credential in logs without revealing it.
func keyHint(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "…" + key[len(key)-4:]
}
