package summarize

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anatolykoptev/go-kit/llm"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// LLMGenerator generates through an OpenAI-compatible chat endpoint via go-kit/llm.
// That API has no content-filter setting; filtering is whatever the provider applies.
type LLMGenerator struct {
	base string
	http *http.Client

	mu      sync.Mutex
	clients map[string]*llm.Client // key + "\x00" + model
}

// NewLLMGenerator creates a generator for the given API base.
func NewLLMGenerator(base string, httpClient *http.Client) *LLMGenerator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &LLMGenerator{base: base, http: httpClient, clients: make(map[string]*llm.Client)}
}

func (g *LLMGenerator) Generate(ctx context.Context, key, model, prompt string) (string, error) {
	out, err := g.client(key, model).Complete(ctx, "", prompt)
	if err != nil {
		return "", classifyLLMError(model, err)
	}
	return strings.TrimSpace(out), nil
}

// client returns a single-credential client; rotation is the invoker's job,
// so no fallback keys are configured here.
func (g *LLMGenerator) client(key, model string) *llm.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := key + "\x00" + model
	if c, ok := g.clients[id]; ok {
		return c
	}
	c := llm.NewClient(g.base, key, model,
		llm.WithMaxTokens(4096),
		llm.WithTemperature(0.3),
		llm.WithHTTPClient(g.http),
	)
	g.clients[id] = c
	return c
}

// classifyLLMError maps go-kit/llm errors, which carry the HTTP status in their text.
func classifyLLMError(model string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return engine.Upstream("llm "+model, 429, fmt.Errorf("%w: %v", engine.ErrRateLimited, err))
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "404") ||
		strings.Contains(msg, "model_not_found"):
		return engine.Upstream("llm "+model, 0, fmt.Errorf("%w: %v", engine.ErrNotAuthorized, err))
	}
	return engine.Upstream("llm "+model, 0, err)
}
