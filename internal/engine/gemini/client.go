// Package gemini wraps google.golang.org/genai for the Generative Language API:
// generateContent plus the file upload/poll/delete calls, with errors mapped
// onto the engine taxonomy.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// harmCategories are all categories the API accepts a threshold for.
var harmCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
	genai.HarmCategoryCivicIntegrity,
}

// Client hands out one genai client per API key. Credentials are chosen per
// call so one Client serves the whole key pool.
type Client struct {
	http *http.Client
	base string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// New creates a client. base overrides the API host; empty means the SDK default.
func New(httpClient *http.Client, base string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, base: base, clients: make(map[string]*genai.Client)}
}

// sdk returns the cached genai client for key.
func (c *Client) sdk(ctx context.Context, key string) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gc, ok := c.clients[key]; ok {
		return gc, nil
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      key,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  c.http,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.base},
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	c.clients[key] = gc
	return gc, nil
}

// safetyOff disables every content filter.
func safetyOff() []*genai.SafetySetting {
	out := make([]*genai.SafetySetting, 0, len(harmCategories))
	for _, cat := range harmCategories {
		out = append(out, &genai.SafetySetting{Category: cat, Threshold: genai.HarmBlockThresholdBlockNone})
	}
	return out
}

// GenerateContent runs model on parts with every content filter disabled.
// Quota errors wrap engine.ErrRateLimited; credential/model access errors wrap
// engine.ErrNotAuthorized.
func (c *Client) GenerateContent(ctx context.Context, key, model string, parts ...*genai.Part) (string, error) {
	op := "generateContent " + model
	gc, err := c.sdk(ctx, key)
	if err != nil {
		return "", engine.Upstream(op, 0, err)
	}

	resp, err := gc.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{SafetySettings: safetyOff()},
	)
	if err != nil {
		return "", classify(op, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", engine.Upstream(op, http.StatusOK, fmt.Errorf("blocked: %s", resp.PromptFeedback.BlockReason))
		}
		if len(resp.Candidates) == 0 {
			return "", engine.Upstream(op, http.StatusOK, errors.New("no candidates"))
		}
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			sb.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", engine.Upstream(op, http.StatusOK, fmt.Errorf("empty text (finishReason=%s)", cand.FinishReason))
	}
	return text, nil
}

// classify maps an SDK error to the shared taxonomy.
func classify(op string, err error) error {
	var ae genai.APIError
	if !errors.As(err, &ae) {
		var pae *genai.APIError
		if !errors.As(err, &pae) || pae == nil {
			return engine.Upstream(op, 0, err)
		}
		ae = *pae
	}

	msg := ae.Message
	if msg == "" {
		msg = http.StatusText(ae.Code)
	}
	msg = engine.Snippet(msg, 200)

	switch {
	case ae.Code == http.StatusTooManyRequests || ae.Status == "RESOURCE_EXHAUSTED":
		return engine.Upstream(op, ae.Code, fmt.Errorf("%w: %s", engine.ErrRateLimited, msg))
	case ae.Code == http.StatusUnauthorized || ae.Code == http.StatusForbidden || ae.Code == http.StatusNotFound,
		ae.Status == "PERMISSION_DENIED" || ae.Status == "NOT_FOUND" || ae.Status == "UNAUTHENTICATED":
		return engine.Upstream(op, ae.Code, fmt.Errorf("%w: %s", engine.ErrNotAuthorized, msg))
	}
	return engine.Upstream(op, ae.Code, errors.New(msg))
}
