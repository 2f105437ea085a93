package summarize

import (
	"context"

	"google.golang.org/genai"

	"github.com/anatolykoptev/go_recap/internal/engine/gemini"
)

// GeminiGenerator generates through the Gemini API with content filters disabled.
type GeminiGenerator struct {
	client *gemini.Client
}

// NewGeminiGenerator wraps a shared Gemini client.
func NewGeminiGenerator(client *gemini.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, key, model, prompt string) (string, error) {
	return g.client.GenerateContent(ctx, key, model, genai.NewPartFromText(prompt))
}
