package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// Whisper calls an OpenAI-compatible /audio/transcriptions endpoint (Groq by default).
type Whisper struct {
	client  openai.Client
	apiKey  string
	model   string
	timeout time.Duration
}

// NewWhisper creates the fast-path backend. Retries are left to the caller.
func NewWhisper(httpClient *http.Client, baseURL, apiKey, model string, timeout time.Duration) *Whisper {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Whisper{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		),
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
	}
}

// Transcribe uploads the full audio and returns the plain-text transcript.
func (w *Whisper) Transcribe(ctx context.Context, art *engine.AudioArtifact) (string, error) {
	if w.apiKey == "" {
		return "", errors.New("whisper: API key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	f, err := art.Open()
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	resp, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:           openai.File(f, filepath.Base(art.Path), art.MIME),
		Model:          openai.AudioModel(w.model),
		ResponseFormat: openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", classifyWhisperError(err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", engine.Upstream("whisper", http.StatusOK, errors.New("empty transcript"))
	}
	return text, nil
}

// classifyWhisperError keeps the HTTP status of API errors for user-facing reasons.
func classifyWhisperError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return engine.Upstream("whisper", 0, err)
	}
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}
	msg = engine.Snippet(msg, 200)
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return engine.Upstream("whisper", apiErr.StatusCode, fmt.Errorf("%w: %s", engine.ErrRateLimited, msg))
	case http.StatusUnauthorized, http.StatusForbidden:
		return engine.Upstream("whisper", apiErr.StatusCode, fmt.Errorf("%w: %s", engine.ErrNotAuthorized, msg))
	}
	return engine.Upstream("whisper", apiErr.StatusCode, errors.New(msg))
}
