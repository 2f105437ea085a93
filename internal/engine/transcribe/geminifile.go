package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/samber/lo"
	"google.golang.org/genai"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

const (
	maxFilePolls   = 30
	maxPollElapsed = 6 * time.Minute
)

var errStillProcessing = errors.New("file still processing")

// FileAPI is the part of the Gemini client the large-file path uses.
// *gemini.Client satisfies it.
type FileAPI interface {
	UploadFile(ctx context.Context, key, mimeType string, r io.Reader) (*genai.File, error)
	GetFile(ctx context.Context, key, name string) (*genai.File, error)
	DeleteFile(ctx context.Context, key, name string) error
	GenerateContent(ctx context.Context, key, model string, parts ...*genai.Part) (string, error)
}

// FileSummarizer uploads audio through the Gemini file API and asks a
// multimodal model for a digest. The uploaded file is always deleted.
type FileSummarizer struct {
	client  FileAPI
	keys    []string
	model   string
	prompt  string
	timeout time.Duration

	pollInitial time.Duration
	pollMax     time.Duration
}

// NewFileSummarizer creates the large-file backend.
func NewFileSummarizer(client FileAPI, keys []string, model string, timeout time.Duration) *FileSummarizer {
	return &FileSummarizer{
		client:      client,
		keys:        keys,
		model:       model,
		prompt:      engine.AudioSummaryPrompt,
		timeout:     timeout,
		pollInitial: 2 * time.Second,
		pollMax:     10 * time.Second,
	}
}

// Transcribe implements Backend. The returned text is a summary, not a transcript.
func (s *FileSummarizer) Transcribe(ctx context.Context, art *engine.AudioArtifact) (string, error) {
	if len(s.keys) == 0 {
		return "", errors.New("gemini file: no API keys configured")
	}
	key := lo.Sample(s.keys)

	f, err := s.upload(ctx, key, art)
	if err != nil {
		return "", err
	}
	defer s.remove(key, f.Name)

	if f.State != genai.FileStateActive {
		mime := f.MIMEType
		if f, err = s.waitActive(ctx, key, f.Name); err != nil {
			return "", err
		}
		if f.MIMEType == "" {
			f.MIMEType = mime
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.GenerateContent(genCtx, key, s.model,
		genai.NewPartFromURI(f.URI, f.MIMEType),
		genai.NewPartFromText(s.prompt),
	)
}

func (s *FileSummarizer) upload(ctx context.Context, key string, art *engine.AudioArtifact) (*genai.File, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := art.Open()
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer r.Close()

	f, err := s.client.UploadFile(ctx, key, art.MIME, r)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if f.MIMEType == "" {
		f.MIMEType = art.MIME
	}
	slog.Debug("gemini file: uploaded", slog.String("name", f.Name), slog.String("state", string(f.State)))
	return f, nil
}

// waitActive polls until the file leaves PROCESSING. FAILED is terminal.
func (s *FileSummarizer) waitActive(ctx context.Context, key, name string) (*genai.File, error) {
	operation := func() (*genai.File, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		f, err := s.client.GetFile(callCtx, key, name)
		if err != nil {
			return nil, err
		}
		switch f.State {
		case genai.FileStateActive:
			return f, nil
		case genai.FileStateFailed:
			msg := "processing failed"
			if f.Error != nil && f.Error.Message != "" {
				msg = f.Error.Message
			}
			return nil, backoff.Permanent(engine.Upstream("gemini file "+name, 0, errors.New(msg)))
		}
		return nil, errStillProcessing
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.pollInitial
	bo.MaxInterval = s.pollMax

	f, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(maxFilePolls), backoff.WithMaxElapsedTime(maxPollElapsed))
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", name, err)
	}
	return f, nil
}

// remove deletes the uploaded file on a fresh context so cleanup survives
// a cancelled or expired request context.
func (s *FileSummarizer) remove(key, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.client.DeleteFile(ctx, key, name); err != nil {
		slog.Warn("gemini file: delete failed", slog.String("name", name), slog.Any("error", err))
	}
}
