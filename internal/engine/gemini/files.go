package gemini

import (
	"context"
	"errors"
	"io"

	"google.golang.org/genai"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// UploadFile sends r through the file API. mimeType is required by the API.
func (c *Client) UploadFile(ctx context.Context, key, mimeType string, r io.Reader) (*genai.File, error) {
	const op = "upload file"
	gc, err := c.sdk(ctx, key)
	if err != nil {
		return nil, engine.Upstream(op, 0, err)
	}
	f, err := gc.Files.Upload(ctx, r, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, classify(op, err)
	}
	if f == nil || f.Name == "" {
		return nil, engine.Upstream(op, 0, errors.New("response carries no file name"))
	}
	if f.MIMEType == "" {
		f.MIMEType = mimeType
	}
	return f, nil
}

// GetFile returns the current state of an uploaded file.
func (c *Client) GetFile(ctx context.Context, key, name string) (*genai.File, error) {
	op := "get " + name
	gc, err := c.sdk(ctx, key)
	if err != nil {
		return nil, engine.Upstream(op, 0, err)
	}
	f, err := gc.Files.Get(ctx, name, nil)
	if err != nil {
		return nil, classify(op, err)
	}
	return f, nil
}

// DeleteFile removes an uploaded file.
func (c *Client) DeleteFile(ctx context.Context, key, name string) error {
	op := "delete " + name
	gc, err := c.sdk(ctx, key)
	if err != nil {
		return engine.Upstream(op, 0, err)
	}
	if _, err := gc.Files.Delete(ctx, name, nil); err != nil {
		return classify(op, err)
	}
	return nil
}
