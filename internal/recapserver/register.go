// Package recapserver exposes the recap pipeline as MCP tools.
package recapserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_recap/internal/engine/pipeline"
)

// VideoInput is the argument of both tools.
type VideoInput struct {
	URL string `json:"url" jsonschema:"YouTube video URL (watch?v=, youtu.be/, /shorts/, /live/ or /embed/ form)"`
}

// TranscriptOutput is returned by video_transcript.
type TranscriptOutput struct {
	Source     string `json:"source"`
	Text       string `json:"text"`
	Summarized bool   `json:"summarized" jsonschema:"true when the text is a model-written digest of the audio rather than a transcript"`
}

// SummaryOutput is returned by video_summary.
type SummaryOutput struct {
	Source  string `json:"source"`
	Summary string `json:"summary"`
}

// RegisterTools registers video_transcript and video_summary on server.
func RegisterTools(server *mcp.Server, p *pipeline.Pipeline) {
	registerTranscript(server, p.Acquirer)
	registerSummary(server, p)
}

func registerTranscript(server *mcp.Server, o *pipeline.Orchestrator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "video_transcript",
		Description: "Fetch the transcript of a YouTube video. Tries official captions, then public Piped/Invidious mirrors, then downloads the audio and transcribes it. Very long audio comes back as a digest instead (summarized=true).",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input VideoInput) (*mcp.CallToolResult, TranscriptOutput, error) {
		if input.URL == "" {
			return nil, TranscriptOutput{}, errors.New("url is required")
		}
		c := o.Acquire(ctx, input.URL)
		switch c.Kind {
		case pipeline.KindText:
			return nil, TranscriptOutput{Source: c.SourceTag, Text: c.Text, Summarized: c.Summarized}, nil
		case pipeline.KindAudio:
			c.Audio.Release()
			return nil, TranscriptOutput{}, errors.New("audio found but no transcription backend is configured")
		}
		return nil, TranscriptOutput{}, fmt.Errorf("%s", c.Reason)
	})
}

func registerSummary(server *mcp.Server, p *pipeline.Pipeline) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "video_summary",
		Description: "Summarize a YouTube video in Traditional Chinese (title, 【前言】, 【核心重點摘要】, 【結論】). Acquires the transcript the same way as video_transcript, then generates the digest.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input VideoInput) (*mcp.CallToolResult, SummaryOutput, error) {
		if input.URL == "" {
			return nil, SummaryOutput{}, errors.New("url is required")
		}
		r := p.Run(ctx, input.URL)
		if r.Failed() {
			return nil, SummaryOutput{}, fmt.Errorf("%s", r.Failure)
		}
		return nil, SummaryOutput{Source: r.SourceTag, Summary: r.Body}, nil
	})
}
