// Package pipeline sequences the acquisition strategies for one video and
// hands the result to generation.
package pipeline

import "github.com/anatolykoptev/go_recap/internal/engine"

// Kind discriminates Content.
type Kind int

const (
	KindFailure Kind = iota
	KindText
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAudio:
		return "audio"
	}
	return "failure"
}

// Source tags shown to the user next to the result.
const (
	TagCaptions     = "CC字幕" // authoritative caption track
	TagMirror       = "鏡像字幕" // mirror subtitle track
	TagSpeech       = "語音轉錄" // speech-to-text of downloaded audio
	TagAudioSummary = "音訊摘要" // multimodal digest of a large audio file
)

// Failure reasons.
const (
	ReasonUnrecognizedURL = "無法辨識網址"
	ReasonNoContent       = "找不到任何字幕或音訊來源"
	ReasonTranscribe      = "音訊轉錄失敗"
	ReasonGenerate        = "AI 生成文章失敗"
)

// Content is the single result of an acquisition run: text, an audio artifact,
// or a failure. Exactly one variant is populated, selected by Kind.
type Content struct {
	Kind Kind

	// KindText
	Text       string
	SourceTag  string
	Summarized bool // Text is already a digest; skip generation

	// KindAudio. The receiver owns the artifact and must Release it.
	Audio *engine.AudioArtifact

	// KindFailure
	Reason string
	Err    error

	// Trace lists the states visited, in order.
	Trace []State
}

func textContent(text, tag string, summarized bool) Content {
	return Content{Kind: KindText, Text: text, SourceTag: tag, Summarized: summarized}
}

func audioContent(art *engine.AudioArtifact) Content {
	return Content{Kind: KindAudio, Audio: art, SourceTag: art.Source}
}

func failure(reason string, err error) Content {
	return Content{Kind: KindFailure, Reason: reason, Err: err}
}
