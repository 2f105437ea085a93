package engine

import (
	"net/http"
	"os"
	"time"

	"github.com/samber/lo"
)

// Config holds all engine configuration, injected from main.
// It is read once at start-up and never mutated afterwards, so every
// component may share it across concurrent tasks.
type Config struct {
	// Generation backend.
	GenerationBackend string   // "gemini" (default) or "openai"
	GeminiAPIKeys     []string // interchangeable credentials, 1..N
	GeminiModels      []string // priority order, tried first to last
	GeminiBaseURL     string
	LLMAPIBase        string // OpenAI-compatible base for the "openai" backend
	GenerationTimeout time.Duration
	PromptTemplate    string   // empty = built-in template
	SummaryMarkers    []string // text containing any of these is already a summary
	MaxInputChars     int

	// Transcription.
	GroqAPIKey        string
	GroqBaseURL       string
	WhisperModel      string
	LargeAudioModel   string
	LargeAudioBytes   int64
	TranscribeTimeout time.Duration

	// Acquisition.
	LangPriority     []string
	Mirrors          string // raw MIRRORS value, parsed by sources.ParseMirrors; empty = built-in pool
	MirrorTimeout    time.Duration
	MirrorStealth    bool
	MinSubtitleChars int
	MinAudioBytes    int64
	AudioTimeout     time.Duration
	AudioDir         string
	YtDlpPath        string
	YtDlpCookies     string
	ExtractorTimeout time.Duration

	// Delivery.
	LineChannelSecret string
	LineAccessToken   string
	WebhookPort       string
	MaxConcurrent     int
	MaxPending        int

	HTTPClient *http.Client
}

// Defaults applied by WithDefaults when a field is left zero.
const (
	DefaultMaxInputChars    = 30000
	DefaultLargeAudioBytes  = 24 * 1024 * 1024
	DefaultMinSubtitleChars = 50
	DefaultMinAudioBytes    = 10 * 1024
)

// DefaultModels is the generation model priority list.
var DefaultModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-flash-lite",
	"gemini-2.0-flash",
	"gemini-1.5-flash",
}

// DefaultLangPriority mirrors the caption preference: Traditional Chinese
// variants, then the regional siblings, then English.
var DefaultLangPriority = []string{"zh-TW", "zh-Hant", "zh", "zh-CN", "zh-Hans", "en"}

// WithDefaults returns a copy of c with zero fields filled in.
func (c Config) WithDefaults() Config {
	c.GeminiAPIKeys = lo.Uniq(lo.Compact(c.GeminiAPIKeys))
	c.GeminiModels = lo.Uniq(lo.Compact(c.GeminiModels))
	c.LangPriority = lo.Uniq(lo.Compact(c.LangPriority))

	if c.GenerationBackend == "" {
		c.GenerationBackend = "gemini"
	}
	if len(c.GeminiModels) == 0 {
		c.GeminiModels = DefaultModels
	}
	if c.GeminiBaseURL == "" {
		c.GeminiBaseURL = "https://generativelanguage.googleapis.com"
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 90 * time.Second
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = DefaultMaxInputChars
	}
	if len(c.SummaryMarkers) == 0 {
		c.SummaryMarkers = DefaultSummaryMarkers
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = SummaryPrompt
	}
	if c.GroqBaseURL == "" {
		c.GroqBaseURL = "https://api.groq.com/openai/v1"
	}
	if c.WhisperModel == "" {
		c.WhisperModel = "whisper-large-v3"
	}
	if c.LargeAudioModel == "" {
		c.LargeAudioModel = "gemini-2.5-flash"
	}
	if c.LargeAudioBytes <= 0 {
		c.LargeAudioBytes = DefaultLargeAudioBytes
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 120 * time.Second
	}
	if len(c.LangPriority) == 0 {
		c.LangPriority = DefaultLangPriority
	}
	if c.MirrorTimeout <= 0 {
		c.MirrorTimeout = 6 * time.Second
	}
	if c.MinSubtitleChars <= 0 {
		c.MinSubtitleChars = DefaultMinSubtitleChars
	}
	if c.MinAudioBytes <= 0 {
		c.MinAudioBytes = DefaultMinAudioBytes
	}
	if c.AudioTimeout <= 0 {
		c.AudioTimeout = 90 * time.Second
	}
	if c.AudioDir == "" {
		c.AudioDir = os.TempDir()
	}
	if c.YtDlpPath == "" {
		c.YtDlpPath = "yt-dlp"
	}
	if c.ExtractorTimeout <= 0 {
		c.ExtractorTimeout = 180 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 32
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}
