// go_recap: YouTube video recap service.
//
// Acquires a transcript for a video (captions, Piped/Invidious mirrors, or
// downloaded audio plus speech-to-text) and writes a Traditional Chinese digest
// with Gemini. Delivered through a LINE bot webhook and as MCP tools:
// video_summary, video_transcript.
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/afero"

	"github.com/anatolykoptev/go_recap/internal/engine"
	"github.com/anatolykoptev/go_recap/internal/engine/gemini"
	"github.com/anatolykoptev/go_recap/internal/engine/pipeline"
	"github.com/anatolykoptev/go_recap/internal/engine/sources"
	"github.com/anatolykoptev/go_recap/internal/engine/summarize"
	"github.com/anatolykoptev/go_recap/internal/engine/transcribe"
	"github.com/anatolykoptev/go_recap/internal/linebot"
	"github.com/anatolykoptev/go_recap/internal/recapserver"
	"github.com/anatolykoptev/go_recap/internal/taskrunner"
)

var (
	version = "dev"
	mcpPort = env.Str("MCP_PORT", "8892")
)

func main() {
	cfg := loadConfig()

	p, err := buildPipeline(cfg)
	if err != nil {
		slog.Error("pipeline init failed", slog.Any("error", err))
		os.Exit(1)
	}

	runner := startWebhook(cfg, p)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := runner.Shutdown(ctx); err != nil {
			slog.Warn("task runner shutdown", slog.Any("error", err))
		}
	}()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_recap",
		Version: version,
	}, nil)
	recapserver.RegisterTools(server, p)

	slog.Info("starting go_recap", slog.String("mcp_port", mcpPort), slog.String("webhook_port", cfg.WebhookPort))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_recap",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 600 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func loadConfig() engine.Config {
	c := engine.Config{
		GenerationBackend: env.Str("GENERATION_BACKEND", "gemini"),
		GeminiAPIKeys:     env.List("GEMINI_API_KEYS", env.Str("GEMINI_API_KEY", "")),
		GeminiModels:      env.List("GEMINI_MODELS", ""),
		GeminiBaseURL:     env.Str("GEMINI_BASE_URL", ""),
		LLMAPIBase:        env.Str("LLM_API_BASE", "https://generativelanguage.googleapis.com/v1beta/openai"),
		GenerationTimeout: env.Duration("GENERATION_TIMEOUT", 90*time.Second),
		PromptTemplate:    env.Str("PROMPT_TEMPLATE", ""),
		MaxInputChars:     env.Int("MAX_INPUT_CHARS", engine.DefaultMaxInputChars),

		GroqAPIKey:        env.Str("GROQ_API_KEY", ""),
		GroqBaseURL:       env.Str("GROQ_BASE_URL", ""),
		WhisperModel:      env.Str("WHISPER_MODEL", ""),
		LargeAudioModel:   env.Str("LARGE_AUDIO_MODEL", ""),
		TranscribeTimeout: env.Duration("TRANSCRIBE_TIMEOUT", 120*time.Second),

		LangPriority:  env.List("LANG_PRIORITY", ""),
		Mirrors:       env.Str("MIRRORS", sources.DefaultMirrors),
		MirrorTimeout: env.Duration("MIRROR_TIMEOUT", 6*time.Second),
		MirrorStealth: env.Str("MIRROR_STEALTH", "") == "true",
		AudioTimeout:  env.Duration("AUDIO_TIMEOUT", 90*time.Second),
		AudioDir:      env.Str("AUDIO_DIR", os.TempDir()),
		YtDlpPath:     env.Str("YTDLP_PATH", "yt-dlp"),
		YtDlpCookies:  env.Str("YTDLP_COOKIES", ""),

		ExtractorTimeout: env.Duration("EXTRACTOR_TIMEOUT", 180*time.Second),

		LineChannelSecret: env.Str("LINE_CHANNEL_SECRET", ""),
		LineAccessToken:   env.Str("LINE_CHANNEL_ACCESS_TOKEN", ""),
		WebhookPort:       env.Str("WEBHOOK_PORT", "8080"),
		MaxConcurrent:     env.Int("MAX_CONCURRENT_TASKS", 4),
		MaxPending:        env.Int("MAX_PENDING_TASKS", 32),

		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
	return c.WithDefaults()
}

// buildPipeline wires every strategy from cfg. Missing credentials disable the
// strategies that need them instead of failing start-up.
func buildPipeline(cfg engine.Config) (*pipeline.Pipeline, error) {
	eps, err := sources.ParseMirrors(cfg.Mirrors)
	if err != nil {
		return nil, err
	}
	registry := sources.NewRegistry(eps)

	var fetcher engine.Fetcher = engine.NewHTTPFetcher()
	if cfg.MirrorStealth {
		bc, err := engine.NewBrowserClient(int(cfg.AudioTimeout.Seconds()))
		if err != nil {
			slog.Warn("stealth mirror client init failed, using net/http", slog.Any("error", err))
		} else {
			fetcher = bc
			slog.Info("mirror fetcher: tls fingerprinted client")
		}
	}

	fs := afero.NewOsFs()
	mirrors := sources.NewMirrorPool(registry, fetcher, fs, cfg)
	extractor := sources.NewExtractor(fs, sources.ExecRunner, cfg)
	slog.Info("mirror pool ready", slog.Int("endpoints", registry.Len()))

	gc := gemini.New(&http.Client{}, cfg.GeminiBaseURL)

	orch := &pipeline.Orchestrator{
		Transcripts: sources.NewTranscriptFetcher(cfg.HTTPClient, cfg.LangPriority),
		Subtitles:   mirrors,
		Audio:       sources.NewAudioAcquirer(mirrors, extractor),
	}

	var fast, large transcribe.Backend
	if cfg.GroqAPIKey != "" {
		fast = transcribe.NewWhisper(&http.Client{}, cfg.GroqBaseURL, cfg.GroqAPIKey, cfg.WhisperModel, cfg.TranscribeTimeout)
	} else {
		slog.Warn("GROQ_API_KEY not set, speech-to-text disabled")
	}
	if len(cfg.GeminiAPIKeys) > 0 {
		large = transcribe.NewFileSummarizer(gc, cfg.GeminiAPIKeys, cfg.LargeAudioModel, cfg.TranscribeTimeout)
	}
	if fast != nil || large != nil {
		orch.Transcriber = transcribe.NewRouter(fast, large, cfg.LargeAudioBytes)
	}

	var gen summarize.Generator
	switch cfg.GenerationBackend {
	case "openai":
		gen = summarize.NewLLMGenerator(cfg.LLMAPIBase, nil)
	default:
		gen = summarize.NewGeminiGenerator(gc)
	}
	inv, err := summarize.NewInvoker(gen, cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.GeminiAPIKeys) == 0 {
		slog.Warn("GEMINI_API_KEYS not set, every summary will fail")
	}

	return &pipeline.Pipeline{Acquirer: orch, Summarizer: inv}, nil
}

// startWebhook serves the LINE webhook in the background when credentials are set.
func startWebhook(cfg engine.Config, p *pipeline.Pipeline) *taskrunner.Runner {
	line := linebot.NewClient(&http.Client{Timeout: 10 * time.Second}, cfg.LineAccessToken, env.Str("LINE_API_BASE", ""))
	runner := taskrunner.New(p, line, cfg.MaxConcurrent, cfg.MaxPending)

	if cfg.LineChannelSecret == "" || cfg.LineAccessToken == "" {
		slog.Warn("LINE credentials not set, webhook disabled")
		return runner
	}

	h := linebot.NewHandler(cfg.LineChannelSecret, runner, line)
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.WebhookPort),
		Handler:           linebot.NewRouter(h, engine.FormatMetrics),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	go func() {
		slog.Info("webhook listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook server failed", slog.Any("error", err))
		}
	}()
	return runner
}
