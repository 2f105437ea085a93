package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// YouTube caption fetching, the authoritative transcript source.
// Primary:  scrape watch page ytInitialPlayerResponse → caption XML (works from any IP)
// Fallback: ANDROID Innertube /player → captionTracks (works from non-blocked IPs)

// TranscriptFetcher reads caption tracks straight from YouTube.
type TranscriptFetcher struct {
	client *http.Client
	langs  []string

	// endpoints; overridden in tests
	watchURL  string
	playerURL string
}

// NewTranscriptFetcher creates a fetcher. A nil client gets a 15s-timeout default.
func NewTranscriptFetcher(client *http.Client, langs []string) *TranscriptFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TranscriptFetcher{
		client:    client,
		langs:     langs,
		watchURL:  ytWatchURL,
		playerURL: ytPlayerURL,
	}
}

// FetchTranscript returns the caption text of the best track for the configured
// language priority. Any failure is reported as engine.ErrNotFound, wrapped with
// the last cause, since the caller always falls through to mirrors.
func (f *TranscriptFetcher) FetchTranscript(ctx context.Context, ref VideoRef) (string, error) {
	engine.IncrTranscriptRequests()

	text, err := f.viaPageScrape(ctx, ref.ID)
	if err == nil {
		engine.IncrTranscriptHits()
		return text, nil
	}
	slog.Debug("youtube: page scrape failed, trying player",
		slog.String("id", ref.ID), slog.Any("err", err))

	text, err = f.viaPlayer(ctx, ref.ID)
	if err == nil {
		engine.IncrTranscriptHits()
		return text, nil
	}
	slog.Debug("youtube: player captions failed",
		slog.String("id", ref.ID), slog.Any("err", err))
	return "", fmt.Errorf("%w: captions: %w", engine.ErrNotFound, err)
}

// viaPageScrape extracts caption tracks from the watch page HTML.
func (f *TranscriptFetcher) viaPageScrape(ctx context.Context, videoID string) (string, error) {
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.watchURL+videoID, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.RandomUserAgent())
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		return f.client.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("watch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", engine.Upstream("watch page", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 6*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read watch page: %w", err)
	}

	idx := bytes.Index(body, []byte(ytInitialPlayerResponseMarker))
	if idx < 0 {
		return "", errors.New("ytInitialPlayerResponse not found in watch page")
	}
	jsonData := extractJSON(body[idx+len(ytInitialPlayerResponseMarker):])
	if jsonData == nil {
		return "", errors.New("failed to extract ytInitialPlayerResponse JSON")
	}

	var playerResp innertubePlayerResp
	if err := json.Unmarshal(jsonData, &playerResp); err != nil {
		return "", fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	return f.fromPlayer(ctx, playerResp)
}

// viaPlayer uses the ANDROID Innertube /player endpoint.
func (f *TranscriptFetcher) viaPlayer(ctx context.Context, videoID string) (string, error) {
	reqBody, err := json.Marshal(innertubeReq{
		VideoID: videoID,
		Context: innertubeCtx{
			Client: innertubeClient{
				ClientName:        "ANDROID",
				ClientVersion:     ytAndroidVersion,
				AndroidSdkVersion: 30,
				Hl:                "en",
				Gl:                "US",
			},
		},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return "", err
	}

	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.playerURL+"?prettyPrint=false", bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", ytAndroidUA)
		req.Header.Set("X-Youtube-Client-Name", "3")
		req.Header.Set("X-Youtube-Client-Version", ytAndroidVersion)
		return f.client.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("android innertube: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", engine.Upstream("android innertube", resp.StatusCode, nil)
	}

	var playerResp innertubePlayerResp
	if err := json.NewDecoder(io.LimitReader(resp.Body, 3*1024*1024)).Decode(&playerResp); err != nil {
		return "", fmt.Errorf("decode player: %w", err)
	}
	return f.fromPlayer(ctx, playerResp)
}

func (f *TranscriptFetcher) fromPlayer(ctx context.Context, pr innertubePlayerResp) (string, error) {
	tracks := pr.tracks()
	if len(tracks) == 0 {
		if r := pr.reason(); r != "" {
			return "", fmt.Errorf("captions unavailable: %s", r)
		}
		return "", errors.New("no usable caption tracks")
	}
	track, _ := selectTrack(tracks, f.langs)
	slog.Debug("youtube: caption track selected",
		slog.String("lang", track.LanguageCode), slog.Bool("auto", track.AutoGenerated))

	text, err := f.fetchTimedText(ctx, track.URL)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("empty caption track")
	}
	return text, nil
}

// fetchTimedText fetches and parses a YouTube timedtext XML caption URL.
func (f *TranscriptFetcher) fetchTimedText(ctx context.Context, baseURL string) (string, error) {
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.RandomUserAgent())
		return f.client.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("fetch timedtext: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", engine.Upstream("timedtext", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return "", err
	}
	text, err := parseTimedText(body)
	if err != nil {
		return "", fmt.Errorf("parse timedtext XML: %w", err)
	}
	return text, nil
}
