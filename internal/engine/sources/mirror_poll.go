package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

const (
	maxMetadataBytes = 2 * 1024 * 1024
	maxSubtitleBytes = 4 * 1024 * 1024
	maxAudioBytes    = 512 * 1024 * 1024
	errorPageScan    = 2048
)

// errRejected marks a 2xx response that is not usable: an error page,
// no matching track, or content under the minimum size.
var errRejected = errors.New("rejected")

// errorPageMarkers identify gateway/anti-bot pages served with a 200.
var errorPageMarkers = []string{
	"Bad Gateway",
	"Service Unavailable",
	"cf-error-details",
	"Just a moment...",
	"error code:",
}

var jsonHeaders = map[string]string{"Accept": "application/json"}

// MirrorPool polls the mirror registry for subtitles or audio.
type MirrorPool struct {
	registry *Registry
	fetcher  engine.Fetcher
	fs       afero.Fs

	langs        []string
	timeout      time.Duration
	audioTimeout time.Duration
	minChars     int
	minAudio     int64
	maxAudio     int64
	audioDir     string

	// shuffle reorders candidates per request; tests pin it.
	shuffle func([]MirrorEndpoint) []MirrorEndpoint
}

// NewMirrorPool wires a pool from configuration.
func NewMirrorPool(reg *Registry, fetcher engine.Fetcher, fs afero.Fs, cfg engine.Config) *MirrorPool {
	return &MirrorPool{
		registry:     reg,
		fetcher:      fetcher,
		fs:           fs,
		langs:        cfg.LangPriority,
		timeout:      cfg.MirrorTimeout,
		audioTimeout: cfg.AudioTimeout,
		minChars:     cfg.MinSubtitleChars,
		minAudio:     cfg.MinAudioBytes,
		maxAudio:     maxAudioBytes,
		audioDir:     cfg.AudioDir,
		shuffle:      func(eps []MirrorEndpoint) []MirrorEndpoint { return lo.Shuffle(eps) },
	}
}

// FetchSubtitles returns cleaned subtitle text from the first mirror that serves
// a usable track. Exhausting the pool yields engine.ErrNotFound.
func (p *MirrorPool) FetchSubtitles(ctx context.Context, ref VideoRef) (string, error) {
	var text string
	err := p.poll(ctx, CapSubtitles, ref, func(ctx context.Context, ep MirrorEndpoint) error {
		t, err := p.subtitlesFrom(ctx, ep, ref)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	return text, err
}

// FetchAudio downloads the first audio stream any mirror offers.
// The caller owns the returned artifact.
func (p *MirrorPool) FetchAudio(ctx context.Context, ref VideoRef) (*engine.AudioArtifact, error) {
	var art *engine.AudioArtifact
	err := p.poll(ctx, CapAudio, ref, func(ctx context.Context, ep MirrorEndpoint) error {
		a, err := p.audioFrom(ctx, ep, ref)
		if err != nil {
			return err
		}
		art = a
		return nil
	})
	return art, err
}

// poll walks the capable endpoints in shuffled order until try succeeds.
// Per-endpoint failures never escape; only parent cancellation stops the walk early.
func (p *MirrorPool) poll(ctx context.Context, c Capability, ref VideoRef, try func(context.Context, MirrorEndpoint) error) error {
	eps := p.shuffle(p.registry.With(c))
	for _, ep := range eps {
		if err := ctx.Err(); err != nil {
			return err
		}
		engine.IncrMirrorPolls()
		err := try(ctx, ep)
		if err == nil {
			slog.Info("mirror: hit", slog.String("mirror", ep.String()), slog.String("id", ref.ID))
			return nil
		}
		if errors.Is(err, errRejected) {
			engine.IncrMirrorRejected()
			slog.Debug("mirror: rejected", slog.String("mirror", ep.String()), slog.Any("err", err))
		} else {
			engine.IncrMirrorFailures()
			slog.Warn("mirror: failed", slog.String("mirror", ep.String()), slog.Any("err", err))
		}
	}
	return fmt.Errorf("%w: %d mirrors exhausted", engine.ErrNotFound, len(eps))
}

func (p *MirrorPool) subtitlesFrom(ctx context.Context, ep MirrorEndpoint, ref VideoRef) (string, error) {
	tracks, err := p.listSubtitles(ctx, ep, ref)
	if err != nil {
		return "", err
	}
	track, ok := selectTrack(tracks, p.langs)
	if !ok {
		return "", fmt.Errorf("%w: no subtitle tracks", errRejected)
	}

	body, err := p.get(ctx, track.URL, nil, maxSubtitleBytes, documentErrorReason)
	if err != nil {
		return "", fmt.Errorf("subtitle %s: %w", track.LanguageCode, err)
	}
	text := cleanSubtitles(string(body))
	if n := utf8.RuneCountInString(text); n < p.minChars {
		return "", fmt.Errorf("%w: subtitle text %d chars", errRejected, n)
	}
	return text, nil
}

func (p *MirrorPool) listSubtitles(ctx context.Context, ep MirrorEndpoint, ref VideoRef) ([]SubtitleTrack, error) {
	switch ep.Dialect {
	case DialectInvidious:
		var resp invidiousCaptions
		if err := p.getJSON(ctx, ep.BaseURL+"/api/v1/captions/"+url.PathEscape(ref.ID), &resp); err != nil {
			return nil, err
		}
		return lo.Map(resp.Captions, func(c invidiousCaption, _ int) SubtitleTrack {
			return SubtitleTrack{
				LanguageCode:  c.LanguageCode,
				Name:          c.Label,
				URL:           resolveURL(ep.BaseURL, c.URL),
				AutoGenerated: strings.Contains(strings.ToLower(c.Label), "auto-generated"),
			}
		}), nil
	default:
		var resp pipedStreams
		if err := p.getJSON(ctx, ep.BaseURL+"/streams/"+url.PathEscape(ref.ID), &resp); err != nil {
			return nil, err
		}
		return lo.Map(resp.Subtitles, func(s pipedSubtitle, _ int) SubtitleTrack {
			return SubtitleTrack{
				LanguageCode:  s.Code,
				Name:          s.Name,
				URL:           resolveURL(ep.BaseURL, s.URL),
				AutoGenerated: s.AutoGenerated,
			}
		}), nil
	}
}

func (p *MirrorPool) audioFrom(ctx context.Context, ep MirrorEndpoint, ref VideoRef) (*engine.AudioArtifact, error) {
	streamURL, mime, err := p.firstAudioStream(ctx, ep, ref)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.audioTimeout)
	defer cancel()

	path := engine.ArtifactBase(p.audioDir, ref.ID) + engine.ExtForMIME(mime)
	f, err := p.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	// one byte over the cap tells a truncated stream from one that fits exactly
	status, err := p.fetcher.Fetch(ctx, streamURL, nil, f, p.maxAudio+1)
	closeErr := f.Close()
	art := engine.NewAudioArtifact(p.fs, path, 0, "mirror:"+ep.String())
	switch {
	case err != nil:
		art.Release()
		return nil, engine.Upstream("audio "+ep.String(), status, err)
	case status < 200 || status > 299:
		art.Release()
		return nil, engine.Upstream("audio "+ep.String(), status, nil)
	case closeErr != nil:
		art.Release()
		return nil, fmt.Errorf("write artifact: %w", closeErr)
	}

	fi, err := p.fs.Stat(path)
	if err != nil {
		art.Release()
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if fi.Size() < p.minAudio {
		art.Release()
		return nil, fmt.Errorf("%w: audio %d bytes", errRejected, fi.Size())
	}
	if fi.Size() > p.maxAudio {
		art.Release()
		return nil, fmt.Errorf("%w: audio exceeds %d bytes", errRejected, p.maxAudio)
	}
	art.Size = fi.Size()
	engine.IncrAudioDownloads()
	return art, nil
}

func (p *MirrorPool) firstAudioStream(ctx context.Context, ep MirrorEndpoint, ref VideoRef) (string, string, error) {
	switch ep.Dialect {
	case DialectInvidious:
		var resp invidiousVideo
		if err := p.getJSON(ctx, ep.BaseURL+"/api/v1/videos/"+url.PathEscape(ref.ID)+"?fields=adaptiveFormats", &resp); err != nil {
			return "", "", err
		}
		for _, f := range resp.AdaptiveFormats {
			if strings.HasPrefix(f.Type, "audio/") && f.URL != "" {
				return resolveURL(ep.BaseURL, f.URL), f.Type, nil
			}
		}
	default:
		var resp pipedStreams
		if err := p.getJSON(ctx, ep.BaseURL+"/streams/"+url.PathEscape(ref.ID), &resp); err != nil {
			return "", "", err
		}
		for _, s := range resp.AudioStreams {
			if s.URL != "" {
				return resolveURL(ep.BaseURL, s.URL), s.MimeType, nil
			}
		}
	}
	return "", "", fmt.Errorf("%w: no audio streams", errRejected)
}

func (p *MirrorPool) getJSON(ctx context.Context, rawURL string, v any) error {
	body, err := p.get(ctx, rawURL, jsonHeaders, maxMetadataBytes, errorPageReason)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decode: %v", errRejected, err)
	}
	return nil
}

// get fetches a small document under the per-node timeout and screens it with screen.
func (p *MirrorPool) get(ctx context.Context, rawURL string, headers map[string]string, limit int64, screen func([]byte) (string, bool)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var buf bytes.Buffer
	status, err := p.fetcher.Fetch(ctx, rawURL, headers, &buf, limit)
	if err != nil {
		return nil, engine.Upstream("GET "+hostOf(rawURL), status, err)
	}
	if status < 200 || status > 299 {
		return nil, engine.Upstream("GET "+hostOf(rawURL), status, nil)
	}
	if reason, bad := screen(buf.Bytes()); bad {
		return nil, fmt.Errorf("%w: %s: %s", errRejected, hostOf(rawURL), reason)
	}
	return buf.Bytes(), nil
}

// errorPageReason reports whether a 2xx metadata body is really an error page.
func errorPageReason(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	head := string(trimmed[:min(len(trimmed), errorPageScan)])
	for _, m := range errorPageMarkers {
		if strings.Contains(head, m) {
			return "marker " + m, true
		}
	}
	return documentErrorReason(trimmed)
}

// documentErrorReason only rejects bodies that are an error document as a
// whole. Subtitle text may quote any of the gateway markers.
func documentErrorReason(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "empty body", true
	}

	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if json.Unmarshal(trimmed, &obj) != nil {
			return "", false
		}
		for _, k := range []string{"error", "message"} {
			if raw, ok := obj[k]; ok && string(raw) != "null" {
				return "json " + k + ": " + engine.Snippet(string(raw), 120), true
			}
		}
	case '<':
		lower := strings.ToLower(string(trimmed[:min(len(trimmed), errorPageScan)]))
		if strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html") {
			title := ""
			if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed)); err == nil {
				title = strings.TrimSpace(doc.Find("title").First().Text())
			}
			return "html page: " + title, true
		}
	}
	return "", false
}

func resolveURL(base, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(u).String()
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}

// --- mirror wire types ---

type pipedStreams struct {
	Subtitles    []pipedSubtitle    `json:"subtitles"`
	AudioStreams []pipedAudioStream `json:"audioStreams"`
}

type pipedSubtitle struct {
	URL           string `json:"url"`
	MimeType      string `json:"mimeType"`
	Name          string `json:"name"`
	Code          string `json:"code"`
	AutoGenerated bool   `json:"autoGenerated"`
}

type pipedAudioStream struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Bitrate  int    `json:"bitrate"`
}

type invidiousCaptions struct {
	Captions []invidiousCaption `json:"captions"`
}

type invidiousCaption struct {
	Label        string `json:"label"`
	LanguageCode string `json:"languageCode"`
	URL          string `json:"url"`
}

type invidiousVideo struct {
	AdaptiveFormats []struct {
		URL  string `json:"url"`
		Type string `json:"type"`
	} `json:"adaptiveFormats"`
}
