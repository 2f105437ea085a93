package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

const longVTT = `WEBVTT

00:00:00.000 --> 00:00:03.000
This is the first line of a reasonably long caption track.

00:00:03.000 --> 00:00:06.000
And this is the second line so the text clears the minimum.
`

// mirrorFixture serves several fake mirrors from one server under /m1, /m2, ...
type mirrorFixture struct {
	srv  *httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newMirrorFixture(t *testing.T, routes map[string]http.HandlerFunc) *mirrorFixture {
	t.Helper()
	f := &mirrorFixture{hits: map[string]int{}}
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.hits[pattern]++
			f.mu.Unlock()
			h(w, r)
		})
	}
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *mirrorFixture) count(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[pattern]
}

func (f *mirrorFixture) pool(t *testing.T, mirrors string, fs afero.Fs) *MirrorPool {
	t.Helper()
	eps, err := ParseMirrors(strings.ReplaceAll(mirrors, "SRV", f.srv.URL))
	require.NoError(t, err)
	cfg := engine.Config{
		AudioDir:      "/tmp/audio",
		MirrorTimeout: 2 * time.Second,
		AudioTimeout:  5 * time.Second,
	}.WithDefaults()
	p := NewMirrorPool(NewRegistry(eps), engine.NewHTTPFetcher(), fs, cfg)
	p.shuffle = func(eps []MirrorEndpoint) []MirrorEndpoint { return eps }
	return p
}

func replyStatus(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, http.StatusText(code), code)
	}
}

func replyBody(contentType, s string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		fmt.Fprint(w, s)
	}
}

func pipedSubs(subURL string, auto bool, code string) string {
	return fmt.Sprintf(`{"subtitles":[{"url":%q,"mimeType":"text/vtt","name":"English","code":%q,"autoGenerated":%t}],"audioStreams":[]}`, subURL, code, auto)
}

func TestMirrorPool_FallsThroughFailingNodes(t *testing.T) {
	f := newMirrorFixture(t, map[string]http.HandlerFunc{
		"/m1/streams/abc123": replyStatus(http.StatusBadGateway),
		"/m2/streams/abc123": replyStatus(http.StatusBadGateway),
		"/m3/streams/abc123": replyBody("application/json", pipedSubs("/subs/en.vtt", true, "en")),
		"/subs/en.vtt":       replyBody("text/vtt", longVTT),
	})
	p := f.pool(t, "piped@SRV/m1,piped@SRV/m2,piped@SRV/m3", afero.NewMemMapFs())

	text, err := p.FetchSubtitles(context.Background(), NewVideoRef("abc123"))
	require.NoError(t, err)
	assert.Contains(t, text, "first line of a reasonably long caption")
	assert.NotContains(t, text, "-->")
	assert.Equal(t, 1, f.count("/m1/streams/abc123"))
	assert.Equal(t, 1, f.count("/m2/streams/abc123"))
	assert.Equal(t, 1, f.count("/subs/en.vtt"))
}

func TestMirrorPool_RejectsUnusableBodies(t *testing.T) {
	f := newMirrorFixture(t, map[string]http.HandlerFunc{
		// 200 with an anti-bot page
		"/m1/streams/vid": replyBody("text/html", `<!DOCTYPE html><html><head><title>Just a moment...</title></head></html>`),
		// 200 with a JSON error object
		"/m2/streams/vid": replyBody("application/json", `{"error":"Video unavailable"}`),
		// usable track, but too short
		"/m3/streams/vid": replyBody("application/json", pipedSubs("/subs/short.vtt", false, "en")),
		"/subs/short.vtt": replyBody("text/vtt", "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\nhi\n"),
	})
	p := f.pool(t, "piped@SRV/m1,piped@SRV/m2,piped@SRV/m3", afero.NewMemMapFs())

	_, err := p.FetchSubtitles(context.Background(), NewVideoRef("vid"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrNotFound))
	assert.Equal(t, 1, f.count("/subs/short.vtt"))
}

func TestMirrorPool_InvidiousCaptions(t *testing.T) {
	const zh = "這是一段足夠長的繁體中文字幕內容，用來確認語言優先順序的選擇確實正確無誤，而且字數超過下限。"
	f := newMirrorFixture(t, map[string]http.HandlerFunc{
		// list and download share a path; the query decides
		"/inv/api/v1/captions/vid": func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Query().Get("lang") == "zh-TW":
				fmt.Fprint(w, "WEBVTT\n\n00:00:00.000 --> 00:00:05.000\n"+zh+"\n")
			case r.URL.Query().Get("label") != "":
				fmt.Fprint(w, longVTT)
			default:
				fmt.Fprint(w, `{"captions":[`+
					`{"label":"English (auto-generated)","languageCode":"en","url":"/inv/api/v1/captions/vid?label=English"},`+
					`{"label":"中文（台灣）","languageCode":"zh-TW","url":"/inv/api/v1/captions/vid?lang=zh-TW"}]}`)
			}
		},
	})
	p := f.pool(t, "invidious@SRV/inv", afero.NewMemMapFs())

	text, err := p.FetchSubtitles(context.Background(), NewVideoRef("vid"))
	require.NoError(t, err)
	assert.Equal(t, zh, text)
	assert.Equal(t, 2, f.count("/inv/api/v1/captions/vid"))
}

func TestMirrorPool_AudioSkipsUndersizedAndKeepsOne(t *testing.T) {
	big := strings.Repeat("a", int(engine.DefaultMinAudioBytes)+512)
	f := newMirrorFixture(t, map[string]http.HandlerFunc{
		"/m1/streams/vid":  replyBody("application/json", `{"audioStreams":[{"url":"/audio/small","mimeType":"audio/mp4"}]}`),
		"/audio/small":     replyBody("audio/mp4", "tiny"),
		"/m2/streams/vid":  replyStatus(http.StatusServiceUnavailable),
		"/m3/streams/vid":  replyBody("application/json", `{"audioStreams":[{"url":"/audio/big","mimeType":"audio/webm; codecs=\"opus\""}]}`),
		"/audio/big":       replyBody("audio/webm", big),
		"/sub/streams/vid": replyStatus(http.StatusInternalServerError),
	})
	fs := afero.NewMemMapFs()
	p := f.pool(t, "piped@SRV/m1,piped/subtitles@SRV/sub,piped@SRV/m2,piped@SRV/m3", fs)

	art, err := p.FetchAudio(context.Background(), NewVideoRef("vid"))
	require.NoError(t, err)
	defer art.Release()

	assert.Equal(t, int64(len(big)), art.Size)
	assert.True(t, strings.HasSuffix(art.Path, ".webm"))
	assert.Equal(t, "audio/webm", art.MIME)
	assert.Contains(t, art.Source, "mirror:piped@")
	assert.Zero(t, f.count("/sub/streams/vid"), "subtitle-only mirror must not serve audio")

	files, err := afero.Glob(fs, "/tmp/audio/*")
	require.NoError(t, err)
	assert.Equal(t, []string{art.Path}, files)

	art.Release()
	files, _ = afero.Glob(fs, "/tmp/audio/*")
	assert.Empty(t, files)
}

func TestMirrorPool_AbandonsHangingNode(t *testing.T) {
	f := newMirrorFixture(t, map[string]http.HandlerFunc{
		"/slow/streams/vid": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		},
		"/ok/streams/vid": replyBody("application/json", pipedSubs("/subs/en.vtt", false, "en")),
		"/subs/en.vtt":    replyBody("text/vtt", longVTT),
	})
	p := f.pool(t, "piped@SRV/slow,piped@SRV/ok", afero.NewMemMapFs())
	p.timeout = 150 * time.Millisecond

	start := time.Now()
	text, err := p.FetchSubtitles(context.Background(), NewVideoRef("vid"))
	require.NoError(t, err)
	assert.Contains(t, text, "second line")
	assert.Less(t, time.Since(start), 2*time.Second, "hanging node must be cut off at the per-node timeout")
	assert.Equal(t, 1, f.count("/slow/streams/vid"))
	assert.Equal(t, 1, f.count("/ok/streams/vid"))
}

func TestMirrorPool_KeepsCaptionsQuotingGatewayErrors(t *testing.T) {
	const tech = `WEBVTT

00:00:00.000 --> 00:00:04.000
When the proxy returns 503 Service Unavailable or 502 Bad Gateway,

00:00:04.000 --> 00:00:08.000
the load balancer is usually the first place to look for the error code: field.
`
	f := newMirrorFixture(t, map[string]http.HandlerFunc{
		"/m1/streams/vid": replyBody("application/json", pipedSubs("/subs/tech.vtt", false, "en")),
		"/subs/tech.vtt":  replyBody("text/vtt", tech),
	})
	p := f.pool(t, "piped@SRV/m1", afero.NewMemMapFs())

	text, err := p.FetchSubtitles(context.Background(), NewVideoRef("vid"))
	require.NoError(t, err)
	assert.Contains(t, text, "503 Service Unavailable")
}

func TestMirrorPool_RejectsTruncatedAudio(t *testing.T) {
	fits := int(engine.DefaultMinAudioBytes) + 100
	f := newMirrorFixture(t, map[string]http.HandlerFunc{
		"/m1/streams/vid": replyBody("application/json", `{"audioStreams":[{"url":"/audio/huge","mimeType":"audio/mp4"}]}`),
		"/audio/huge":     replyBody("audio/mp4", strings.Repeat("a", fits+1)),
		"/m2/streams/vid": replyBody("application/json", `{"audioStreams":[{"url":"/audio/fits","mimeType":"audio/mp4"}]}`),
		"/audio/fits":     replyBody("audio/mp4", strings.Repeat("b", fits)),
	})
	fs := afero.NewMemMapFs()
	p := f.pool(t, "piped@SRV/m1,piped@SRV/m2", fs)
	p.maxAudio = int64(fits)

	art, err := p.FetchAudio(context.Background(), NewVideoRef("vid"))
	require.NoError(t, err)
	defer art.Release()

	assert.Equal(t, int64(fits), art.Size)
	assert.Equal(t, 1, f.count("/audio/huge"))
	files, err := afero.Glob(fs, "/tmp/audio/*")
	require.NoError(t, err)
	assert.Equal(t, []string{art.Path}, files, "the oversized download is deleted")
}

func TestNewMirrorPool_ShufflesPerRequest(t *testing.T) {
	eps, err := ParseMirrors("piped@https://a.example,piped@https://b.example,piped@https://c.example," +
		"invidious@https://d.example,invidious@https://e.example")
	require.NoError(t, err)
	reg := NewRegistry(eps)
	p := NewMirrorPool(reg, engine.NewHTTPFetcher(), afero.NewMemMapFs(), engine.Config{}.WithDefaults())

	want := reg.With(CapSubtitles)
	orders := map[string]bool{}
	for range 50 {
		got := p.shuffle(reg.With(CapSubtitles))
		assert.ElementsMatch(t, want, got)
		orders[fmt.Sprint(got)] = true
	}
	assert.Greater(t, len(orders), 1, "order must vary between requests")
	assert.Equal(t, want, reg.With(CapSubtitles), "registry order is never mutated")

	calls := 0
	p.shuffle = func(eps []MirrorEndpoint) []MirrorEndpoint {
		calls++
		return nil
	}
	for range 2 {
		_, err := p.FetchSubtitles(context.Background(), NewVideoRef("vid"))
		assert.True(t, engine.IsNotFound(err))
	}
	assert.Equal(t, 2, calls)
}

func TestMirrorPool_StopsOnCancel(t *testing.T) {
	f := newMirrorFixture(t, map[string]http.HandlerFunc{
		"/m1/streams/vid": replyStatus(http.StatusBadGateway),
	})
	p := f.pool(t, "piped@SRV/m1,piped@SRV/m1", afero.NewMemMapFs())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.FetchSubtitles(ctx, NewVideoRef("vid"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.count("/m1/streams/vid"))
}

func TestErrorPageReason(t *testing.T) {
	tests := []struct {
		name string
		body string
		bad  bool
	}{
		{"empty", "   ", true},
		{"gateway text", "502 Bad Gateway", true},
		{"cloudflare", `<div id="cf-error-details">`, true},
		{"html doctype", "<!doctype html><title>Oops</title>", true},
		{"json error", `{"error":"quota"}`, true},
		{"json message", `{"message":"not found"}`, true},
		{"json null error", `{"error":null,"subtitles":[]}`, false},
		{"json ok", `{"subtitles":[]}`, false},
		{"vtt", "WEBVTT\n\n00:00.000 --> 00:01.000\nhello", false},
		{"ttml", `<?xml version="1.0"?><tt><body><p>hi</p></body></tt>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, bad := errorPageReason([]byte(tt.body))
			assert.Equal(t, tt.bad, bad)
		})
	}
}

func TestDocumentErrorReason(t *testing.T) {
	tests := []struct {
		name string
		body string
		bad  bool
	}{
		{"empty", "\n", true},
		{"html page", "<!DOCTYPE html><html><title>502 Bad Gateway</title></html>", true},
		{"json error", `{"error":"Video unavailable"}`, true},
		{"caption quoting a marker", "WEBVTT\n\n00:00.000 --> 00:01.000\n503 Service Unavailable", false},
		{"plain text quoting a marker", "error code: 1020 is what Cloudflare shows", false},
		{"ttml", `<?xml version="1.0"?><tt><body><p>Bad Gateway</p></body></tt>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, bad := documentErrorReason([]byte(tt.body))
			assert.Equal(t, tt.bad, bad)
		})
	}
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "https://m.example/api/v1/captions/x?lang=en", resolveURL("https://m.example/", "/api/v1/captions/x?lang=en"))
	assert.Equal(t, "https://cdn.example/a.m4a", resolveURL("https://m.example", "https://cdn.example/a.m4a"))
}
