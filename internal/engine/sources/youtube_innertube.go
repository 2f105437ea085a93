package sources

import (
	"encoding/xml"
	"html"
	"strings"
)

// YouTube Innertube API: low-level constants and wire types.
// Fetch logic lives in youtube_transcript.go.

const (
	ytWatchURL       = "https://www.youtube.com/watch?v="
	ytPlayerURL      = "https://www.youtube.com/youtubei/v1/player"
	ytAndroidVersion = "20.10.38"
	ytAndroidUA      = "com.google.android.youtube/" + ytAndroidVersion + " (Linux; U; Android 11) gzip"

	// ytInitialPlayerResponseMarker marks the start of the player response JSON in watch page HTML.
	ytInitialPlayerResponseMarker = "ytInitialPlayerResponse = "
)

// --- ANDROID client types (/player endpoint) ---

type innertubeReq struct {
	VideoID        string       `json:"videoId"`
	Context        innertubeCtx `json:"context"`
	RacyCheckOk    bool         `json:"racyCheckOk"`
	ContentCheckOk bool         `json:"contentCheckOk"`
}

type innertubeCtx struct {
	Client innertubeClient `json:"client"`
}

type innertubeClient struct {
	ClientName        string `json:"clientName"`
	ClientVersion     string `json:"clientVersion"`
	AndroidSdkVersion int    `json:"androidSdkVersion,omitempty"`
	Hl                string `json:"hl,omitempty"`
	Gl                string `json:"gl,omitempty"`
}

type innertubePlayerResp struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
	Name         struct {
		SimpleText string `json:"simpleText"`
	} `json:"name"`
}

// tracks converts the player's caption list, skipping tracks that need a PoToken.
func (r innertubePlayerResp) tracks() []SubtitleTrack {
	if r.Captions == nil {
		return nil
	}
	var out []SubtitleTrack
	for _, ct := range r.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks {
		if needsPoToken(ct.BaseURL) {
			continue
		}
		out = append(out, SubtitleTrack{
			LanguageCode:  ct.LanguageCode,
			Name:          ct.Name.SimpleText,
			URL:           ct.BaseURL,
			AutoGenerated: ct.Kind == "asr",
		})
	}
	return out
}

func (r innertubePlayerResp) reason() string {
	if r.PlayabilityStatus == nil {
		return ""
	}
	return r.PlayabilityStatus.Reason
}

// needsPoToken reports whether a caption track URL requires a PoToken (browser-only).
// Tracks with &exp=xpe cannot be fetched server-side.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// --- Timedtext XML types ---

// ytTimedText covers both the legacy <transcript><text> and srv3 <timedtext><body><p> layouts.
type ytTimedText struct {
	Lines []ytLine `xml:"text"`
	Paras []ytLine `xml:"body>p"`
}

type ytLine struct {
	Text string `xml:",innerxml"`
}

// parseTimedText joins caption segments with single spaces.
func parseTimedText(body []byte) (string, error) {
	var tt ytTimedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", err
	}
	lines := tt.Lines
	if len(lines) == 0 {
		lines = tt.Paras
	}
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		// Segment text arrives double-escaped (&amp;#39;) and may carry <s>/<font> spans.
		text := html.UnescapeString(stripMarkup(l.Text))
		text = strings.Join(strings.Fields(text), " ")
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// extractJSON returns the first balanced JSON object at the start of b.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr, escaped := false, false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}
