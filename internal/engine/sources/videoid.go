package sources

import (
	"regexp"
	"strings"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// VideoRef identifies one video. ID is opaque; its length is not validated.
type VideoRef struct {
	ID  string
	URL string // canonical watch URL
}

var (
	// ...watch?v=<id>&... (query-parameter form)
	queryIDRE = regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]+)`)
	// .../<id>?... (path-segment form)
	pathIDRE = regexp.MustCompile(`(?:youtu\.be/|youtube(?:-nocookie)?\.com/(?:shorts|live|embed|v)/)([A-Za-z0-9_-]+)`)
)

// IsVideoURL reports whether text mentions a supported video host.
// Messages that don't are ignored by the inbound adapters.
func IsVideoURL(text string) bool {
	return strings.Contains(text, "youtube.com") || strings.Contains(text, "youtu.be")
}

// ParseVideoRef extracts the video id from a URL or a message containing one.
func ParseVideoRef(text string) (VideoRef, error) {
	text = strings.TrimSpace(text)
	for _, re := range []*regexp.Regexp{queryIDRE, pathIDRE} {
		if m := re.FindStringSubmatch(text); len(m) >= 2 {
			return NewVideoRef(m[1]), nil
		}
	}
	return VideoRef{}, engine.ErrUnrecognizedURL
}

// NewVideoRef builds a reference from a bare id.
func NewVideoRef(id string) VideoRef {
	return VideoRef{ID: id, URL: "https://www.youtube.com/watch?v=" + id}
}
