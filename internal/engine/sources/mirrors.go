package sources

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Dialect is the API flavour a mirror speaks.
type Dialect string

const (
	DialectPiped     Dialect = "piped"     // GET /streams/{id}
	DialectInvidious Dialect = "invidious" // GET /api/v1/captions/{id}, /api/v1/videos/{id}
)

// Capability is what a mirror is trusted to serve.
type Capability uint8

const (
	CapSubtitles Capability = 1 << iota
	CapAudio

	CapCombined = CapSubtitles | CapAudio
)

// MirrorEndpoint is one redundant third-party node. Immutable after start-up.
type MirrorEndpoint struct {
	Dialect Dialect
	BaseURL string
	Caps    Capability
}

// Has reports whether the endpoint declares capability c.
func (m MirrorEndpoint) Has(c Capability) bool { return m.Caps&c == c }

func (m MirrorEndpoint) String() string {
	host := m.BaseURL
	if u, err := url.Parse(m.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return string(m.Dialect) + "@" + host
}

// DefaultMirrors is used when MIRRORS is unset. Public instances come and go;
// operators are expected to override this list.
const DefaultMirrors = "piped@https://pipedapi.kavin.rocks," +
	"piped@https://pipedapi.adminforge.de," +
	"piped/subtitles@https://api.piped.private.coffee," +
	"invidious@https://inv.nadeko.net," +
	"invidious@https://invidious.nerdvpn.de," +
	"invidious/subtitles@https://yewtu.be"

// ParseMirrors parses a comma-separated list of `dialect[/capability]@baseURL`
// entries. Capability is one of subtitles, audio, combined (default combined).
func ParseMirrors(raw string) ([]MirrorEndpoint, error) {
	var out []MirrorEndpoint
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		ep, err := parseMirror(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("mirrors: no endpoints in %q", raw)
	}
	return out, nil
}

func parseMirror(entry string) (MirrorEndpoint, error) {
	head, base, ok := strings.Cut(entry, "@")
	if !ok {
		return MirrorEndpoint{}, fmt.Errorf("mirrors: %q: want dialect[/capability]@url", entry)
	}
	dialect, capName, _ := strings.Cut(head, "/")

	ep := MirrorEndpoint{Dialect: Dialect(strings.ToLower(dialect)), BaseURL: strings.TrimRight(base, "/")}
	switch ep.Dialect {
	case DialectPiped, DialectInvidious:
	default:
		return MirrorEndpoint{}, fmt.Errorf("mirrors: %q: unknown dialect %q", entry, dialect)
	}
	switch strings.ToLower(capName) {
	case "", "combined":
		ep.Caps = CapCombined
	case "subtitles":
		ep.Caps = CapSubtitles
	case "audio":
		ep.Caps = CapAudio
	default:
		return MirrorEndpoint{}, fmt.Errorf("mirrors: %q: unknown capability %q", entry, capName)
	}
	u, err := url.Parse(ep.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return MirrorEndpoint{}, fmt.Errorf("mirrors: %q: bad base url", entry)
	}
	return ep, nil
}

// Registry is the read-only mirror pool, shared by all concurrent requests.
type Registry struct {
	endpoints []MirrorEndpoint
}

// NewRegistry copies eps into an immutable registry.
func NewRegistry(eps []MirrorEndpoint) *Registry {
	return &Registry{endpoints: slices.Clone(eps)}
}

// Len returns the pool size.
func (r *Registry) Len() int { return len(r.endpoints) }

// With returns a fresh slice of the endpoints declaring capability c.
// Callers may reorder it freely.
func (r *Registry) With(c Capability) []MirrorEndpoint {
	return lo.Filter(r.endpoints, func(ep MirrorEndpoint, _ int) bool {
		return ep.Has(c)
	})
}
