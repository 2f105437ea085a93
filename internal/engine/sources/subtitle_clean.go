package sources

import (
	"io"
	"regexp"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/net/html"
)

var (
	cueIndexRE = regexp.MustCompile(`^\d+$`)
	// inline karaoke timestamps: word<00:00:01.520><c> next</c>
	inlineTimeRE = regexp.MustCompile(`<\d{1,2}:[\d:.]+>`)
)

// subtitle header lines (WebVTT and the YouTube-flavoured variants mirrors pass through)
var headerPrefixes = []string{"WEBVTT", "Kind:", "Language:", "NOTE", "STYLE", "REGION"}

// cleanSubtitles turns a raw VTT/SRT/TTML body into plain prose:
// timing lines, headers and cue numbers are dropped, markup is stripped,
// repeated lines (rolling auto-captions) collapse to their first occurrence.
func cleanSubtitles(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "-->") || cueIndexRE.MatchString(line) || isHeaderLine(line) {
			continue
		}
		line = strings.Join(strings.Fields(stripMarkup(line)), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(dedupLines(kept), " ")
}

// dedupLines drops blank and repeated lines, keeping first-seen order.
// Applying it to its own output is a no-op.
func dedupLines(lines []string) []string {
	nonBlank := lo.Filter(lines, func(l string, _ int) bool {
		return strings.TrimSpace(l) != ""
	})
	return lo.Uniq(nonBlank)
}

func isHeaderLine(line string) bool {
	for _, p := range headerPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// stripMarkup removes tags and decodes entities once.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	s = inlineTimeRE.ReplaceAllString(s, " ")
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return sb.String()
			}
			return s
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			// VTT voice and timestamp tags (<v Speaker>, <00:01.000>) separate words
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		}
	}
}
