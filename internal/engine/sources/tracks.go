package sources

import "strings"

// SubtitleTrack is one caption track offered for a video.
type SubtitleTrack struct {
	LanguageCode  string
	Name          string
	URL           string
	AutoGenerated bool
}

// selectTrack picks a track by language priority: for each language a manual track
// beats an auto-generated one. When no language matches, the first track wins,
// auto-generated or not.
func selectTrack(tracks []SubtitleTrack, langs []string) (SubtitleTrack, bool) {
	if len(tracks) == 0 {
		return SubtitleTrack{}, false
	}
	for _, lang := range langs {
		var auto *SubtitleTrack
		for i := range tracks {
			if !strings.EqualFold(tracks[i].LanguageCode, lang) {
				continue
			}
			if !tracks[i].AutoGenerated {
				return tracks[i], true
			}
			if auto == nil {
				auto = &tracks[i]
			}
		}
		if auto != nil {
			return *auto, true
		}
	}
	return tracks[0], true
}
