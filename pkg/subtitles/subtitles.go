// Package subtitles converts SRT captions to WebVTT for browser playback.
package subtitles

import (
	"regexp"
	"strings"
)

var srtTimestamp = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2}),(\d{3})`)

// SRTToVTT converts SRT text to WebVTT: line endings are normalized,
// comma millisecond separators become periods, and the WEBVTT header is
// prepended. Cue numbering is left alone; players accept it as cue
// identifiers.
func SRTToVTT(srt string) string {
	text := strings.ReplaceAll(srt, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = srtTimestamp.ReplaceAllString(text, "$1:$2:$3.$4")
	return "WEBVTT\n\n" + strings.TrimSpace(text)
}
