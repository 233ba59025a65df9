// Package sniff classifies upstream responses as playlist, segment,
// subtitle or opaque binary. Upstream hosts frequently serve manifests
// without .m3u8 extensions or correct content types (some return error
// pages with HTTP 200 for blocked segment requests), so classification
// falls back to a bounded text probe when cheaper signals are absent.
package sniff

import (
	"regexp"
	"strings"

	"stream-proxy-go/pkg/types"
)

// MaxProbeSize bounds the text probe; larger bodies are never buffered
// for sniffing.
const MaxProbeSize = 2_000_000

var (
	contentTypePlaylist = regexp.MustCompile(`(?i)mpegurl|m3u8`)
	playlistMarker      = regexp.MustCompile(`(?m)^#EXTM3U\b`)
)

var segmentMarkers = []string{
	".ts", ".m4s", ".mp4", ".mkv", ".aac", ".mp3", ".key", "/segment/",
}

// IsSubtitle reports whether the response is an SRT subtitle, which is
// detected regardless of any other classification.
func IsSubtitle(url, contentType string) bool {
	return strings.Contains(strings.ToLower(url), ".srt") ||
		strings.Contains(strings.ToLower(contentType), "subrip")
}

// IsPlaylistURL reports whether the URL or declared content type alone
// identify a playlist.
func IsPlaylistURL(url, contentType string) bool {
	return strings.Contains(strings.ToLower(url), ".m3u8") ||
		contentTypePlaylist.MatchString(contentType)
}

// IsSegmentURL reports whether the URL looks like a media segment or
// key. Such responses are never probed as text.
func IsSegmentURL(url string) bool {
	lower := strings.ToLower(url)
	for _, marker := range segmentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// CanProbe reports whether the body may be peeked at as text: the URL
// must not look like a segment, the length must be unknown or within
// MaxProbeSize, the declared type must not be an opaque octet stream,
// and the caller must not have forced the segment kind.
func CanProbe(url, contentType string, contentLength int64, forced types.Kind) bool {
	if forced == types.KindSegment {
		return false
	}
	if IsSegmentURL(url) {
		return false
	}
	if contentLength > MaxProbeSize {
		return false
	}
	return !strings.Contains(strings.ToLower(contentType), "application/octet-stream")
}

// LooksLikePlaylist reports whether probed text carries the manifest
// marker at a line start.
func LooksLikePlaylist(probe []byte) bool {
	return playlistMarker.Match(probe)
}
