// Package types defines core domain types used throughout the application.
package types

// Kind classifies what a proxied URL is expected to point at.
type Kind string

const (
	KindPlaylist Kind = "playlist"
	KindSegment  Kind = "seg"
	KindUnknown  Kind = ""
)

// ParseKind normalizes the kind query parameter. Both the short form
// used in rewritten manifests ("seg") and the long form ("segment")
// are accepted.
func ParseKind(s string) Kind {
	switch s {
	case "playlist":
		return KindPlaylist
	case "seg", "segment":
		return KindSegment
	default:
		return KindUnknown
	}
}

// ProxyRequest carries the forwarding context for one inbound /hls call.
// It is built once from the query string and never mutated afterwards.
type ProxyRequest struct {
	TargetURL     string
	Referer       string
	Cookie        string
	UserAgent     string
	DecryptMode   string
	Kind          Kind
	ProxySegments bool
	RangeHeader   string
}

// Subtitle is one caption track of a resolved stream.
type Subtitle struct {
	Language string `json:"language"`
	Label    string `json:"label"`
	URL      string `json:"url"`
}

// Quality is one selectable variant of a resolved stream.
type Quality struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
}

// StreamDescriptor is what providers hand back to callers. Every URL in
// it is already a proxy URL, never a raw upstream URL.
type StreamDescriptor struct {
	VideoURL  string            `json:"video_url"`
	Subtitles []Subtitle        `json:"subtitles"`
	Qualities []Quality         `json:"qualities"`
	Headers   map[string]string `json:"headers"`
}
