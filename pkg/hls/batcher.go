package hls

import (
	"math"
	"strconv"
	"strings"

	"stream-proxy-go/pkg/tokens"
	"stream-proxy-go/pkg/types"
)

// DefaultBatchSize is the number of adjacent segments merged into one
// concat unit. Empirically chosen; override through configuration.
const DefaultBatchSize = 10

// ConcatMaxSegments caps the member count a concat request will fan out
// to, bounding worst-case upstream load.
const ConcatMaxSegments = 20

type batchedSegment struct {
	durationStr string
	duration    float64
	url         string
}

// CanBatch reports whether a manifest qualifies for segment batching.
// Merging across a key or discontinuity boundary would corrupt playback,
// so the presence of either tag disqualifies the whole manifest; so does
// disabled segment proxying, since concat units only exist behind the
// proxy.
func CanBatch(manifest string, rc *RewriteContext) bool {
	return rc.ProxySegments &&
		!strings.Contains(manifest, "#EXT-X-KEY") &&
		!strings.Contains(manifest, "#EXT-X-DISCONTINUITY")
}

// RewriteBatched rewrites a media playlist while grouping runs of
// adjacent segments into merged concat units. This is the one transform
// allowed to change line count: N EXTINF+URI pairs legally collapse to
// a single pair. Everything else follows Rewrite.
func RewriteBatched(manifest string, rc *RewriteContext, batchSize int) string {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	lines := strings.Split(manifest, "\n")
	out := make([]string, 0, len(lines))
	var buffer []batchedSegment

	flush := func() {
		switch {
		case len(buffer) == 0:
		case len(buffer) == 1:
			out = append(out, "#EXTINF:"+buffer[0].durationStr+",")
			out = append(out, rc.WrapProxy(buffer[0].url, types.KindSegment))
		default:
			var total float64
			urls := make([]string, 0, len(buffer))
			for _, seg := range buffer {
				total += seg.duration
				urls = append(urls, seg.url)
			}
			// Round to 5 decimals to bound floating point drift.
			total = math.Round(total*1e5) / 1e5
			out = append(out, "#EXTINF:"+strconv.FormatFloat(total, 'f', -1, 64)+",")
			out = append(out, rc.ConcatURL(urls))
		}
		buffer = buffer[:0]
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if strings.HasPrefix(line, "#EXTINF:") {
			durStr := extinfDuration(line)
			dur, err := strconv.ParseFloat(durStr, 64)

			// Look ahead for the segment URI, skipping blanks and
			// non-standard comments.
			j := i + 1
			for j < len(lines) && (strings.TrimSpace(lines[j]) == "" ||
				(strings.HasPrefix(lines[j], "#") && !strings.HasPrefix(lines[j], "#EXT"))) {
				j++
			}

			if err == nil && j < len(lines) && !strings.HasPrefix(lines[j], "#") {
				abs := rc.resolve(tokens.DecryptInline(strings.TrimSpace(lines[j])))
				buffer = append(buffer, batchedSegment{durationStr: durStr, duration: dur, url: abs})
				i = j

				if len(buffer) >= batchSize {
					flush()
				}
				continue
			}

			flush()
			out = append(out, line)
			continue
		}

		if !strings.HasPrefix(line, "#") && strings.TrimSpace(line) != "" {
			// URI without a preceding EXTINF; emit it unbatched.
			flush()
			out = append(out, rewriteLine(line, rc))
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-TARGETDURATION") || strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE") {
			flush()
		}

		if strings.HasPrefix(line, "#") {
			out = append(out, rewriteTagLine(line, rc))
		} else {
			out = append(out, line)
		}
	}
	flush()

	return strings.Join(out, "\n")
}

// extinfDuration extracts the duration field of an #EXTINF line.
func extinfDuration(line string) string {
	rest := strings.TrimPrefix(line, "#EXTINF:")
	if idx := strings.Index(rest, ","); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}
