package hls

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"testing"
)

func mediaManifest(segments int, duration string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:5\n#EXT-X-MEDIA-SEQUENCE:0\n")
	for i := 0; i < segments; i++ {
		fmt.Fprintf(&b, "#EXTINF:%s,\nseg%04d.ts\n", duration, i)
	}
	b.WriteString("#EXT-X-ENDLIST")
	return b.String()
}

func TestCanBatch(t *testing.T) {
	rc := testContext()

	tests := []struct {
		name     string
		manifest string
		segments bool
		want     bool
	}{
		{"plain media playlist", mediaManifest(5, "4.0"), true, true},
		{"encrypted playlist", "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"k.key\"\n", true, false},
		{"discontinuity", "#EXTM3U\n#EXT-X-DISCONTINUITY\n", true, false},
		{"segment proxying disabled", mediaManifest(5, "4.0"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc.ProxySegments = tt.segments
			if got := CanBatch(tt.manifest, rc); got != tt.want {
				t.Errorf("CanBatch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRewriteBatchedMergesRuns(t *testing.T) {
	manifest := mediaManifest(25, "4.10000")
	got := RewriteBatched(manifest, testContext(), 10)
	lines := strings.Split(got, "\n")

	var concats, singles int
	for _, line := range lines {
		if strings.Contains(line, "concat=") {
			concats++
		} else if strings.Contains(line, "/hls?url=") {
			singles++
		}
	}

	// 25 segments at batch size 10: two full batches and one of 5.
	if concats != 3 {
		t.Fatalf("concat lines = %d, want 3", concats)
	}
	if singles != 0 {
		t.Errorf("unbatched segment lines = %d, want 0", singles)
	}

	// Full batches carry the summed duration.
	wantDur := "#EXTINF:" + strconv.FormatFloat(41.0, 'f', -1, 64) + ","
	if !strings.Contains(got, wantDur) {
		t.Errorf("summed duration %q missing in output", wantDur)
	}
}

func TestRewriteBatchedDurationSum(t *testing.T) {
	// Durations that accumulate floating point error when summed.
	manifest := "#EXTM3U\n"
	want := 0.0
	for i := 0; i < 3; i++ {
		manifest += "#EXTINF:4.00008,\nseg.ts\n"
		want += 4.00008
	}
	want = math.Round(want*1e5) / 1e5

	got := RewriteBatched(manifest, testContext(), 10)

	re := "#EXTINF:" + strconv.FormatFloat(want, 'f', -1, 64) + ","
	if !strings.Contains(got, re) {
		t.Errorf("output %q missing rounded duration line %q", got, re)
	}
}

func TestRewriteBatchedSingleSegmentKeepsRawDuration(t *testing.T) {
	manifest := "#EXTM3U\n#EXTINF:3.96700,\nonly.ts\n#EXT-X-ENDLIST"
	got := RewriteBatched(manifest, testContext(), 10)

	if !strings.Contains(got, "#EXTINF:3.96700,") {
		t.Errorf("single segment duration reformatted: %q", got)
	}
	if strings.Contains(got, "concat=") {
		t.Errorf("batch of one must not produce a concat URI: %q", got)
	}
	if !strings.Contains(got, "&kind=seg&") {
		t.Errorf("single segment not proxied: %q", got)
	}
}

func TestRewriteBatchedFlushesOnHeaderTags(t *testing.T) {
	// A target-duration tag mid-manifest must cut the batch.
	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXTINF:4.0,",
		"a.ts",
		"#EXTINF:4.0,",
		"b.ts",
		"#EXT-X-TARGETDURATION:5",
		"#EXTINF:4.0,",
		"c.ts",
	}, "\n")

	got := RewriteBatched(manifest, testContext(), 10)
	lines := strings.Split(got, "\n")

	// a+b merge into one concat of two, c stays single.
	var concatLine string
	for _, line := range lines {
		if strings.Contains(line, "concat=") {
			concatLine = line
		}
	}
	if concatLine == "" {
		t.Fatalf("no concat line in %q", got)
	}

	raw, err := url.ParseQuery(strings.TrimPrefix(concatLine, "/hls?"))
	if err != nil {
		t.Fatalf("bad concat URL: %v", err)
	}
	members := strings.Split(raw.Get("concat"), "|")
	if len(members) != 2 {
		t.Errorf("concat members = %d, want 2", len(members))
	}
	for _, m := range members {
		if !strings.HasPrefix(m, "https://cdn.example.com/live/") {
			t.Errorf("member not absolute upstream URL: %q", m)
		}
	}
}

func TestConcatURL(t *testing.T) {
	rc := testContext()
	urls := []string{"https://cdn.example.com/a.ts", "https://cdn.example.com/b.ts"}

	got := rc.ConcatURL(urls)
	if !strings.HasPrefix(got, "/hls?concat=") {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(got, url.QueryEscape(strings.Join(urls, "|"))) {
		t.Errorf("members not pipe-joined and escaped: %q", got)
	}
}
