package hls

import (
	"net/url"
	"strings"
	"testing"

	"stream-proxy-go/pkg/types"
)

func testContext() *RewriteContext {
	return &RewriteContext{
		ManifestURL:   "https://cdn.example.com/live/master.m3u8",
		Referer:       "https://net51.cc/",
		Cookie:        "hd=on",
		ProxySegments: true,
	}
}

func TestRewriteMasterPlaylist(t *testing.T) {
	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=1280x720",
		"chunklist_720.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=1600000,RESOLUTION=1920x1080",
		"https://other.example.com/chunklist_1080.m3u8",
	}, "\n")

	got := Rewrite(manifest, testContext())
	lines := strings.Split(got, "\n")

	if len(lines) != 5 {
		t.Fatalf("line count changed: %d", len(lines))
	}
	if lines[0] != "#EXTM3U" || !strings.HasPrefix(lines[1], "#EXT-X-STREAM-INF") {
		t.Errorf("structural lines altered: %q, %q", lines[0], lines[1])
	}

	want := "/hls?url=" + url.QueryEscape("https://cdn.example.com/live/chunklist_720.m3u8") +
		"&kind=playlist&referer=" + url.QueryEscape("https://net51.cc/") + "&cookie=" + url.QueryEscape("hd=on")
	if lines[2] != want {
		t.Errorf("relative variant:\n got %q\nwant %q", lines[2], want)
	}

	if !strings.Contains(lines[4], url.QueryEscape("https://other.example.com/chunklist_1080.m3u8")) {
		t.Errorf("absolute variant not wrapped: %q", lines[4])
	}
}

func TestRewriteMediaPlaylistSegments(t *testing.T) {
	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:4",
		"#EXTINF:4.0,",
		"seg0001.ts",
		"#EXTINF:4.0,",
		"/abs/seg0002.ts",
	}, "\n")

	got := Rewrite(manifest, testContext())
	lines := strings.Split(got, "\n")

	if !strings.Contains(lines[3], "&kind=seg&") {
		t.Errorf("segment not marked as seg kind: %q", lines[3])
	}
	if !strings.Contains(lines[3], url.QueryEscape("https://cdn.example.com/live/seg0001.ts")) {
		t.Errorf("relative segment not resolved: %q", lines[3])
	}
	if !strings.Contains(lines[5], url.QueryEscape("https://cdn.example.com/abs/seg0002.ts")) {
		t.Errorf("root-relative segment not resolved: %q", lines[5])
	}
}

func TestRewriteKeyTags(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			"quoted key uri",
			`#EXT-X-KEY:METHOD=AES-128,URI="keys/k.key",IV=0x0123`,
			url.QueryEscape("https://cdn.example.com/live/keys/k.key"),
		},
		{
			"unquoted uri",
			`#EXT-X-MAP:URI=init.mp4`,
			url.QueryEscape("https://cdn.example.com/live/init.mp4"),
		},
		{
			"keyformaturi",
			`#EXT-X-SESSION-KEY:KEYFORMATURI="https://drm.example.com/cert"`,
			url.QueryEscape("https://drm.example.com/cert"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rewrite(tt.line, testContext())
			if !strings.Contains(got, tt.want) {
				t.Errorf("Rewrite(%q) = %q, missing %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestRewriteIdempotent(t *testing.T) {
	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-KEY:METHOD=AES-128,URI=\"keys/k.key\"",
		"#EXTINF:4.0,",
		"seg0001.ts",
		"#EXTINF:4.0,",
		"chunk.m3u8",
	}, "\n")

	rc := testContext()
	once := Rewrite(manifest, rc)
	twice := Rewrite(once, rc)

	if once != twice {
		t.Errorf("rewrite not idempotent:\n once %q\ntwice %q", once, twice)
	}
}

func TestRewriteLeavesProxiedLinesAlone(t *testing.T) {
	line := "/hls?url=https%3A%2F%2Fcdn.example.com%2Fa.ts&kind=seg&referer=&cookie="
	if got := Rewrite(line, testContext()); got != line {
		t.Errorf("already-proxied line changed: %q", got)
	}
}

func TestRewriteProxySegmentsDisabled(t *testing.T) {
	rc := testContext()
	rc.ProxySegments = false

	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXTINF:4.0,",
		"seg0001.ts",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000",
		"chunk.m3u8",
	}, "\n")

	got := Rewrite(manifest, rc)
	lines := strings.Split(got, "\n")

	if lines[2] != "https://cdn.example.com/live/seg0001.ts" {
		t.Errorf("segment should be bare absolute: %q", lines[2])
	}
	if !strings.HasPrefix(lines[4], "/hls?") {
		t.Errorf("playlist should still be wrapped: %q", lines[4])
	}
	if !strings.Contains(lines[4], "&proxy_segments=false") {
		t.Errorf("wrapped playlist must propagate proxy_segments=false: %q", lines[4])
	}
}

func TestRewriteQueryOnlyReference(t *testing.T) {
	got := Rewrite("?type=audio", testContext())
	if !strings.Contains(got, url.QueryEscape("https://cdn.example.com/live/master.m3u8?type=audio")) {
		t.Errorf("query-only reference not resolved: %q", got)
	}
}

func TestSuffixIncludesOptionalFields(t *testing.T) {
	rc := testContext()
	rc.UserAgent = "CustomUA/1.0"
	rc.DecryptMode = "kartoons"

	got := rc.WrapProxy("https://cdn.example.com/a.m3u8", types.KindPlaylist)
	for _, part := range []string{"&ua=CustomUA%2F1.0", "&decrypt=kartoons"} {
		if !strings.Contains(got, part) {
			t.Errorf("missing %q in %q", part, got)
		}
	}
}

func TestWrapProxyWithBaseURL(t *testing.T) {
	rc := testContext()
	rc.BaseURL = "https://proxy.example.com"

	got := rc.WrapProxy("https://cdn.example.com/a.m3u8", types.KindPlaylist)
	if !strings.HasPrefix(got, "https://proxy.example.com/hls?") {
		t.Errorf("got %q", got)
	}
	if rc.WrapProxy(got, types.KindPlaylist) != got {
		t.Error("absolute proxy URL re-wrapped")
	}
}

func TestBlankAndCommentLinesPreserved(t *testing.T) {
	manifest := "#EXTM3U\n\n# custom comment\nseg.ts"
	got := Rewrite(manifest, testContext())
	lines := strings.Split(got, "\n")

	if lines[1] != "" || lines[2] != "# custom comment" {
		t.Errorf("blank/comment lines altered: %q, %q", lines[1], lines[2])
	}
}
