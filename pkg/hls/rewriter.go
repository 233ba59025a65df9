// Package hls rewrites M3U8 playlists so every media, key and
// sub-playlist reference is tunneled back through the proxy, carrying
// the forwarding context the browser cannot attach itself.
package hls

import (
	"net/url"
	"regexp"
	"strings"

	"stream-proxy-go/pkg/tokens"
	"stream-proxy-go/pkg/types"
	"stream-proxy-go/pkg/urlutil"
)

// ProxyPath is the manifest/segment proxy endpoint all rewritten URIs
// point at.
const ProxyPath = "/hls"

var (
	uriAttrQuoted = regexp.MustCompile(`(?i)(URI|KEYFORMATURI)="([^"]+)"`)
	uriAttrBare   = regexp.MustCompile(`(?i)(URI|KEYFORMATURI)=([^,\s"]+)`)
	absoluteURL   = regexp.MustCompile(`(?i)^https?://`)
)

// RewriteContext carries everything one rewrite pass needs: the
// manifest's own fetch URL (resolution base for relative references)
// and the forwarding fields of the active proxy request.
type RewriteContext struct {
	// ManifestURL is the original upstream URL the manifest was fetched
	// from. Relative references resolve against it, never against the
	// proxy's own URL.
	ManifestURL string

	// BaseURL optionally prefixes generated proxy URLs with an absolute
	// origin. Empty emits origin-relative URLs.
	BaseURL string

	Referer     string
	Cookie      string
	UserAgent   string
	DecryptMode string

	// ProxySegments controls whether segment-kind URLs are wrapped. When
	// false, segments are emitted as bare absolute upstream URLs while
	// playlists are still wrapped.
	ProxySegments bool
}

// suffix builds the forwarding query parameters appended to every
// generated proxy URL.
func (rc *RewriteContext) suffix() string {
	var b strings.Builder
	b.WriteString("&referer=")
	b.WriteString(url.QueryEscape(rc.Referer))
	b.WriteString("&cookie=")
	b.WriteString(url.QueryEscape(rc.Cookie))
	if rc.UserAgent != "" {
		b.WriteString("&ua=")
		b.WriteString(url.QueryEscape(rc.UserAgent))
	}
	if rc.DecryptMode != "" {
		b.WriteString("&decrypt=")
		b.WriteString(url.QueryEscape(rc.DecryptMode))
	}
	if !rc.ProxySegments {
		b.WriteString("&proxy_segments=false")
	}
	return b.String()
}

// isProxied reports whether a reference already points at this proxy.
// Rewriting such a reference again would wrap it recursively.
func (rc *RewriteContext) isProxied(ref string) bool {
	for _, p := range []string{ProxyPath + "?", "/proxy?"} {
		if strings.HasPrefix(ref, p) {
			return true
		}
		if rc.BaseURL != "" && strings.HasPrefix(ref, rc.BaseURL+p) {
			return true
		}
	}
	return false
}

// resolve turns a possibly relative reference into an absolute upstream
// URL. Already-proxied references pass through untouched.
func (rc *RewriteContext) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if rc.isProxied(ref) || absoluteURL.MatchString(ref) {
		return ref
	}
	return urlutil.ResolveURL(ref, rc.ManifestURL)
}

// WrapProxy turns an absolute upstream URL into a proxy URL of the
// given kind. KindUnknown infers playlist/segment from the URL shape.
// Segment URLs are left bare when segment proxying is disabled.
func (rc *RewriteContext) WrapProxy(abs string, kind types.Kind) string {
	if rc.isProxied(abs) {
		return abs
	}
	if kind == types.KindUnknown {
		if strings.Contains(strings.ToLower(abs), "m3u8") {
			kind = types.KindPlaylist
		} else {
			kind = types.KindSegment
		}
	}
	if !rc.ProxySegments && kind == types.KindSegment {
		return abs
	}
	return rc.BaseURL + ProxyPath + "?url=" + url.QueryEscape(abs) + "&kind=" + string(kind) + rc.suffix()
}

// ConcatURL builds the synthetic URI for a merged segment batch. Member
// upstream URLs are pipe-delimited inside the concat parameter.
func (rc *RewriteContext) ConcatURL(urls []string) string {
	return rc.BaseURL + ProxyPath + "?concat=" + url.QueryEscape(strings.Join(urls, "|")) + rc.suffix()
}

// Rewrite transforms a playlist line by line. Line count and ordering
// are preserved; only URI substitution happens in place. The transform
// is idempotent: rewriting already-rewritten output yields the same
// output.
func Rewrite(manifest string, rc *RewriteContext) string {
	lines := strings.Split(manifest, "\n")
	for i, line := range lines {
		lines[i] = rewriteLine(line, rc)
	}
	return strings.Join(lines, "\n")
}

func rewriteLine(line string, rc *RewriteContext) string {
	if strings.TrimSpace(line) == "" {
		return line
	}
	if strings.HasPrefix(line, "#") {
		return rewriteTagLine(line, rc)
	}

	trimmed := strings.TrimSpace(line)
	if rc.isProxied(trimmed) {
		return trimmed
	}
	abs := rc.resolve(tokens.DecryptInline(trimmed))
	return rc.WrapProxy(abs, types.KindUnknown)
}

// rewriteTagLine rewrites URI attributes inside tag lines (#EXT-X-KEY,
// #EXT-X-MAP, #EXT-X-MEDIA, #EXT-X-I-FRAME-STREAM-INF, ...). Embedded
// tokens anywhere in the line are decrypted first so odd tag formats
// cannot leak a token to the client.
func rewriteTagLine(line string, rc *RewriteContext) string {
	out := tokens.DecryptInline(line)

	out = uriAttrQuoted.ReplaceAllStringFunc(out, func(match string) string {
		sub := uriAttrQuoted.FindStringSubmatch(match)
		key, uri := sub[1], sub[2]
		if rc.isProxied(uri) {
			return match
		}
		abs := rc.resolve(tokens.DecryptInline(uri))
		return key + `="` + rc.WrapProxy(abs, types.KindUnknown) + `"`
	})

	// Second pass for the unquoted URI=value form, terminated by comma
	// or whitespace. Values handled by the quoted pass no longer match.
	out = uriAttrBare.ReplaceAllStringFunc(out, func(match string) string {
		sub := uriAttrBare.FindStringSubmatch(match)
		key, uri := sub[1], sub[2]
		if rc.isProxied(uri) {
			return match
		}
		abs := rc.resolve(tokens.DecryptInline(uri))
		return key + "=" + rc.WrapProxy(abs, types.KindUnknown)
	})

	return out
}
