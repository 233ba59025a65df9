package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"stream-proxy-go/pkg/fetch"
	"stream-proxy-go/pkg/hls"
	"stream-proxy-go/pkg/sniff"
	"stream-proxy-go/pkg/subtitles"
	"stream-proxy-go/pkg/types"

	"golang.org/x/sync/errgroup"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// handleHLS is the manifest/segment proxy entry point. It fetches the
// target with the forwarded auth context, classifies the response and
// either rewrites it (playlists), converts it (SRT subtitles) or
// streams it through (binary segments).
func (h *Handlers) handleHLS(w http.ResponseWriter, r *http.Request) {
	req := h.parseProxyRequest(r)

	if concat := r.URL.Query().Get("concat"); concat != "" {
		h.handleConcat(w, r, req, concat)
		return
	}

	if req.TargetURL == "" {
		h.writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}

	policy := fetch.DefaultPolicy
	if req.Kind == types.KindPlaylist {
		policy = fetch.PlaylistPolicy
	}

	resp, err := h.fetcher.Fetch(r.Context(), req.TargetURL, fetch.Options{
		Referer:     req.Referer,
		Cookie:      req.Cookie,
		UserAgent:   req.UserAgent,
		RangeHeader: req.RangeHeader,
		Policy:      policy,
	})
	if err != nil {
		if fetch.IsAborted(err) {
			h.log.Debug("client aborted hls request", "url", req.TargetURL)
			return
		}
		h.log.Error("upstream fetch failed", "url", req.TargetURL, "error", err)
		h.writeError(w, http.StatusBadGateway, "failed to fetch upstream")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.log.Error("upstream returned error", "url", req.TargetURL, "status", resp.StatusCode)
		h.writeError(w, resp.StatusCode, fmt.Sprintf("upstream returned %d", resp.StatusCode))
		return
	}

	contentType := resp.Header.Get("Content-Type")

	// Subtitles win over every other classification.
	if sniff.IsSubtitle(req.TargetURL, contentType) {
		h.serveSubtitle(w, resp.Body)
		return
	}

	if req.Kind == types.KindPlaylist || sniff.IsPlaylistURL(req.TargetURL, contentType) {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			h.writeError(w, http.StatusBadGateway, "failed to read upstream body")
			return
		}
		if !sniff.LooksLikePlaylist(body) {
			// Upstream error pages arrive with HTTP 200; expose a bounded
			// preview so callers can see what actually came back.
			preview := string(body)
			if len(preview) > 300 {
				preview = preview[:300]
			}
			h.log.Error("expected playlist, got something else", "url", req.TargetURL, "preview", preview)
			h.writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":   "upstream did not return a playlist",
				"preview": preview,
			})
			return
		}
		h.servePlaylist(w, string(body), req)
		return
	}

	if sniff.CanProbe(req.TargetURL, contentType, resp.ContentLength, req.Kind) {
		probe, err := io.ReadAll(io.LimitReader(resp.Body, sniff.MaxProbeSize))
		if err != nil {
			h.writeError(w, http.StatusBadGateway, "failed to read upstream body")
			return
		}
		if sniff.LooksLikePlaylist(probe) {
			rest, err := io.ReadAll(resp.Body)
			if err != nil {
				h.writeError(w, http.StatusBadGateway, "failed to read upstream body")
				return
			}
			h.servePlaylist(w, string(probe)+string(rest), req)
			return
		}
		// Not a manifest after all; reassemble and stream as binary.
		h.serveBinary(w, r, resp, req, io.MultiReader(bytes.NewReader(probe), resp.Body))
		return
	}

	h.serveBinary(w, r, resp, req, resp.Body)
}

// servePlaylist rewrites and emits a manifest. Closed VOD playlists are
// cacheable; live ones must not be.
func (h *Handlers) servePlaylist(w http.ResponseWriter, manifest string, req *types.ProxyRequest) {
	rc := &hls.RewriteContext{
		ManifestURL:   req.TargetURL,
		Referer:       req.Referer,
		Cookie:        req.Cookie,
		UserAgent:     req.UserAgent,
		DecryptMode:   req.DecryptMode,
		ProxySegments: req.ProxySegments,
	}

	var rewritten string
	if h.cfg.BatchSegments && hls.CanBatch(manifest, rc) {
		rewritten = hls.RewriteBatched(manifest, rc, h.cfg.BatchSize)
	} else {
		rewritten = hls.Rewrite(manifest, rc)
	}

	w.Header().Set("Content-Type", playlistContentType)
	if strings.Contains(manifest, "#EXT-X-ENDLIST") {
		w.Header().Set("Cache-Control", "public, max-age=14400")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	io.WriteString(w, rewritten)
}

// serveSubtitle converts SRT to WebVTT; text already in VTT form passes
// through unchanged.
func (h *Handlers) serveSubtitle(w http.ResponseWriter, body io.Reader) {
	text, err := io.ReadAll(io.LimitReader(body, 16<<20))
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "failed to read subtitle body")
		return
	}

	out := string(text)
	if !strings.HasPrefix(strings.TrimSpace(out), "WEBVTT") {
		out = subtitles.SRTToVTT(out)
	}

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	io.WriteString(w, out)
}

// serveBinary streams a segment or other opaque body through, forwarding
// range metadata. Ranged responses are not cacheable as a whole.
func (h *Handlers) serveBinary(w http.ResponseWriter, r *http.Request, resp *http.Response, req *types.ProxyRequest, body io.Reader) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	for _, header := range []string{"Content-Range", "Accept-Ranges", "Content-Length"} {
		if v := resp.Header.Get(header); v != "" {
			w.Header().Set(header, v)
		}
	}

	if req.RangeHeader != "" || resp.StatusCode == http.StatusPartialContent {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}

	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, body); err != nil {
		if fetch.IsAborted(err) || r.Context().Err() != nil {
			h.log.Debug("client aborted segment stream", "url", req.TargetURL)
			return
		}
		h.log.Error("segment stream failed", "url", req.TargetURL, "error", err)
	}
}

// handleConcat fetches all members of a merged segment batch in
// parallel and returns them as one ordered buffer.
func (h *Handlers) handleConcat(w http.ResponseWriter, r *http.Request, req *types.ProxyRequest, concat string) {
	// Concat units only exist behind the proxy; with segment proxying
	// disabled the request is contradictory.
	if !req.ProxySegments {
		h.writeError(w, http.StatusBadRequest, "concat requires proxied segments")
		return
	}

	urls := strings.Split(concat, "|")
	if len(urls) == 0 {
		h.writeError(w, http.StatusBadRequest, "empty concat list")
		return
	}
	if len(urls) > h.cfg.ConcatMax {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("concat list exceeds %d segments", h.cfg.ConcatMax))
		return
	}

	parts := make([][]byte, len(urls))
	g, ctx := errgroup.WithContext(r.Context())

	for i, u := range urls {
		g.Go(func() error {
			resp, err := h.fetcher.Fetch(ctx, u, fetch.Options{
				Referer:   req.Referer,
				Cookie:    req.Cookie,
				UserAgent: req.UserAgent,
				Policy:    fetch.DefaultPolicy,
			})
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("segment %d: upstream returned %d", i, resp.StatusCode)
			}

			parts[i], err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if fetch.IsAborted(err) {
			h.log.Debug("client aborted concat request")
			return
		}
		h.log.Error("concat fetch failed", "error", err)
		h.writeError(w, http.StatusBadGateway, "failed to fetch concat segments")
		return
	}

	total := 0
	for _, part := range parts {
		total += len(part)
	}

	// Merged batches are immutable; let downstream caches keep them.
	w.Header().Set("Content-Type", "video/MP2T")
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("Content-Length", strconv.Itoa(total))

	for _, part := range parts {
		if _, err := w.Write(part); err != nil {
			h.log.Debug("client aborted concat write")
			return
		}
	}
}

// parseProxyRequest builds the immutable forwarding context from the
// query string, applying configured defaults where the caller sent
// nothing.
func (h *Handlers) parseProxyRequest(r *http.Request) *types.ProxyRequest {
	q := r.URL.Query()

	referer := q.Get("referer")
	if referer == "" {
		referer = h.cfg.DefaultReferer
	}
	cookie := q.Get("cookie")
	if cookie == "" {
		cookie = h.cfg.DefaultCookie
	}

	return &types.ProxyRequest{
		TargetURL:     q.Get("url"),
		Referer:       referer,
		Cookie:        cookie,
		UserAgent:     q.Get("ua"),
		DecryptMode:   q.Get("decrypt"),
		Kind:          types.ParseKind(q.Get("kind")),
		ProxySegments: q.Get("proxy_segments") != "false",
		RangeHeader:   r.Header.Get("Range"),
	}
}
