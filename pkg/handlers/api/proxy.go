package api

import (
	"io"
	"net/http"
	"strings"

	"stream-proxy-go/pkg/fetch"
	"stream-proxy-go/pkg/httpclient"
)

// proxyAllowedHeaders is the bounded set of inbound request headers
// forwarded upstream by the generic proxy. Auth and detail endpoints
// need these; everything else stays behind.
var proxyAllowedHeaders = []string{"Content-Type", "X-Requested-With", "Accept", "Origin"}

// handleProxy is the generic opaque proxy for non-manifest API calls.
// It forwards an allow-listed header set and exposes upstream cookies
// through X-Proxied-Set-Cookie, since cross-origin callers cannot read
// Set-Cookie themselves.
func (h *Handlers) handleProxy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetURL := q.Get("url")
	if targetURL == "" {
		h.writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}

	headers := make(map[string]string)
	for _, name := range proxyAllowedHeaders {
		if v := r.Header.Get(name); v != "" {
			headers[name] = v
		}
	}
	for name, value := range httpclient.ParseHeaderParams(q) {
		headers[name] = value
	}

	var body io.Reader
	if r.Method == http.MethodPost {
		body = r.Body
	}

	resp, err := h.fetcher.Fetch(r.Context(), targetURL, fetch.Options{
		Method:      r.Method,
		Body:        body,
		Referer:     q.Get("referer"),
		Cookie:      q.Get("cookie"),
		UserAgent:   q.Get("ua"),
		RangeHeader: r.Header.Get("Range"),
		Headers:     headers,
		Policy:      fetch.DefaultPolicy,
	})
	if err != nil {
		if fetch.IsAborted(err) {
			h.log.Debug("client aborted proxy request", "url", targetURL)
			return
		}
		h.log.Error("proxy fetch failed", "url", targetURL, "error", err)
		h.writeError(w, http.StatusBadGateway, "proxy fetch failed")
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	if setCookies := resp.Header.Values("Set-Cookie"); len(setCookies) > 0 {
		joined := strings.Join(setCookies, ", ")
		w.Header().Set("X-Proxied-Set-Cookie", joined)
		w.Header().Set("Access-Control-Expose-Headers", "X-Proxied-Set-Cookie")
		for _, sc := range setCookies {
			w.Header().Add("Set-Cookie", sc)
		}
	}

	for _, header := range []string{"Content-Length", "Content-Range", "Accept-Ranges"} {
		if v := resp.Header.Get(header); v != "" {
			w.Header().Set(header, v)
		}
	}

	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.log.Debug("proxy body stream ended early", "url", targetURL, "error", err)
	}
}
