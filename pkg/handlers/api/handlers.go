// Package api provides the HTTP handlers for the proxy surface.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"stream-proxy-go/pkg/config"
	"stream-proxy-go/pkg/fetch"
	"stream-proxy-go/pkg/logging"
	"stream-proxy-go/pkg/registry"
)

// Handlers contains all API handlers.
type Handlers struct {
	cfg       *config.Config
	log       *logging.Logger
	fetcher   *fetch.Fetcher
	providers *registry.ProviderRegistry
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *config.Config, log *logging.Logger, fetcher *fetch.Fetcher, providers *registry.ProviderRegistry) *Handlers {
	return &Handlers{
		cfg:       cfg,
		log:       log.WithComponent("api"),
		fetcher:   fetcher,
		providers: providers,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", h.handleIndex)
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)
	mux.HandleFunc("GET /favicon.ico", h.handleFavicon)

	mux.HandleFunc("GET /hls", h.handleHLS)
	mux.HandleFunc("GET /proxy", h.handleProxy)
	mux.HandleFunc("POST /proxy", h.handleProxy)
	mux.HandleFunc("GET /stream", h.handleStream)
}

// handleIndex serves a minimal endpoint listing.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>StreamProxy</title></head>
<body>
    <h1>StreamProxy</h1>
    <p>Server running.</p>
    <ul>
        <li><code>GET /hls?url=...</code> - manifest/segment proxy</li>
        <li><code>GET|POST /proxy?url=...</code> - generic API proxy</li>
        <li><code>GET /stream?id=...</code> - stream resolution</li>
        <li><code>GET /api/info</code> - server status (JSON)</li>
    </ul>
</body>
</html>`)
}

// handleAPIInfo returns server status as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0)
	for _, p := range h.providers.All() {
		names = append(names, p.Name())
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "running",
		"version":   "1.0.0",
		"providers": names,
	})
}

func (h *Handlers) handleFavicon(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
