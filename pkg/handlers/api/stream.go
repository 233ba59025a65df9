package api

import (
	"errors"
	"net/http"

	"stream-proxy-go/pkg/fetch"
	"stream-proxy-go/pkg/providers"
	"stream-proxy-go/pkg/session"
)

// handleStream resolves a provider stream identifier into a descriptor
// of already-proxied URLs.
func (h *Handlers) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "id parameter required")
		return
	}

	provider := h.providers.Get(id)
	if provider == nil {
		h.writeError(w, http.StatusNotFound, "no provider for identifier")
		return
	}

	h.log.Debug("resolving stream", "id", id, "provider", provider.Name())

	desc, err := provider.ResolveStream(r.Context(), id)
	if err != nil {
		switch {
		case fetch.IsAborted(err):
			h.log.Debug("client aborted stream resolution", "id", id)
		case errors.Is(err, session.ErrBypassFailed):
			h.log.Error("stream unavailable, session bootstrap failed", "id", id, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		case errors.Is(err, providers.ErrNoStream):
			h.writeError(w, http.StatusNotFound, "no playable stream found")
		default:
			h.log.Error("stream resolution failed", "id", id, "error", err)
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.writeJSON(w, http.StatusOK, desc)
}
