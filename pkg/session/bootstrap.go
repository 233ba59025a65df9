// Package session acquires and caches the short-lived anti-bot cookies
// some upstream hosts require before they will serve playlists, and
// provides the cookie merging used by multi-step provider logins.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"stream-proxy-go/pkg/cache"
	"stream-proxy-go/pkg/logging"
)

// ErrBypassFailed is returned once the challenge loop has exhausted its
// retry budget. Callers surface it as "stream unavailable" rather than
// serving a manifest built against a missing session.
var ErrBypassFailed = errors.New("session bootstrap failed after max retries")

// Doer abstracts the HTTP client for testability.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes one host's challenge exchange.
type Config struct {
	// ChallengeURL is POSTed repeatedly (cache-busted per attempt) until
	// the body contains SuccessMarker.
	ChallengeURL  string
	SuccessMarker string

	// CookieName is extracted from Set-Cookie on success.
	CookieName string

	MaxRetries int
	RetryDelay time.Duration
	TTL        time.Duration

	// Headers sent with every challenge attempt (browser emulation).
	Headers map[string]string
}

// Manager runs the challenge loop for one host and one network
// identity, caching the resulting cookie in the shared store. Direct
// and proxied acquisition paths see different challenges, so they get
// separate managers with distinct identities and never share entries.
type Manager struct {
	client   Doer
	store    *cache.Store
	log      *logging.Logger
	cfg      Config
	identity string
	cookieRe *regexp.Regexp
}

// NewManager creates a bootstrap manager. identity distinguishes cache
// entries for different network paths ("direct", a proxy URL, ...).
func NewManager(client Doer, store *cache.Store, log *logging.Logger, identity string, cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Hour
	}
	return &Manager{
		client:   client,
		store:    store,
		log:      log.WithComponent("session"),
		cfg:      cfg,
		identity: identity,
		cookieRe: regexp.MustCompile(regexp.QuoteMeta(cfg.CookieName) + `=([^;]+)`),
	}
}

func (m *Manager) cacheKey() string {
	return "bypass:" + m.cfg.ChallengeURL + ":" + m.cfg.CookieName + ":" + m.identity
}

// Cookie returns the cached session cookie, running the challenge loop
// when the cache is empty or expired. Two concurrent callers may both
// run the loop after an expiry; that is idempotent, at-most-double work,
// and preferable to a lock serializing unrelated requests.
func (m *Manager) Cookie(ctx context.Context) (string, error) {
	if value, ok := m.store.GetString(m.cacheKey()); ok {
		m.log.Debug("using cached session cookie", "identity", m.identity)
		return value, nil
	}
	return m.bootstrap(ctx)
}

// Invalidate drops the cached cookie so the next Cookie call re-runs
// the challenge. Used when an upstream rejects a cookie ahead of TTL.
func (m *Manager) Invalidate() {
	m.store.Delete(m.cacheKey())
}

func (m *Manager) bootstrap(ctx context.Context) (string, error) {
	m.log.Info("starting session bootstrap", "url", m.cfg.ChallengeURL, "identity", m.identity)

	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		value, ok, err := m.attempt(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			m.store.Set(m.cacheKey(), value, m.cfg.TTL)
			m.log.Info("session bootstrap successful", "identity", m.identity, "attempts", attempt)
			return value, nil
		}

		m.log.Debug("bootstrap attempt failed", "attempt", attempt, "max", m.cfg.MaxRetries)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.cfg.RetryDelay):
		}
	}

	return "", fmt.Errorf("%w: %s", ErrBypassFailed, m.cfg.ChallengeURL)
}

// attempt runs one challenge POST. A false ok with nil error means the
// challenge was answered but not yet passed; only transport-level
// problems return an error.
func (m *Manager) attempt(ctx context.Context) (string, bool, error) {
	// Cache buster: some CDNs replay a cached challenge response without
	// a Set-Cookie header.
	sep := "?"
	if strings.Contains(m.cfg.ChallengeURL, "?") {
		sep = "&"
	}
	challengeURL := fmt.Sprintf("%s%s_=%d", m.cfg.ChallengeURL, sep, time.Now().UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, challengeURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create challenge request: %w", err)
	}
	for key, value := range m.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("challenge request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if !strings.Contains(string(body), m.cfg.SuccessMarker) {
		return "", false, nil
	}

	if value, ok := m.extractCookie(resp.Header); ok {
		return value, true, nil
	}
	return "", false, nil
}

// extractCookie pulls the named cookie out of Set-Cookie, or out of the
// forwarded X-Proxied-Set-Cookie header when the challenge itself went
// through an upstream proxy hop.
func (m *Manager) extractCookie(h http.Header) (string, bool) {
	headers := h.Values("Set-Cookie")
	if forwarded := h.Get("X-Proxied-Set-Cookie"); forwarded != "" {
		headers = append(headers, forwarded)
	}
	for _, header := range headers {
		if match := m.cookieRe.FindStringSubmatch(header); match != nil {
			return match[1], true
		}
	}
	return "", false
}
