package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"stream-proxy-go/pkg/cache"
	"stream-proxy-go/pkg/fetch"
	"stream-proxy-go/pkg/hls"
	"stream-proxy-go/pkg/logging"
	"stream-proxy-go/pkg/session"
	"stream-proxy-go/pkg/types"
)

const cncversePrefix = "cncverse:"

// userToken makes requests look like the provider's logged-in web app;
// several endpoints answer differently without it.
const cncverseUserToken = "233123f803cf02184bf6c67e149cdd50"

var videoNotFound = regexp.MustCompile(`(?i)Video ID not found!`)

// CNCVerse resolves "cncverse:<episodeID>[:<audioLang>]" identifiers.
// The upstream splits its session across two hosts: the bypass cookie
// and transfer hash come from the main host, the playlist from the
// play host, with cookies accumulating across every hop.
type CNCVerse struct {
	fetcher    *fetch.Fetcher
	session    *session.Manager
	store      *cache.Store
	log        *logging.Logger
	mainURL    string
	playURL    string
	baseURL    string
	userAgent  string
	streamTTL  time.Duration
}

// CNCVerseOptions configures a CNCVerse provider.
type CNCVerseOptions struct {
	MainURL   string
	PlayURL   string
	BaseURL   string
	UserAgent string
	StreamTTL time.Duration
}

func NewCNCVerse(fetcher *fetch.Fetcher, sess *session.Manager, store *cache.Store, log *logging.Logger, opts CNCVerseOptions) *CNCVerse {
	return &CNCVerse{
		fetcher:   fetcher,
		session:   sess,
		store:     store,
		log:       log.WithComponent("cncverse"),
		mainURL:   strings.TrimRight(opts.MainURL, "/"),
		playURL:   strings.TrimRight(opts.PlayURL, "/"),
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		streamTTL: opts.StreamTTL,
	}
}

func (p *CNCVerse) Name() string { return "cncverse" }

func (p *CNCVerse) CanResolve(id string) bool {
	return strings.HasPrefix(id, cncversePrefix)
}

// playlist.php response shapes.
type cncPlaylistItem struct {
	Sources []cncSource `json:"sources"`
	Tracks  []cncTrack  `json:"tracks"`
}

type cncSource struct {
	File  string `json:"file"`
	Label string `json:"label"`
}

type cncTrack struct {
	File    string `json:"file"`
	Kind    string `json:"kind"`
	Label   string `json:"label"`
	SrcLang string `json:"srclang"`
}

// ResolveStream runs the full chain: bypass cookie, optional language
// selection, transfer-hash POST, session transfer to the play host,
// then the playlist fetch. Resolutions are cached briefly since players
// re-request the descriptor on every quality switch.
func (p *CNCVerse) ResolveStream(ctx context.Context, id string) (*types.StreamDescriptor, error) {
	episodeID, audioLang, err := p.parseID(id)
	if err != nil {
		return nil, err
	}

	cacheKey := "stream:cncverse:" + episodeID + ":" + audioLang
	if cached, ok := p.store.Get(cacheKey); ok {
		if desc, ok := cached.(*types.StreamDescriptor); ok {
			p.log.Debug("using cached stream resolution", "episode", episodeID)
			return desc, nil
		}
	}

	cookieValue, err := p.session.Cookie(ctx)
	if err != nil {
		return nil, fmt.Errorf("cncverse session bootstrap: %w", err)
	}

	streamCookies := fmt.Sprintf("t_hash_t=%s; ott=nf; hd=on; user_token=%s", cookieValue, cncverseUserToken)
	mainReferer := p.mainURL + "/home"

	if audioLang != "" {
		streamCookies = p.selectLanguage(ctx, audioLang, streamCookies, mainReferer)
	}

	streamCookies, hashParams := p.transferHash(ctx, episodeID, streamCookies, mainReferer)
	if hashParams != "" {
		streamCookies = p.transferSession(ctx, episodeID, hashParams, streamCookies, mainReferer)
	} else {
		p.log.Warn("no transfer hash; continuing anyway", "episode", episodeID)
	}

	desc, err := p.fetchPlaylist(ctx, episodeID, audioLang, streamCookies)
	if err != nil {
		return nil, err
	}

	p.store.Set(cacheKey, desc, p.streamTTL)
	return desc, nil
}

func (p *CNCVerse) parseID(id string) (episodeID, audioLang string, err error) {
	if !strings.HasPrefix(id, cncversePrefix) {
		return "", "", fmt.Errorf("not a cncverse identifier: %q", id)
	}
	rest := id[len(cncversePrefix):]
	episodeID, audioLang, _ = strings.Cut(rest, ":")
	if episodeID == "" {
		return "", "", fmt.Errorf("empty cncverse episode id in %q", id)
	}
	return episodeID, audioLang, nil
}

// selectLanguage POSTs the audio language choice. Failure is not fatal;
// the default audio still plays.
func (p *CNCVerse) selectLanguage(ctx context.Context, lang, cookies, referer string) string {
	resp, err := p.fetcher.Fetch(ctx, p.mainURL+"/language.php", fetch.Options{
		Method:    http.MethodPost,
		Body:      strings.NewReader("lang=" + lang),
		Referer:   referer,
		Cookie:    cookies,
		UserAgent: p.userAgent,
		Headers: map[string]string{
			"Content-Type":     "application/x-www-form-urlencoded",
			"X-Requested-With": "XMLHttpRequest",
		},
		Policy: fetch.DefaultPolicy,
	})
	if err != nil {
		p.log.Warn("language selection failed", "lang", lang, "error", err)
		return cookies
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return session.Merge(cookies, strings.Join(resp.Header.Values("Set-Cookie"), ", "))
}

// transferHash POSTs play.php on the main host. The response carries a
// query fragment ("h") that the play host requires before it will
// acknowledge the session. Required even for default audio.
func (p *CNCVerse) transferHash(ctx context.Context, episodeID, cookies, referer string) (string, string) {
	resp, err := p.fetcher.Fetch(ctx, p.mainURL+"/play.php", fetch.Options{
		Method:    http.MethodPost,
		Body:      strings.NewReader("id=" + episodeID),
		Referer:   referer,
		Cookie:    cookies,
		UserAgent: p.userAgent,
		Headers: map[string]string{
			"Content-Type":     "application/x-www-form-urlencoded",
			"X-Requested-With": "XMLHttpRequest",
		},
		Policy: fetch.DefaultPolicy,
	})
	if err != nil {
		p.log.Warn("transfer hash request failed", "episode", episodeID, "error", err)
		return cookies, ""
	}
	defer resp.Body.Close()

	cookies = session.Merge(cookies, strings.Join(resp.Header.Values("Set-Cookie"), ", "))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return cookies, ""
	}

	var playData struct {
		H string `json:"h"`
	}
	if err := json.Unmarshal(body, &playData); err != nil || playData.H == "" {
		p.log.Warn("play response carried no transfer hash", "episode", episodeID)
		return cookies, ""
	}
	return cookies, "&" + playData.H
}

// transferSession GETs play.php on the play host with the transfer hash
// so it binds the session to its own cookies.
func (p *CNCVerse) transferSession(ctx context.Context, episodeID, hashParams, cookies, referer string) string {
	resp, err := p.fetcher.Fetch(ctx, p.playURL+"/play.php?id="+episodeID+hashParams, fetch.Options{
		Referer:   referer,
		Cookie:    cookies,
		UserAgent: p.userAgent,
		Headers:   map[string]string{"X-Requested-With": "XMLHttpRequest"},
		Policy:    fetch.DefaultPolicy,
	})
	if err != nil {
		p.log.Warn("session transfer failed", "episode", episodeID, "error", err)
		return cookies
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return session.Merge(cookies, strings.Join(resp.Header.Values("Set-Cookie"), ", "))
}

// fetchPlaylist asks the play host for the source list, falling back to
// the main host when it answers with its "Video ID not found!" page.
func (p *CNCVerse) fetchPlaylist(ctx context.Context, episodeID, audioLang, cookies string) (*types.StreamDescriptor, error) {
	tm := time.Now().Unix()
	query := fmt.Sprintf("/tv/playlist.php?id=%s&t=%s&tm=%d", episodeID, audioLang, tm)

	playlistHost := p.playURL
	playlistReferer := p.playURL + "/"
	body, err := p.fetchText(ctx, p.playURL+query, p.playURL+"/home", cookies)
	if err != nil {
		return nil, fmt.Errorf("cncverse playlist fetch: %w", err)
	}

	if videoNotFound.MatchString(body) {
		p.log.Warn("play host has no video id, trying main host", "episode", episodeID)
		playlistHost = p.mainURL
		playlistReferer = p.mainURL + "/"
		body, err = p.fetchText(ctx, p.mainURL+query, p.mainURL+"/home", cookies)
		if err != nil {
			return nil, fmt.Errorf("cncverse playlist fallback fetch: %w", err)
		}
	}

	var playlist []cncPlaylistItem
	if err := json.Unmarshal([]byte(body), &playlist); err != nil {
		preview := body
		if len(preview) > 500 {
			preview = preview[:500]
		}
		return nil, fmt.Errorf("cncverse playlist is not JSON (starts %q): %w", preview, err)
	}
	if len(playlist) == 0 || len(playlist[0].Sources) == 0 {
		return nil, ErrNoStream
	}

	return p.buildDescriptor(playlist[0], playlistHost, playlistReferer, cookies), nil
}

func (p *CNCVerse) fetchText(ctx context.Context, targetURL, referer, cookies string) (string, error) {
	resp, err := p.fetcher.Fetch(ctx, targetURL, fetch.Options{
		Referer:   referer,
		Cookie:    cookies,
		UserAgent: p.userAgent,
		Headers:   map[string]string{"X-Requested-With": "XMLHttpRequest"},
		Policy:    fetch.PlaylistPolicy,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// buildDescriptor wraps every source and caption URL into a proxy URL
// carrying the accumulated session cookies, which the browser cannot
// attach itself.
func (p *CNCVerse) buildDescriptor(item cncPlaylistItem, host, referer, cookies string) *types.StreamDescriptor {
	rc := &hls.RewriteContext{
		BaseURL:       p.baseURL,
		Referer:       referer,
		Cookie:        cookies,
		ProxySegments: true,
	}

	absolutize := func(file string) string {
		if strings.HasPrefix(file, "http") {
			return file
		}
		if strings.HasPrefix(file, "//") {
			return "https:" + file
		}
		// Source paths come as /tv/... but are served from the root.
		return host + strings.Replace(file, "/tv/", "/", 1)
	}

	desc := &types.StreamDescriptor{
		VideoURL: rc.WrapProxy(absolutize(item.Sources[0].File), types.KindPlaylist),
		Headers:  map[string]string{},
	}

	for _, s := range item.Sources {
		label := s.Label
		if label == "" {
			label = "Auto"
		}
		desc.Qualities = append(desc.Qualities, types.Quality{
			Quality: label,
			URL:     rc.WrapProxy(absolutize(s.File), types.KindPlaylist),
		})
	}

	for _, t := range item.Tracks {
		if !isCaptionTrack(t) || t.File == "" {
			continue
		}
		label := t.Label
		if label == "" {
			label = "Subtitles"
		}
		lang := t.SrcLang
		if lang == "" {
			lang = inferLanguage(label)
		}
		if lang == "" {
			lang = "en"
		}
		desc.Subtitles = append(desc.Subtitles, types.Subtitle{
			Language: lang,
			Label:    label,
			URL:      rc.WrapProxy(absolutize(t.File), types.KindSegment),
		})
	}

	return desc
}

// isCaptionTrack filters the track list down to real captions. The
// upstream mixes in "thumbnails" VTT tracks that are not subtitles.
func isCaptionTrack(t cncTrack) bool {
	kind := strings.ToLower(t.Kind)
	if strings.Contains(kind, "thumb") {
		return false
	}
	if strings.Contains(kind, "caption") || strings.Contains(kind, "sub") {
		return true
	}
	file := strings.ToLower(t.File)
	return kind == "" && (strings.HasSuffix(file, ".vtt") || strings.HasSuffix(file, ".srt"))
}

func inferLanguage(label string) string {
	s := strings.ToLower(label)
	switch {
	case strings.Contains(s, "english"):
		return "en"
	case strings.Contains(s, "hindi"):
		return "hi"
	case strings.Contains(s, "tamil"):
		return "ta"
	case strings.Contains(s, "telugu"):
		return "te"
	case strings.Contains(s, "malayalam"):
		return "ml"
	case strings.Contains(s, "kannada"):
		return "kn"
	case strings.Contains(s, "bengali"):
		return "bn"
	}
	return ""
}
