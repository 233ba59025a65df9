package providers

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

const kartoonsTestKey = "test-key"

// encryptKartoonsToken reproduces the issuer side of the scheme:
// space-padded 32-byte key, PKCS#7 padding, IV || ciphertext, base64url.
func encryptKartoonsToken(t *testing.T, plaintext, key string) string {
	t.Helper()

	k := []byte(key)
	if len(k) < 32 {
		k = append(k, bytes.Repeat([]byte(" "), 32-len(k))...)
	}
	block, err := aes.NewCipher(k[:32])
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append([]byte(plaintext), bytes.Repeat([]byte{byte(pad)}, pad)...)

	iv := []byte("0123456789abcdef")
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.RawURLEncoding.EncodeToString(append(iv, ciphertext...))
}

func kartoonsLinksServer(t *testing.T, path string, links ...string) *httptest.Server {
	t.Helper()

	quoted := make([]string, len(links))
	for i, l := range links {
		quoted[i] = `{"url":"` + l + `"}`
	}
	body := `{"data":{"links":[` + strings.Join(quoted, ",") + `]}}`

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("links path = %q, want %q", r.URL.Path, path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}))
}

// TestKartoonsSkipsBadLinks feeds the provider one link that is not a
// token at all and one that decrypts to non-URL garbage before the
// usable one; both must be skipped without failing the resolution.
func TestKartoonsSkipsBadLinks(t *testing.T) {
	good := encryptKartoonsToken(t, "https://cdn.example.com/master.m3u8", kartoonsTestKey)
	garbage := encryptKartoonsToken(t, "not a url at all", kartoonsTestKey)

	srv := kartoonsLinksServer(t, "/api/shows/episode/42/links", "!!!not-base64!!!", garbage, good)
	defer srv.Close()

	_, fetcher, log := newTestStack()
	p := NewKartoons(fetcher, log, srv.URL, "", kartoonsTestKey)

	desc, err := p.ResolveStream(context.Background(), "kartoons:ep-42")
	if err != nil {
		t.Fatalf("ResolveStream: %v", err)
	}

	parsed, err := url.Parse(desc.VideoURL)
	if err != nil {
		t.Fatalf("video url %q: %v", desc.VideoURL, err)
	}
	q := parsed.Query()
	if got := q.Get("url"); got != "https://cdn.example.com/master.m3u8" {
		t.Errorf("proxied target = %q", got)
	}
	if got := q.Get("kind"); got != "playlist" {
		t.Errorf("kind = %q", got)
	}
	if got := q.Get("decrypt"); got != "kartoons" {
		t.Errorf("decrypt mode = %q (child manifests must keep carrying it)", got)
	}
}

func TestKartoonsMovieLinksPath(t *testing.T) {
	good := encryptKartoonsToken(t, "https://cdn.example.com/movie.m3u8", kartoonsTestKey)

	srv := kartoonsLinksServer(t, "/api/movies/7/links", good)
	defer srv.Close()

	_, fetcher, log := newTestStack()
	p := NewKartoons(fetcher, log, srv.URL, "", kartoonsTestKey)

	desc, err := p.ResolveStream(context.Background(), "kartoons:mov-7")
	if err != nil {
		t.Fatalf("ResolveStream: %v", err)
	}
	if !strings.Contains(desc.VideoURL, url.QueryEscape("https://cdn.example.com/movie.m3u8")) {
		t.Errorf("video url = %q", desc.VideoURL)
	}
}

func TestKartoonsAllLinksBadIsNoStream(t *testing.T) {
	srv := kartoonsLinksServer(t, "/api/shows/episode/42/links", "!!!not-base64!!!", "")
	defer srv.Close()

	_, fetcher, log := newTestStack()
	p := NewKartoons(fetcher, log, srv.URL, "", kartoonsTestKey)

	_, err := p.ResolveStream(context.Background(), "kartoons:ep-42")
	if !errors.Is(err, ErrNoStream) {
		t.Fatalf("err = %v, want ErrNoStream", err)
	}
}

func TestKartoonsRequiresKey(t *testing.T) {
	_, fetcher, log := newTestStack()
	p := NewKartoons(fetcher, log, "https://api.example.com", "", "")

	_, err := p.ResolveStream(context.Background(), "kartoons:ep-1")
	if err == nil || errors.Is(err, ErrNoStream) {
		t.Fatalf("err = %v, want key configuration error", err)
	}
}

func TestKartoonsLinksURL(t *testing.T) {
	p := &Kartoons{apiURL: "https://api.example.com"}

	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"kartoons:ep-42", "https://api.example.com/api/shows/episode/42/links", false},
		{"kartoons:mov-7", "https://api.example.com/api/movies/7/links", false},
		{"kartoons:unknown-1", "", true},
		{"other:ep-1", "", true},
	}
	for _, tt := range tests {
		got, err := p.linksURL(tt.id)
		if tt.wantErr {
			if err == nil {
				t.Errorf("linksURL(%q) accepted", tt.id)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("linksURL(%q) = %q, %v; want %q", tt.id, got, err, tt.want)
		}
	}
}
