package tokens

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func encryptStream(t *testing.T, plaintext string) string {
	t.Helper()

	block, err := aes.NewCipher(streamKey)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}

	iv := make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand: %v", err)
	}

	blob := append(iv, gcm.Seal(nil, iv, []byte(plaintext), nil)...)
	return Prefix + base64.RawURLEncoding.EncodeToString(blob)
}

func encryptKartoons(t *testing.T, plaintext, key string) string {
	t.Helper()

	block, err := aes.NewCipher(padKey(key))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand: %v", err)
	}

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append([]byte(plaintext), bytes.Repeat([]byte{byte(pad)}, pad)...)

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.RawURLEncoding.EncodeToString(append(iv, ciphertext...))
}

func TestDecryptStreamRoundTrip(t *testing.T) {
	plaintexts := []string{
		"https://cdn.example.com/hls/master.m3u8",
		"https://cdn.example.com/seg/0001.ts?token=abc(1)",
		"x",
	}

	for _, want := range plaintexts {
		token := encryptStream(t, want)
		got, ok := DecryptStream(token)
		if !ok {
			t.Fatalf("DecryptStream(%q) not ok", want)
		}
		if got != want {
			t.Errorf("DecryptStream = %q, want %q", got, want)
		}
	}
}

func TestDecryptStreamTamperedTag(t *testing.T) {
	token := encryptStream(t, "https://cdn.example.com/a.m3u8")

	blob, _ := decodeBase64URL(token[len(Prefix):])
	blob[len(blob)-1] ^= 0xff
	tampered := Prefix + base64.RawURLEncoding.EncodeToString(blob)

	if got, ok := DecryptStream(tampered); ok {
		t.Errorf("tampered token decrypted to %q, want failure", got)
	}
}

func TestDecryptStreamRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"no prefix", "aGVsbG8"},
		{"empty payload", Prefix},
		{"too short for iv", Prefix + base64.RawURLEncoding.EncodeToString(make([]byte, 10))},
		{"too short for tag", Prefix + base64.RawURLEncoding.EncodeToString(make([]byte, 20))},
		{"not base64", Prefix + "!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := DecryptStream(tt.token); ok {
				t.Errorf("DecryptStream(%q) = %q, want failure", tt.token, got)
			}
		})
	}
}

func TestDecryptStreamToleratesWhitespaceAndPadding(t *testing.T) {
	want := "https://cdn.example.com/a.m3u8"
	token := encryptStream(t, want)

	// Insert whitespace into the payload; decoders must strip it.
	spread := token[:len(Prefix)+8] + "\n " + token[len(Prefix)+8:]
	got, ok := DecryptStream(spread)
	if !ok || got != want {
		t.Errorf("DecryptStream with whitespace = %q, %v; want %q", got, ok, want)
	}
}

func TestDecryptInline(t *testing.T) {
	token := encryptStream(t, "https://cdn.example.com/key.bin")

	t.Run("whole value", func(t *testing.T) {
		if got := DecryptInline(token); got != "https://cdn.example.com/key.bin" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("embedded in tag", func(t *testing.T) {
		line := `#EXT-X-KEY:METHOD=AES-128,URI="` + token + `"`
		want := `#EXT-X-KEY:METHOD=AES-128,URI="https://cdn.example.com/key.bin"`
		if got := DecryptInline(line); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("undecryptable passes through", func(t *testing.T) {
		line := "enc2:notavalidtoken"
		if got := DecryptInline(line); got != line {
			t.Errorf("got %q, want original", got)
		}
	})

	t.Run("plaintext trimmed to first line", func(t *testing.T) {
		token := encryptStream(t, "https://cdn.example.com/a.ts\nmalicious second line")
		if got := DecryptInline(token); got != "https://cdn.example.com/a.ts" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("no token is a no-op", func(t *testing.T) {
		if got := DecryptInline("#EXTINF:4.0,"); got != "#EXTINF:4.0," {
			t.Errorf("got %q", got)
		}
	})
}

func TestDecryptKartoonsRoundTrip(t *testing.T) {
	key := "test-kartoons-key"

	for _, want := range []string{
		"https://stream.example.com/master.m3u8",
		"short",
		strings.Repeat("a", 64),
	} {
		token := encryptKartoons(t, want, key)
		got, ok := DecryptKartoons(token, key)
		if !ok {
			t.Fatalf("DecryptKartoons(%q) not ok", want)
		}
		if got != want {
			t.Errorf("DecryptKartoons = %q, want %q", got, want)
		}
	}
}

func TestDecryptKartoonsRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"iv only", base64.RawURLEncoding.EncodeToString(make([]byte, 16))},
		{"not block aligned", base64.RawURLEncoding.EncodeToString(make([]byte, 16+7))},
		{"not base64", "###"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := DecryptKartoons(tt.token, "key"); ok {
				t.Errorf("DecryptKartoons(%q) = %q, want failure", tt.token, got)
			}
		})
	}
}

func TestDecryptKartoonsToleratesInvalidPadding(t *testing.T) {
	key := "test-kartoons-key"

	// Encrypt a full block without PKCS#7 padding. The final byte is not
	// a valid pad length, so decryption must return the buffer as-is.
	plaintext := []byte("0123456789abcdef")
	block, _ := aes.NewCipher(padKey(key))
	iv := make([]byte, aes.BlockSize)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	token := base64.RawURLEncoding.EncodeToString(append(iv, ciphertext...))
	got, ok := DecryptKartoons(token, key)
	if !ok {
		t.Fatal("not ok")
	}
	if got != string(plaintext) {
		t.Errorf("got %q, want unstripped %q", got, plaintext)
	}
}

func TestPadKey(t *testing.T) {
	if got := padKey("abc"); len(got) != 32 || !bytes.HasSuffix(got, []byte("  ")) {
		t.Errorf("padKey(abc) = %q", got)
	}
	long := strings.Repeat("k", 40)
	if got := padKey(long); len(got) != 32 {
		t.Errorf("padKey truncation gave %d bytes", len(got))
	}
}
