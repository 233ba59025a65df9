// Package tokens decrypts the obfuscated stream tokens providers embed
// in playlists and API responses. Two independent schemes exist: the
// "enc2:"-prefixed AES-256-GCM tokens and the prefix-less Kartoons
// AES-256-CBC tokens. Callers pick the scheme from context; nothing here
// sniffs ambiguous bytes.
//
// Every decode or decrypt failure is a recoverable "cannot decrypt"
// result. A bad token must never abort a whole-manifest rewrite, so no
// function in this package returns an error for malformed input.
package tokens

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"strings"
)

// Prefix marks scheme-A tokens inside manifests and API payloads.
const Prefix = "enc2:"

// streamSecretB64 is the shared secret the token issuer derives its key
// from, stored base64-encoded as in the upstream client.
const streamSecretB64 = "cG1TMENBTUcxUnVxNDlXYk15aEUzZmgxc091TFlFTDlydEZhellZbGpWSTJqNEJQU29nNzNoVzdBN3hNaGNlSEQwaXdyUHJWVkRYTHZ4eVdy"

var (
	streamKey  = deriveStreamKey()
	tokenRe    = regexp.MustCompile(`enc2:[A-Za-z0-9_-]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

func deriveStreamKey() []byte {
	secret, err := base64.StdEncoding.DecodeString(streamSecretB64)
	if err != nil {
		panic("tokens: bad embedded secret: " + err.Error())
	}
	sum := sha256.Sum256(secret)
	return sum[:]
}

// decodeBase64URL decodes a base64url string tolerating the standard
// alphabet, embedded whitespace and missing padding.
func decodeBase64URL(s string) ([]byte, bool) {
	s = whitespace.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

// DecryptStream decrypts a scheme-A token. The blob layout is
// IV(12) || CIPHERTEXT || TAG(16); the key is SHA-256 of the shared
// secret. Returns ok=false for anything that does not authenticate.
func DecryptStream(value string) (string, bool) {
	if !strings.HasPrefix(value, Prefix) {
		return "", false
	}

	blob, ok := decodeBase64URL(value[len(Prefix):])
	if !ok || len(blob) <= 12 {
		return "", false
	}

	iv := blob[:12]
	ctAndTag := blob[12:]
	if len(ctAndTag) <= 16 {
		return "", false
	}

	block, err := aes.NewCipher(streamKey)
	if err != nil {
		return "", false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", false
	}

	plaintext, err := gcm.Open(nil, iv, ctAndTag, nil)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

// DecryptInline decrypts every scheme-A token occurring in value,
// substituting the original token where decryption fails. The common
// case is a value that is exactly one token; decrypted output is
// trimmed to its first line since the plaintext is provider-controlled
// and must be treated as a single-line URL.
func DecryptInline(value string) string {
	if !strings.Contains(value, Prefix) {
		return value
	}
	if strings.HasPrefix(value, Prefix) {
		decrypted, ok := DecryptStream(value)
		if !ok {
			return value
		}
		return firstLine(decrypted)
	}
	return tokenRe.ReplaceAllStringFunc(value, func(token string) string {
		if decrypted, ok := DecryptStream(token); ok {
			return firstLine(decrypted)
		}
		return token
	})
}

func firstLine(s string) string {
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// DecryptKartoons decrypts a scheme-B token: base64url blob laid out as
// IV(16) || CIPHERTEXT, AES-256-CBC. The key string is right-padded with
// spaces to exactly 32 bytes; this derivation reproduces the external
// token issuer and must not be changed for interop reasons.
func DecryptKartoons(value, key string) (string, bool) {
	blob, ok := decodeBase64URL(value)
	if !ok || len(blob) <= aes.BlockSize {
		return "", false
	}

	iv := blob[:aes.BlockSize]
	ciphertext := blob[aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", false
	}

	block, err := aes.NewCipher(padKey(key))
	if err != nil {
		return "", false
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return string(stripPKCS7(plaintext)), true
}

func padKey(key string) []byte {
	b := []byte(key)
	if len(b) >= 32 {
		return b[:32]
	}
	return append(b, bytes.Repeat([]byte(" "), 32-len(b))...)
}

// stripPKCS7 removes PKCS#7 padding when it validates. The token issuer
// has been observed emitting malformed padding; the historical behavior
// is to return the buffer unstripped rather than reject it, so invalid
// padding is tolerated here.
func stripPKCS7(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return b
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return b
		}
	}
	return b[:len(b)-n]
}
