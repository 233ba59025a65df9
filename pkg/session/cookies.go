package session

import (
	"regexp"
	"strings"
)

var cookieStart = regexp.MustCompile(`^\s*[A-Za-z0-9_-]+=`)

// Merge folds a Set-Cookie header into an existing "k=v; k2=v2" cookie
// string. New entries override same-named keys; everything else is
// preserved in its original order. Attribute parts (Path, Expires, ...)
// are dropped.
func Merge(existing, setCookieHeader string) string {
	if setCookieHeader == "" {
		return existing
	}

	var order []string
	values := make(map[string]string)

	add := func(pair string) {
		key, value, _ := strings.Cut(strings.TrimSpace(pair), "=")
		if key == "" {
			return
		}
		if _, seen := values[key]; !seen {
			order = append(order, key)
		}
		values[key] = value
	}

	for _, c := range strings.Split(existing, ";") {
		if strings.TrimSpace(c) != "" {
			add(c)
		}
	}

	for _, cookie := range splitSetCookie(setCookieHeader) {
		// Only the name=value part before the first attribute matters.
		main, _, _ := strings.Cut(cookie, ";")
		add(main)
	}

	parts := make([]string, 0, len(order))
	for _, key := range order {
		parts = append(parts, key+"="+values[key])
	}
	return strings.Join(parts, "; ")
}

// splitSetCookie splits a folded Set-Cookie header on the commas that
// start a new cookie. Commas inside attribute values (Expires dates)
// must not split, so a comma only counts when followed by a key= token.
func splitSetCookie(header string) []string {
	var cookies []string
	start := 0
	for i := 0; i < len(header); i++ {
		if header[i] != ',' {
			continue
		}
		if cookieStart.MatchString(header[i+1:]) {
			cookies = append(cookies, strings.TrimSpace(header[start:i]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(header[start:]); rest != "" {
		cookies = append(cookies, rest)
	}
	return cookies
}
