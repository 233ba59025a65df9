// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Proxy settings
	GlobalProxies   []string
	TransportRoutes []TransportRoute
	UTLSDomains     []string

	// Forwarding defaults applied when the caller sends none
	DefaultReferer string
	DefaultCookie  string
	UserAgent      string

	// Segment batching (edge deployment variant)
	BatchSegments bool
	BatchSize     int
	ConcatMax     int

	// Session bootstrap
	BypassMaxRetries int
	BypassRetryDelay time.Duration
	SessionTTL       time.Duration
	DetailsTTL       time.Duration

	// Provider endpoints
	CNCVerseMainURL string
	CNCVersePlayURL string
	KartoonsAPIURL  string
	KartoonsKey     string

	// Logging
	LogLevel string
	LogJSON  bool
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Load reads configuration from environment variables with sensible defaults.
// A local .env file is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	port := getEnvInt("PORT", 8787)
	cfg := &Config{
		Port:         port,
		BaseURL:      getEnvString("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		ReadTimeout:  getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getEnvDuration("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:  getEnvDuration("IDLE_TIMEOUT", 60*time.Second),

		GlobalProxies: getEnvStringSlice("GLOBAL_PROXIES", nil),
		UTLSDomains:   getEnvStringSlice("UTLS_DOMAINS", []string{"net51.cc", "net20.cc"}),

		DefaultReferer: getEnvString("DEFAULT_REFERER", "https://net51.cc/"),
		DefaultCookie:  getEnvString("DEFAULT_COOKIE", "hd=on"),
		UserAgent:      getEnvString("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"),

		BatchSegments: getEnvBool("BATCH_SEGMENTS", false),
		BatchSize:     getEnvInt("BATCH_SIZE", 10),
		ConcatMax:     getEnvInt("CONCAT_MAX", 20),

		BypassMaxRetries: getEnvInt("BYPASS_MAX_RETRIES", 10),
		BypassRetryDelay: getEnvDuration("BYPASS_RETRY_DELAY", 500*time.Millisecond),
		SessionTTL:       getEnvDuration("SESSION_TTL", 15*time.Hour),
		DetailsTTL:       getEnvDuration("DETAILS_TTL", 10*time.Minute),

		CNCVerseMainURL: getEnvString("CNCVERSE_MAIN_URL", "https://net20.cc"),
		CNCVersePlayURL: getEnvString("CNCVERSE_PLAY_URL", "https://net51.cc"),
		KartoonsAPIURL:  getEnvString("KARTOONS_API_URL", "https://api.kartoons.fun"),
		KartoonsKey:     getEnvString("KARTOONS_KEY", ""),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", false),
	}

	cfg.TransportRoutes = parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES"))

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	return cfg
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		fields := strings.Split(part, ", ")
		for _, field := range fields {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])

			switch strings.ToUpper(key) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.ToLower(value) == "true"
			case "DIRECT":
				route.Direct = strings.ToLower(value) == "true"
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Try parsing as seconds first
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
