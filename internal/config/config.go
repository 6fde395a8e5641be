// Package config loads a single read-only Config value at process start:
// config.json overlaid with AG2API_* environment variables. There is no
// package-level mutable config; every constructor takes it by value.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// Host is the HTTP listen address.
	Host string `json:"host"`
	// Port is the HTTP listen port.
	Port int `json:"port"`
	// UpstreamHost overrides the first host tried for v1internal calls.
	UpstreamHost string `json:"upstream-host"`
	// ProxyEnabled routes outbound upstream traffic through ProxyURL.
	ProxyEnabled bool `json:"proxy-enabled"`
	// ProxyURL is the outbound HTTP(S) proxy, e.g. "http://127.0.0.1:7890".
	ProxyURL string `json:"proxy-url"`
	// Debug forces log level to debug and enables per-request logging.
	Debug bool `json:"debug"`
	// RetryDelayMS is the fixed delay before a retry/rotate when the
	// upstream gives no usable hint, in milliseconds.
	RetryDelayMS int `json:"retry-delay-ms"`
	// AuthDir is the directory credential files are persisted under.
	AuthDir string `json:"auth-dir"`
	// LogDir is the directory rotated log files are written under.
	LogDir string `json:"log-dir"`
	// LogLevel is the logrus level name.
	LogLevel string `json:"log-level"`
	// RequestLog enables verbose per-request logging.
	RequestLog bool `json:"request-log"`
	// APIKeys authenticates clients calling this proxy.
	APIKeys []string `json:"api-keys"`
	// MinRequestGapMS is the rate gate's minimum interval between
	// consecutive upstream calls, in milliseconds. 0 disables the gate.
	MinRequestGapMS int `json:"min-request-gap-ms"`
	// QuotaRefreshIntervalSeconds controls how often the background
	// refresher polls fetchAvailableModels.
	QuotaRefreshIntervalSeconds int `json:"quota-refresh-interval-seconds"`
	// GoogleOAuthClientID/Secret override the built-in installed-app
	// OAuth client credentials.
	GoogleOAuthClientID     string `json:"-"`
	GoogleOAuthClientSecret string `json:"-"`
}

// defaults returns a Config with every field set to its zero-safe default.
func defaults() Config {
	return Config{
		Host:                        "0.0.0.0",
		Port:                        8081,
		AuthDir:                     "./auths",
		LogDir:                      "./log",
		LogLevel:                    "info",
		RetryDelayMS:                1200,
		MinRequestGapMS:             500,
		QuotaRefreshIntervalSeconds: 300,
	}
}

// Load builds a Config from config.json (if present at path) overlaid with
// AG2API_* environment variables. It never mutates package-level state.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AG2API_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("AG2API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("AG2API_UPSTREAM_HOST"); v != "" {
		cfg.UpstreamHost = v
	}
	if v := os.Getenv("AG2API_PROXY_ENABLED"); v != "" {
		cfg.ProxyEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("AG2API_PROXY_URL"); v != "" {
		cfg.ProxyURL = v
	}
	if v := os.Getenv("AG2API_DEBUG"); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("AG2API_RETRY_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryDelayMS = n
		}
	}
	if v := os.Getenv("AG2API_QUOTA_REFRESH_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QuotaRefreshIntervalSeconds = n
		}
	}
	if v := os.Getenv("AG2API_AUTH_DIR"); v != "" {
		cfg.AuthDir = v
	}
	if v := os.Getenv("AG2API_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("AG2API_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AG2API_REQUEST_LOG"); v != "" {
		cfg.RequestLog = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("AG2API_MIN_REQUEST_GAP_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinRequestGapMS = n
		}
	}
	if v := os.Getenv("AG2API_API_KEYS"); v != "" {
		cfg.APIKeys = parseAPIKeys(v)
	}
	if v := os.Getenv("GOOGLE_OAUTH_CLIENT_ID"); v != "" {
		cfg.GoogleOAuthClientID = v
	}
	if v := os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET"); v != "" {
		cfg.GoogleOAuthClientSecret = v
	}
}

// parseAPIKeys accepts either a JSON array ("[\"a\",\"b\"]") or a
// comma-separated string ("a,b") for AG2API_API_KEYS.
func parseAPIKeys(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		var keys []string
		if err := json.Unmarshal([]byte(trimmed), &keys); err == nil {
			return keys
		}
	}
	var out []string
	for _, k := range strings.Split(trimmed, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
