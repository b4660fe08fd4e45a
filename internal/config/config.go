package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the service needs.
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Session  SessionConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	upstream, err := loadUpstreamConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Upstream: upstream, Session: session}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr          string
	AllowedOrigin string
	MaxUploadSize int64
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	maxUpload := int64(10 * 1024 * 1024)
	if override, err := parseOptionalIntEnv("MAX_UPLOAD_SIZE"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ServerConfig{}, fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", *override)
		}
		maxUpload = int64(*override)
	}

	return ServerConfig{
		Addr:          addr,
		AllowedOrigin: getEnvOrDefault("ALLOWED_ORIGIN", "*"),
		MaxUploadSize: maxUpload,
	}, nil
}

// Key selection strategies for the first attempt of a request.
const (
	StrategyRandom     = "random"
	StrategySequential = "sequential"
)

// UpstreamConfig describes the Gemini endpoint, the credential pool and the
// retry policy.
type UpstreamConfig struct {
	APIKeys           []string
	BaseURL           string
	DefaultModel      string
	KeyStrategy       string
	MaxRetries        int
	RetryDelay        time.Duration
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	KeepAliveInterval time.Duration
}

func loadUpstreamConfig() (UpstreamConfig, error) {
	keys := splitKeys(os.Getenv("GEMINI_API_KEYS"))
	if len(keys) == 0 {
		return UpstreamConfig{}, fmt.Errorf("GEMINI_API_KEYS is required (comma-separated list)")
	}

	strategy := getEnvOrDefault("KEY_STRATEGY", StrategyRandom)
	if strategy != StrategyRandom && strategy != StrategySequential {
		return UpstreamConfig{}, fmt.Errorf("invalid KEY_STRATEGY value %q: want %q or %q", strategy, StrategyRandom, StrategySequential)
	}

	maxRetries, err := intEnvOrDefault("MAX_RETRIES", 5)
	if err != nil {
		return UpstreamConfig{}, err
	}
	if maxRetries < 1 {
		return UpstreamConfig{}, fmt.Errorf("MAX_RETRIES must be at least 1, got %d", maxRetries)
	}

	retryDelayMS, err := intEnvOrDefault("RETRY_DELAY_MS", 500)
	if err != nil {
		return UpstreamConfig{}, err
	}

	connectSec, err := intEnvOrDefault("CONNECT_TIMEOUT", 10)
	if err != nil {
		return UpstreamConfig{}, err
	}

	requestSec, err := intEnvOrDefault("REQUEST_TIMEOUT", 180)
	if err != nil {
		return UpstreamConfig{}, err
	}

	keepAliveSec, err := intEnvOrDefault("KEEPALIVE_INTERVAL", 10)
	if err != nil {
		return UpstreamConfig{}, err
	}

	return UpstreamConfig{
		APIKeys:           keys,
		BaseURL:           getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		DefaultModel:      getEnvOrDefault("DEFAULT_MODEL", "gemini-3-pro-image-preview"),
		KeyStrategy:       strategy,
		MaxRetries:        maxRetries,
		RetryDelay:        time.Duration(retryDelayMS) * time.Millisecond,
		ConnectTimeout:    time.Duration(connectSec) * time.Second,
		RequestTimeout:    time.Duration(requestSec) * time.Second,
		KeepAliveInterval: time.Duration(keepAliveSec) * time.Second,
	}, nil
}

// Session storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// SessionConfig describes where conversation histories are persisted.
type SessionConfig struct {
	Dir     string
	Backend string
	TTL     time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	backend := getEnvOrDefault("SESSION_BACKEND", BackendFile)
	if backend != BackendFile && backend != BackendSQLite {
		return SessionConfig{}, fmt.Errorf("invalid SESSION_BACKEND value %q: want %q or %q", backend, BackendFile, BackendSQLite)
	}

	ttl := time.Duration(0)
	if raw := strings.TrimSpace(os.Getenv("SESSION_TTL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return SessionConfig{}, fmt.Errorf("invalid SESSION_TTL value %q: %w", raw, err)
		}
		if parsed < 0 {
			return SessionConfig{}, fmt.Errorf("SESSION_TTL must not be negative, got %s", parsed)
		}
		ttl = parsed
	}

	return SessionConfig{
		Dir:     getEnvOrDefault("SESSION_DIR", "./sessions"),
		Backend: backend,
		TTL:     ttl,
	}, nil
}

func splitKeys(raw string) []string {
	var keys []string
	for _, key := range strings.Split(raw, ",") {
		key = strings.TrimSpace(key)
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func intEnvOrDefault(key string, defaultValue int) (int, error) {
	override, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if override == nil {
		return defaultValue, nil
	}
	return *override, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
