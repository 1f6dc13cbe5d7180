// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	Environment        string

	// Backend settings
	BackendURL     string
	BackendToken   string
	BackendTimeout time.Duration

	// Realtime transport
	RealtimeTransport string
	RealtimeURL       string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Persistence
	StoreDriver     string
	StorePath       string
	RedisURL        string
	SessionTTL      time.Duration
	Mirrors         []string
	PersistDebounce time.Duration

	// Engine
	SessionMode      model.SessionMode
	AnalysisFallback time.Duration
	Style            string
	SearchLimit      int
	Location         *model.Location

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first without overriding the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		Environment:        getEnv("ENV", "production"),

		// Backend
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8000"),
		BackendToken:   getEnv("BACKEND_TOKEN", ""),
		BackendTimeout: getDurationEnv("BACKEND_TIMEOUT", 30*time.Second),

		// Realtime
		RealtimeTransport: getEnv("REALTIME_TRANSPORT", "websocket"),
		RealtimeURL:       getEnv("REALTIME_URL", "ws://localhost:8000"),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Persistence
		StoreDriver:     getEnv("STORE_DRIVER", "sqlite"),
		StorePath:       getEnv("STORE_PATH", "data/sessions.db"),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL:      getDurationEnv("SESSION_TTL", 30*24*time.Hour),
		Mirrors:         getListEnv("MIRROR", nil),
		PersistDebounce: getDurationEnv("PERSIST_DEBOUNCE", 2*time.Second),

		// Engine
		SessionMode:      model.SessionMode(getEnv("SESSION_MODE", string(model.ModeSingle))),
		AnalysisFallback: getDurationEnv("ANALYSIS_FALLBACK", 5*time.Second),
		Style:            getEnv("NEGOTIATION_STYLE", "collaborative"),
		SearchLimit:      getIntEnv("SEARCH_LIMIT", 5),
		Location:         getLocationEnv("LOCATION"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		LLMModel:        getEnv("LLM_MODEL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.SessionMode {
	case model.ModeSingle, model.ModeConcurrent:
	default:
		return fmt.Errorf("SESSION_MODE must be %q or %q, got %q", model.ModeSingle, model.ModeConcurrent, c.SessionMode)
	}
	switch c.StoreDriver {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.RealtimeTransport {
	case "websocket", "nats":
	default:
		return fmt.Errorf("unknown REALTIME_TRANSPORT %q", c.RealtimeTransport)
	}
	for _, m := range c.Mirrors {
		switch m {
		case "backend", "nats":
		default:
			return fmt.Errorf("unknown MIRROR target %q", m)
		}
	}
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	return nil
}

// NeedsNATS reports whether any component uses the NATS connection.
func (c *Config) NeedsNATS() bool {
	if c.RealtimeTransport == "nats" {
		return true
	}
	for _, m := range c.Mirrors {
		if m == "nats" {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv splits a comma list. "none" yields an empty list.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "none" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// getLocationEnv parses "lat,lng". Malformed values are ignored.
func getLocationEnv(key string) *model.Location {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	lat, lng, ok := strings.Cut(value, ",")
	if !ok {
		return nil
	}
	la, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	ln, err2 := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &model.Location{Latitude: la, Longitude: ln}
}
