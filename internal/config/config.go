package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/captcha_resolver/internal/extract"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the resolver service.
type Config struct {
	// HTTP listener
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	RateLimitRPS     float64
	RateLimitBurst   int
	LogLevel         string
	LogFile          string
	TraceStdout      bool

	// Browser
	BrowserPath        string
	RemoteCDPURL       string
	WindowSize         string
	MaxSessions        int
	AdmissionTimeoutMS int

	// Extraction
	DefaultWaitSeconds int
	NavTimeoutMS       int
	NetworkIdleMS      int
	BodyTimeoutMS      int
	MaxBodyBytes       int
	MarkersFile        string

	// Results
	ResultsDir     string
	JournalEnabled bool
	ArchiveMarkup  bool
	WebhookURL     string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:           getEnvOrDefault("RESOLVER_BIND_ADDR", "127.0.0.1:8000"),
		PortCandidates:     getEnvListOrDefault("RESOLVER_PORT_CANDIDATES", []string{"127.0.0.1:8001", "127.0.0.1:8002"}),
		PortAutoFallback:   getEnvBoolOrDefault("RESOLVER_PORT_AUTO_FALLBACK", true),
		RateLimitRPS:       getEnvFloatOrDefault("RESOLVER_RATE_LIMIT_RPS", 0),
		RateLimitBurst:     getEnvIntOrDefault("RESOLVER_RATE_LIMIT_BURST", 1),
		LogLevel:           strings.ToLower(getEnvOrDefault("RESOLVER_LOG_LEVEL", "info")),
		LogFile:            getEnvOrDefault("RESOLVER_LOG_FILE", "logs/resolver.log"),
		TraceStdout:        getEnvBoolOrDefault("RESOLVER_TRACE_STDOUT", false),
		BrowserPath:        getEnvOrDefault("RESOLVER_BROWSER_PATH", ""),
		RemoteCDPURL:       getEnvOrDefault("RESOLVER_REMOTE_CDP_URL", ""),
		WindowSize:         getEnvOrDefault("RESOLVER_WINDOW_SIZE", "1920,1080"),
		MaxSessions:        getEnvIntOrDefault("RESOLVER_MAX_SESSIONS", 2),
		AdmissionTimeoutMS: getEnvIntOrDefault("RESOLVER_ADMISSION_TIMEOUT_MS", 30000),
		DefaultWaitSeconds: getEnvIntOrDefault("RESOLVER_DEFAULT_WAIT_SECONDS", 12),
		NavTimeoutMS:       getEnvIntOrDefault("RESOLVER_NAV_TIMEOUT_MS", 120000),
		NetworkIdleMS:      getEnvIntOrDefault("RESOLVER_NETWORK_IDLE_MS", 500),
		BodyTimeoutMS:      getEnvIntOrDefault("RESOLVER_BODY_TIMEOUT_MS", 10000),
		MaxBodyBytes:       getEnvIntOrDefault("RESOLVER_MAX_BODY_BYTES", 5*1024*1024),
		MarkersFile:        getEnvOrDefault("RESOLVER_MARKERS_FILE", ""),
		ResultsDir:         getEnvOrDefault("RESOLVER_RESULTS_DIR", "./resolver_data"),
		JournalEnabled:     getEnvBoolOrDefault("RESOLVER_JOURNAL_ENABLED", true),
		ArchiveMarkup:      getEnvBoolOrDefault("RESOLVER_ARCHIVE_MARKUP", false),
		WebhookURL:         getEnvOrDefault("RESOLVER_WEBHOOK_URL", ""),
	}
	cfg.clamp()
	return cfg, nil
}

func (c *Config) clamp() {
	if c.MaxSessions < 1 {
		c.MaxSessions = 1
	}
	if c.AdmissionTimeoutMS < 0 {
		c.AdmissionTimeoutMS = 0
	}
	if c.DefaultWaitSeconds < 0 {
		c.DefaultWaitSeconds = 0
	}
	if c.NavTimeoutMS < 1000 {
		c.NavTimeoutMS = 1000
	}
	if c.NetworkIdleMS < 100 {
		c.NetworkIdleMS = 100
	}
	if c.BodyTimeoutMS < 500 {
		c.BodyTimeoutMS = 500
	}
	if c.MaxBodyBytes < 0 {
		c.MaxBodyBytes = 0
	}
	if c.RateLimitRPS < 0 {
		c.RateLimitRPS = 0
	}
	if c.RateLimitBurst < 1 {
		c.RateLimitBurst = 1
	}
}

func (c *Config) DefaultWait() time.Duration {
	return time.Duration(c.DefaultWaitSeconds) * time.Second
}

func (c *Config) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutMS) * time.Millisecond
}

func (c *Config) NetworkIdle() time.Duration {
	return time.Duration(c.NetworkIdleMS) * time.Millisecond
}

func (c *Config) BodyTimeout() time.Duration {
	return time.Duration(c.BodyTimeoutMS) * time.Millisecond
}

func (c *Config) AdmissionTimeout() time.Duration {
	return time.Duration(c.AdmissionTimeoutMS) * time.Millisecond
}

// Markers returns the default markers overlaid with MarkersFile, if set.
func (c *Config) Markers() (extract.Markers, error) {
	if c.MarkersFile == "" {
		return extract.DefaultMarkers(), nil
	}
	return LoadMarkers(c.MarkersFile)
}

// LoadMarkers reads a YAML marker override. Fields left out keep their
// defaults.
func LoadMarkers(path string) (extract.Markers, error) {
	m := extract.DefaultMarkers()
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read markers %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse markers %s: %w", path, err)
	}
	return m, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
