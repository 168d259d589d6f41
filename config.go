package visitcounter

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/eringen/visitcounter/analytics"
)

// Config holds all configuration for a visitcounter server.
type Config struct {
	SiteName string // Dashboard title (default "Visitor Counter")
	Addr     string // Listen address (default ":2306")

	Store analytics.StoreConfig // Backend selection (default sqlite at data/visitors.db)

	RedisURL       string        // Optional: share cached totals through Redis
	TotalsCacheTTL time.Duration // Totals cache TTL (default 30s)

	// TrustedIPHeader is checked before X-Forwarded-For (default "CF-Connecting-IP").
	// Set to "none" to skip it.
	TrustedIPHeader string
	CORSOrigins     []string // Allowed origins for the JSON API (default "*")

	SessionSecret string // Cookie session secret; random per process when empty
	CookieSecure  bool   // Set true for HTTPS

	LogLevel string // debug, info, warn, error (default "info")
}

func (c *Config) setDefaults() {
	if c.SiteName == "" {
		c.SiteName = "Visitor Counter"
	}
	if c.Addr == "" {
		c.Addr = ":2306"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DatabasePath == "" {
		c.Store.DatabasePath = "data/visitors.db"
	}
	if c.Store.MongoURI == "" {
		c.Store.MongoURI = "mongodb://localhost:27017"
	}
	if c.Store.MongoDatabase == "" {
		c.Store.MongoDatabase = "visitor_counter"
	}
	if c.TotalsCacheTTL == 0 {
		c.TotalsCacheTTL = 30 * time.Second
	}
	if c.TrustedIPHeader == "" {
		c.TrustedIPHeader = "CF-Connecting-IP"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// trustedHeader returns the header name to trust, or "" when disabled.
func (c *Config) trustedHeader() string {
	if strings.EqualFold(c.TrustedIPHeader, "none") {
		return ""
	}
	return c.TrustedIPHeader
}

// LoadConfig reads the configuration from the environment. A .env file in
// the working directory is loaded first when present.
func LoadConfig() (Config, error) {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	cfg := Config{
		SiteName: os.Getenv("SITE_NAME"),
		Addr:     os.Getenv("ADDR"),
		Store: analytics.StoreConfig{
			Driver:        os.Getenv("STORE_DRIVER"),
			DatabasePath:  os.Getenv("DATABASE_PATH"),
			MongoURI:      os.Getenv("MONGO_URI"),
			MongoDatabase: os.Getenv("MONGO_DATABASE"),
		},
		RedisURL:        os.Getenv("REDIS_URL"),
		TrustedIPHeader: os.Getenv("TRUSTED_IP_HEADER"),
		CORSOrigins:     splitList(os.Getenv("CORS_ORIGINS")),
		SessionSecret:   os.Getenv("SESSION_SECRET"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
	}
	if cfg.Addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.Addr = ":" + port
		}
	}
	if v := os.Getenv("TOTALS_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("TOTALS_CACHE_TTL: %w", err)
		}
		cfg.TotalsCacheTTL = ttl
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("COOKIE_SECURE: %w", err)
		}
		cfg.CookieSecure = secure
	}

	cfg.setDefaults()
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
