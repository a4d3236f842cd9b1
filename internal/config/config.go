// README: Config loader with env defaults for HTTP, DB, Redis, maps, quoting, dispatch and events.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type DispatchConfig struct {
	RadiusKm    float64
	NotifyLimit int
	NotifiedTTL time.Duration
}

type QuoteConfig struct {
	Debounce   time.Duration
	SessionTTL time.Duration
	// LookupTimeout bounds a single distance lookup started by a quote session.
	LookupTimeout time.Duration
}

type PricingConfig struct {
	StrictInvariants bool
}

type Config struct {
	HTTP struct {
		Addr        string
		CORSOrigins []string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Maps struct {
		APIKey   string
		CacheTTL time.Duration
	}
	Kafka struct {
		Brokers    []string
		OrderTopic string
	}
	Log struct {
		Level string
	}
	Quote    QuoteConfig
	Pricing  PricingConfig
	Dispatch DispatchConfig
}

func Load() (Config, error) {
	var cfg Config
	cfg.HTTP.Addr = envOrDefault("SOKUHAI_HTTP_ADDR", ":8080")
	cfg.HTTP.CORSOrigins = envOrDefaultList("SOKUHAI_CORS_ORIGINS", []string{"http://localhost:5173"})
	// An empty DSN keeps tariffs and orders in memory.
	cfg.DB.DSN = envOrDefault("SOKUHAI_DB_DSN", "")
	cfg.Redis.Addr = envOrDefault("SOKUHAI_REDIS_ADDR", "localhost:6379")
	cfg.Maps.APIKey = os.Getenv("SOKUHAI_MAPS_API_KEY")
	if cfg.Maps.APIKey == "" {
		return cfg, errors.New("environment variable SOKUHAI_MAPS_API_KEY is required")
	}
	cfg.Maps.CacheTTL = envOrDefaultDuration("SOKUHAI_ROUTE_CACHE_TTL", 6*time.Hour)
	cfg.Kafka.Brokers = envOrDefaultList("SOKUHAI_KAFKA_BROKERS", nil)
	cfg.Kafka.OrderTopic = envOrDefault("SOKUHAI_KAFKA_ORDER_TOPIC", "sokuhai.orders")
	cfg.Log.Level = envOrDefault("SOKUHAI_LOG_LEVEL", "info")
	cfg.Quote.Debounce = envOrDefaultDuration("SOKUHAI_QUOTE_DEBOUNCE", 600*time.Millisecond)
	cfg.Quote.SessionTTL = envOrDefaultDuration("SOKUHAI_QUOTE_SESSION_TTL", 30*time.Minute)
	cfg.Quote.LookupTimeout = envOrDefaultDuration("SOKUHAI_QUOTE_LOOKUP_TIMEOUT", 5*time.Second)
	cfg.Pricing.StrictInvariants = envOrDefaultBool("SOKUHAI_STRICT_INVARIANTS", false)
	cfg.Dispatch.RadiusKm = envOrDefaultFloat("SOKUHAI_DISPATCH_RADIUS_KM", 5.0)
	cfg.Dispatch.NotifyLimit = envOrDefaultInt("SOKUHAI_DISPATCH_NOTIFY_LIMIT", 10)
	cfg.Dispatch.NotifiedTTL = envOrDefaultDuration("SOKUHAI_DISPATCH_NOTIFIED_TTL", 24*time.Hour)
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma separated value, dropping blanks.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
