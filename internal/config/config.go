package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultManifest lists the static assets pre-cached on install.
var DefaultManifest = []string{"/", "/index.html", "/manifest.json", "/icon-192.png", "/icon-512.png"}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Upstream lookup services.
	NominatimURL       string
	NominatimUserAgent string
	NominatimRateLimit float64
	ViaCEPURL          string
	UpstreamTimeout    time.Duration
	GeocodeCacheSize   int

	// Offline cache shell.
	CacheName     string
	CacheDBPath   string
	CacheManifest []string
	CacheFallback string
	CacheUpstream bool
	StaticDir     string

	// Resolution publishing.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	upstreamTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("UPSTREAM_TIMEOUT", "5s"))
	if err != nil || upstreamTimeout <= 0 {
		return nil, errors.New("invalid UPSTREAM_TIMEOUT")
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("NOMINATIM_RATE_LIMIT", "1"), 64)
	if err != nil || rateLimit <= 0 {
		return nil, errors.New("invalid NOMINATIM_RATE_LIMIT")
	}

	geocodeCacheSize, err := parseGeocodeCacheSize()
	if err != nil {
		return nil, err
	}

	cacheUpstream, err := parseBool("CACHE_UPSTREAM", true)
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		NominatimURL:       strings.TrimRight(sharedcfg.EnvOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"), "/"),
		NominatimUserAgent: sharedcfg.EnvOrDefault("NOMINATIM_USER_AGENT", "cep-locator/1.0"),
		NominatimRateLimit: rateLimit,
		ViaCEPURL:          strings.TrimRight(sharedcfg.EnvOrDefault("VIACEP_URL", "https://viacep.com.br"), "/"),
		UpstreamTimeout:    upstreamTimeout,
		GeocodeCacheSize:   geocodeCacheSize,

		CacheName:     sharedcfg.EnvOrDefault("CACHE_NAME", "cep-locator-cache-v1"),
		CacheDBPath:   os.Getenv("CACHE_DB_PATH"),
		CacheManifest: parseManifest(os.Getenv("CACHE_MANIFEST")),
		CacheFallback: sharedcfg.EnvOrDefault("CACHE_FALLBACK", "/index.html"),
		CacheUpstream: cacheUpstream,
		StaticDir:     sharedcfg.EnvOrDefault("STATIC_DIR", "./web"),

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "resolved-addresses"),
	}

	if cfg.NominatimUserAgent == "" {
		return nil, errors.New("NOMINATIM_USER_AGENT is required")
	}
	if cfg.CacheName == "" {
		return nil, errors.New("CACHE_NAME is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_TOPIC is empty")
	}

	return cfg, nil
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}

// parseGeocodeCacheSize reads GEOCODE_CACHE_SIZE; 0 disables the LRU.
func parseGeocodeCacheSize() (int, error) {
	s := sharedcfg.EnvOrDefault("GEOCODE_CACHE_SIZE", "1000")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid GEOCODE_CACHE_SIZE: %q", s)
	}
	return n, nil
}

// parseManifest splits a comma-separated list of root-relative paths. A
// leading "./" is accepted and rewritten to "/".
func parseManifest(s string) []string {
	if strings.TrimSpace(s) == "" {
		return append([]string(nil), DefaultManifest...)
	}
	var paths []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "./") {
			p = p[1:]
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		paths = append(paths, p)
	}
	return paths
}
