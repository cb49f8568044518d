package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/cep-locator/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/cep-locator/internal/adapter/kafka"
	"github.com/couchcryptid/cep-locator/internal/adapter/nominatim"
	"github.com/couchcryptid/cep-locator/internal/adapter/sqlite"
	"github.com/couchcryptid/cep-locator/internal/adapter/viacep"
	"github.com/couchcryptid/cep-locator/internal/config"
	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/locator"
	"github.com/couchcryptid/cep-locator/internal/observability"
	"github.com/couchcryptid/cep-locator/internal/offline"
	"github.com/couchcryptid/cep-locator/internal/permission"
)

// staticBase is the origin the shell resolves manifest paths against. Assets
// are read from STATIC_DIR, so the host never leaves the process.
const staticBase = "http://static.local"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	// Cache storage: SQLite when CACHE_DB_PATH is set, in-memory otherwise.
	var storage offline.CacheStorage
	var store *sqlite.Storage
	if cfg.CacheDBPath != "" {
		store, err = sqlite.Open(cfg.CacheDBPath, clockwork.NewRealClock())
		if err != nil {
			logger.Error("failed to open cache database", "path", cfg.CacheDBPath, "error", err)
			os.Exit(1)
		}
		storage = store
		logger.Info("sqlite cache storage enabled", "path", cfg.CacheDBPath)
	} else {
		storage = offline.NewMemoryStorage(clockwork.NewRealClock())
		logger.Info("in-memory cache storage enabled")
	}

	shell, err := offline.New(storage, offline.Config{
		Name:         cfg.CacheName,
		BaseURL:      staticBase,
		Manifest:     cfg.CacheManifest,
		FallbackPath: cfg.CacheFallback,
	}, offline.NewDirOrigin(os.DirFS(cfg.StaticDir)), logger, metrics)
	if err != nil {
		logger.Error("failed to create offline shell", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	installed := shell.Install(ctx)
	logger.Info("offline shell installed", "cache", shell.Name(), "assets", installed, "manifest", len(cfg.CacheManifest))
	if err := shell.Activate(ctx); err != nil {
		logger.Error("offline shell activation failed", "error", err)
	}

	// Upstream lookups go through the shell cache so repeated lookups work
	// offline (feature-flagged via CACHE_UPSTREAM).
	var upstream http.RoundTripper
	if cfg.CacheUpstream {
		upstream = shell.Transport(nil)
	}

	var geocoder domain.ReverseGeocoder = nominatim.NewClient(
		cfg.NominatimURL, cfg.NominatimUserAgent, cfg.UpstreamTimeout, metrics, logger,
		nominatim.WithTransport(upstream),
		nominatim.WithRateLimit(cfg.NominatimRateLimit),
	)
	if cfg.GeocodeCacheSize > 0 {
		geocoder = nominatim.NewCachedGeocoder(geocoder, cfg.GeocodeCacheSize, metrics)
		logger.Info("geocode cache enabled", "size", cfg.GeocodeCacheSize)
	} else {
		logger.Info("geocode cache disabled")
	}
	lookup := viacep.NewClient(cfg.ViaCEPURL, cfg.UpstreamTimeout, upstream, metrics, logger)
	resolver := locator.NewResolver(geocoder, lookup, logger, metrics)

	// Resolution publishing (feature-flagged via KAFKA_ENABLED).
	var publisher locator.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}
	session := locator.NewSession(resolver, publisher, logger, metrics)

	tracker := permission.NewTracker()
	metrics.SetPermission(tracker.State())
	unsubscribe := tracker.Subscribe(func(state domain.PermissionState) {
		metrics.SetPermission(state)
		logger.Debug("permission state updated", "state", state, "label", state.Label())
	})
	defer unsubscribe()

	srv := httpadapter.NewServer(cfg.HTTPAddr, shell, session, tracker, shell.Handler(), logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("cache database close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
