// Command locate resolves one position to a postal address and prints it.
//
// Usage:
//
//	go run ./cmd/locate -lat -23.5614 -lon -46.6559
//
// Upstream URLs, timeouts and the Nominatim User-Agent come from the same
// environment variables as the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/cep-locator/internal/adapter/nominatim"
	"github.com/couchcryptid/cep-locator/internal/adapter/viacep"
	"github.com/couchcryptid/cep-locator/internal/config"
	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/locator"
	"github.com/couchcryptid/cep-locator/internal/observability"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("locate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	lat := fs.Float64("lat", 0, "latitude in decimal degrees")
	lon := fs.Float64("lon", 0, "longitude in decimal degrees")
	verbose := fs.Bool("v", false, "log upstream requests to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !flagSet(fs, "lat") || !flagSet(fs, "lon") {
		fmt.Fprintln(stderr, "both -lat and -lon are required")
		fs.Usage()
		return 2
	}

	coords := domain.Coordinates{Lat: *lat, Lon: *lon}
	if err := coords.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid position: %v\n", err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	// Logs go to stderr; stdout carries only the rendered address.
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	metrics := observability.NewUnregisteredMetrics()

	geocoder := nominatim.NewClient(cfg.NominatimURL, cfg.NominatimUserAgent, cfg.UpstreamTimeout, metrics, logger,
		nominatim.WithRateLimit(cfg.NominatimRateLimit))
	lookup := viacep.NewClient(cfg.ViaCEPURL, cfg.UpstreamTimeout, nil, metrics, logger)
	session := locator.NewSession(locator.NewResolver(geocoder, lookup, logger, metrics), nil, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	view, err := session.Locate(ctx, domain.FixedPosition(coords))
	printView(stdout, view)
	if err != nil {
		logger.Debug("lookup failed", "error", err)
		return 1
	}
	return 0
}

func printView(w io.Writer, v locator.View) {
	if v.PostalCode != "" {
		fmt.Fprintf(w, "Postal code:  %s\n", v.PostalCode)
	}
	if v.Error != "" {
		fmt.Fprintln(w, v.Error)
		return
	}
	if v.Address == nil {
		return
	}
	fmt.Fprintf(w, "Street:       %s\n", v.Address.Street)
	fmt.Fprintf(w, "Neighborhood: %s\n", v.Address.Neighborhood)
	fmt.Fprintf(w, "City:         %s\n", v.Address.City)
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
