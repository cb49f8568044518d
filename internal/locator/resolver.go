// Package locator runs the coordinates → postal code → address chain.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/observability"
)

// Resolution is the outcome of one lookup. On failure it carries whatever was
// resolved before the failing step.
type Resolution struct {
	Coordinates domain.Coordinates `json:"coordinates"`
	PostalCode  string             `json:"postal_code"`
	Address     domain.Address     `json:"address"`
	ResolvedAt  time.Time          `json:"resolved_at"`
}

// Resolver chains a reverse geocoder and a postal lookup.
type Resolver struct {
	geocoder domain.ReverseGeocoder
	lookup   domain.PostalLookup
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewResolver creates a Resolver over the two lookup services.
func NewResolver(geocoder domain.ReverseGeocoder, lookup domain.PostalLookup, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		geocoder: geocoder,
		lookup:   lookup,
		logger:   logger,
		metrics:  metrics,
	}
}

// Resolve asks the positioner for the current position and resolves it to an
// address. A nil positioner means the device has no geolocation capability.
// Errors match one of the domain sentinels under errors.Is.
func (r *Resolver) Resolve(ctx context.Context, positioner domain.Positioner) (Resolution, error) {
	start := time.Now()
	res, err := r.resolve(ctx, positioner)
	r.metrics.Lookups.WithLabelValues(outcome(err)).Inc()
	r.metrics.LookupDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.Info("address lookup failed",
			"outcome", outcome(err),
			"postal_code", res.PostalCode,
			"error", err,
		)
		return res, err
	}
	r.logger.Info("address resolved",
		"postal_code", res.PostalCode,
		"city", res.Address.City,
		"region", res.Address.Region,
	)
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, positioner domain.Positioner) (Resolution, error) {
	var res Resolution

	if positioner == nil {
		return res, domain.ErrGeolocationUnsupported
	}

	coords, err := positioner.CurrentPosition(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrGeolocationUnsupported) {
			return res, err
		}
		// The platform reports denial, timeout and unavailability through
		// the same failure path.
		return res, fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	if err := coords.Validate(); err != nil {
		return res, fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	res.Coordinates = coords

	geo, err := r.geocoder.ReverseGeocode(ctx, coords.Lat, coords.Lon)
	if err != nil {
		return res, fmt.Errorf("%w: reverse geocode: %w", domain.ErrLookupFailed, err)
	}
	if geo.PostalCode == "" {
		return res, domain.ErrPostalCodeNotFound
	}
	res.PostalCode = geo.PostalCode

	addr, err := r.lookup.LookupPostalCode(ctx, geo.PostalCode)
	if err != nil {
		return res, fmt.Errorf("%w: postal lookup: %w", domain.ErrLookupFailed, err)
	}
	if addr.NotFound {
		return res, domain.ErrAddressNotFound
	}
	res.Address = addr
	res.ResolvedAt = domain.Now()
	return res, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrGeolocationUnsupported):
		return "unsupported"
	case errors.Is(err, domain.ErrPermissionDenied):
		return "denied"
	case errors.Is(err, domain.ErrPostalCodeNotFound):
		return "no_postal_code"
	case errors.Is(err, domain.ErrAddressNotFound):
		return "not_found"
	default:
		return "error"
	}
}
