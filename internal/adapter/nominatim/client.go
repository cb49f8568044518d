package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/observability"
)

const serviceLabel = "nominatim"

// Client implements domain.ReverseGeocoder using the Nominatim reverse API.
type Client struct {
	userAgent  string
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport routes requests through rt, e.g. the offline cache shell.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// WithRateLimit caps outgoing requests per second. The public instance
// allows at most one.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewClient creates a Nominatim client against baseURL, e.g.
// "https://nominatim.openstreetmap.org".
func NewClient(baseURL, userAgent string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		limiter: rate.NewLimiter(1, 1),
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReverseGeocode converts coordinates to place details. A region without a
// postal code yields a result with an empty PostalCode and no error.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	params := url.Values{
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', -1, 64)},
		"format":         {"json"},
		"addressdetails": {"1"},
	}
	u := c.baseURL + "/reverse?" + params.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	result, err := c.doRequest(ctx, u)
	c.metrics.UpstreamDuration.WithLabelValues(serviceLabel).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.UpstreamRequests.WithLabelValues(serviceLabel, "error").Inc()
	case result.PostalCode == "":
		c.metrics.UpstreamRequests.WithLabelValues(serviceLabel, "empty").Inc()
	default:
		c.metrics.UpstreamRequests.WithLabelValues(serviceLabel, "success").Inc()
	}
	return result, err
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.GeocodingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.GeocodingResult{}, fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
	}

	var nr response
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("decode response: %w", err)
	}

	// Nominatim answers 200 with an "error" field for coordinates it cannot
	// place, e.g. open sea.
	if nr.Error != "" {
		c.logger.Debug("nominatim could not geocode", "error", nr.Error)
		return domain.GeocodingResult{}, nil
	}

	return domain.GeocodingResult{
		PostalCode:       nr.Address.Postcode,
		FormattedAddress: nr.DisplayName,
		Road:             nr.Address.Road,
		Suburb:           nr.Address.Suburb,
		City:             nr.Address.cityName(),
		State:            nr.Address.State,
		CountryCode:      nr.Address.CountryCode,
	}, nil
}

// Nominatim API response types.

type response struct {
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
	Error       string  `json:"error"`
}

type address struct {
	Postcode     string `json:"postcode"`
	Road         string `json:"road"`
	Suburb       string `json:"suburb"`
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	Municipality string `json:"municipality"`
	State        string `json:"state"`
	CountryCode  string `json:"country_code"`
}

// cityName picks the most specific settlement name present. OSM tags a
// place as city, town or village depending on its size.
func (a address) cityName() string {
	for _, s := range []string{a.City, a.Town, a.Village, a.Municipality} {
		if s != "" {
			return s
		}
	}
	return ""
}
