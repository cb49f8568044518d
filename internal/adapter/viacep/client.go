// Package viacep implements domain.PostalLookup against the ViaCEP API.
package viacep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/observability"
)

const serviceLabel = "viacep"

// Client looks up CEPs on ViaCEP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a ViaCEP client against baseURL, e.g.
// "https://viacep.com.br". A nil transport uses http.DefaultTransport.
func NewClient(baseURL string, timeout time.Duration, transport http.RoundTripper, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL: baseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// LookupPostalCode resolves a CEP to an address. The code may be formatted
// ("01310-100") or bare; a code that is not eight digits is reported as not
// found without calling the API.
func (c *Client) LookupPostalCode(ctx context.Context, code string) (domain.Address, error) {
	digits := domain.NormalizePostalCode(code)
	if len(digits) != 8 {
		c.logger.Debug("postal code is not a CEP", "postal_code", code)
		c.metrics.UpstreamRequests.WithLabelValues(serviceLabel, "empty").Inc()
		return domain.Address{PostalCode: code, NotFound: true}, nil
	}

	start := time.Now()
	addr, err := c.doRequest(ctx, fmt.Sprintf("%s/ws/%s/json/", c.baseURL, digits))
	c.metrics.UpstreamDuration.WithLabelValues(serviceLabel).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.UpstreamRequests.WithLabelValues(serviceLabel, "error").Inc()
	case addr.NotFound:
		c.metrics.UpstreamRequests.WithLabelValues(serviceLabel, "empty").Inc()
		addr.PostalCode = code
	default:
		c.metrics.UpstreamRequests.WithLabelValues(serviceLabel, "success").Inc()
	}
	return addr, err
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.Address, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.Address{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Address{}, fmt.Errorf("postal lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Address{}, fmt.Errorf("viacep API error: status %d: %s", resp.StatusCode, body)
	}

	var vr response
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return domain.Address{}, fmt.Errorf("decode response: %w", err)
	}

	if vr.Erro {
		return domain.Address{NotFound: true}, nil
	}
	return domain.Address{
		PostalCode:   vr.CEP,
		Street:       vr.Logradouro,
		Neighborhood: vr.Bairro,
		City:         vr.Localidade,
		Region:       vr.UF,
	}, nil
}

// ViaCEP API response types.

type response struct {
	CEP        string   `json:"cep"`
	Logradouro string   `json:"logradouro"`
	Bairro     string   `json:"bairro"`
	Localidade string   `json:"localidade"`
	UF         string   `json:"uf"`
	Erro       flexBool `json:"erro"`
}

// flexBool accepts both true and "true"; ViaCEP has served either over time.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	*b = flexBool(bytes.Equal(data, []byte("true")))
	return nil
}
