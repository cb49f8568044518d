package domain

import (
	"context"
	"strings"
)

// NotAvailable is rendered in place of a missing optional address field.
const NotAvailable = "not available"

// Address is the structured result of a postal code lookup.
type Address struct {
	PostalCode   string `json:"postal_code"`
	Street       string `json:"street,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city"`
	Region       string `json:"region"`

	// NotFound is set when the lookup service had no match for the code.
	NotFound bool `json:"-"`
}

// AddressView is the rendered form of an Address.
type AddressView struct {
	PostalCode   string `json:"postal_code"`
	Street       string `json:"street"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
}

// View renders the address for display. Street and neighborhood are optional
// and fall back to NotAvailable; the city line is "<city> - <region>".
func (a Address) View() AddressView {
	return AddressView{
		PostalCode:   a.PostalCode,
		Street:       orNotAvailable(a.Street),
		Neighborhood: orNotAvailable(a.Neighborhood),
		City:         a.City + " - " + a.Region,
	}
}

func orNotAvailable(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}

// GeocodingResult is what a reverse geocoder knows about a coordinate pair.
// PostalCode is empty when the provider has no postal code for the region.
type GeocodingResult struct {
	PostalCode       string
	FormattedAddress string
	Road             string
	Suburb           string
	City             string
	State            string
	CountryCode      string
}

// ReverseGeocoder resolves coordinates to place details.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}

// PostalLookup resolves a postal code to a structured address. A code the
// service does not know is reported as an Address with NotFound set, not as
// an error.
type PostalLookup interface {
	LookupPostalCode(ctx context.Context, code string) (Address, error)
}

// NormalizePostalCode strips everything but digits from code.
func NormalizePostalCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
