package domain

import "errors"

// Failures of the lookup chain. Each maps to a flat message via Message.
var (
	ErrGeolocationUnsupported = errors.New("geolocation unsupported")
	ErrPermissionDenied       = errors.New("geolocation permission denied")
	ErrPostalCodeNotFound     = errors.New("no postal code for coordinates")
	ErrAddressNotFound        = errors.New("postal code not found")
	ErrLookupFailed           = errors.New("lookup failed")
)

// User-facing messages.
const (
	MsgGeolocationUnsupported = "Your browser does not support geolocation."
	MsgPermissionDenied       = "Allow access to your location to use the app."
	MsgPostalCodeNotFound     = "Could not find a postal code in this region."
	MsgAddressNotFound        = "Postal code not found in the lookup service."
	MsgLookupFailed           = "An error occurred while fetching the data."
)

// Message returns the user-facing message for err, or "" for a nil error.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGeolocationUnsupported):
		return MsgGeolocationUnsupported
	case errors.Is(err, ErrPermissionDenied):
		return MsgPermissionDenied
	case errors.Is(err, ErrPostalCodeNotFound):
		return MsgPostalCodeNotFound
	case errors.Is(err, ErrAddressNotFound):
		return MsgAddressNotFound
	default:
		return MsgLookupFailed
	}
}
