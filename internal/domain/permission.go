package domain

import "strings"

// PermissionState mirrors the platform's geolocation permission.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
	PermissionUnknown PermissionState = "unknown"
)

// ParsePermissionState maps a platform value to a PermissionState. Anything
// unrecognized, including an empty string, is PermissionUnknown.
func ParsePermissionState(s string) PermissionState {
	switch PermissionState(strings.ToLower(strings.TrimSpace(s))) {
	case PermissionGranted:
		return PermissionGranted
	case PermissionDenied:
		return PermissionDenied
	case PermissionPrompt:
		return PermissionPrompt
	default:
		return PermissionUnknown
	}
}

// Label is the short display text for the state.
func (s PermissionState) Label() string {
	switch s {
	case PermissionGranted:
		return "Allowed"
	case PermissionDenied:
		return "Denied"
	case PermissionPrompt:
		return "Awaiting authorization"
	default:
		return "Unknown"
	}
}
