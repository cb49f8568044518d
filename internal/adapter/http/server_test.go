package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/cep-locator/internal/adapter/http"
	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/locator"
	"github.com/couchcryptid/cep-locator/internal/observability"
	"github.com/couchcryptid/cep-locator/internal/permission"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type stubGeocoder struct {
	postalCode string
}

func (g stubGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{PostalCode: g.postalCode}, nil
}

type stubLookup struct{}

func (stubLookup) LookupPostalCode(_ context.Context, code string) (domain.Address, error) {
	if code == "99999-999" {
		return domain.Address{PostalCode: code, NotFound: true}, nil
	}
	return domain.Address{
		PostalCode:   code,
		Street:       "Praça da Sé",
		Neighborhood: "Sé",
		City:         "São Paulo",
		Region:       "SP",
	}, nil
}

type testEnv struct {
	srv     *httpadapter.Server
	tracker *permission.Tracker
}

func newTestEnv(t *testing.T, readyErr error, postalCode string) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	resolver := locator.NewResolver(stubGeocoder{postalCode: postalCode}, stubLookup{}, logger, metrics)
	session := locator.NewSession(resolver, nil, logger, metrics)
	tracker := permission.NewTracker()
	shell := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "shell:%s", r.URL.Path)
	})
	srv := httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, session, tracker, shell, logger)
	return testEnv{srv: srv, tracker: tracker}
}

func newTestServer(t *testing.T, readyErr error) *httpadapter.Server {
	return newTestEnv(t, readyErr, "01001-000").srv
}

func do(srv http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) locator.View {
	t.Helper()
	var v locator.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthzReturns200(t *testing.T) {
	rec := do(newTestServer(t, nil), http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := do(newTestServer(t, nil), http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := do(newTestServer(t, fmt.Errorf("shell not installed")), http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "shell not installed", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(newTestServer(t, nil), http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLocate_Success(t *testing.T) {
	env := newTestEnv(t, nil, "01001-000")

	rec := do(env.srv, http.MethodPost, "/api/locate", `{"lat":-23.5503,"lon":-46.6339}`)

	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeView(t, rec)
	assert.False(t, v.Loading)
	assert.Empty(t, v.Error)
	assert.Equal(t, "01001-000", v.PostalCode)
	require.NotNil(t, v.Address)
	assert.Equal(t, "Praça da Sé", v.Address.Street)
	assert.Equal(t, "São Paulo - SP", v.Address.City)
	assert.Equal(t, domain.PermissionGranted, env.tracker.State())

	view := decodeView(t, do(env.srv, http.MethodGet, "/api/view", ""))
	assert.Equal(t, v, view)
}

func TestLocate_FlowErrors(t *testing.T) {
	tests := []struct {
		name       string
		postalCode string
		body       string
		wantMsg    string
		wantCode   string
		wantState  domain.PermissionState
	}{
		{
			name:      "unsupported",
			body:      `{"error":"unsupported"}`,
			wantMsg:   domain.MsgGeolocationUnsupported,
			wantState: domain.PermissionUnknown,
		},
		{
			name:      "denied",
			body:      `{"error":"denied"}`,
			wantMsg:   domain.MsgPermissionDenied,
			wantState: domain.PermissionDenied,
		},
		{
			name:      "no postal code",
			body:      `{"lat":0,"lon":0}`,
			wantMsg:   domain.MsgPostalCodeNotFound,
			wantState: domain.PermissionGranted,
		},
		{
			name:       "address not found",
			postalCode: "99999-999",
			body:       `{"lat":-10,"lon":-50}`,
			wantMsg:    domain.MsgAddressNotFound,
			wantCode:   "99999-999",
			wantState:  domain.PermissionGranted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, tt.postalCode)

			rec := do(env.srv, http.MethodPost, "/api/locate", tt.body)

			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			v := decodeView(t, rec)
			assert.Equal(t, tt.wantMsg, v.Error)
			assert.Equal(t, tt.wantCode, v.PostalCode)
			assert.Nil(t, v.Address)
			assert.Equal(t, tt.wantState, env.tracker.State())
		})
	}
}

func TestLocate_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `lat=1`},
		{name: "missing lon", body: `{"lat":1}`},
		{name: "unknown error", body: `{"error":"timeout"}`},
		{name: "unknown field", body: `{"lat":1,"lon":2,"alt":3}`},
		{name: "latitude out of range", body: `{"lat":123,"lon":0}`},
		{name: "longitude out of range", body: `{"lat":0,"lon":-200}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, "01001-000")

			rec := do(env.srv, http.MethodPost, "/api/locate", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, domain.PermissionUnknown, env.tracker.State(), "bad input does not touch the permission state")
			assert.Empty(t, decodeView(t, do(env.srv, http.MethodGet, "/api/view", "")).Error)
		})
	}
}

func TestPermission_GetAndPut(t *testing.T) {
	env := newTestEnv(t, nil, "")

	var body map[string]string
	rec := do(env.srv, http.MethodGet, "/api/permission", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unknown", body["state"])
	assert.Equal(t, "Unknown", body["label"])

	rec = do(env.srv, http.MethodPut, "/api/permission", `{"state":"prompt"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "prompt", body["state"])
	assert.Equal(t, "Awaiting authorization", body["label"])
	assert.Equal(t, domain.PermissionPrompt, env.tracker.State())

	rec = do(env.srv, http.MethodPut, "/api/permission", `{"state":"sideways"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PermissionUnknown, env.tracker.State())

	rec = do(env.srv, http.MethodPut, "/api/permission", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnmatchedRoutesGoToShell(t *testing.T) {
	rec := do(newTestServer(t, nil), http.MethodGet, "/icon-192.png", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shell:/icon-192.png", rec.Body.String())
}

func TestNilShellReturns404(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	session := locator.NewSession(locator.NewResolver(stubGeocoder{}, stubLookup{}, logger, metrics), nil, logger, metrics)
	srv := httpadapter.NewServer(":0", &mockReadiness{}, session, permission.NewTracker(), nil, logger)

	rec := do(srv, http.MethodGet, "/index.html", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
