package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/locator"
	"github.com/couchcryptid/cep-locator/internal/permission"
)

const maxBodyBytes = 1 << 16

// Server exposes the locator API, the offline shell, and the health,
// readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	session    *locator.Session
	tracker    *permission.Tracker
	logger     *slog.Logger
}

// NewServer wires the routes. Requests that match no API route go to shell;
// a nil shell answers them with 404.
func NewServer(addr string, ready sharedobs.ReadinessChecker, session *locator.Session, tracker *permission.Tracker, shell http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		session: session,
		tracker: tracker,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/locate", s.handleLocate)
	mux.HandleFunc("GET /api/view", s.handleView)
	mux.HandleFunc("GET /api/permission", s.handleGetPermission)
	mux.HandleFunc("PUT /api/permission", s.handlePutPermission)

	if shell == nil {
		shell = http.NotFoundHandler()
	}
	mux.Handle("/", shell)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// locateRequest is what the client reports about its position. Error is
// "unsupported" when the device has no geolocation and "denied" when the
// position could not be obtained; otherwise Lat and Lon are used.
type locateRequest struct {
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Error string   `json:"error"`
}

var errMissingCoordinates = errors.New("lat and lon are required")

func (req locateRequest) positioner() (domain.Positioner, domain.PermissionState, error) {
	switch req.Error {
	case "unsupported":
		return nil, domain.PermissionUnknown, nil
	case "denied":
		return domain.FailedPosition(domain.ErrPermissionDenied), domain.PermissionDenied, nil
	case "":
	default:
		return nil, "", errors.New("unknown error value: " + req.Error)
	}
	if req.Lat == nil || req.Lon == nil {
		return nil, "", errMissingCoordinates
	}
	coords := domain.Coordinates{Lat: *req.Lat, Lon: *req.Lon}
	if err := coords.Validate(); err != nil {
		return nil, "", err
	}
	return domain.FixedPosition(coords), domain.PermissionGranted, nil
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	var req locateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	positioner, state, err := req.positioner()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if state != domain.PermissionUnknown {
		s.tracker.Set(state)
	}

	view, err := s.session.Locate(r.Context(), positioner)
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusUnprocessableEntity, view)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.session.View())
}

type permissionBody struct {
	State domain.PermissionState `json:"state"`
	Label string                 `json:"label,omitempty"`
}

func (s *Server) handleGetPermission(w http.ResponseWriter, _ *http.Request) {
	state := s.tracker.State()
	sharedobs.WriteJSON(w, http.StatusOK, permissionBody{State: state, Label: state.Label()})
}

func (s *Server) handlePutPermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State string `json:"state"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state := domain.ParsePermissionState(body.State)
	if s.tracker.Set(state) {
		s.logger.Info("permission changed", "state", state)
	}
	sharedobs.WriteJSON(w, http.StatusOK, permissionBody{State: state, Label: state.Label()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
