package locator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/observability"
)

// Publisher receives every successful resolution.
type Publisher interface {
	Publish(ctx context.Context, res Resolution) error
}

// View is the display state shared by every action on a Session.
type View struct {
	Loading    bool                `json:"loading"`
	Error      string              `json:"error,omitempty"`
	PostalCode string              `json:"postal_code,omitempty"`
	Address    *domain.AddressView `json:"address,omitempty"`
}

// Session owns the display state for a sequence of user actions. Actions are
// not serialized: two overlapping Locate calls both run, and whichever
// finishes last leaves its result in the view.
type Session struct {
	resolver  *Resolver
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu   sync.Mutex
	view View
}

// NewSession creates a Session. Pass a nil publisher to skip publishing.
func NewSession(resolver *Resolver, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Session {
	return &Session{
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// View returns a snapshot of the current display state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Locate runs one user action: it marks the view as loading, clears the
// previous error and address, resolves the position and records the outcome.
// It returns the view as written by this action along with the lookup error.
func (s *Session) Locate(ctx context.Context, positioner domain.Positioner) (View, error) {
	s.update(func(v *View) {
		v.Loading = true
		v.Error = ""
		v.Address = nil
	})

	res, err := s.resolver.Resolve(ctx, positioner)

	// The outcome replaces the whole view so that an overlapping action
	// leaves nothing behind.
	view := s.update(func(v *View) {
		v.Loading = false
		v.PostalCode = res.PostalCode
		if err != nil {
			v.Error = domain.Message(err)
			v.Address = nil
			return
		}
		v.Error = ""
		av := res.Address.View()
		v.Address = &av
	})

	if err == nil && s.publisher != nil {
		if perr := s.publisher.Publish(ctx, res); perr != nil {
			s.metrics.PublishErrors.Inc()
			s.logger.Warn("publish resolution failed", "postal_code", res.PostalCode, "error", perr)
		}
	}
	return view, err
}

func (s *Session) update(fn func(*View)) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.view)
	return s.view
}
