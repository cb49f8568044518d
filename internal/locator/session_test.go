package locator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/observability"
)

type mockPublisher struct {
	mu        sync.Mutex
	published []Resolution
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, res Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, res)
	return m.err
}

func newSession(geo *mockGeocoder, lookup *mockLookup, pub Publisher) (*Session, *observability.Metrics) {
	r, m := newResolver(geo, lookup)
	return NewSession(r, pub, discardLogger(), m), m
}

func TestSession_LocateSuccessRendersAddress(t *testing.T) {
	geo := &mockGeocoder{result: domain.GeocodingResult{PostalCode: "78890-000"}}
	lookup := &mockLookup{addr: domain.Address{PostalCode: "78890-000", City: "Sorriso", Region: "MT"}}
	pub := &mockPublisher{}
	s, _ := newSession(geo, lookup, pub)

	view, err := s.Locate(context.Background(), domain.FixedPosition(paulista))
	require.NoError(t, err)

	assert.False(t, view.Loading)
	assert.Empty(t, view.Error)
	assert.Equal(t, "78890-000", view.PostalCode)
	require.NotNil(t, view.Address)
	assert.Equal(t, domain.AddressView{
		PostalCode:   "78890-000",
		Street:       domain.NotAvailable,
		Neighborhood: domain.NotAvailable,
		City:         "Sorriso - MT",
	}, *view.Address)
	assert.Equal(t, view, s.View())
	require.Len(t, pub.published, 1)
	assert.Equal(t, "78890-000", pub.published[0].PostalCode)
}

func TestSession_LocateErrorClearsPreviousAddress(t *testing.T) {
	geo := &mockGeocoder{result: domain.GeocodingResult{PostalCode: "01310-100"}}
	lookup := &mockLookup{addr: paulistaAddress}
	pub := &mockPublisher{}
	s, _ := newSession(geo, lookup, pub)

	_, err := s.Locate(context.Background(), domain.FixedPosition(paulista))
	require.NoError(t, err)

	view, err := s.Locate(context.Background(), domain.FailedPosition(errors.New("denied")))
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	assert.False(t, view.Loading)
	assert.Equal(t, domain.MsgPermissionDenied, view.Error)
	assert.Nil(t, view.Address)
	assert.Len(t, pub.published, 1, "failed lookups are not published")
}

func TestSession_LaterFailureClearsPreviousPostalCode(t *testing.T) {
	geo := &mockGeocoder{result: domain.GeocodingResult{PostalCode: "01310-100"}}
	s, _ := newSession(geo, &mockLookup{addr: paulistaAddress}, nil)

	view, err := s.Locate(context.Background(), domain.FixedPosition(paulista))
	require.NoError(t, err)
	require.Equal(t, "01310-100", view.PostalCode)

	geo.result = domain.GeocodingResult{}
	view, err = s.Locate(context.Background(), domain.FixedPosition(paulista))
	require.ErrorIs(t, err, domain.ErrPostalCodeNotFound)
	assert.Equal(t, View{Error: domain.MsgPostalCodeNotFound}, view)

	view, err = s.Locate(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrGeolocationUnsupported)
	assert.Equal(t, View{Error: domain.MsgGeolocationUnsupported}, view)
	assert.Equal(t, view, s.View())
}

func TestSession_UnsupportedHasNoAddress(t *testing.T) {
	s, _ := newSession(&mockGeocoder{}, &mockLookup{}, nil)

	view, err := s.Locate(context.Background(), nil)

	require.ErrorIs(t, err, domain.ErrGeolocationUnsupported)
	assert.Equal(t, domain.MsgGeolocationUnsupported, view.Error)
	assert.Nil(t, view.Address)
}

func TestSession_PostalCodeKeptWhenLookupFails(t *testing.T) {
	geo := &mockGeocoder{result: domain.GeocodingResult{PostalCode: "99999-999"}}
	lookup := &mockLookup{addr: domain.Address{NotFound: true}}
	s, _ := newSession(geo, lookup, nil)

	view, err := s.Locate(context.Background(), domain.FixedPosition(paulista))

	require.ErrorIs(t, err, domain.ErrAddressNotFound)
	assert.Equal(t, "99999-999", view.PostalCode)
	assert.Equal(t, domain.MsgAddressNotFound, view.Error)
	assert.Nil(t, view.Address)
}

func TestSession_PublishErrorDoesNotFailLookup(t *testing.T) {
	geo := &mockGeocoder{result: domain.GeocodingResult{PostalCode: "01310-100"}}
	lookup := &mockLookup{addr: paulistaAddress}
	pub := &mockPublisher{err: errors.New("broker down")}
	s, m := newSession(geo, lookup, pub)

	view, err := s.Locate(context.Background(), domain.FixedPosition(paulista))

	require.NoError(t, err)
	assert.NotNil(t, view.Address)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors))
}

func TestSession_LoadingWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	positioner := domain.PositionFunc(func(context.Context) (domain.Coordinates, error) {
		close(entered)
		<-release
		return paulista, nil
	})

	geo := &mockGeocoder{result: domain.GeocodingResult{PostalCode: "01310-100"}}
	s, _ := newSession(geo, &mockLookup{addr: paulistaAddress}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Locate(context.Background(), positioner)
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("positioner was not called")
	}
	assert.True(t, s.View().Loading)

	close(release)
	<-done
	assert.False(t, s.View().Loading)
}

func TestSession_OverlappingActionsLastWriterWins(t *testing.T) {
	slowRelease := make(chan struct{})
	slowEntered := make(chan struct{})
	slow := domain.PositionFunc(func(context.Context) (domain.Coordinates, error) {
		close(slowEntered)
		<-slowRelease
		return domain.Coordinates{}, errors.New("timeout")
	})

	geo := &mockGeocoder{result: domain.GeocodingResult{PostalCode: "01310-100"}}
	s, _ := newSession(geo, &mockLookup{addr: paulistaAddress}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Locate(context.Background(), slow)
	}()
	<-slowEntered

	_, err := s.Locate(context.Background(), domain.FixedPosition(paulista))
	require.NoError(t, err)
	assert.NotNil(t, s.View().Address)

	close(slowRelease)
	<-done

	// The slower action finished last and overwrote the view.
	assert.Equal(t, domain.MsgPermissionDenied, s.View().Error)
	assert.Nil(t, s.View().Address)
}
