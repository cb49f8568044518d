package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/cep-locator/internal/config"
	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/locator"
)

type fakeWriter struct {
	errs   []error
	calls  int
	msgs   []kafkago.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testResolution() locator.Resolution {
	return locator.Resolution{
		Coordinates: domain.Coordinates{Lat: -23.5614, Lon: -46.6559},
		PostalCode:  "01310-100",
		Address: domain.Address{
			PostalCode:   "01310-100",
			Street:       "Avenida Paulista",
			Neighborhood: "Bela Vista",
			City:         "São Paulo",
			Region:       "SP",
		},
		ResolvedAt: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func newTestWriter(fw *fakeWriter) *Writer {
	return &Writer{
		writer:  fw,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		backoff: time.Millisecond,
	}
}

func TestSerializeToMessage(t *testing.T) {
	res := testResolution()

	msg, err := serializeToMessage(res)
	require.NoError(t, err)

	assert.Equal(t, []byte("01310100"), msg.Key)
	assert.Contains(t, string(msg.Value), `"postal_code":"01310-100"`)
	assert.Contains(t, string(msg.Value), `"street":"Avenida Paulista"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "postal_code", msg.Headers[0].Key)
	assert.Equal(t, []byte("01310-100"), msg.Headers[0].Value)
	assert.Equal(t, "resolved_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2025-03-14T12:00:00Z"), msg.Headers[1].Value)
}

func TestPublish_WritesOneMessage(t *testing.T) {
	fw := &fakeWriter{}
	w := newTestWriter(fw)

	require.NoError(t, w.Publish(context.Background(), testResolution()))

	assert.Equal(t, 1, fw.calls)
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, []byte("01310100"), fw.msgs[0].Key)
}

func TestPublish_RetriesTransientFailure(t *testing.T) {
	fw := &fakeWriter{errs: []error{errors.New("leader not available"), nil}}
	w := newTestWriter(fw)

	require.NoError(t, w.Publish(context.Background(), testResolution()))

	assert.Equal(t, 2, fw.calls)
	assert.Len(t, fw.msgs, 1)
}

func TestPublish_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("broker down")
	fw := &fakeWriter{errs: []error{boom, boom, boom, boom}}
	w := newTestWriter(fw)

	err := w.Publish(context.Background(), testResolution())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, maxAttempts, fw.calls)
}

func TestPublish_StopsOnCancelledContext(t *testing.T) {
	fw := &fakeWriter{errs: []error{errors.New("broker down")}}
	w := newTestWriter(fw)
	w.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Publish(ctx, testResolution())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fw.calls)
}

func TestNewWriter_ConfiguresSingleMessageWrites(t *testing.T) {
	cfg := &config.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "resolved-addresses"}
	w := NewWriter(cfg, slog.Default())

	kw, ok := w.writer.(*kafkago.Writer)
	require.True(t, ok)
	assert.Equal(t, "resolved-addresses", kw.Topic)
	assert.Equal(t, 1, kw.BatchSize, "each publish flushes without waiting for a batch")
	assert.Equal(t, 10*time.Millisecond, kw.BatchTimeout)
	require.NoError(t, w.Close())
}
