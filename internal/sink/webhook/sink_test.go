package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/pkg/config"
)

type received struct {
	body      []byte
	signature string
	event     string
	delivery  string
}

func newReceiver(t *testing.T, statuses ...int) (*httptest.Server, func() []received) {
	t.Helper()
	var (
		mu    sync.Mutex
		got   []received
		calls atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{
			body:      body,
			signature: r.Header.Get(HeaderSignature),
			event:     r.Header.Get(HeaderEvent),
			delivery:  r.Header.Get(HeaderDelivery),
		})
		mu.Unlock()
		n := int(calls.Add(1)) - 1
		if n < len(statuses) {
			w.WriteHeader(statuses[n])
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func newTestSink(t *testing.T, url string, retries int) *Sink {
	t.Helper()
	sink, err := New(config.WebhookSinkConfig{URL: url, Secret: "hook-secret", Timeout: time.Second, Retries: retries}, nil, nil)
	require.NoError(t, err)
	sink.backoff = time.Millisecond
	return sink
}

func entry() *domain.AuditLog {
	return &domain.AuditLog{Seq: 7, ID: "audit-7", Action: domain.ActionCreate, EntityType: domain.EntityVariable}
}

func TestDeliverSignsPayload(t *testing.T) {
	srv, got := newReceiver(t)
	sink := newTestSink(t, srv.URL, 0)

	payload := []byte(`{"seq":7}`)
	sink.Deliver(entry(), payload)
	sink.Close(context.Background())

	calls := got()
	require.Len(t, calls, 1)
	assert.Equal(t, payload, calls[0].body)
	assert.Equal(t, "variable.create", calls[0].event)
	assert.Equal(t, "audit-7", calls[0].delivery)
	assert.NoError(t, Verify([]byte("hook-secret"), calls[0].body, calls[0].signature))
}

func TestDeliverRetriesServerErrors(t *testing.T) {
	srv, got := newReceiver(t, http.StatusBadGateway, http.StatusTooManyRequests)
	sink := newTestSink(t, srv.URL, 3)

	sink.Deliver(entry(), []byte(`{}`))
	sink.Close(context.Background())

	assert.Len(t, got(), 3)
}

func TestDeliverDoesNotRetryClientErrors(t *testing.T) {
	srv, got := newReceiver(t, http.StatusBadRequest)
	sink := newTestSink(t, srv.URL, 3)

	sink.Deliver(entry(), []byte(`{}`))
	sink.Close(context.Background())

	assert.Len(t, got(), 1)
}

func TestErrorForStatus(t *testing.T) {
	assert.NoError(t, errorForStatus(http.StatusOK))
	assert.ErrorIs(t, errorForStatus(http.StatusForbidden), ErrRejected)
	assert.Error(t, errorForStatus(http.StatusServiceUnavailable))
}

func TestVerify(t *testing.T) {
	secret := []byte("s")
	payload := []byte("body")
	sig := Sign(secret, payload)

	assert.NoError(t, Verify(secret, payload, sig))
	assert.ErrorIs(t, Verify(secret, payload, ""), ErrMissingSignature)
	assert.ErrorIs(t, Verify(secret, []byte("tampered"), sig), ErrInvalidSignature)
	assert.ErrorIs(t, Verify([]byte("other"), payload, sig), ErrInvalidSignature)
}

func TestNewValidates(t *testing.T) {
	_, err := New(config.WebhookSinkConfig{Secret: "s"}, nil, nil)
	assert.Error(t, err)
	_, err = New(config.WebhookSinkConfig{URL: "http://localhost"}, nil, nil)
	assert.Error(t, err)
}
