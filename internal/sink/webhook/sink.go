// Package webhook posts committed audit entries to an HTTP endpoint. Every
// request body is signed with HMAC-SHA256 so receivers can authenticate it
// with Verify.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/pkg/config"
	"github.com/splax/confvault/pkg/logger"
)

// Request headers set on every delivery.
const (
	HeaderSignature = "X-Confvault-Signature"
	HeaderEvent     = "X-Confvault-Event"
	HeaderDelivery  = "X-Confvault-Delivery"

	signaturePrefix = "sha256="
	defaultTimeout  = 5 * time.Second
	retryBase       = 200 * time.Millisecond
)

var (
	// ErrMissingSignature is returned by Verify when no signature was supplied.
	ErrMissingSignature = errors.New("webhook: missing signature")
	// ErrInvalidSignature is returned by Verify when the signature does not match.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrRejected indicates the receiver answered with a non-retryable status.
	ErrRejected = errors.New("webhook: delivery rejected")
)

// Sink delivers audit entries asynchronously with bounded retries.
type Sink struct {
	url     string
	secret  []byte
	client  *http.Client
	retries uint64
	backoff time.Duration
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a sink from cfg. A nil client gets one with cfg.Timeout.
func New(cfg config.WebhookSinkConfig, client *http.Client, log *slog.Logger) (*Sink, error) {
	target := strings.TrimSpace(cfg.URL)
	if target == "" {
		return nil, errors.New("webhook: url required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("webhook: secret required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = logger.Discard()
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sink{
		url:     target,
		secret:  []byte(cfg.Secret),
		client:  client,
		retries: uint64(retries),
		backoff: retryBase,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Deliver posts payload in the background. Failures are logged by audit id.
func (s *Sink) Deliver(entry *domain.AuditLog, payload []byte) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.post(s.ctx, entry, payload); err != nil {
			s.log.Warn("audit webhook delivery failed", "audit_id", entry.ID, "seq", entry.Seq, "error", err)
		}
	}()
}

func (s *Sink) post(ctx context.Context, entry *domain.AuditLog, payload []byte) error {
	signature := Sign(s.secret, payload)
	backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(s.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderEvent, entry.EntityType+"."+entry.Action)
		req.Header.Set(HeaderDelivery, entry.ID)

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("send webhook request: %w", err))
		}
		resp.Body.Close()
		return errorForStatus(resp.StatusCode)
	})
}

func errorForStatus(status int) error {
	switch {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return retry.RetryableError(fmt.Errorf("webhook responded %d", status))
	default:
		return fmt.Errorf("%w: status %d", ErrRejected, status)
	}
}

// Close waits for in-flight deliveries, abandoning retries after ctx ends.
func (s *Sink) Close(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
	s.cancel()
}

// Sign returns the signature header value for payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header produced by Sign.
func Verify(secret, payload []byte, provided string) error {
	if provided == "" {
		return ErrMissingSignature
	}
	if !hmac.Equal([]byte(provided), []byte(Sign(secret, payload))) {
		return ErrInvalidSignature
	}
	return nil
}
