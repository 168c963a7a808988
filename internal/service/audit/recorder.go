package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
	"github.com/splax/confvault/pkg/logger"
)

// Writer appends audit entries. repository.Tx satisfies it so that an entry
// commits atomically with the mutation it describes.
type Writer interface {
	InsertAuditLog(ctx context.Context, log *domain.AuditLog) error
}

// Sink receives entries after their transaction commits. Deliver must not
// block on slow consumers.
type Sink interface {
	Deliver(entry *domain.AuditLog, payload []byte)
}

// Entry describes a mutation to record. OldValue and NewValue must already be
// redacted by the caller when they belong to a secret.
type Entry struct {
	Action     string
	EntityType string
	EntityID   string
	OldValue   *string
	NewValue   *string
	Metadata   any
	Actor      domain.Actor
}

// Config bounds audit queries.
type Config struct {
	DefaultLimit int
	MaxLimit     int
}

// Recorder appends and queries the audit trail.
type Recorder struct {
	logs   repository.AuditRepository
	sinks  []Sink
	logger *slog.Logger
	cfg    Config

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

var (
	errActionInvalid     = fmt.Errorf("%w: audit action invalid", repository.ErrInvalidArgument)
	errEntityTypeInvalid = fmt.Errorf("%w: audit entity type invalid", repository.ErrInvalidArgument)
	errEntityIDRequired  = fmt.Errorf("%w: audit entity id required", repository.ErrInvalidArgument)
	errActorRequired     = fmt.Errorf("%w: caller identity required", repository.ErrInvalidArgument)
)

// NewRecorder constructs a Recorder that forwards committed entries to sinks.
func NewRecorder(logs repository.AuditRepository, log *slog.Logger, cfg Config, sinks ...Sink) *Recorder {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 200
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	return &Recorder{logs: logs, sinks: sinks, logger: log, cfg: cfg, now: time.Now}
}

// Record writes one entry through w. Any failure is reported as a persistence
// error so the enclosing transaction rolls back.
func (r *Recorder) Record(ctx context.Context, w Writer, e Entry) (*domain.AuditLog, error) {
	if !domain.ValidAction(e.Action) {
		return nil, errActionInvalid
	}
	if !domain.ValidEntityType(e.EntityType) {
		return nil, errEntityTypeInvalid
	}
	if strings.TrimSpace(e.EntityID) == "" {
		return nil, errEntityIDRequired
	}
	if !e.Actor.Valid() {
		return nil, errActorRequired
	}

	entry := &domain.AuditLog{
		ID:         uuid.NewString(),
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		OldValue:   e.OldValue,
		NewValue:   e.NewValue,
		UserID:     e.Actor.ID,
		UserName:   e.Actor.Username,
	}
	if e.Metadata != nil {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode audit metadata: %w", err)
		}
		entry.Metadata = raw
	}

	// Timestamps follow insertion order within this process only. Across
	// replicas sharing one database, seq is the ordering key.
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.Timestamp = r.tick()
	if err := w.InsertAuditLog(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrPersistence) {
			return nil, err
		}
		return nil, repository.Persistence("record audit", err)
	}
	return entry, nil
}

func (r *Recorder) tick() time.Time {
	now := r.now().UTC().Truncate(time.Microsecond)
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now
	return now
}

// Publish delivers committed entries to every sink. It never fails the
// caller.
func (r *Recorder) Publish(entries ...*domain.AuditLog) {
	if len(r.sinks) == 0 {
		return
	}
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			r.logger.Warn("encode audit event failed", "audit_id", entry.ID, "error", err)
			continue
		}
		for _, sink := range r.sinks {
			sink.Deliver(entry, payload)
		}
	}
}

// Filter narrows an audit query. Zero values mean "any".
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

// Page is one window of the audit trail, most recent first.
type Page struct {
	Logs   []domain.AuditLog `json:"logs"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// Query returns audit entries newest first. A non-positive limit falls back
// to the default and larger limits are capped.
func (r *Recorder) Query(ctx context.Context, f Filter) (Page, error) {
	f.Action = strings.TrimSpace(f.Action)
	f.EntityType = strings.TrimSpace(f.EntityType)
	if f.Action != "" && !domain.ValidAction(f.Action) {
		return Page{}, errActionInvalid
	}
	if f.EntityType != "" && !domain.ValidEntityType(f.EntityType) {
		return Page{}, errEntityTypeInvalid
	}
	limit := r.NormalizeLimit(f.Limit)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	logs, total, err := r.logs.ListAuditLogs(ctx, repository.AuditFilter{
		Action:     f.Action,
		EntityType: f.EntityType,
		EntityID:   strings.TrimSpace(f.EntityID),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return Page{}, err
	}
	return Page{Logs: logs, Total: total, Limit: limit, Offset: offset}, nil
}

// NormalizeLimit applies the default and maximum page sizes.
func (r *Recorder) NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return r.cfg.DefaultLimit
	case limit > r.cfg.MaxLimit:
		return r.cfg.MaxLimit
	default:
		return limit
	}
}

// Redacted returns the redaction marker as an audit value.
func Redacted() *string {
	v := domain.RedactedValue
	return &v
}
