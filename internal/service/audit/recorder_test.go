package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
	"github.com/splax/confvault/internal/repository/sqlite"
	"github.com/splax/confvault/internal/repository/sqlite/sqlitetest"
)

var alice = domain.Actor{ID: "user-1", Username: "alice"}

type recordingSink struct {
	mu      sync.Mutex
	entries []string
	frames  [][]byte
}

func (s *recordingSink) Deliver(entry *domain.AuditLog, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry.ID)
	s.frames = append(s.frames, payload)
}

type failingWriter struct{}

func (failingWriter) InsertAuditLog(context.Context, *domain.AuditLog) error {
	return errors.New("disk full")
}

func record(t *testing.T, r *Recorder, repo *sqlite.Repository, e Entry) *domain.AuditLog {
	t.Helper()
	var entry *domain.AuditLog
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		entry, err = r.Record(ctx, tx, e)
		return err
	})
	require.NoError(t, err)
	return entry
}

func TestRecordPersistsEntry(t *testing.T) {
	repo := sqlitetest.New(t)
	r := NewRecorder(repo, nil, Config{})

	entry := record(t, r, repo, Entry{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityVariable,
		EntityID:   "var-1",
		OldValue:   Redacted(),
		NewValue:   Redacted(),
		Metadata:   map[string]any{"reclassified": false},
		Actor:      alice,
	})
	assert.NotEmpty(t, entry.ID)
	assert.NotZero(t, entry.Seq)
	assert.Equal(t, "alice", entry.UserName)

	page, err := r.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	got := page.Logs[0]
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, domain.RedactedValue, *got.OldValue)
	assert.JSONEq(t, `{"reclassified":false}`, string(got.Metadata))
	assert.Equal(t, "user-1", got.UserID)
}

func TestRecordRejectsIncompleteEntries(t *testing.T) {
	r := NewRecorder(nil, nil, Config{})
	ctx := context.Background()
	base := Entry{Action: domain.ActionCreate, EntityType: domain.EntityEnvironment, EntityID: "env-1", Actor: alice}

	cases := map[string]func(e *Entry){
		"action":      func(e *Entry) { e.Action = "rename" },
		"entity type": func(e *Entry) { e.EntityType = "project" },
		"entity id":   func(e *Entry) { e.EntityID = " " },
		"actor":       func(e *Entry) { e.Actor = domain.Actor{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := base
			mutate(&e)
			_, err := r.Record(ctx, failingWriter{}, e)
			assert.ErrorIs(t, err, repository.ErrInvalidArgument)
		})
	}
}

func TestRecordSurfacesWriteFailureAsPersistence(t *testing.T) {
	r := NewRecorder(nil, nil, Config{})
	_, err := r.Record(context.Background(), failingWriter{}, Entry{
		Action: domain.ActionCreate, EntityType: domain.EntityEnvironment, EntityID: "env-1", Actor: alice,
	})
	assert.ErrorIs(t, err, repository.ErrPersistence)
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	repo := sqlitetest.New(t)
	r := NewRecorder(repo, nil, Config{})
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	r.now = func() time.Time {
		next := clock[0]
		clock = clock[1:]
		return next
	}

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		entry := record(t, r, repo, Entry{
			Action: domain.ActionCreate, EntityType: domain.EntityEnvironment, EntityID: "env", Actor: alice,
		})
		stamps = append(stamps, entry.Timestamp)
	}
	assert.True(t, stamps[0].Equal(base))
	assert.True(t, stamps[1].Equal(base))
	assert.True(t, stamps[2].Equal(base.Add(time.Second)))
}

func TestQueryFiltersAndLimits(t *testing.T) {
	repo := sqlitetest.New(t)
	r := NewRecorder(repo, nil, Config{DefaultLimit: 2, MaxLimit: 3})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		record(t, r, repo, Entry{Action: domain.ActionCreate, EntityType: domain.EntityVariable, EntityID: "var", Actor: alice})
	}
	record(t, r, repo, Entry{Action: domain.ActionDelete, EntityType: domain.EntityVariable, EntityID: "var", Actor: alice})

	page, err := r.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Limit)
	assert.Len(t, page.Logs, 2)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, domain.ActionDelete, page.Logs[0].Action)

	page, err = r.Query(ctx, Filter{Action: domain.ActionCreate, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Limit)
	assert.Len(t, page.Logs, 3)
	assert.Equal(t, 4, page.Total)
	for i, entry := range page.Logs {
		assert.Equal(t, domain.ActionCreate, entry.Action)
		if i > 0 {
			assert.Greater(t, page.Logs[i-1].Seq, entry.Seq)
		}
	}

	page, err = r.Query(ctx, Filter{Limit: -5, Offset: -1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 0, page.Offset)

	_, err = r.Query(ctx, Filter{Action: "rename"})
	assert.ErrorIs(t, err, repository.ErrInvalidArgument)
}

func TestPublishDeliversToEverySink(t *testing.T) {
	first, second := &recordingSink{}, &recordingSink{}
	r := NewRecorder(nil, nil, Config{}, first, second)

	entry := &domain.AuditLog{ID: "a-1", Action: domain.ActionDelete, EntityType: domain.EntityVariable, NewValue: Redacted()}
	r.Publish(entry, nil)

	require.Equal(t, []string{"a-1"}, first.entries)
	require.Equal(t, []string{"a-1"}, second.entries)
	var decoded domain.AuditLog
	require.NoError(t, json.Unmarshal(first.frames[0], &decoded))
	assert.Equal(t, "a-1", decoded.ID)
	assert.Equal(t, domain.RedactedValue, *decoded.NewValue)
}
