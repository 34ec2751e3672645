package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"github.com/vetclinic/backend/tests/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type partySnapshot struct {
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Active    bool            `json:"active"`
	Version   int             `json:"version"`
	APIKey    string          `json:"api_key,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type memorySink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	entered chan struct{}
	gate    chan struct{}
}

func (s *memorySink) Write(_ context.Context, entries []Entry) error {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return s.err
}

func (s *memorySink) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func closeRecorder(t *testing.T, r *AsyncRecorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
}

func TestAsyncRecorder_RecordsAllActions(t *testing.T) {
	sink := &memorySink{}
	r := NewAsyncRecorder(sink, Config{BatchSize: 10, FlushInterval: 10 * time.Millisecond}, zap.NewNop())

	userID := uuid.New()
	actor := shared.Actor{UserID: &userID, Email: "vet@clinic.test", IPAddress: "10.0.0.1"}
	id := uuid.New()
	before := partySnapshot{Name: "Rex Owner", Balance: decimal.NewFromInt(100), Active: true, Version: 1}
	after := partySnapshot{Name: "Rex Owner", Balance: decimal.NewFromInt(40), Active: true, Version: 2, UpdatedAt: time.Now()}

	ctx := context.Background()
	r.RecordCreate(ctx, "parties", id, before, actor)
	r.RecordUpdate(ctx, "parties", id, before, after, actor)
	r.RecordDelete(ctx, "parties", id, after, shared.SystemActor("reconciliation"))
	closeRecorder(t, r)

	entries := sink.all()
	require.Len(t, entries, 3)

	assert.Equal(t, ActionCreate, entries[0].Action)
	assert.Nil(t, entries[0].Before)
	assert.JSONEq(t, `{"name":"Rex Owner","balance":"100","active":true,"version":1,"updated_at":"0001-01-01T00:00:00Z"}`, string(entries[0].After))
	assert.Equal(t, &userID, entries[0].Actor.UserID)

	assert.Equal(t, ActionUpdate, entries[1].Action)
	assert.Equal(t, []string{"balance"}, entries[1].ChangedFields, "version and timestamps are not changes")

	assert.Equal(t, ActionDelete, entries[2].Action)
	assert.Nil(t, entries[2].After)
	assert.True(t, entries[2].Actor.IsSystem())
}

func TestAsyncRecorder_RedactsSensitiveKeys(t *testing.T) {
	sink := &memorySink{}
	r := NewAsyncRecorder(sink, Config{}, zap.NewNop())

	r.RecordUpdate(context.Background(), "integrations", uuid.New(),
		partySnapshot{Name: "a", APIKey: "old-key"},
		map[string]any{
			"name":    "a",
			"api_key": "new-key",
			"nested":  map[string]any{"Password": "hunter2", "note": "ok"},
			"list":    []any{map[string]any{"refresh_token": "r"}},
		},
		shared.SystemActor("test"),
	)
	closeRecorder(t, r)

	entries := sink.all()
	require.Len(t, entries, 1)

	var after map[string]any
	require.NoError(t, json.Unmarshal(entries[0].After, &after))
	assert.Equal(t, Redacted, after["api_key"])
	assert.Equal(t, Redacted, after["nested"].(map[string]any)["Password"])
	assert.Equal(t, "ok", after["nested"].(map[string]any)["note"])
	assert.Equal(t, Redacted, after["list"].([]any)[0].(map[string]any)["refresh_token"])
	assert.NotContains(t, string(entries[0].Before), "old-key")
	assert.NotContains(t, entries[0].ChangedFields, "api_key")
}

func TestAsyncRecorder_FullQueueDropsWithoutBlocking(t *testing.T) {
	sink := &memorySink{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewAsyncRecorder(sink, Config{QueueSize: 1, BatchSize: 1}, zap.New(core))

	ctx := context.Background()
	r.RecordCreate(ctx, "transactions", uuid.New(), map[string]any{"code": "A"}, shared.Actor{})
	<-sink.entered

	done := make(chan struct{})
	go func() {
		r.RecordCreate(ctx, "transactions", uuid.New(), map[string]any{"code": "B"}, shared.Actor{})
		r.RecordCreate(ctx, "transactions", uuid.New(), map[string]any{"code": "C"}, shared.Actor{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recording blocked on a full queue")
	}

	assert.Equal(t, int64(1), r.Dropped())
	assert.Equal(t, 1, logs.FilterMessage("audit queue full, entry dropped").Len())

	close(sink.gate)
	<-sink.entered
	closeRecorder(t, r)
	assert.Len(t, sink.all(), 2)
}

func TestAsyncRecorder_SinkFailureIsLogged(t *testing.T) {
	sink := &memorySink{err: errors.New("connection refused")}
	core, logs := observer.New(zapcore.ErrorLevel)
	r := NewAsyncRecorder(sink, Config{}, zap.New(core))

	assert.NotPanics(t, func() {
		r.RecordCreate(context.Background(), "parties", uuid.New(), map[string]any{"a": 1}, shared.Actor{})
	})
	closeRecorder(t, r)
	assert.Equal(t, 1, logs.FilterMessage("failed to write audit entries").Len())
}

func TestAsyncRecorder_RecordAfterClose(t *testing.T) {
	sink := &memorySink{}
	r := NewAsyncRecorder(sink, Config{}, zap.NewNop())
	closeRecorder(t, r)
	closeRecorder(t, r)

	assert.NotPanics(t, func() {
		r.RecordCreate(context.Background(), "parties", uuid.New(), nil, shared.Actor{})
	})
	assert.Empty(t, sink.all())
}

func TestAsyncRecorder_UnencodableSnapshot(t *testing.T) {
	sink := &memorySink{}
	r := NewAsyncRecorder(sink, Config{}, zap.NewNop())

	r.RecordCreate(context.Background(), "parties", uuid.New(), map[string]any{"ch": make(chan int)}, shared.Actor{})
	closeRecorder(t, r)

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].After)
}

func TestGormSink_Write(t *testing.T) {
	db := testutil.NewSQLiteDB(t, &models.AuditLogModel{})
	r := NewAsyncRecorder(NewGormSink(db), Config{}, zap.NewNop())

	userID := uuid.New()
	recordID := uuid.New()
	actor := shared.Actor{
		UserID:        &userID,
		Email:         "front@clinic.test",
		Name:          "Front Desk",
		RequestPath:   "/api/v1/ledger/payments",
		RequestMethod: "POST",
	}
	r.RecordUpdate(context.Background(), "transactions", recordID,
		map[string]any{"paid_amount": "0.00", "status": "PENDING"},
		map[string]any{"paid_amount": "50.00", "status": "PARTIAL"},
		actor,
	)
	closeRecorder(t, r)

	var rows []models.AuditLogModel
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "transactions", rows[0].Table)
	assert.Equal(t, recordID, rows[0].RecordID)
	assert.Equal(t, "UPDATE", rows[0].Action)
	assert.Equal(t, "paid_amount,status", rows[0].ChangedFields)
	assert.Equal(t, &userID, rows[0].UserID)
	assert.Equal(t, "POST", rows[0].RequestMethod)
	assert.JSONEq(t, `{"paid_amount":"50.00","status":"PARTIAL"}`, string(rows[0].After))
}

func TestIsSensitive(t *testing.T) {
	for _, key := range []string{"password", "API_KEY", "apiKey", "access-token", "Authorization"} {
		assert.True(t, IsSensitive(key), key)
	}
	for _, key := range []string{"name", "balance", "token_count_total"} {
		assert.False(t, IsSensitive(key), key)
	}
}
