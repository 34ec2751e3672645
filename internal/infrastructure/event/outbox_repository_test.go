package event

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"github.com/vetclinic/backend/tests/testutil"
)

func setupOutboxRepo(t *testing.T) *GormOutboxRepository {
	t.Helper()
	return NewGormOutboxRepository(testutil.NewSQLiteDB(t, &models.OutboxEntryModel{}))
}

func TestGormOutboxRepository_SaveAndFindPending(t *testing.T) {
	repo := setupOutboxRepo(t)
	ctx := context.Background()

	first := shared.NewOutboxEntry("inventory.adjust", uuid.New(), []byte(`{"n":1}`))
	second := shared.NewOutboxEntry("reminder.create", uuid.New(), []byte(`{"n":2}`))
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, repo.Save(ctx, second, first))
	require.NoError(t, repo.Save(ctx))

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, "inventory.adjust", pending[0].Topic)
	assert.JSONEq(t, `{"n":1}`, string(pending[0].Payload))

	limited, err := repo.FindPending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGormOutboxRepository_MarkProcessingClaimsOnce(t *testing.T) {
	repo := setupOutboxRepo(t)
	ctx := context.Background()

	entry := shared.NewOutboxEntry("inventory.adjust", uuid.New(), []byte(`{}`))
	require.NoError(t, repo.Save(ctx, entry))

	claimed, err := repo.MarkProcessing(ctx, []uuid.UUID{entry.ID})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, shared.OutboxStatusProcessing, claimed[0].Status)

	again, err := repo.MarkProcessing(ctx, []uuid.UUID{entry.ID})
	require.NoError(t, err)
	assert.Empty(t, again)

	none, err := repo.MarkProcessing(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGormOutboxRepository_RetryLifecycle(t *testing.T) {
	repo := setupOutboxRepo(t)
	ctx := context.Background()

	entry := shared.NewOutboxEntry("reminder.create", uuid.New(), []byte(`{}`))
	entry.MaxRetries = 2
	require.NoError(t, repo.Save(ctx, entry))

	entry.MarkFailed("collaborator down")
	require.NoError(t, repo.Update(ctx, entry))

	due, err := repo.FindRetryable(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	notYet, err := repo.FindRetryable(ctx, time.Now().UTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, notYet)

	entry.MarkFailed("still down")
	require.NoError(t, repo.Update(ctx, entry))
	assert.True(t, entry.IsDead())

	dead, total, err := repo.FindDead(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, dead, 1)
	assert.Equal(t, "still down", dead[0].LastError)

	require.NoError(t, repo.Requeue(ctx, entry.ID))
	stored, err := repo.FindByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxStatusPending, stored.Status)
	assert.Zero(t, stored.RetryCount)

	err = repo.Requeue(ctx, entry.ID)
	assert.Equal(t, "INVALID_STATE", shared.Code(err))

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormOutboxRepository_CleanupAndCounts(t *testing.T) {
	repo := setupOutboxRepo(t)
	ctx := context.Background()

	sent := shared.NewOutboxEntry("inventory.adjust", uuid.New(), []byte(`{}`))
	pending := shared.NewOutboxEntry("inventory.adjust", uuid.New(), []byte(`{}`))
	stuck := shared.NewOutboxEntry("reminder.create", uuid.New(), []byte(`{}`))
	require.NoError(t, repo.Save(ctx, sent, pending, stuck))

	sent.MarkSent()
	old := time.Now().UTC().Add(-48 * time.Hour)
	sent.ProcessedAt = &old
	require.NoError(t, repo.Update(ctx, sent))

	_, err := repo.MarkProcessing(ctx, []uuid.UUID{stuck.ID})
	require.NoError(t, err)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[shared.OutboxStatusSent])
	assert.Equal(t, int64(1), counts[shared.OutboxStatusPending])
	assert.Equal(t, int64(1), counts[shared.OutboxStatusProcessing])

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	released, err := repo.ReleaseStale(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	retryable, err := repo.FindRetryable(ctx, time.Now().UTC().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, stuck.ID, retryable[0].ID)
}

func TestGormOutboxRepository_MarkProcessingSkipsLockedRows(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewGormOutboxRepository(mockDB.DB)

	id := uuid.New()
	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`SELECT \* FROM "outbox_entries" WHERE .* FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "topic", "status"}))
	mockDB.Mock.ExpectCommit()

	claimed, err := repo.MarkProcessing(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	assert.Empty(t, claimed)
	mockDB.ExpectationsWereMet(t)
}
