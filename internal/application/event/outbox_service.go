package event

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vetclinic/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// OutboxAdminStore is the part of the outbox repository the admin endpoints use
type OutboxAdminStore interface {
	FindDead(ctx context.Context, page, pageSize int) ([]*shared.OutboxEntry, int64, error)
	FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxEntry, error)
	Requeue(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error)
}

// OutboxService lets operators inspect and requeue side effects that
// exhausted their retries.
type OutboxService struct {
	repo   OutboxAdminStore
	logger *zap.Logger
}

// NewOutboxService creates a new outbox service
func NewOutboxService(repo OutboxAdminStore, logger *zap.Logger) *OutboxService {
	return &OutboxService{
		repo:   repo,
		logger: logger,
	}
}

// OutboxEntryDTO represents an outbox entry data transfer object
type OutboxEntryDTO struct {
	ID          uuid.UUID  `json:"id"`
	Topic       string     `json:"topic"`
	AggregateID uuid.UUID  `json:"aggregate_id"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OutboxFilter represents filter for querying outbox entries
type OutboxFilter struct {
	Page     int `form:"page,omitempty" binding:"omitempty,min=1"`
	PageSize int `form:"page_size,omitempty" binding:"omitempty,min=1,max=100"`
}

// OutboxListResult represents paginated outbox entry list result
type OutboxListResult struct {
	Entries    []OutboxEntryDTO `json:"entries"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// OutboxStatsDTO represents outbox statistics
type OutboxStatsDTO struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Dead       int64 `json:"dead"`
	Total      int64 `json:"total"`
}

// GetDeadLetterEntries retrieves dead letter entries with pagination
func (s *OutboxService) GetDeadLetterEntries(ctx context.Context, filter OutboxFilter) (*OutboxListResult, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	entries, total, err := s.repo.FindDead(ctx, page, pageSize)
	if err != nil {
		s.logger.Error("Failed to find dead letter entries", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to retrieve dead letter entries")
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	dtos := make([]OutboxEntryDTO, len(entries))
	for i, entry := range entries {
		dtos[i] = toOutboxEntryDTO(entry)
	}

	return &OutboxListResult{
		Entries:    dtos,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// GetEntry retrieves a single outbox entry by ID
func (s *OutboxService) GetEntry(ctx context.Context, id uuid.UUID) (*OutboxEntryDTO, error) {
	entry, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := toOutboxEntryDTO(entry)
	return &dto, nil
}

// RetryDeadEntry puts a dead letter back in the queue
func (s *OutboxService) RetryDeadEntry(ctx context.Context, id uuid.UUID) (*OutboxEntryDTO, error) {
	if err := s.repo.Requeue(ctx, id); err != nil {
		var domainErr *shared.DomainError
		if errors.As(err, &domainErr) {
			return nil, err
		}
		s.logger.Error("Failed to requeue outbox entry", zap.Error(err), zap.String("id", id.String()))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to retry entry")
	}

	entry, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Dead letter entry requeued",
		zap.String("id", id.String()),
		zap.String("topic", entry.Topic),
	)
	dto := toOutboxEntryDTO(entry)
	return &dto, nil
}

// RetryAllDeadEntries requeues every dead letter and returns how many moved
func (s *OutboxService) RetryAllDeadEntries(ctx context.Context) (int64, error) {
	const pageSize = 100
	var count int64
	for {
		// requeued entries leave the dead set, so the first page is always next
		entries, _, err := s.repo.FindDead(ctx, 1, pageSize)
		if err != nil {
			s.logger.Error("Failed to find dead letter entries", zap.Error(err))
			return count, shared.NewDomainError("INTERNAL_ERROR", "Failed to retrieve dead letter entries")
		}
		moved := 0
		for _, entry := range entries {
			if err := s.repo.Requeue(ctx, entry.ID); err != nil {
				s.logger.Warn("Failed to requeue outbox entry", zap.Error(err), zap.String("id", entry.ID.String()))
				continue
			}
			moved++
		}
		count += int64(moved)
		if len(entries) < pageSize || moved == 0 {
			break
		}
	}

	s.logger.Info("Retried dead letter entries", zap.Int64("count", count))
	return count, nil
}

// GetStats returns outbox statistics
func (s *OutboxService) GetStats(ctx context.Context) (*OutboxStatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("Failed to get outbox stats", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to get outbox stats")
	}

	var total int64
	for _, count := range counts {
		total += count
	}

	return &OutboxStatsDTO{
		Pending:    counts[shared.OutboxStatusPending],
		Processing: counts[shared.OutboxStatusProcessing],
		Sent:       counts[shared.OutboxStatusSent],
		Failed:     counts[shared.OutboxStatusFailed],
		Dead:       counts[shared.OutboxStatusDead],
		Total:      total,
	}, nil
}

func (s *OutboxService) find(ctx context.Context, id uuid.UUID) (*shared.OutboxEntry, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, shared.ErrNotFound) || (err == nil && entry == nil) {
		return nil, shared.NewDomainError("NOT_FOUND", "Outbox entry not found")
	}
	if err != nil {
		s.logger.Error("Failed to find outbox entry", zap.Error(err), zap.String("id", id.String()))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to load outbox entry")
	}
	return entry, nil
}

func toOutboxEntryDTO(entry *shared.OutboxEntry) OutboxEntryDTO {
	return OutboxEntryDTO{
		ID:          entry.ID,
		Topic:       entry.Topic,
		AggregateID: entry.AggregateID,
		Status:      string(entry.Status),
		RetryCount:  entry.RetryCount,
		MaxRetries:  entry.MaxRetries,
		LastError:   entry.LastError,
		NextRetryAt: entry.NextRetryAt,
		ProcessedAt: entry.ProcessedAt,
		CreatedAt:   entry.CreatedAt,
		UpdatedAt:   entry.UpdatedAt,
	}
}
