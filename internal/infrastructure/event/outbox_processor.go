package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// TopicHandler delivers one outbox entry. It must tolerate redelivery.
type TopicHandler func(ctx context.Context, entry *shared.OutboxEntry) error

// OutboxStore is the outbox repository as the processor uses it
type OutboxStore interface {
	shared.OutboxRepository
	ReleaseStale(ctx context.Context, before time.Time) (int64, error)
}

// OutboxProcessorConfig holds configuration for the outbox processor
type OutboxProcessorConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	CleanupEnabled   bool
	CleanupRetention time.Duration
	CleanupInterval  time.Duration
	// StaleAfter is how long an entry may stay PROCESSING before it is
	// handed back to the retry queue
	StaleAfter time.Duration
}

// DefaultOutboxProcessorConfig returns default configuration
func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:        100,
		PollInterval:     2 * time.Second,
		CleanupEnabled:   true,
		CleanupRetention: 7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
		StaleAfter:       5 * time.Minute,
	}
}

// OutboxProcessor delivers committed side effects to their topic handlers
// in the background
type OutboxProcessor struct {
	repo     OutboxStore
	handlers map[string]TopicHandler
	config   OutboxProcessorConfig
	metrics  *telemetry.LedgerMetrics
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOutboxProcessor creates a new outbox processor
func NewOutboxProcessor(repo OutboxStore, config OutboxProcessorConfig, logger *zap.Logger) *OutboxProcessor {
	return &OutboxProcessor{
		repo:     repo,
		handlers: make(map[string]TopicHandler),
		config:   config,
		logger:   logger,
	}
}

// Handle registers the handler for a topic. Call before Start.
func (p *OutboxProcessor) Handle(topic string, handler TopicHandler) {
	p.handlers[topic] = handler
}

// HandleAll registers a set of topic handlers
func (p *OutboxProcessor) HandleAll(handlers map[string]func(ctx context.Context, entry *shared.OutboxEntry) error) {
	for topic, fn := range handlers {
		p.Handle(topic, fn)
	}
}

// SetMetrics attaches delivery metrics
func (p *OutboxProcessor) SetMetrics(m *telemetry.LedgerMetrics) {
	p.metrics = m
}

// Start starts the background processing
func (p *OutboxProcessor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.processLoop(ctx)

	if p.config.CleanupEnabled {
		p.wg.Add(1)
		go p.cleanupLoop(ctx)
	}

	topics := make([]string, 0, len(p.handlers))
	for topic := range p.handlers {
		topics = append(topics, topic)
	}
	p.logger.Info("outbox processor started",
		zap.Int("batch_size", p.config.BatchSize),
		zap.Duration("poll_interval", p.config.PollInterval),
		zap.Strings("topics", topics),
	)
	return nil
}

// Stop gracefully stops the processor
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("outbox processor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *OutboxProcessor) processLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch delivers one batch of pending and due entries and returns
// how many were claimed
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) int {
	processed := 0

	pending, err := p.repo.FindPending(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to find pending entries", zap.Error(err))
		return processed
	}
	processed += p.processEntries(ctx, pending)

	retryable, err := p.repo.FindRetryable(ctx, time.Now().UTC(), p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to find retryable entries", zap.Error(err))
		return processed
	}
	processed += p.processEntries(ctx, retryable)
	return processed
}

func (p *OutboxProcessor) processEntries(ctx context.Context, entries []*shared.OutboxEntry) int {
	if len(entries) == 0 {
		return 0
	}
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	claimed, err := p.repo.MarkProcessing(ctx, ids)
	if err != nil {
		p.logger.Error("failed to mark entries as processing", zap.Error(err))
		return 0
	}

	for _, entry := range claimed {
		p.processEntry(ctx, entry)
	}
	return len(claimed)
}

func (p *OutboxProcessor) processEntry(ctx context.Context, entry *shared.OutboxEntry) {
	log := p.logger.With(
		zap.String("entry_id", entry.ID.String()),
		zap.String("topic", entry.Topic),
		zap.String("aggregate_id", entry.AggregateID.String()),
	)

	err := p.deliver(ctx, entry)
	if err != nil {
		entry.MarkFailed(err.Error())
		if entry.IsDead() {
			log.Warn("outbox entry moved to dead letters",
				zap.Int("retry_count", entry.RetryCount),
				zap.String("last_error", entry.LastError),
			)
			p.metrics.RecordOutboxDelivery(ctx, entry.Topic, "dead")
		} else {
			log.Error("outbox delivery failed", zap.Int("retry_count", entry.RetryCount), zap.Error(err))
			p.metrics.RecordOutboxDelivery(ctx, entry.Topic, "failed")
		}
		if updateErr := p.repo.Update(ctx, entry); updateErr != nil {
			log.Error("failed to update entry", zap.Error(updateErr))
		}
		return
	}

	entry.MarkSent()
	p.metrics.RecordOutboxDelivery(ctx, entry.Topic, "sent")
	if err := p.repo.Update(ctx, entry); err != nil {
		log.Error("failed to mark entry as sent", zap.Error(err))
		return
	}
	log.Debug("outbox entry delivered")
}

// deliver runs the topic handler, turning a panic into a failed attempt
func (p *OutboxProcessor) deliver(ctx context.Context, entry *shared.OutboxEntry) (err error) {
	handler, ok := p.handlers[entry.Topic]
	if !ok {
		return fmt.Errorf("no handler for topic %q", entry.Topic)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, entry)
}

func (p *OutboxProcessor) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cleanup(ctx)
		}
	}
}

// cleanup removes delivered entries past retention and releases entries
// abandoned in PROCESSING
func (p *OutboxProcessor) cleanup(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.config.CleanupRetention)
	deleted, err := p.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to cleanup old entries", zap.Error(err))
	} else if deleted > 0 {
		p.logger.Info("cleaned up old outbox entries",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}

	if p.config.StaleAfter <= 0 {
		return
	}
	released, err := p.repo.ReleaseStale(ctx, time.Now().UTC().Add(-p.config.StaleAfter))
	if err != nil {
		p.logger.Error("failed to release stale entries", zap.Error(err))
		return
	}
	if released > 0 {
		p.logger.Warn("released stale outbox entries", zap.Int64("released", released))
	}
}
