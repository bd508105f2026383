package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/domain"
	"github.com/quillsign/quillsign/internal/queue"
	"github.com/quillsign/quillsign/internal/repository"
)

const (
	defaultStalledScanInterval = time.Minute
	defaultStalledBatchAge     = 10 * time.Minute
	defaultStalledScanLimit    = 100
)

// StalledBatchScanner periodically re-enqueues PROCESSING batches that
// still carry pending items but have not moved for a while. Broker
// redelivery only covers messages that were consumed and not acked; a
// trigger lost between publish and consume leaves the batch parked in
// PROCESSING forever. Re-enqueuing is safe because the dispatch pass
// only ever picks up pending items.
type StalledBatchScanner struct {
	batches   repository.BatchRepository
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	age       time.Duration
	limit     int
	now       func() time.Time
	newID     func() string
}

func NewStalledBatchScanner(
	batches repository.BatchRepository,
	publisher queue.Publisher,
	interval time.Duration,
	age time.Duration,
	logger *zap.Logger,
) (*StalledBatchScanner, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultStalledScanInterval
	}
	if age <= 0 {
		age = defaultStalledBatchAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StalledBatchScanner{
		batches:   batches,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		age:       age,
		limit:     defaultStalledScanLimit,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *StalledBatchScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Sweep once at startup so batches that stalled while the worker was
	// down do not wait for the first ticker edge.
	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("stalled batch sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("stalled batch sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *StalledBatchScanner) sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.age)
	stalled, err := s.batches.ListStalled(ctx, cutoff, s.limit)
	if err != nil {
		return fmt.Errorf("failed to list stalled batches: %w", err)
	}

	for i := range stalled {
		batch := stalled[i]
		msg := queue.DispatchMessage{
			BatchID:       batch.ID,
			CorrelationID: s.newID(),
		}

		if err := s.publisher.Publish(ctx, queue.DispatchQueueName, msg); err != nil {
			s.logger.Error("failed to re-enqueue stalled batch",
				zap.String("batchId", batch.ID),
				zap.Error(err),
			)
			continue
		}

		// The status write only bumps updated_at, which moves the batch
		// out of the sweep window until the new trigger has had its turn.
		if err := s.batches.UpdateStatus(ctx, batch.ID, domain.BatchStatusProcessing); err != nil {
			s.logger.Error("failed to touch re-enqueued batch",
				zap.String("batchId", batch.ID),
				zap.Error(err),
			)
			continue
		}

		s.logger.Warn("re-enqueued stalled batch",
			zap.String("batchId", batch.ID),
			zap.String("correlationId", msg.CorrelationID),
			zap.Int("pendingCount", batch.PendingCount),
		)
	}

	return nil
}
