package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quillsign/quillsign/internal/domain"
	"github.com/quillsign/quillsign/internal/observability"
	"github.com/quillsign/quillsign/internal/queue"
)

const minConsumerConcurrency = 1

// WorkerService consumes dispatch triggers and runs the coordinator.
type WorkerService struct {
	coordinator *Coordinator
	consumer    queue.Consumer
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(
	coordinator *Coordinator,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if concurrency < minConsumerConcurrency {
		concurrency = minConsumerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		coordinator: coordinator,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the dispatch queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("dispatch worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DispatchQueueName),
			)

			err := s.consumer.Consume(groupCtx, queue.DispatchQueueName, s.processMessage)
			if err != nil {
				s.logger.Error("dispatch worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("dispatch worker stopped",
				zap.Int("workerId", workerID),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.DispatchMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	logger := observability.WithContextLogger(s.logger, ctx)

	err := s.coordinator.ProcessBatch(ctx, msg.BatchID)
	if errors.Is(err, domain.ErrNotFound) {
		// A trigger for a deleted batch is not retryable; ack and drop.
		logger.Warn("batch not found for dispatch trigger, skipping",
			zap.String("batchId", msg.BatchID),
		)
		return nil
	}
	return err
}
