package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/domain"
	"github.com/quillsign/quillsign/internal/queue"
	"github.com/quillsign/quillsign/internal/repository"
	"github.com/quillsign/quillsign/internal/storage"
)

const maxBatchRecipients = 1000

// Recipient is one row of the recipient list a batch is created from.
type Recipient struct {
	Name  string
	Email string
}

type CreateBatchInput struct {
	OwnerID        string
	Title          string
	SourceFileName string
	Source         []byte
	Recipients     []Recipient
	Fields         json.RawMessage
}

// BatchSummary is the read model the API returns for a batch.
type BatchSummary struct {
	Batch  domain.Batch
	Counts domain.ItemStatusCounts
}

// BatchService owns the batch lifecycle up to the dispatch trigger:
// creation in DRAFT with its pending items, and the DRAFT→PROCESSING
// transition that enqueues the batch for the worker.
type BatchService struct {
	batches   repository.BatchRepository
	items     repository.ItemRepository
	store     storage.Backend
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewBatchService(
	batches repository.BatchRepository,
	items repository.ItemRepository,
	store storage.Backend,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*BatchService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		batches:   batches,
		items:     items,
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// CreateBatch stores the source document, creates the batch in DRAFT
// and bulk-creates one PENDING item per recipient. Nothing is sent
// until Dispatch is called.
func (s *BatchService) CreateBatch(ctx context.Context, in CreateBatchInput) (*domain.Batch, error) {
	if len(in.Source) == 0 {
		return nil, fmt.Errorf("%w: source document is required", domain.ErrValidation)
	}
	if len(in.Recipients) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one recipient", domain.ErrValidation)
	}
	if len(in.Recipients) > maxBatchRecipients {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchRecipients)
	}

	now := s.now().UTC()
	batchID := s.newID()

	fileName := path.Base(strings.TrimSpace(in.SourceFileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = "source.pdf"
	}

	batch := &domain.Batch{
		ID:             batchID,
		OwnerID:        in.OwnerID,
		Title:          in.Title,
		SourceFileName: fileName,
		SourceKey:      fmt.Sprintf("batches/%s/source/%s", batchID, fileName),
		Status:         domain.BatchStatusDraft,
		TotalCount:     len(in.Recipients),
		PendingCount:   len(in.Recipients),
		Fields:         in.Fields,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	items := make([]*domain.Item, 0, len(in.Recipients))
	for _, r := range in.Recipients {
		item := &domain.Item{
			ID:             s.newID(),
			BatchID:        batchID,
			RecipientName:  strings.TrimSpace(r.Name),
			RecipientEmail: strings.TrimSpace(r.Email),
			Status:         domain.ItemStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := item.Validate(); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if _, err := s.store.UploadBuffer(ctx, in.Source, batch.SourceKey, "application/pdf"); err != nil {
		return nil, fmt.Errorf("failed to store batch source: %w", err)
	}

	if err := s.batches.CreateWithItems(ctx, batch, items); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	s.logger.Info("batch created",
		zap.String("batchId", batchID),
		zap.String("ownerId", in.OwnerID),
		zap.Int("recipients", len(items)),
	)
	return batch, nil
}

// Dispatch moves the batch out of DRAFT and enqueues a dispatch trigger.
// A batch already in PROCESSING is re-enqueued rather than rejected:
// the coordinator's pending-only selection makes the extra trigger a
// no-op for items that already went out.
func (s *BatchService) Dispatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	err := s.batches.TransitionStatus(ctx, batchID, domain.BatchStatusDraft, domain.BatchStatusProcessing)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("failed to transition batch: %w", err)
	}
	if errors.Is(err, domain.ErrConflict) {
		batch, getErr := s.batches.GetByID(ctx, batchID)
		if getErr != nil {
			return nil, getErr
		}
		if batch.Status != domain.BatchStatusProcessing {
			return nil, fmt.Errorf("%w: batch %s is %s", domain.ErrConflict, batchID, batch.Status)
		}
	}

	msg := queue.DispatchMessage{
		BatchID:       batchID,
		CorrelationID: s.newID(),
	}
	if err := s.publisher.Publish(ctx, queue.DispatchQueueName, msg); err != nil {
		s.logger.Error("failed to publish dispatch trigger",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to publish dispatch trigger: %w", err)
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("batch dispatch requested",
		zap.String("batchId", batchID),
		zap.String("correlationId", msg.CorrelationID),
	)
	return batch, nil
}

func (s *BatchService) GetSummary(ctx context.Context, batchID string) (*BatchSummary, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	counts, err := s.items.CountByStatus(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	return &BatchSummary{Batch: *batch, Counts: counts}, nil
}
