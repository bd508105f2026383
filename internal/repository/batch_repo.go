package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/quillsign/quillsign/internal/domain"
)

type BatchRepository interface {
	CreateWithItems(ctx context.Context, b *domain.Batch, items []*domain.Item) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Batch, int64, error)
	ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error)
	UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error
	TransitionStatus(ctx context.Context, id string, from, to domain.BatchStatus) error
	UpdateCounts(ctx context.Context, id string, counts domain.ItemStatusCounts, status domain.BatchStatus) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

// CreateWithItems stores the batch and its recipient items in one
// transaction. A batch row with a total count but no items would let a
// later dispatch finalize against the wrong denominator, so neither
// side survives a failure of the other.
func (r *GormBatchRepo) CreateWithItems(ctx context.Context, b *domain.Batch, items []*domain.Item) error {
	batchModel := batchModelFromDomain(b)

	itemModels := make([]BatchItemModel, 0, len(items))
	modelIndexes := make([]int, 0, len(items))
	for i, item := range items {
		if model := itemModelFromDomain(item); model != nil {
			itemModels = append(itemModels, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batchModel).Error; err != nil {
			return err
		}
		if len(itemModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&itemModels, 100).Error
	})
	if err != nil {
		return err
	}

	if b != nil {
		*b = *batchModelToDomain(batchModel)
	}
	for i := range itemModels {
		idx := modelIndexes[i]
		if idx < len(items) && items[idx] != nil {
			*items[idx] = *itemModelToDomain(&itemModels[i])
		}
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Batch, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("owner_id = ?", ownerID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page = max(page, 1)
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []BatchModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}

	return batches, total, nil
}

// ListStalled returns PROCESSING batches that still carry pending items
// but have not been touched since the cutoff. These are batches whose
// dispatch trigger was lost between publish and consume.
func (r *GormBatchRepo) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error) {
	if limit < 1 {
		limit = 100
	}

	var models []BatchModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND pending_count > 0 AND updated_at < ?", domain.BatchStatusProcessing, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches, nil
}

func (r *GormBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TransitionStatus moves the batch from one status to another as a
// single guarded update. A batch that is not in the expected status is
// reported as a conflict, which keeps dispatch triggers idempotent.
func (r *GormBatchRepo) TransitionStatus(ctx context.Context, id string, from, to domain.BatchStatus) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&BatchModel{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

func (r *GormBatchRepo) UpdateCounts(ctx context.Context, id string, counts domain.ItemStatusCounts, status domain.BatchStatus) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"sent_count":    counts.Sent,
			"error_count":   counts.Error,
			"pending_count": counts.Pending,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
