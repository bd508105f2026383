package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/quillsign/quillsign/internal/domain"
)

// StatusCount is one row of the per-status aggregation for a batch.
type StatusCount struct {
	Status domain.ItemStatus `gorm:"column:status"`
	Count  int               `gorm:"column:count"`
}

type ItemRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	ListPending(ctx context.Context, batchID string) ([]domain.Item, error)
	ListByBatch(ctx context.Context, batchID string) ([]domain.Item, error)
	MarkSent(ctx context.Context, id, documentID string) error
	MarkError(ctx context.Context, id, message string) error
	CountByStatus(ctx context.Context, batchID string) (domain.ItemStatusCounts, error)
}

type GormItemRepo struct {
	db *gorm.DB
}

func NewGormItemRepo(db *gorm.DB) *GormItemRepo {
	return &GormItemRepo{db: db}
}

func (r *GormItemRepo) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	var model BatchItemModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return itemModelToDomain(&model), nil
}

// ListPending returns the items a dispatch run still has to process.
// Items already SENT or ERROR from a previous run are left untouched.
func (r *GormItemRepo) ListPending(ctx context.Context, batchID string) ([]domain.Item, error) {
	return r.listWhere(ctx, "batch_id = ? AND status = ?", batchID, domain.ItemStatusPending)
}

func (r *GormItemRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.Item, error) {
	return r.listWhere(ctx, "batch_id = ?", batchID)
}

func (r *GormItemRepo) listWhere(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	var models []BatchItemModel
	err := r.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(models))
	for i := range models {
		items = append(items, *itemModelToDomain(&models[i]))
	}

	return items, nil
}

func (r *GormItemRepo) MarkSent(ctx context.Context, id, documentID string) error {
	result := r.db.WithContext(ctx).
		Model(&BatchItemModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.ItemStatusSent,
			"document_id":   documentID,
			"error_message": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormItemRepo) MarkError(ctx context.Context, id, message string) error {
	result := r.db.WithContext(ctx).
		Model(&BatchItemModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.ItemStatusError,
			"error_message": message,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormItemRepo) CountByStatus(ctx context.Context, batchID string) (domain.ItemStatusCounts, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&BatchItemModel{}).
		Select("status, COUNT(*) as count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return domain.ItemStatusCounts{}, err
	}

	var counts domain.ItemStatusCounts
	for _, row := range rows {
		switch row.Status {
		case domain.ItemStatusPending:
			counts.Pending = row.Count
		case domain.ItemStatusSent:
			counts.Sent = row.Count
		case domain.ItemStatusError:
			counts.Error = row.Count
		}
	}

	return counts, nil
}
