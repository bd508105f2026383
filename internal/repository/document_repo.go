package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/quillsign/quillsign/internal/domain"
)

type DocumentRepository interface {
	CreateWithSigner(ctx context.Context, d *domain.Document, s *domain.Signer) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetSignerByToken(ctx context.Context, token string) (*domain.Signer, error)
	CreateAuditEvent(ctx context.Context, e *domain.AuditEvent) error
}

type GormDocumentRepo struct {
	db *gorm.DB
}

func NewGormDocumentRepo(db *gorm.DB) *GormDocumentRepo {
	return &GormDocumentRepo{db: db}
}

// CreateWithSigner stores the document and its signer in one
// transaction. A document without its signer is unusable, so neither
// row survives a failure of the other.
func (r *GormDocumentRepo) CreateWithSigner(ctx context.Context, d *domain.Document, s *domain.Signer) error {
	docModel := documentModelFromDomain(d)
	signerModel := signerModelFromDomain(s)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(docModel).Error; err != nil {
			return err
		}
		return tx.Create(signerModel).Error
	})
	if err != nil {
		return err
	}

	if d != nil {
		*d = *documentModelToDomain(docModel)
	}
	if s != nil {
		*s = *signerModelToDomain(signerModel)
	}
	return nil
}

func (r *GormDocumentRepo) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	var model DocumentModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return documentModelToDomain(&model), nil
}

func (r *GormDocumentRepo) GetSignerByToken(ctx context.Context, token string) (*domain.Signer, error) {
	var model SignerModel
	err := r.db.WithContext(ctx).
		Where("signing_token = ?", token).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return signerModelToDomain(&model), nil
}

func (r *GormDocumentRepo) CreateAuditEvent(ctx context.Context, e *domain.AuditEvent) error {
	return r.db.WithContext(ctx).Create(auditEventModelFromDomain(e)).Error
}
