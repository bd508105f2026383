package repository

import (
	"encoding/json"
	"time"

	"github.com/quillsign/quillsign/internal/domain"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID             string             `gorm:"type:uuid;primaryKey"`
	OwnerID        string             `gorm:"type:uuid;not null;index"`
	Title          string             `gorm:"type:varchar(255);not null"`
	SourceFileName string             `gorm:"type:varchar(255);not null"`
	SourceKey      string             `gorm:"type:varchar(512);not null"`
	Status         domain.BatchStatus `gorm:"type:varchar(20);not null"`
	TotalCount     int                `gorm:"not null;default:0"`
	SentCount      int                `gorm:"not null;default:0"`
	ErrorCount     int                `gorm:"not null;default:0"`
	PendingCount   int                `gorm:"not null;default:0"`
	Fields         json.RawMessage    `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// BatchItemModel is the persistence model for batch_items.
type BatchItemModel struct {
	ID             string            `gorm:"type:uuid;primaryKey"`
	BatchID        string            `gorm:"type:uuid;not null;index"`
	RecipientName  string            `gorm:"type:varchar(255);not null"`
	RecipientEmail string            `gorm:"type:varchar(255);not null"`
	Status         domain.ItemStatus `gorm:"type:varchar(20);not null"`
	DocumentID     *string           `gorm:"type:uuid"`
	ErrorMessage   *string           `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BatchItemModel) TableName() string {
	return "batch_items"
}

// DocumentModel is the persistence model for documents.
type DocumentModel struct {
	ID         string          `gorm:"type:uuid;primaryKey"`
	OwnerID    string          `gorm:"type:uuid;not null;index"`
	BatchID    *string         `gorm:"type:uuid;index"`
	Title      string          `gorm:"type:varchar(255);not null"`
	StorageKey string          `gorm:"type:varchar(512);not null"`
	SourceHash string          `gorm:"type:varchar(64);not null"`
	SenderName string          `gorm:"type:varchar(255);not null"`
	Fields     json.RawMessage `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (DocumentModel) TableName() string {
	return "documents"
}

// SignerModel is the persistence model for signers.
type SignerModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	DocumentID   string `gorm:"type:uuid;not null;index"`
	Name         string `gorm:"type:varchar(255);not null"`
	Email        string `gorm:"type:varchar(255);not null"`
	SigningToken string `gorm:"type:varchar(64);not null;uniqueIndex"`
	CreatedAt    time.Time
}

func (SignerModel) TableName() string {
	return "signers"
}

// AuditEventModel is the persistence model for document_audit_events.
type AuditEventModel struct {
	ID         string                `gorm:"type:uuid;primaryKey"`
	DocumentID string                `gorm:"type:uuid;not null;index"`
	Type       domain.AuditEventType `gorm:"type:varchar(40);not null"`
	Detail     string                `gorm:"type:text"`
	CreatedAt  time.Time
}

func (AuditEventModel) TableName() string {
	return "document_audit_events"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:             b.ID,
		OwnerID:        b.OwnerID,
		Title:          b.Title,
		SourceFileName: b.SourceFileName,
		SourceKey:      b.SourceKey,
		Status:         b.Status,
		TotalCount:     b.TotalCount,
		SentCount:      b.SentCount,
		ErrorCount:     b.ErrorCount,
		PendingCount:   b.PendingCount,
		Fields:         b.Fields,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		Title:          m.Title,
		SourceFileName: m.SourceFileName,
		SourceKey:      m.SourceKey,
		Status:         m.Status,
		TotalCount:     m.TotalCount,
		SentCount:      m.SentCount,
		ErrorCount:     m.ErrorCount,
		PendingCount:   m.PendingCount,
		Fields:         m.Fields,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func itemModelFromDomain(i *domain.Item) *BatchItemModel {
	if i == nil {
		return nil
	}

	return &BatchItemModel{
		ID:             i.ID,
		BatchID:        i.BatchID,
		RecipientName:  i.RecipientName,
		RecipientEmail: i.RecipientEmail,
		Status:         i.Status,
		DocumentID:     i.DocumentID,
		ErrorMessage:   i.ErrorMessage,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

func itemModelToDomain(m *BatchItemModel) *domain.Item {
	if m == nil {
		return nil
	}

	return &domain.Item{
		ID:             m.ID,
		BatchID:        m.BatchID,
		RecipientName:  m.RecipientName,
		RecipientEmail: m.RecipientEmail,
		Status:         m.Status,
		DocumentID:     m.DocumentID,
		ErrorMessage:   m.ErrorMessage,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func documentModelFromDomain(d *domain.Document) *DocumentModel {
	if d == nil {
		return nil
	}

	return &DocumentModel{
		ID:         d.ID,
		OwnerID:    d.OwnerID,
		BatchID:    d.BatchID,
		Title:      d.Title,
		StorageKey: d.StorageKey,
		SourceHash: d.SourceHash,
		SenderName: d.SenderName,
		Fields:     d.Fields,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func documentModelToDomain(m *DocumentModel) *domain.Document {
	if m == nil {
		return nil
	}

	return &domain.Document{
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		BatchID:    m.BatchID,
		Title:      m.Title,
		StorageKey: m.StorageKey,
		SourceHash: m.SourceHash,
		SenderName: m.SenderName,
		Fields:     m.Fields,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func signerModelFromDomain(s *domain.Signer) *SignerModel {
	if s == nil {
		return nil
	}

	return &SignerModel{
		ID:           s.ID,
		DocumentID:   s.DocumentID,
		Name:         s.Name,
		Email:        s.Email,
		SigningToken: s.SigningToken,
		CreatedAt:    s.CreatedAt,
	}
}

func signerModelToDomain(m *SignerModel) *domain.Signer {
	if m == nil {
		return nil
	}

	return &domain.Signer{
		ID:           m.ID,
		DocumentID:   m.DocumentID,
		Name:         m.Name,
		Email:        m.Email,
		SigningToken: m.SigningToken,
		CreatedAt:    m.CreatedAt,
	}
}

func auditEventModelFromDomain(e *domain.AuditEvent) *AuditEventModel {
	if e == nil {
		return nil
	}

	return &AuditEventModel{
		ID:         e.ID,
		DocumentID: e.DocumentID,
		Type:       e.Type,
		Detail:     e.Detail,
		CreatedAt:  e.CreatedAt,
	}
}
