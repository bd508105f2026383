package domain

import (
	"encoding/json"
	"time"
)

// AuditEventType identifies a durable audit trail entry for a document.
type AuditEventType string

const (
	AuditDocumentCreated AuditEventType = "document_created"
	AuditEmailSent       AuditEventType = "email_sent"
)

// Document is one recipient's independent signable copy of a batch source.
type Document struct {
	ID         string
	OwnerID    string
	BatchID    *string
	Title      string
	StorageKey string
	SourceHash string
	SenderName string
	Fields     json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Signer is the party recorded against a generated document. The signing
// token is the unguessable credential embedded in the notification link.
type Signer struct {
	ID           string
	DocumentID   string
	Name         string
	Email        string
	SigningToken string
	CreatedAt    time.Time
}

// AuditEvent records one entry in a document's audit trail.
type AuditEvent struct {
	ID         string
	DocumentID string
	Type       AuditEventType
	Detail     string
	CreatedAt  time.Time
}
