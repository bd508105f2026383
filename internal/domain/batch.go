package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the lifecycle state of a bulk send batch.
type BatchStatus string

const (
	BatchStatusDraft      BatchStatus = "DRAFT"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusPartial    BatchStatus = "PARTIAL"
	BatchStatusFailed     BatchStatus = "FAILED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusDraft, BatchStatusProcessing, BatchStatusCompleted, BatchStatusPartial, BatchStatusFailed:
		return true
	}
	return false
}

// IsFinal reports whether the batch has left the dispatch pipeline.
func (s BatchStatus) IsFinal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusPartial, BatchStatusFailed:
		return true
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// FinalBatchStatus derives the batch status from persisted item counts.
// Pending items after a run mean the run did not cover the whole batch,
// so the batch stays in PROCESSING and remains retryable.
func FinalBatchStatus(pending, errored, total int) BatchStatus {
	switch {
	case pending > 0:
		return BatchStatusProcessing
	case total > 0 && errored == total:
		return BatchStatusFailed
	case errored > 0:
		return BatchStatusPartial
	default:
		return BatchStatusCompleted
	}
}

// Batch groups one source document fanned out to many recipients.
// Counts are denormalized from items; TotalCount always equals the
// number of items created for the batch.
type Batch struct {
	ID             string
	OwnerID        string
	Title          string
	SourceFileName string
	SourceKey      string
	Status         BatchStatus
	TotalCount     int
	SentCount      int
	ErrorCount     int
	PendingCount   int
	Fields         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (b *Batch) Validate() error {
	if strings.TrimSpace(b.OwnerID) == "" {
		return fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(b.SourceKey) == "" {
		return fmt.Errorf("%w: source storage key is required", ErrValidation)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("%w: invalid batch status %q", ErrValidation, b.Status)
	}
	if b.TotalCount <= 0 {
		return fmt.Errorf("%w: batch must contain at least one recipient", ErrValidation)
	}
	return nil
}
