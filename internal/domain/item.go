package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// ItemStatus represents the delivery state of one recipient inside a batch.
type ItemStatus string

const (
	ItemStatusPending ItemStatus = "PENDING"
	ItemStatusSent    ItemStatus = "SENT"
	ItemStatusError   ItemStatus = "ERROR"
)

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusSent, ItemStatusError:
		return true
	}
	return false
}

func ParseItemStatusFromString(s string) (ItemStatus, error) {
	st := ItemStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid item status %q", ErrValidation, s)
	}
	return st, nil
}

// Item is one recipient's unit of work inside a batch. Items are created
// PENDING when the batch is prepared and mutated only by the coordinator.
type Item struct {
	ID             string
	BatchID        string
	RecipientName  string
	RecipientEmail string
	Status         ItemStatus
	DocumentID     *string
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (i *Item) Validate() error {
	if strings.TrimSpace(i.BatchID) == "" {
		return fmt.Errorf("%w: batch id is required", ErrValidation)
	}
	if strings.TrimSpace(i.RecipientName) == "" {
		return fmt.Errorf("%w: recipient name is required", ErrValidation)
	}
	email := strings.TrimSpace(i.RecipientEmail)
	if email == "" {
		return fmt.Errorf("%w: recipient email is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: invalid recipient email %q", ErrValidation, email)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("%w: invalid item status %q", ErrValidation, i.Status)
	}
	return nil
}

// ItemStatusCounts aggregates persisted item states for one batch.
type ItemStatusCounts struct {
	Pending int
	Sent    int
	Error   int
}

func (c ItemStatusCounts) Total() int { return c.Pending + c.Sent + c.Error }
