package domain

import (
	"errors"
	"testing"
)

func TestItemValidate(t *testing.T) {
	t.Parallel()

	valid := Item{
		ID:             "i1",
		BatchID:        "b1",
		RecipientName:  "Ada Lovelace",
		RecipientEmail: "ada@example.com",
		Status:         ItemStatusPending,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Item)
	}{
		{name: "missing batch", mutate: func(i *Item) { i.BatchID = "" }},
		{name: "missing name", mutate: func(i *Item) { i.RecipientName = " " }},
		{name: "missing email", mutate: func(i *Item) { i.RecipientEmail = "" }},
		{name: "malformed email", mutate: func(i *Item) { i.RecipientEmail = "not an email" }},
		{name: "invalid status", mutate: func(i *Item) { i.Status = "QUEUED" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			item := valid
			tt.mutate(&item)
			if err := item.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestItemStatusCountsTotal(t *testing.T) {
	t.Parallel()

	counts := ItemStatusCounts{Pending: 1, Sent: 2, Error: 3}
	if counts.Total() != 6 {
		t.Fatalf("Total() = %d, want 6", counts.Total())
	}
}
