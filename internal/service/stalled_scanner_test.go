package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/domain"
	"github.com/quillsign/quillsign/internal/queue"
)

func TestStalledBatchScannerReEnqueuesStalledBatches(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	var gotCutoff time.Time
	touched := make(map[string]domain.BatchStatus)
	batches := &fakeBatchRepo{
		listStalledFn: func(_ context.Context, cutoff time.Time, limit int) ([]domain.Batch, error) {
			gotCutoff = cutoff
			if limit != defaultStalledScanLimit {
				t.Errorf("limit = %d, want %d", limit, defaultStalledScanLimit)
			}
			return []domain.Batch{
				{ID: "batch-1", Status: domain.BatchStatusProcessing, PendingCount: 3},
				{ID: "batch-2", Status: domain.BatchStatusProcessing, PendingCount: 1},
			}, nil
		},
		updateStatusFn: func(_ context.Context, id string, status domain.BatchStatus) error {
			touched[id] = status
			return nil
		},
	}

	var published []queue.DispatchMessage
	publisher := &fakePublisher{
		publishFn: func(_ context.Context, queueName string, msg queue.DispatchMessage) error {
			if queueName != queue.DispatchQueueName {
				t.Errorf("queue = %q, want %q", queueName, queue.DispatchQueueName)
			}
			published = append(published, msg)
			return nil
		},
	}

	scanner, err := NewStalledBatchScanner(batches, publisher, time.Minute, 10*time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStalledBatchScanner() error = %v", err)
	}
	scanner.now = func() time.Time { return now }
	scanner.newID = func() string { return "corr-1" }

	if err := scanner.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}

	if want := now.Add(-10 * time.Minute); !gotCutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", gotCutoff, want)
	}
	if len(published) != 2 {
		t.Fatalf("published %d triggers, want 2", len(published))
	}
	if published[0].BatchID != "batch-1" || published[1].BatchID != "batch-2" {
		t.Fatalf("published = %+v, want batch-1 then batch-2", published)
	}
	for _, msg := range published {
		if msg.CorrelationID == "" {
			t.Fatalf("trigger for %s has no correlation id", msg.BatchID)
		}
	}
	if touched["batch-1"] != domain.BatchStatusProcessing || touched["batch-2"] != domain.BatchStatusProcessing {
		t.Fatalf("touched = %+v, want both batches touched in PROCESSING", touched)
	}
}

func TestStalledBatchScannerSkipsTouchOnPublishFailure(t *testing.T) {
	t.Parallel()

	// A batch whose re-enqueue failed must stay in the sweep window, so
	// its updated_at is left alone for the next pass.
	touches := 0
	batches := &fakeBatchRepo{
		listStalledFn: func(_ context.Context, _ time.Time, _ int) ([]domain.Batch, error) {
			return []domain.Batch{{ID: "batch-1", Status: domain.BatchStatusProcessing, PendingCount: 2}}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, _ domain.BatchStatus) error {
			touches++
			return nil
		},
	}
	publisher := &fakePublisher{
		publishFn: func(_ context.Context, _ string, _ queue.DispatchMessage) error {
			return errors.New("channel closed")
		},
	}

	scanner, err := NewStalledBatchScanner(batches, publisher, 0, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStalledBatchScanner() error = %v", err)
	}

	if err := scanner.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if touches != 0 {
		t.Fatalf("touches = %d, want 0 after publish failure", touches)
	}
}

func TestStalledBatchScannerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	scanner, err := NewStalledBatchScanner(&fakeBatchRepo{}, &fakePublisher{}, 10*time.Millisecond, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStalledBatchScanner() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scanner.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scanner did not stop after cancel")
	}
}
