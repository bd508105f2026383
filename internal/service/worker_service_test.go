package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/domain"
	"github.com/quillsign/quillsign/internal/queue"
)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

func TestWorkerServiceProcessMessageBatchNotFoundAck(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, &fakeBatchRepo{}, newMemItemStore(), &fakeDocumentRepo{}, &fakeBackend{}, &fakeNotifier{}, CoordinatorConfig{})
	worker, err := NewWorkerService(c, &fakeConsumer{}, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	// A missing batch must be acked, not requeued forever.
	if err := worker.processMessage(context.Background(), queue.DispatchMessage{BatchID: "missing"}); err != nil {
		t.Fatalf("processMessage() error = %v, want nil", err)
	}
}

func TestWorkerServiceProcessMessagePropagatesFailures(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("db down")
	batches := &fakeBatchRepo{
		getByIDFn: func(_ context.Context, _ string) (*domain.Batch, error) {
			return nil, wantErr
		},
	}

	c := newTestCoordinator(t, batches, newMemItemStore(), &fakeDocumentRepo{}, &fakeBackend{}, &fakeNotifier{}, CoordinatorConfig{})
	worker, err := NewWorkerService(c, &fakeConsumer{}, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	if err := worker.processMessage(context.Background(), queue.DispatchMessage{BatchID: "b1"}); !errors.Is(err, wantErr) {
		t.Fatalf("processMessage() error = %v, want %v", err, wantErr)
	}
}
