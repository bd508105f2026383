package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/domain"
	"github.com/quillsign/quillsign/internal/notifier"
	"github.com/quillsign/quillsign/internal/queue"
	"github.com/quillsign/quillsign/internal/ratelimit"
	"github.com/quillsign/quillsign/internal/storage"
)

type fakeBatchRepo struct {
	createWithItemsFn  func(ctx context.Context, b *domain.Batch, items []*domain.Item) error
	getByIDFn          func(ctx context.Context, id string) (*domain.Batch, error)
	listByOwnerFn      func(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Batch, int64, error)
	listStalledFn      func(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error)
	updateStatusFn     func(ctx context.Context, id string, status domain.BatchStatus) error
	transitionStatusFn func(ctx context.Context, id string, from, to domain.BatchStatus) error
	updateCountsFn     func(ctx context.Context, id string, counts domain.ItemStatusCounts, status domain.BatchStatus) error
}

func (f *fakeBatchRepo) CreateWithItems(ctx context.Context, b *domain.Batch, items []*domain.Item) error {
	if f.createWithItemsFn != nil {
		return f.createWithItemsFn(ctx, b, items)
	}
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Batch, int64, error) {
	if f.listByOwnerFn != nil {
		return f.listByOwnerFn(ctx, ownerID, page, pageSize)
	}
	return nil, 0, nil
}

func (f *fakeBatchRepo) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error) {
	if f.listStalledFn != nil {
		return f.listStalledFn(ctx, cutoff, limit)
	}
	return nil, nil
}

func (f *fakeBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeBatchRepo) TransitionStatus(ctx context.Context, id string, from, to domain.BatchStatus) error {
	if f.transitionStatusFn != nil {
		return f.transitionStatusFn(ctx, id, from, to)
	}
	return nil
}

func (f *fakeBatchRepo) UpdateCounts(ctx context.Context, id string, counts domain.ItemStatusCounts, status domain.BatchStatus) error {
	if f.updateCountsFn != nil {
		return f.updateCountsFn(ctx, id, counts, status)
	}
	return nil
}

// memItemStore is an in-memory ItemRepository so coordinator tests see
// the same persisted-counts semantics the real store provides.
type memItemStore struct {
	mu    sync.Mutex
	items map[string]*domain.Item
	order []string
}

func newMemItemStore(items ...*domain.Item) *memItemStore {
	s := &memItemStore{items: make(map[string]*domain.Item)}
	for _, item := range items {
		copied := *item
		s.items[item.ID] = &copied
		s.order = append(s.order, item.ID)
	}
	return s
}

func (s *memItemStore) GetByID(_ context.Context, id string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (s *memItemStore) ListPending(_ context.Context, batchID string) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Item
	for _, id := range s.order {
		item := s.items[id]
		if item.BatchID == batchID && item.Status == domain.ItemStatusPending {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *memItemStore) ListByBatch(_ context.Context, batchID string) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Item
	for _, id := range s.order {
		item := s.items[id]
		if item.BatchID == batchID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *memItemStore) MarkSent(_ context.Context, id, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = domain.ItemStatusSent
	item.DocumentID = &documentID
	item.ErrorMessage = nil
	return nil
}

func (s *memItemStore) MarkError(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = domain.ItemStatusError
	item.ErrorMessage = &message
	return nil
}

func (s *memItemStore) CountByStatus(_ context.Context, batchID string) (domain.ItemStatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts domain.ItemStatusCounts
	for _, item := range s.items {
		if item.BatchID != batchID {
			continue
		}
		switch item.Status {
		case domain.ItemStatusPending:
			counts.Pending++
		case domain.ItemStatusSent:
			counts.Sent++
		case domain.ItemStatusError:
			counts.Error++
		}
	}
	return counts, nil
}

type fakeDocumentRepo struct {
	mu      sync.Mutex
	created []*domain.Document

	createWithSignerFn func(ctx context.Context, d *domain.Document, s *domain.Signer) error
	createAuditFn      func(ctx context.Context, e *domain.AuditEvent) error
}

func (f *fakeDocumentRepo) CreateWithSigner(ctx context.Context, d *domain.Document, s *domain.Signer) error {
	if f.createWithSignerFn != nil {
		if err := f.createWithSignerFn(ctx, d, s); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, d)
	return nil
}

func (f *fakeDocumentRepo) GetByID(_ context.Context, _ string) (*domain.Document, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeDocumentRepo) GetSignerByToken(_ context.Context, _ string) (*domain.Signer, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeDocumentRepo) CreateAuditEvent(ctx context.Context, e *domain.AuditEvent) error {
	if f.createAuditFn != nil {
		return f.createAuditFn(ctx, e)
	}
	return nil
}

type fakeBackend struct {
	downloads atomic.Int64

	uploadFn   func(ctx context.Context, data []byte, key, contentType string) (string, error)
	downloadFn func(ctx context.Context, key string) ([]byte, error)
}

func (f *fakeBackend) UploadBuffer(ctx context.Context, data []byte, key, contentType string) (string, error) {
	if f.uploadFn != nil {
		return f.uploadFn(ctx, data, key, contentType)
	}
	return key, nil
}

func (f *fakeBackend) DownloadBuffer(ctx context.Context, key string) ([]byte, error) {
	f.downloads.Add(1)
	if f.downloadFn != nil {
		return f.downloadFn(ctx, key)
	}
	return []byte("source-pdf"), nil
}

func (f *fakeBackend) SignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://example.net/" + key, nil
}

func (f *fakeBackend) Exists(_ context.Context, _ string) (bool, error) { return true, nil }

func (f *fakeBackend) Delete(_ context.Context, _ string) error { return nil }

var _ storage.Backend = (*fakeBackend)(nil)

type fakeNotifier struct {
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	sends       atomic.Int64

	sendFn func(ctx context.Context, req notifier.SignatureRequest) (*notifier.Response, error)
}

func (f *fakeNotifier) SendSignatureRequest(ctx context.Context, req notifier.SignatureRequest) (*notifier.Response, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		observed := f.maxInFlight.Load()
		if current <= observed || f.maxInFlight.CompareAndSwap(observed, current) {
			break
		}
	}
	f.sends.Add(1)

	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &notifier.Response{StatusCode: 202}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.DispatchMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

func testBatch(total int) *domain.Batch {
	return &domain.Batch{
		ID:             "b1",
		OwnerID:        "owner-1",
		Title:          "NDA Q3",
		SourceFileName: "nda.pdf",
		SourceKey:      "batches/b1/source/nda.pdf",
		Status:         domain.BatchStatusProcessing,
		TotalCount:     total,
		PendingCount:   total,
	}
}

func pendingItems(n int) []*domain.Item {
	items := make([]*domain.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, &domain.Item{
			ID:             fmt.Sprintf("i%d", i+1),
			BatchID:        "b1",
			RecipientName:  fmt.Sprintf("Recipient %d", i+1),
			RecipientEmail: fmt.Sprintf("r%d@example.com", i+1),
			Status:         domain.ItemStatusPending,
		})
	}
	return items
}

func newTestCoordinator(
	t *testing.T,
	batches *fakeBatchRepo,
	items *memItemStore,
	documents *fakeDocumentRepo,
	store *fakeBackend,
	notifications *fakeNotifier,
	cfg CoordinatorConfig,
) *Coordinator {
	t.Helper()

	if cfg.SigningBaseURL == "" {
		cfg.SigningBaseURL = "https://sign.example.com"
	}
	c, err := NewCoordinator(batches, items, documents, store, notifications, &fakeRateLimiter{}, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	return c
}

func TestCoordinatorProcessBatchAllSent(t *testing.T) {
	t.Parallel()

	var gotCounts domain.ItemStatusCounts
	var gotStatus domain.BatchStatus

	batch := testBatch(3)
	batches := &fakeBatchRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Batch, error) {
			return batch, nil
		},
		updateCountsFn: func(_ context.Context, _ string, counts domain.ItemStatusCounts, status domain.BatchStatus) error {
			gotCounts = counts
			gotStatus = status
			return nil
		},
	}
	items := newMemItemStore(pendingItems(3)...)
	documents := &fakeDocumentRepo{}
	store := &fakeBackend{}
	notifications := &fakeNotifier{}

	c := newTestCoordinator(t, batches, items, documents, store, notifications, CoordinatorConfig{})
	if err := c.ProcessBatch(context.Background(), "b1"); err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if gotStatus != domain.BatchStatusCompleted {
		t.Fatalf("final status = %s, want COMPLETED", gotStatus)
	}
	if gotCounts.Sent != 3 || gotCounts.Error != 0 || gotCounts.Pending != 0 {
		t.Fatalf("counts = %+v, want 3 sent", gotCounts)
	}
	if gotCounts.Total() != batch.TotalCount {
		t.Fatalf("counts total = %d, want %d", gotCounts.Total(), batch.TotalCount)
	}

	// The source is downloaded and hashed once for the whole batch.
	if got := store.downloads.Load(); got != 1 {
		t.Fatalf("source downloads = %d, want 1", got)
	}
	if len(documents.created) != 3 {
		t.Fatalf("documents created = %d, want 3", len(documents.created))
	}
	wantHash := sha256Hex([]byte("source-pdf"))
	for _, doc := range documents.created {
		if doc.SourceHash != wantHash {
			t.Fatalf("document hash = %q, want %q", doc.SourceHash, wantHash)
		}
		if doc.BatchID == nil || *doc.BatchID != "b1" {
			t.Fatalf("document batch id = %v, want b1", doc.BatchID)
		}
	}
}

func TestCoordinatorProcessBatchPartialFailure(t *testing.T) {
	t.Parallel()

	// Recipient B's notification fails; A and C must still go out and
	// the batch must land on PARTIAL.
	var gotStatus domain.BatchStatus
	batch := testBatch(3)
	batches := &fakeBatchRepo{
		getByIDFn: func(_ context.Context, _ string) (*domain.Batch, error) {
			return batch, nil
		},
		updateCountsFn: func(_ context.Context, _ string, _ domain.ItemStatusCounts, status domain.BatchStatus) error {
			gotStatus = status
			return nil
		},
	}
	items := newMemItemStore(pendingItems(3)...)
	documents := &fakeDocumentRepo{}
	notifications := &fakeNotifier{
		sendFn: func(_ context.Context, req notifier.SignatureRequest) (*notifier.Response, error) {
			if req.RecipientEmail == "r2@example.com" {
				return nil, &notifier.DeliveryError{StatusCode: 502, Message: "bad gateway", Transient: true}
			}
			return &notifier.Response{StatusCode: 202}, nil
		},
	}

	c := newTestCoordinator(t, batches, items, documents, &fakeBackend{}, notifications, CoordinatorConfig{})
	if err := c.ProcessBatch(context.Background(), "b1"); err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if gotStatus != domain.BatchStatusPartial {
		t.Fatalf("final status = %s, want PARTIAL", gotStatus)
	}

	failed, err := items.GetByID(context.Background(), "i2")
	if err != nil {
		t.Fatalf("GetByID(i2) error = %v", err)
	}
	if failed.Status != domain.ItemStatusError {
		t.Fatalf("item i2 status = %s, want ERROR", failed.Status)
	}
	if failed.ErrorMessage == nil || *failed.ErrorMessage == "" {
		t.Fatal("item i2 should carry an error message")
	}

	for _, id := range []string{"i1", "i3"} {
		item, err := items.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		if item.Status != domain.ItemStatusSent {
			t.Fatalf("item %s status = %s, want SENT", id, item.Status)
		}
		if item.DocumentID == nil {
			t.Fatalf("item %s should reference its document", id)
		}
	}
}

func TestCoordinatorProcessBatchAllFailed(t *testing.T) {
	t.Parallel()

	var gotStatus domain.BatchStatus
	batches := &fakeBatchRepo{
		getByIDFn: func(_ context.Context, _ string) (*domain.Batch, error) {
			return testBatch(2), nil
		},
		updateCountsFn: func(_ context.Context, _ string, _ domain.ItemStatusCounts, status domain.BatchStatus) error {
			gotStatus = status
			return nil
		},
	}
	items := newMemItemStore(pendingItems(2)...)
	notifications := &fakeNotifier{
		sendFn: func(_ context.Context, _ notifier.SignatureRequest) (*notifier.Response, error) {
			return nil, &notifier.DeliveryError{StatusCode: 500, Message: "mailer down", Transient: true}
		},
	}

	c := newTestCoordinator(t, batches, items, &fakeDocumentRepo{}, &fakeBackend{}, notifications, CoordinatorConfig{})
	if err := c.ProcessBatch(context.Background(), "b1"); err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if gotStatus != domain.BatchStatusFailed {
		t.Fatalf("final status = %s, want FAILED", gotStatus)
	}
}

func TestCoordinatorProcessBatchIdempotentRerun(t *testing.T) {
	t.Parallel()

	statuses := make([]domain.BatchStatus, 0, 2)
	batches := &fakeBatchRepo{
		getByIDFn: func(_ context.Context, _ string) (*domain.Batch, error) {
			return testBatch(3), nil
		},
		updateCountsFn: func(_ context.Context, _ string, _ domain.ItemStatusCounts, status domain.BatchStatus) error {
			statuses = append(statuses, status)
			return nil
		},
	}
	items := newMemItemStore(pendingItems(3)...)
	notifications := &fakeNotifier{
		sendFn: func(_ context.Context, req notifier.SignatureRequest) (*notifier.Response, error) {
			if req.RecipientEmail == "r2@example.com" {
				return nil, &notifier.DeliveryError{StatusCode: 500, Message: "mailer down"}
			}
			return &notifier.Response{StatusCode: 202}, nil
		},
	}

	c := newTestCoordinator(t, batches, items, &fakeDocumentRepo{}, &fakeBackend{}, notifications, CoordinatorConfig{})
	if err := c.ProcessBatch(context.Background(), "b1"); err != nil {
		t.Fatalf("first ProcessBatch() error = %v", err)
	}

	sendsAfterFirstRun := notifications.sends.Load()
	if sendsAfterFirstRun != 3 {
		t.Fatalf("sends after first run = %d, want 3", sendsAfterFirstRun)
	}

	// Re-running must not touch items that already reached SENT or
	// ERROR; the status is recomputed from persisted counts.
	if err := c.ProcessBatch(context.Background(), "b1"); err != nil {
		t.Fatalf("second ProcessBatch() error = %v", err)
	}
	if got := notifications.sends.Load(); got != sendsAfterFirstRun {
		t.Fatalf("sends after re-run = %d, want %d", got, sendsAfterFirstRun)
	}
	if len(statuses) != 2 || statuses[0] != domain.BatchStatusPartial || statuses[1] != domain.BatchStatusPartial {
		t.Fatalf("statuses = %v, want PARTIAL twice", statuses)
	}
}

func TestCoordinatorBoundedConcurrency(t *testing.T) {
	t.Parallel()

	batches := &fakeBatchRepo{
		getByIDFn: func(_ context.Context, _ string) (*domain.Batch, error) {
			return testBatch(20), nil
		},
	}
	items := newMemItemStore(pendingItems(20)...)
	notifications := &fakeNotifier{
		sendFn: func(_ context.Context, _ notifier.SignatureRequest) (*notifier.Response, error) {
			time.Sleep(5 * time.Millisecond)
			return &notifier.Response{StatusCode: 202}, nil
		},
	}

	c := newTestCoordinator(t, batches, items, &fakeDocumentRepo{}, &fakeBackend{}, notifications, CoordinatorConfig{Workers: 5})
	if err := c.ProcessBatch(context.Background(), "b1"); err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if got := notifications.maxInFlight.Load(); got > 5 {
		t.Fatalf("max in-flight sends = %d, want <= 5", got)
	}
	if got := notifications.sends.Load(); got != 20 {
		t.Fatalf("sends = %d, want 20", got)
	}
}

func TestCoordinatorBatchNotFound(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, &fakeBatchRepo{}, newMemItemStore(), &fakeDocumentRepo{}, &fakeBackend{}, &fakeNotifier{}, CoordinatorConfig{})
	err := c.ProcessBatch(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ProcessBatch() error = %v, want ErrNotFound", err)
	}
}
