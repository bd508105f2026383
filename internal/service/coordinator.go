package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quillsign/quillsign/internal/domain"
	"github.com/quillsign/quillsign/internal/notifier"
	"github.com/quillsign/quillsign/internal/observability"
	"github.com/quillsign/quillsign/internal/ratelimit"
	"github.com/quillsign/quillsign/internal/repository"
	"github.com/quillsign/quillsign/internal/storage"
)

const (
	defaultDispatchWorkers  = 5
	minDispatchWorkers      = 1
	defaultItemTimeout      = 2 * time.Minute
	notifyRateLimitKey      = "notify"
	signingTokenBytes       = 32
	defaultSignPathTemplate = "%s/sign/%s"
)

// SenderResolver resolves the display name shown to recipients for a
// batch owner.
type SenderResolver func(ctx context.Context, ownerID string) (string, error)

// Coordinator fans a batch out to its recipients. Each pending item gets
// its own document copy, signer record and notification; items already
// SENT or ERROR from earlier runs are never touched, which makes
// ProcessBatch safe to re-run after a crash or partial failure.
type Coordinator struct {
	batches       repository.BatchRepository
	items         repository.ItemRepository
	documents     repository.DocumentRepository
	store         storage.Backend
	notifications notifier.Notifier
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics

	workers        int
	itemTimeout    time.Duration
	signingBaseURL string
	resolveSender  SenderResolver
	now            func() time.Time
	newID          func() string
	newToken       func() (string, error)
}

type CoordinatorConfig struct {
	Workers        int
	ItemTimeout    time.Duration
	SigningBaseURL string

	// ResolveSender resolves the sender display name for a batch owner.
	// Nil falls back to the owner id.
	ResolveSender SenderResolver
}

func NewCoordinator(
	batches repository.BatchRepository,
	items repository.ItemRepository,
	documents repository.DocumentRepository,
	store storage.Backend,
	notifications notifier.Notifier,
	rateLimiter ratelimit.RateLimiter,
	cfg CoordinatorConfig,
	logger *zap.Logger,
) (*Coordinator, error) {
	if strings.TrimSpace(cfg.SigningBaseURL) == "" {
		return nil, fmt.Errorf("signing base url is required")
	}
	if cfg.Workers < minDispatchWorkers {
		cfg.Workers = defaultDispatchWorkers
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	if cfg.ResolveSender == nil {
		cfg.ResolveSender = func(_ context.Context, ownerID string) (string, error) {
			return ownerID, nil
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		batches:        batches,
		items:          items,
		documents:      documents,
		store:          store,
		notifications:  notifications,
		rateLimiter:    rateLimiter,
		logger:         logger,
		workers:        cfg.Workers,
		itemTimeout:    cfg.ItemTimeout,
		signingBaseURL: strings.TrimRight(cfg.SigningBaseURL, "/"),
		resolveSender:  cfg.ResolveSender,
		now:            time.Now,
		newID:          uuid.NewString,
		newToken:       newSigningToken,
	}, nil
}

func (c *Coordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// ProcessBatch runs one dispatch pass over the batch's pending items and
// derives the batch status from the persisted item counts afterwards.
func (c *Coordinator) ProcessBatch(ctx context.Context, batchID string) error {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}

	pending, err := c.items.ListPending(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to list pending items: %w", err)
	}

	if len(pending) > 0 {
		if err := c.dispatchItems(ctx, batch, pending); err != nil {
			return err
		}
	}

	return c.finalize(ctx, batchID)
}

// dispatchItems fans the pending items out over a bounded worker pool.
// Item goroutines never return an error: a failed item is recorded on
// the item row and must not abort its siblings.
func (c *Coordinator) dispatchItems(ctx context.Context, batch *domain.Batch, pending []domain.Item) error {
	downloadStart := c.now()
	source, err := c.store.DownloadBuffer(ctx, batch.SourceKey)
	if c.metrics != nil {
		c.metrics.ObserveStorageOperation("download", err == nil, c.now().Sub(downloadStart))
	}
	if err != nil {
		return fmt.Errorf("failed to download batch source: %w", err)
	}
	sourceHash := sha256Hex(source)

	senderName, err := c.resolveSender(ctx, batch.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to resolve sender: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i := range pending {
		item := pending[i]
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(groupCtx, c.itemTimeout)
			defer cancel()

			start := c.now()
			processErr := c.processItem(itemCtx, batch, item, source, sourceHash, senderName)
			if c.metrics != nil {
				c.metrics.ObserveItemDispatchDuration(c.now().Sub(start))
			}

			if processErr == nil {
				if c.metrics != nil {
					c.metrics.IncItemDispatched("sent")
				}
				return nil
			}

			c.logger.Warn("batch item failed",
				zap.String("batchId", batch.ID),
				zap.String("itemId", item.ID),
				zap.Error(processErr),
			)
			if c.metrics != nil {
				c.metrics.IncItemDispatched("error")
			}

			// Record the failure against the item with the parent
			// context: the item context may already be past its
			// deadline.
			if err := c.items.MarkError(ctx, item.ID, processErr.Error()); err != nil {
				c.logger.Error("failed to mark item error",
					zap.String("itemId", item.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	return g.Wait()
}

// processItem generates the recipient's document copy, records the
// signer, and delivers the signature-request notification.
func (c *Coordinator) processItem(
	ctx context.Context,
	batch *domain.Batch,
	item domain.Item,
	source []byte,
	sourceHash string,
	senderName string,
) error {
	documentID := c.newID()
	documentKey := fmt.Sprintf("batches/%s/documents/%s.pdf", batch.ID, documentID)

	uploadStart := c.now()
	_, err := c.store.UploadBuffer(ctx, source, documentKey, "application/pdf")
	if c.metrics != nil {
		c.metrics.ObserveStorageOperation("upload", err == nil, c.now().Sub(uploadStart))
	}
	if err != nil {
		return fmt.Errorf("failed to store document copy: %w", err)
	}

	token, err := c.newToken()
	if err != nil {
		return fmt.Errorf("failed to generate signing token: %w", err)
	}

	batchID := batch.ID
	doc := &domain.Document{
		ID:         documentID,
		OwnerID:    batch.OwnerID,
		BatchID:    &batchID,
		Title:      batch.Title,
		StorageKey: documentKey,
		SourceHash: sourceHash,
		SenderName: senderName,
		Fields:     batch.Fields,
		CreatedAt:  c.now().UTC(),
		UpdatedAt:  c.now().UTC(),
	}
	signer := &domain.Signer{
		ID:           c.newID(),
		DocumentID:   documentID,
		Name:         item.RecipientName,
		Email:        item.RecipientEmail,
		SigningToken: token,
		CreatedAt:    c.now().UTC(),
	}
	if err := c.documents.CreateWithSigner(ctx, doc, signer); err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	c.recordAudit(ctx, documentID, domain.AuditDocumentCreated,
		fmt.Sprintf("document created for %s", item.RecipientEmail))

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, notifyRateLimitKey); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	_, err = c.notifications.SendSignatureRequest(ctx, notifier.SignatureRequest{
		RecipientName:  item.RecipientName,
		RecipientEmail: item.RecipientEmail,
		DocumentTitle:  batch.Title,
		SigningURL:     fmt.Sprintf(defaultSignPathTemplate, c.signingBaseURL, token),
		SenderName:     senderName,
	})
	if err != nil {
		return fmt.Errorf("failed to send signature request: %w", err)
	}
	c.recordAudit(ctx, documentID, domain.AuditEmailSent,
		fmt.Sprintf("signature request sent to %s", item.RecipientEmail))

	if err := c.items.MarkSent(ctx, item.ID, documentID); err != nil {
		return fmt.Errorf("failed to mark item sent: %w", err)
	}
	return nil
}

// finalize derives the batch status from the counts actually persisted,
// not from in-memory bookkeeping, so a run that raced a crash still
// converges on the right status when re-run.
func (c *Coordinator) finalize(ctx context.Context, batchID string) error {
	counts, err := c.items.CountByStatus(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to count items: %w", err)
	}

	status := domain.FinalBatchStatus(counts.Pending, counts.Error, counts.Total())
	if err := c.batches.UpdateCounts(ctx, batchID, counts, status); err != nil {
		return fmt.Errorf("failed to update batch counts: %w", err)
	}

	if c.metrics != nil && status.IsFinal() {
		c.metrics.IncBatchFinalized(strings.ToLower(status.String()))
	}

	c.logger.Info("batch dispatch pass finished",
		zap.String("batchId", batchID),
		zap.String("status", status.String()),
		zap.Int("sent", counts.Sent),
		zap.Int("errored", counts.Error),
		zap.Int("pending", counts.Pending),
	)
	return nil
}

func (c *Coordinator) recordAudit(ctx context.Context, documentID string, eventType domain.AuditEventType, detail string) {
	event := &domain.AuditEvent{
		ID:         c.newID(),
		DocumentID: documentID,
		Type:       eventType,
		Detail:     detail,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.documents.CreateAuditEvent(ctx, event); err != nil {
		c.logger.Warn("failed to record audit event",
			zap.String("documentId", documentID),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newSigningToken() (string, error) {
	buf := make([]byte, signingTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
