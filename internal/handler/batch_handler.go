package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quillsign/quillsign/internal/domain"
	"github.com/quillsign/quillsign/internal/service"
)

const maxSourceFileBytes = 25 << 20

type BatchService interface {
	CreateBatch(ctx context.Context, in service.CreateBatchInput) (*domain.Batch, error)
	Dispatch(ctx context.Context, batchID string) (*domain.Batch, error)
	GetSummary(ctx context.Context, batchID string) (*service.BatchSummary, error)
}

type BatchHandler struct {
	service BatchService
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.CreateBatch)
	v1.Post("/batches/:id/dispatch", h.DispatchBatch)
	v1.Get("/batches/:id", h.GetBatch)

	return nil
}

type recipientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type batchResponse struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	Title          string          `json:"title"`
	SourceFileName string          `json:"sourceFileName"`
	Status         string          `json:"status"`
	TotalCount     int             `json:"totalCount"`
	SentCount      int             `json:"sentCount"`
	ErrorCount     int             `json:"errorCount"`
	PendingCount   int             `json:"pendingCount"`
	Fields         json.RawMessage `json:"fields,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type batchSummaryResponse struct {
	batchResponse
	Counts batchCounts `json:"counts"`
}

type batchCounts struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Error   int `json:"error"`
}

// CreateBatch accepts a multipart form: the source document under
// "source", plus "title", a "recipients" JSON array, and an optional
// "fields" JSON object shared by every generated document.
func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	ownerID := requestOwnerID(c)
	if ownerID == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing user identity")
	}

	fileHeader, err := c.FormFile("source")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "source file is required")
	}
	if fileHeader.Size > maxSourceFileBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "source file is too large")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "source file is unreadable")
	}
	defer file.Close()

	source, err := io.ReadAll(file)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "source file is unreadable")
	}

	var recipients []recipientRequest
	if raw := strings.TrimSpace(c.FormValue("recipients")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &recipients); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "recipients must be a JSON array")
		}
	}

	in := service.CreateBatchInput{
		OwnerID:        ownerID,
		Title:          strings.TrimSpace(c.FormValue("title")),
		SourceFileName: fileHeader.Filename,
		Source:         source,
		Recipients:     make([]service.Recipient, 0, len(recipients)),
	}
	for _, r := range recipients {
		in.Recipients = append(in.Recipients, service.Recipient{
			Name:  strings.TrimSpace(r.Name),
			Email: strings.TrimSpace(r.Email),
		})
	}

	if raw := strings.TrimSpace(c.FormValue("fields")); raw != "" {
		if !json.Valid([]byte(raw)) {
			return fiber.NewError(fiber.StatusBadRequest, "fields must be valid JSON")
		}
		in.Fields = json.RawMessage(raw)
	}

	batch, err := h.service.CreateBatch(c.Context(), in)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) DispatchBatch(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	batch, err := h.service.Dispatch(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	summary, err := h.service.GetSummary(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(batchSummaryResponse{
		batchResponse: toBatchResponse(&summary.Batch),
		Counts: batchCounts{
			Pending: summary.Counts.Pending,
			Sent:    summary.Counts.Sent,
			Error:   summary.Counts.Error,
		},
	})
}

func requestOwnerID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get("X-User-ID"))
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	return batchResponse{
		ID:             b.ID,
		OwnerID:        b.OwnerID,
		Title:          b.Title,
		SourceFileName: b.SourceFileName,
		Status:         b.Status.String(),
		TotalCount:     b.TotalCount,
		SentCount:      b.SentCount,
		ErrorCount:     b.ErrorCount,
		PendingCount:   b.PendingCount,
		Fields:         b.Fields,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
