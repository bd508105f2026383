package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDispatchCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncItemDispatched("SENT")
	metrics.IncItemDispatched("error")
	metrics.ObserveItemDispatchDuration(250 * time.Millisecond)
	metrics.IncBatchFinalized("Completed")
	metrics.ObserveStorageOperation("upload", true, 40*time.Millisecond)
	metrics.ObserveStorageOperation("download", false, 10*time.Millisecond)
	metrics.IncTokenRefresh("dropbox")

	if got := testutil.ToFloat64(metrics.itemsDispatchedTotal.WithLabelValues("sent")); got != 1 {
		t.Fatalf("batch_items_dispatched_total{result=sent} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.itemsDispatchedTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("batch_items_dispatched_total{result=error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.batchesFinalizedTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("batches_finalized_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.tokenRefreshesTotal.WithLabelValues("dropbox")); got != 1 {
		t.Fatalf("storage_token_refreshes_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *Metrics

	metrics.IncItemDispatched("sent")
	metrics.ObserveItemDispatchDuration(time.Second)
	metrics.IncBatchFinalized("failed")
	metrics.ObserveStorageOperation("upload", true, time.Second)
	metrics.IncTokenRefresh("box")
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
