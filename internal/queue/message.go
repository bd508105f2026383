package queue

import (
	"fmt"
	"strings"
)

// DispatchMessage is the broker payload that triggers a dispatch pass
// over a batch. It intentionally carries no batch state: the worker
// re-reads everything from the database, so a stale or duplicate
// message is harmless.
type DispatchMessage struct {
	BatchID       string `json:"batchId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	return nil
}
