package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ProcessDocumentTask is scheduled exactly once per ingested document.
	ProcessDocumentTask = "document:process"
)

// ProcessPayload is serialized into the task payload so the worker knows
// which record to advance.
type ProcessPayload struct {
	DocumentID string `json:"document_id"`
}

// EnqueueProcess enqueues a document processing job. MaxRetry is zero: the
// pipeline never retries automatically, a failed document is re-ingested
// under a new id instead.
func EnqueueProcess(ctx context.Context, client *asynq.Client, payload ProcessPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ProcessDocumentTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}
