package queue

import (
	"context"

	"github.com/hibiken/asynq"
)

// Client adapts an asynq client to the narrow enqueue surface the API layer
// depends on.
type Client struct {
	inner *asynq.Client
}

func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// EnqueueProcess submits the processing job for an ingested document.
func (c *Client) EnqueueProcess(ctx context.Context, docID string) error {
	return EnqueueProcess(ctx, c.inner, ProcessPayload{DocumentID: docID})
}

// Close releases the underlying asynq client.
func (c *Client) Close() error {
	return c.inner.Close()
}
