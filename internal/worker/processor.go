package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/taxgpt/taxgpt/internal/queue"
)

// Pipeline is what the worker drives for each dequeued document.
type Pipeline interface {
	Process(ctx context.Context, docID string) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	pipeline Pipeline
	log      *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(pipeline Pipeline, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{pipeline: pipeline, log: logger}
}

// Handler registers the document processing handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessDocumentTask, p.handleProcess)
	return mux
}

func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	p.log.Info("worker.dequeued", "document_id", payload.DocumentID)
	if err := p.pipeline.Process(ctx, payload.DocumentID); err != nil {
		p.log.Error("worker.pipeline_error", "document_id", payload.DocumentID, "error", err)
		return err
	}
	return nil
}
