// Package pipeline coordinates text extraction and metadata extraction for a
// single document and commits its status transitions.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/taxgpt/taxgpt/internal/llm"
	"github.com/taxgpt/taxgpt/internal/model"
	"github.com/taxgpt/taxgpt/internal/pdftext"
	"github.com/taxgpt/taxgpt/internal/repository"
)

// Repository is the narrow persistence contract the orchestrator needs. Each
// method is one atomic commit; MarkCompleted writes all extracted fields and
// the terminal status in a single statement.
type Repository interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, fields repository.CompletedFields) error
	MarkFailed(ctx context.Context, id string, msg string) error
}

// FileStore fetches the raw PDF bytes written at ingestion.
type FileStore interface {
	Download(ctx context.Context, objectKey string) ([]byte, error)
}

// TextExtractor produces the document text (native layer or OCR fallback).
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (pdftext.Result, error)
}

// FieldExtractor produces structured metadata from document text.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, text string) (llm.DocumentFields, error)
}

// Orchestrator drives pending -> processing -> {completed | failed} for one
// document at a time. Instances are safe for concurrent use across distinct
// document ids; nothing is shared between documents beyond the store.
type Orchestrator struct {
	repo   Repository
	store  FileStore
	text   TextExtractor
	fields FieldExtractor
	log    *slog.Logger
}

func NewOrchestrator(repo Repository, store FileStore, text TextExtractor, fields FieldExtractor, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{repo: repo, store: store, text: text, fields: fields, log: logger}
}

// Process runs the pipeline for one document id. Extraction failures are
// converted into the failed state and return nil; only infrastructure errors
// (the record could not be updated) propagate to the caller. There are no
// automatic retries: a failed document must be re-ingested under a new id.
func (o *Orchestrator) Process(ctx context.Context, docID string) error {
	doc, err := o.repo.Get(ctx, docID)
	if errors.Is(err, repository.ErrNotFound) {
		// Defensive no-op: the row existed when the job was enqueued. Most
		// likely a bulk delete raced the queue; log it rather than fail.
		o.log.Warn("pipeline.document_missing", "document_id", docID)
		return nil
	}
	if err != nil {
		return err
	}

	// Commit the processing state before any extraction work so a crash
	// mid-extraction leaves a durably observable "processing" row.
	if err := o.repo.MarkProcessing(ctx, docID); err != nil {
		return err
	}
	o.log.Info("pipeline.processing", "document_id", docID, "filename", doc.OriginalFilename)

	data, err := o.store.Download(ctx, doc.ObjectKey)
	if err != nil {
		return o.fail(ctx, docID, err)
	}

	res, err := o.text.Extract(ctx, data)
	if err != nil {
		return o.fail(ctx, docID, err)
	}
	if res.Degraded {
		o.log.Warn("pipeline.degraded_text", "document_id", docID, "reason", res.DegradedReason)
	}

	fields, err := o.fields.ExtractFields(ctx, res.Text)
	if err != nil {
		return o.fail(ctx, docID, err)
	}

	docType := model.DocType(fields.DocType)
	if !model.ValidDocType(fields.DocType) {
		docType = model.DocTypeUnknown
	}
	completed := repository.CompletedFields{
		DocType:      docType,
		TaxYear:      fields.TaxYear,
		PayerName:    optional(fields.PayerName),
		TaxpayerName: optional(fields.TaxpayerName),
		NumPages:     res.Pages,
		FullText:     res.Text,
	}
	if err := o.repo.MarkCompleted(ctx, docID, completed); err != nil {
		return err
	}
	o.log.Info("pipeline.completed",
		"document_id", docID,
		"doc_type", docType,
		"pages", res.Pages,
		"confidence", fields.Confidence,
	)
	return nil
}

// fail commits the terminal failed state. The extraction error itself is not
// returned: it is recorded on the document, and retrying would not help.
func (o *Orchestrator) fail(ctx context.Context, docID string, cause error) error {
	o.log.Error("pipeline.failed", "document_id", docID, "error", cause)
	if err := o.repo.MarkFailed(ctx, docID, cause.Error()); err != nil {
		return err
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
