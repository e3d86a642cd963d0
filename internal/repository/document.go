package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxgpt/taxgpt/internal/model"
)

// ErrNotFound is returned when no document row matches the requested id.
var ErrNotFound = errors.New("document not found")

// CompletedFields carries everything the terminal success commit writes.
// The whole struct is written in one UPDATE so a reader never observes a
// partially extracted document.
type CompletedFields struct {
	DocType      model.DocType
	TaxYear      *int
	PayerName    *string
	TaxpayerName *string
	NumPages     int
	FullText     string
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	TaxYear int
	DocType string
}

// DocumentRepository wraps all SQL used throughout the API, worker and CLI.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// Create inserts a pending document at ingestion time.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	doc.Status = model.StatusPending
	doc.DocType = model.DocTypeUnknown
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, original_filename, object_key, status, doc_type, num_pages, ingested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, doc.ID, doc.OriginalFilename, doc.ObjectKey, doc.Status, doc.DocType, 0, doc.IngestedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const docColumns = `id, original_filename, object_key, status, doc_type, tax_year,
	payer_name, taxpayer_name, num_pages, COALESCE(full_text,''), error_message, ingested_at`

// Get returns a document by id.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*model.Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE id=$1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

// List returns document metadata ordered by ingestion time, newest first.
func (r *DocumentRepository) List(ctx context.Context, filter ListFilter) ([]*model.Document, error) {
	var (
		conds []string
		args  []any
	)
	if filter.TaxYear != 0 {
		args = append(args, filter.TaxYear)
		conds = append(conds, fmt.Sprintf("tax_year=$%d", len(args)))
	}
	if filter.DocType != "" {
		args = append(args, filter.DocType)
		conds = append(conds, fmt.Sprintf("doc_type=$%d", len(args)))
	}
	query := `SELECT ` + docColumns + ` FROM documents`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ingested_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// MarkProcessing commits the pending->processing transition as a single
// field update, before any extraction work begins.
func (r *DocumentRepository) MarkProcessing(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET status=$1 WHERE id=$2`, model.StatusProcessing, id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// MarkCompleted writes every extracted field plus the completed status in one
// commit, clearing any error message.
func (r *DocumentRepository) MarkCompleted(ctx context.Context, id string, fields CompletedFields) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET status=$1, doc_type=$2, tax_year=$3, payer_name=$4, taxpayer_name=$5,
			num_pages=$6, full_text=$7, error_message=NULL
		WHERE id=$8
	`, model.StatusCompleted, fields.DocType, fields.TaxYear, fields.PayerName,
		fields.TaxpayerName, fields.NumPages, fields.FullText, id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed commits the terminal failed state with a bounded diagnostic
// message. Extracted fields keep their ingestion-time defaults.
func (r *DocumentRepository) MarkFailed(ctx context.Context, id string, msg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET status=$1, error_message=$2 WHERE id=$3`,
		model.StatusFailed, model.TruncateError(msg), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// DeleteAll removes every document row and returns the object keys of the
// backing files so the caller can clean up storage.
func (r *DocumentRepository) DeleteAll(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `DELETE FROM documents RETURNING object_key`)
	if err != nil {
		return nil, fmt.Errorf("delete documents: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan object key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete documents: %w", err)
	}
	return keys, nil
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var doc model.Document
	err := row.Scan(&doc.ID, &doc.OriginalFilename, &doc.ObjectKey, &doc.Status,
		&doc.DocType, &doc.TaxYear, &doc.PayerName, &doc.TaxpayerName,
		&doc.NumPages, &doc.FullText, &doc.ErrorMessage, &doc.IngestedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
