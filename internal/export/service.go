// Package export produces XLSX summaries of ingested documents for
// preparers who want the inventory in a spreadsheet.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/taxgpt/taxgpt/internal/model"
	"github.com/taxgpt/taxgpt/internal/repository"
)

// Repository is the read-only surface the exporter needs.
type Repository interface {
	List(ctx context.Context, filter repository.ListFilter) ([]*model.Document, error)
}

// Service is a tiny façade over the repository that produces XLSX bytes.
type Service struct {
	repo Repository
	log  *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, log: logger}
}

// DocumentsXLSX returns a workbook listing every document matching the
// filter, one row per document.
func (s *Service) DocumentsXLSX(ctx context.Context, filter repository.ListFilter) ([]byte, error) {
	start := time.Now()
	docs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Documents"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"Filename",
		"Type",
		"Tax Year",
		"Payer",
		"Taxpayer",
		"Pages",
		"Status",
		"Ingested",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for row, doc := range docs {
		values := []any{
			doc.OriginalFilename,
			string(doc.DocType),
			deref(doc.TaxYear),
			derefStr(doc.PayerName),
			derefStr(doc.TaxpayerName),
			doc.NumPages,
			string(doc.Status),
			doc.IngestedAt.UTC().Format("2006-01-02"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	s.log.Info("export.done", "documents", len(docs), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

func deref(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func derefStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
