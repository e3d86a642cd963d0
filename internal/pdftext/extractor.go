// Package pdftext extracts the text layer from PDF bytes, falling back to
// vision OCR for image-based documents.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// MinNativeTextLen is the threshold below which a document is treated as
// image-based and handed to OCR.
const MinNativeTextLen = 50

// Result is the typed outcome of text extraction. Degraded marks the branch
// where OCR itself failed and Text holds a placeholder instead of content, so
// downstream metadata extraction still runs.
type Result struct {
	Text           string
	Pages          int
	Degraded       bool
	DegradedReason string
}

// OCRExtractor is the fallback used for documents without a usable text
// layer.
type OCRExtractor interface {
	ExtractText(ctx context.Context, pdfData []byte, pageCount int) (string, error)
}

// Extractor reads the embedded text layer and delegates to OCR when the
// layer is absent or too short.
type Extractor struct {
	ocr OCRExtractor
	log *slog.Logger
}

func NewExtractor(ocr OCRExtractor, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{ocr: ocr, log: logger}
}

// Extract returns the document text and page count. Structural parse errors
// propagate; OCR fallback errors do not — they produce a degraded result with
// a placeholder embedding the reason.
func (e *Extractor) Extract(ctx context.Context, data []byte) (Result, error) {
	text, pages, err := nativeText(data)
	if err != nil {
		return Result{}, err
	}
	if len(text) >= MinNativeTextLen {
		e.log.Debug("pdftext.native", "pages", pages, "text_len", len(text))
		return Result{Text: text, Pages: pages}, nil
	}

	e.log.Info("pdftext.ocr_fallback", "pages", pages, "native_len", len(text))
	ocrText, err := e.ocr.ExtractText(ctx, data, pages)
	if err != nil {
		e.log.Warn("pdftext.ocr_failed", "pages", pages, "error", err)
		return Result{
			Text:           fmt.Sprintf("[Image-based PDF - OCR extraction failed: %v]", err),
			Pages:          pages,
			Degraded:       true,
			DegradedReason: err.Error(),
		}, nil
	}
	return Result{Text: ocrText, Pages: pages}, nil
}

// nativeText parses the PDF structure and concatenates the per-page text
// layer. Malformed input is a hard failure.
func nativeText(data []byte) (string, int, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("parse pdf: %w", err)
	}
	total := doc.NumPage()
	var builder strings.Builder
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return strings.TrimSpace(builder.String()), total, nil
}
