// Package ocr extracts text from image-based PDFs with a vision model: one
// transcription call per page, then a single best-effort consolidation pass.
package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/taxgpt/taxgpt/internal/llm"
)

// MaxConsolidationChars bounds the consolidation request so a very long
// document cannot blow up a single call.
const MaxConsolidationChars = 100_000

const pageParallelism = 4

const transcriptionPrompt = `Transcribe all text visible on this scanned tax document page, verbatim.
Include every field label, numeric value, name, date, and checkbox state (checked or unchecked).
Preserve the page layout using line breaks. Return only the transcribed text, with no commentary.`

const consolidationSystemPrompt = `You are reviewing the raw per-page transcription of a scanned tax document.
Clean up obvious OCR artifacts without inventing content, then return ONLY a JSON object matching the provided schema:
"extracted_text" is the full cleaned text, "confidence" (0.0-1.0) is your judgment of transcription quality, "notes" lists any legibility concerns.`

// ChatClient is the slice of the llm client the extractor needs.
type ChatClient interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// VisionExtractor implements pdftext.OCRExtractor.
type VisionExtractor struct {
	client     ChatClient
	model      string
	rasterizer PageRasterizer
	log        *slog.Logger
}

func NewVisionExtractor(client ChatClient, visionModel string, rasterizer PageRasterizer, logger *slog.Logger) *VisionExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionExtractor{client: client, model: visionModel, rasterizer: rasterizer, log: logger}
}

// ExtractText transcribes every page and consolidates the result. A failure
// on any single page aborts the whole operation with the page number in the
// error; consolidation failures fall back to the raw concatenation.
func (v *VisionExtractor) ExtractText(ctx context.Context, pdfData []byte, pageCount int) (string, error) {
	images, err := v.rasterizer.RasterizePages(ctx, pdfData, pageCount)
	if err != nil {
		return "", fmt.Errorf("rasterize pages: %w", err)
	}
	if len(images) == 0 {
		return "", fmt.Errorf("page rendering produced zero images")
	}

	pageTexts := make([]string, len(images))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(pageParallelism)
	for i, img := range images {
		eg.Go(func() error {
			text, err := v.client.Complete(gctx, llm.Request{
				Model:  v.model,
				User:   transcriptionPrompt,
				Images: []llm.ImageAttachment{{Data: img.Data, Format: img.Format}},
			})
			if err != nil {
				return fmt.Errorf("transcribe page %d: %w", img.PageNumber, err)
			}
			pageTexts[i] = text
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	var builder strings.Builder
	for i, text := range pageTexts {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		fmt.Fprintf(&builder, "--- Page %d ---\n%s", images[i].PageNumber, text)
	}
	combined := builder.String()
	v.log.Debug("ocr.pages_transcribed", "pages", len(images), "text_len", len(combined))

	return v.consolidate(ctx, combined), nil
}

// consolidate runs the quality pass. It is best-effort refinement only: any
// failure returns the raw concatenated text.
func (v *VisionExtractor) consolidate(ctx context.Context, combined string) string {
	input := combined
	if len(input) > MaxConsolidationChars {
		input = input[:MaxConsolidationChars]
	}
	schema := llm.BuildConsolidationJSONSchema()
	schemaJSON, _ := json.MarshalIndent(schema, "", "  ")

	content, err := v.client.Complete(ctx, llm.Request{
		Model:        v.model,
		System:       consolidationSystemPrompt + "\n\nJSON Schema:\n" + string(schemaJSON),
		User:         input,
		JSONResponse: true,
	})
	if err != nil {
		v.log.Warn("ocr.consolidation_failed", "error", err)
		return combined
	}
	if err := llm.ValidateJSONAgainstSchema(schema, []byte(content)); err != nil {
		v.log.Warn("ocr.consolidation_schema_mismatch", "error", err)
		return combined
	}
	var out llm.Consolidation
	if err := json.Unmarshal([]byte(content), &out); err != nil || out.ExtractedText == "" {
		v.log.Warn("ocr.consolidation_unusable", "error", err)
		return combined
	}
	v.log.Debug("ocr.consolidated", "confidence", out.Confidence, "notes", out.Notes)
	return out.ExtractedText
}
