// Package metadata classifies a tax document and pulls structured fields out
// of its text with a single schema-constrained LLM call.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/taxgpt/taxgpt/internal/llm"
	"github.com/taxgpt/taxgpt/internal/model"
)

// MaxInputChars bounds the prompt so request cost does not scale with
// document length.
const MaxInputChars = 15_000

const systemPrompt = `You are a tax document analyst. You are given the extracted text of a single US tax document (W-2, 1099 variants, 1098, or a brokerage statement).
Classify the document and extract its key fields. Return ONLY a JSON object matching the provided schema.
Be conservative: if you are not certain about a field, omit it entirely rather than guessing. Use "unknown" for doc_type only when no category fits.
"payer_name" is the employer/payer/institution; "taxpayer_name" is the recipient/employee. "taxpayer_id" and "payer_id" are the (possibly masked) SSN/EIN values as printed.`

// ChatClient is the slice of the llm client the extractor needs.
type ChatClient interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Extractor performs structured metadata extraction.
type Extractor struct {
	client ChatClient
	model  string
	log    *slog.Logger
}

func NewExtractor(client ChatClient, textModel string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, model: textModel, log: logger}
}

// ExtractFields runs one structured call over at most MaxInputChars of text.
// Refusals, incomplete responses and schema-mismatched results are hard
// failures carrying the underlying cause.
func (e *Extractor) ExtractFields(ctx context.Context, text string) (llm.DocumentFields, error) {
	start := time.Now()
	input := text
	if len(input) > MaxInputChars {
		input = input[:MaxInputChars]
	}

	docTypes := make([]string, len(model.DocTypes))
	for i, t := range model.DocTypes {
		docTypes[i] = string(t)
	}
	schema := llm.BuildDocumentJSONSchema(docTypes)
	schemaJSON, _ := json.MarshalIndent(schema, "", "  ")

	content, err := e.client.Complete(ctx, llm.Request{
		Model:        e.model,
		System:       systemPrompt + "\n\nJSON Schema:\n" + string(schemaJSON),
		User:         "Document text:\n\n" + input,
		JSONResponse: true,
	})
	if err != nil {
		return llm.DocumentFields{}, fmt.Errorf("metadata extraction: %w", err)
	}

	raw := []byte(content)
	if err := llm.ValidateJSONAgainstSchema(schema, raw); err != nil {
		e.log.Error("metadata.schema_validation_failed", "error", err, "content", content)
		return llm.DocumentFields{}, fmt.Errorf("metadata extraction: %w", err)
	}
	var out llm.DocumentFields
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.DocumentFields{}, fmt.Errorf("metadata extraction: unmarshal fields: %w", err)
	}

	e.log.Info("metadata.extracted",
		"doc_type", out.DocType,
		"tax_year", out.TaxYear,
		"confidence", out.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
