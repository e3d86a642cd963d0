package llm

// DocumentFields is the normalized shape we want from the metadata extraction
// call. Optional fields are omitted by a conservative model rather than
// guessed.
type DocumentFields struct {
	DocType      string  `json:"doc_type"`
	TaxYear      *int    `json:"tax_year,omitempty"`
	PayerName    string  `json:"payer_name,omitempty"`
	TaxpayerName string  `json:"taxpayer_name,omitempty"`
	TaxpayerID   string  `json:"taxpayer_id,omitempty"`
	PayerID      string  `json:"payer_id,omitempty"`
	Confidence   float32 `json:"confidence,omitempty"` // 0..1
	Notes        string  `json:"notes,omitempty"`
}

// Consolidation is the shape of the OCR refinement call.
type Consolidation struct {
	ExtractedText string  `json:"extracted_text"`
	Confidence    float32 `json:"confidence,omitempty"` // 0..1
	Notes         string  `json:"notes,omitempty"`
}

// BuildDocumentJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. We pass it to the model as a structured output constraint and
// also use it locally to validate the response.
func BuildDocumentJSONSchema(docTypes []string) map[string]any {
	props := map[string]any{
		"doc_type": map[string]any{
			"type": "string",
			"enum": docTypes,
		},
		"tax_year": map[string]any{
			"type":    "integer",
			"minimum": 2000,
			"maximum": 2035,
		},
		"payer_name":    map[string]any{"type": "string"},
		"taxpayer_name": map[string]any{"type": "string"},
		"taxpayer_id":   map[string]any{"type": "string"},
		"payer_id":      map[string]any{"type": "string"},
		"confidence":    map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		"notes":         map[string]any{"type": "string"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"doc_type"},
	}
}

// BuildConsolidationJSONSchema constrains the OCR consolidation pass.
func BuildConsolidationJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"extracted_text": map[string]any{"type": "string"},
			"confidence":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"notes":          map[string]any{"type": "string"},
		},
		"required": []string{"extracted_text"},
	}
}
