// Package model contains the document entity shared across packages.
package model

import (
	"time"
)

// DocumentStatus describes the processing lifecycle. Transitions are
// monotonic: pending -> processing -> completed or failed. Completed and
// failed are terminal; a failed document is retried by re-ingesting it
// under a new id.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// DocType enumerates the tax-form categories the metadata extractor may
// assign. Documents start as unknown and stay unknown unless extraction
// completes with a confident classification.
type DocType string

const (
	DocTypeW2                 DocType = "w2"
	DocType1099INT            DocType = "1099_int"
	DocType1099DIV            DocType = "1099_div"
	DocType1099NEC            DocType = "1099_nec"
	DocType1099MISC           DocType = "1099_misc"
	DocType1099B              DocType = "1099_b"
	DocType1098               DocType = "1098"
	DocTypeBrokerageStatement DocType = "brokerage_statement"
	DocTypeUnknown            DocType = "unknown"
)

// DocTypes lists every valid category, unknown last.
var DocTypes = []DocType{
	DocTypeW2,
	DocType1099INT,
	DocType1099DIV,
	DocType1099NEC,
	DocType1099MISC,
	DocType1099B,
	DocType1098,
	DocTypeBrokerageStatement,
	DocTypeUnknown,
}

// ValidDocType reports whether s is a known category.
func ValidDocType(s string) bool {
	for _, t := range DocTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}

// MaxErrorMessageLen bounds error_message so a failed document never grows
// storage without limit.
const MaxErrorMessageLen = 500

// Document represents a row in the documents table. TaxYear, PayerName and
// TaxpayerName are pointers because they stay unset (NULL) unless the
// document reached completed; ErrorMessage is unset unless it reached failed.
type Document struct {
	ID               string         `json:"id"`
	OriginalFilename string         `json:"original_filename"`
	ObjectKey        string         `json:"-"`
	Status           DocumentStatus `json:"status"`
	DocType          DocType        `json:"doc_type"`
	TaxYear          *int           `json:"tax_year"`
	PayerName        *string        `json:"payer_name"`
	TaxpayerName     *string        `json:"taxpayer_name"`
	NumPages         int            `json:"num_pages"`
	FullText         string         `json:"-"`
	ErrorMessage     *string        `json:"error_message"`
	IngestedAt       time.Time      `json:"ingested_at"`
}

// TruncateError bounds a failure description to MaxErrorMessageLen runes.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorMessageLen {
		return msg
	}
	return string(r[:MaxErrorMessageLen])
}
