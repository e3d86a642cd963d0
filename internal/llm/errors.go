package llm

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey signals that a required credential was absent at
// construction time. It is never stored as a document failure; constructors
// surface it to the caller immediately.
var ErrMissingAPIKey = errors.New("llm: API key not configured")

// RefusalError is returned when the model declined to answer. The reason is
// preserved so the pipeline can record it in the document diagnostic.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("llm: model refused: %s", e.Reason)
}

// IncompleteError is returned when the model response was cut short before a
// usable answer was produced.
type IncompleteError struct {
	Reason string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("llm: incomplete response: %s", e.Reason)
}
