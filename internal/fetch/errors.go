package fetch

import (
	"errors"
	"fmt"
)

// Common errors returned by the download orchestrator.
var (
	// ErrExhaustedSources indicates every source in the chain failed
	// or produced an invalid document for a record.
	ErrExhaustedSources = errors.New("all download sources exhausted")

	// ErrInvalidPDF indicates a downloaded document failed validation.
	ErrInvalidPDF = errors.New("invalid PDF document")

	// ErrNoLocation indicates a source has nothing to try for the
	// record, e.g. the direct DOI source on a record without a DOI.
	ErrNoLocation = errors.New("no download location for record")
)

// SourceError wraps a failure from one source in the chain, naming
// which source failed and why. The orchestrator collects these and
// moves on to the next source.
type SourceError struct {
	Source string
	Reason string
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("source %s: %s", e.Source, e.Reason)
}

func (e *SourceError) Unwrap() error { return e.Err }
