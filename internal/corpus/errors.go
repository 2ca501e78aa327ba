package corpus

import (
	"errors"
	"fmt"

	"github.com/tlawson/papyrus/internal/work"
)

// Common errors returned by the corpus store.
var (
	// ErrNotFound indicates no record with the given id exists in any stage.
	ErrNotFound = errors.New("record not found")

	// ErrStageMismatch indicates an optimistic-concurrency conflict: the
	// record is not in the stage the caller saw. Re-fetch and retry.
	ErrStageMismatch = errors.New("stage mismatch")

	// ErrUniqueness indicates a transition would create a duplicate
	// DOI or catalog id among enriched-and-later records. The caller
	// must re-route through the deduplication engine, not fail.
	ErrUniqueness = errors.New("uniqueness violation")

	// ErrBadTransition indicates the requested stage move is not part
	// of the lifecycle state machine at all.
	ErrBadTransition = errors.New("invalid stage transition")
)

// StageMismatchError reports where a record actually was.
type StageMismatchError struct {
	ID       string
	Expected work.Stage
	Actual   work.Stage // empty when the record is gone entirely
}

func (e *StageMismatchError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("record %s not in stage %s", e.ID, e.Expected)
	}
	return fmt.Sprintf("record %s in stage %s, expected %s", e.ID, e.Actual, e.Expected)
}

func (e *StageMismatchError) Unwrap() error { return ErrStageMismatch }

// UniquenessError identifies the colliding record so the caller can
// route the pair through a merge.
type UniquenessError struct {
	Field       string // "doi_norm" or "catalog_id"
	Value       string
	CollidingID string
	Stage       work.Stage // stage of the colliding record
}

func (e *UniquenessError) Error() string {
	return fmt.Sprintf("uniqueness violation: %s %q already held by %s (%s)",
		e.Field, e.Value, e.CollidingID, e.Stage)
}

func (e *UniquenessError) Unwrap() error { return ErrUniqueness }

// IsUniqueness reports whether err is a uniqueness violation and, if
// so, returns its details.
func IsUniqueness(err error) (*UniquenessError, bool) {
	var ue *UniquenessError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
