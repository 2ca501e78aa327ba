// Package work defines the core domain types for the staged corpus pipeline.
package work

import (
	"fmt"
	"strings"
	"time"
)

// PlaceholderTitle is substituted when a source omits the title.
// Titles are never stored empty; an empty title would both break the
// non-null contract and collide as a bogus duplicate key.
const PlaceholderTitle = "[untitled work]"

// Work represents one bibliographic work at a point in its lifecycle.
type Work struct {
	// Identity
	ID        string `json:"id"`                   // Surrogate identifier (uuid)
	DOI       string `json:"doi,omitempty"`        // Raw DOI as received
	DOINorm   string `json:"doi_norm,omitempty"`   // Normalized DOI (dedup key)
	CatalogID string `json:"catalog_id,omitempty"` // External catalog id (e.g. OpenAlex)

	// Metadata
	Title    string   `json:"title"`
	Authors  []Author `json:"authors,omitempty"` // Ordered
	Editors  []Author `json:"editors,omitempty"` // Ordered, usually absent
	Year     int      `json:"year,omitempty"`    // 0 if unknown
	Venue    string   `json:"venue,omitempty"`
	Abstract string   `json:"abstract,omitempty"`

	// Opaque original-source payload, preserved for audit/export.
	SourceMeta string `json:"source_meta,omitempty"`

	// Download state
	PDFPath  string `json:"pdf_path,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Attempts int    `json:"attempts,omitempty"`

	// Provenance
	Origin Origin `json:"origin"`

	// Lifecycle
	Stage       Stage     `json:"stage"`
	FailReason  string    `json:"fail_reason,omitempty"`
	AddedAt     time.Time `json:"added_at"`
	ProcessedAt time.Time `json:"processed_at,omitempty"`
}

// Author represents one author or editor of a work.
type Author struct {
	Given  string `json:"given,omitempty"` // Given name(s)
	Family string `json:"family"`          // Family name
}

// String formats an author as "Given Family".
func (a Author) String() string {
	if a.Given == "" {
		return a.Family
	}
	return a.Given + " " + a.Family
}

// OriginKind tags how a work entered the pipeline.
type OriginKind string

const (
	OriginSeedExtraction OriginKind = "seed-extraction"
	OriginSearchHit      OriginKind = "search-hit"
	OriginAliasBackfill  OriginKind = "alias-backfill"
)

// Origin records where a work came from: the seed document or search
// run that produced it, plus the expansion depth for reference
// expansion bounding.
type Origin struct {
	Kind  OriginKind `json:"kind"`
	Ref   string     `json:"ref,omitempty"`   // Seed document path or search query
	Depth int        `json:"depth,omitempty"` // Reference-expansion depth, 0 for direct entries
}

// Candidate is an untrusted raw reference entering the pipeline. It is
// validated and normalized before it may touch the store.
type Candidate struct {
	Title   string   `json:"title"`
	Authors []Author `json:"authors,omitempty"`
	Editors []Author `json:"editors,omitempty"`
	DOI     string   `json:"doi,omitempty"`
	Year    int      `json:"year,omitempty"`
	Excerpt string   `json:"excerpt,omitempty"` // Source excerpt the candidate was parsed from
	Origin  Origin   `json:"origin"`
}

// ValidationError reports a malformed candidate, rejected before it
// reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid candidate: %s %s", e.Field, e.Reason)
}

// Validate checks a candidate for minimal shape. A candidate must carry
// at least one identifying signal (title, DOI, or authors).
func (c *Candidate) Validate() error {
	if strings.TrimSpace(c.Title) == "" && strings.TrimSpace(c.DOI) == "" && len(c.Authors) == 0 {
		return &ValidationError{Field: "candidate", Reason: "has no title, DOI, or authors"}
	}
	if c.Year < 0 || (c.Year > 0 && c.Year < 1000) {
		return &ValidationError{Field: "year", Reason: fmt.Sprintf("implausible value %d", c.Year)}
	}
	for i, a := range c.Authors {
		if strings.TrimSpace(a.Family) == "" && strings.TrimSpace(a.Given) == "" {
			return &ValidationError{Field: "authors", Reason: fmt.Sprintf("entry %d is empty", i)}
		}
	}
	return nil
}

// DisplayTitle returns the candidate title or the placeholder when the
// source omitted it.
func (c *Candidate) DisplayTitle() string {
	t := strings.TrimSpace(c.Title)
	if t == "" {
		return PlaceholderTitle
	}
	return t
}

// FieldCompleteness counts the populated metadata fields of a work.
// Used as a fuzzy-match tiebreaker; never overrides stage rank.
func (w *Work) FieldCompleteness() int {
	n := 0
	if w.Title != "" && w.Title != PlaceholderTitle {
		n++
	}
	if len(w.Authors) > 0 {
		n++
	}
	if len(w.Editors) > 0 {
		n++
	}
	if w.Year != 0 {
		n++
	}
	if w.DOINorm != "" {
		n++
	}
	if w.CatalogID != "" {
		n++
	}
	if w.Venue != "" {
		n++
	}
	if w.Abstract != "" {
		n++
	}
	if w.PDFPath != "" {
		n++
	}
	return n
}
