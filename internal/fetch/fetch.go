// Package fetch obtains documents for queued records by walking a
// configurable chain of sources: the DOI resolver, the open-access
// location from enrichment, a catalog search fallback, and mirrors.
// Each source is rate-limited under its own name; a failure or an
// invalid document falls through to the next source.
package fetch

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/tlawson/papyrus/internal/work"
)

// Result reports a successful download.
type Result struct {
	Path     string `json:"path"`     // relative to the document root
	Checksum string `json:"checksum"` // blake2b-256, hex
	Source   string `json:"source"`   // which source delivered it
	Size     int    `json:"size"`
}

// Orchestrator tries each source in order until one yields a document
// that passes validation.
type Orchestrator struct {
	sources  []Source
	validate ValidateFunc
	root     string // directory for stored documents
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithValidate overrides the validation chain (for testing against
// synthetic payloads).
func WithValidate(v ValidateFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.validate = v
	}
}

// NewOrchestrator creates an orchestrator storing documents under
// root, trying sources in the given order.
func NewOrchestrator(root string, sources []Source, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		sources:  sources,
		validate: DefaultValidate,
		root:     root,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Download walks the source chain for one record. On success the
// document is written under the root and the relative path, checksum,
// and delivering source are returned. When every source fails, the
// error wraps ErrExhaustedSources and carries the last failure.
func (o *Orchestrator) Download(ctx context.Context, w *work.Work) (*Result, error) {
	var lastErr error
	for _, src := range o.sources {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		data, err := src.Fetch(ctx, w)
		if err != nil {
			lastErr = err
			continue
		}
		if err := o.validate(data); err != nil {
			lastErr = &SourceError{Source: src.Name(), Reason: "validation failed", Err: err}
			continue
		}

		res, err := o.store(w, data)
		if err != nil {
			return nil, err
		}
		res.Source = src.Name()
		return res, nil
	}

	if lastErr == nil {
		lastErr = ErrNoLocation
	}
	return nil, fmt.Errorf("%w: %w", ErrExhaustedSources, lastErr)
}

// store writes the document to disk and computes its checksum. The
// write goes through a temp file so a crash never leaves a partial
// document at the final path.
func (o *Orchestrator) store(w *work.Work, data []byte) (*Result, error) {
	sum := blake2b.Sum256(data)
	rel := documentName(w)

	if err := os.MkdirAll(o.root, 0o755); err != nil {
		return nil, fmt.Errorf("creating document root: %w", err)
	}

	final := filepath.Join(o.root, rel)
	tmp, err := os.CreateTemp(o.root, ".download-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("closing document: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("placing document: %w", err)
	}

	return &Result{
		Path:     rel,
		Checksum: hex.EncodeToString(sum[:]),
		Size:     len(data),
	}, nil
}

// documentName derives a stable filename for a record's document.
func documentName(w *work.Work) string {
	base := w.DOINorm
	if base == "" {
		base = w.ID
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return replacer.Replace(base) + ".pdf"
}
