// Package pipeline drives records through the corpus stages: seed
// ingestion, enrichment, queueing, and download. Per-record failures
// are recorded in the store and summarized; they never abort a batch.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tlawson/papyrus/internal/corpus"
	"github.com/tlawson/papyrus/internal/dedupe"
	"github.com/tlawson/papyrus/internal/enrich"
	"github.com/tlawson/papyrus/internal/extract"
	"github.com/tlawson/papyrus/internal/fetch"
	"github.com/tlawson/papyrus/internal/work"
)

const (
	// DefaultMaxDepth bounds recursive reference expansion: a record
	// at this depth contributes no further candidates.
	DefaultMaxDepth = 2

	// DefaultMaxFanout caps the candidates taken from one record's
	// reference list.
	DefaultMaxFanout = 50
)

// Summary aggregates the outcome of one batch. Skipped counts records
// retired as duplicates of an existing record rather than advanced.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Catalog is the metadata lookup surface the pipeline needs; satisfied
// by *enrich.Client.
type Catalog interface {
	LookupDOI(ctx context.Context, doi string) (*enrich.Record, error)
	LookupTitle(ctx context.Context, title string, year int) (*enrich.Record, error)
	LookupCatalogID(ctx context.Context, id string) (*enrich.Record, error)
	Search(ctx context.Context, query string, limit int) ([]*enrich.Record, error)
}

// ReferenceParser turns bibliography text into candidates; satisfied
// by *extract.Parser.
type ReferenceParser interface {
	ParseReferences(ctx context.Context, text string, origin work.Origin) ([]*work.Candidate, error)
}

// Downloader obtains a document for a queued record; satisfied by
// *fetch.Orchestrator.
type Downloader interface {
	Download(ctx context.Context, w *work.Work) (*fetch.Result, error)
}

// Pipeline glues the store and the external collaborators together.
type Pipeline struct {
	store      *corpus.Store
	catalog    Catalog
	parser     ReferenceParser
	downloader Downloader
	log        *slog.Logger

	maxDepth  int
	maxFanout int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithExpansionBounds overrides the reference expansion depth and
// fan-out caps.
func WithExpansionBounds(maxDepth, maxFanout int) Option {
	return func(p *Pipeline) {
		p.maxDepth = maxDepth
		p.maxFanout = maxFanout
	}
}

// WithLogger sets the logger used for per-record progress.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// New creates a pipeline over the given store and collaborators.
func New(store *corpus.Store, catalog Catalog, parser ReferenceParser, downloader Downloader, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      store,
		catalog:    catalog,
		parser:     parser,
		downloader: downloader,
		log:        slog.Default(),
		maxDepth:   DefaultMaxDepth,
		maxFanout:  DefaultMaxFanout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestReport summarizes a seed or search ingestion.
type IngestReport struct {
	Candidates int      `json:"candidates"`
	Inserted   int      `json:"inserted"`
	Merged     int      `json:"merged"`
	Rejected   int      `json:"rejected"`
	SeedDOI    string   `json:"seed_doi,omitempty"`
	MergedIDs  []string `json:"merged_ids,omitempty"`
}

// IngestSeed extracts candidates from a seed PDF: the seed's own DOI
// when one is printed on it, plus every parseable reference.
func (p *Pipeline) IngestSeed(ctx context.Context, pdfPath string) (*IngestReport, error) {
	report := &IngestReport{}
	origin := work.Origin{Kind: work.OriginSeedExtraction, Ref: pdfPath}

	// The seed itself is a candidate when it carries a DOI.
	seedDOI, err := extract.ScanDOI(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("scanning seed: %w", err)
	}
	var candidates []*work.Candidate
	if seedDOI != "" {
		report.SeedDOI = seedDOI
		candidates = append(candidates, &work.Candidate{DOI: seedDOI, Origin: origin})
	}

	text, err := extract.Text(pdfPath, 0)
	if err != nil {
		return nil, fmt.Errorf("extracting seed text: %w", err)
	}
	refs, err := p.parser.ParseReferences(ctx, extract.ReferenceSection(text), origin)
	if err != nil {
		return nil, fmt.Errorf("parsing references: %w", err)
	}
	candidates = append(candidates, refs...)

	p.insertAll(ctx, candidates, report)
	return report, nil
}

// IngestSearch runs a keyword search against the catalog and feeds the
// hits into the pipeline as candidates.
func (p *Pipeline) IngestSearch(ctx context.Context, query string, limit int) (*IngestReport, error) {
	records, err := p.catalog.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching catalog: %w", err)
	}

	origin := work.Origin{Kind: work.OriginSearchHit, Ref: query}
	candidates := make([]*work.Candidate, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, rec.Candidate(origin))
	}

	report := &IngestReport{}
	p.insertAll(ctx, candidates, report)
	return report, nil
}

// insertAll pushes candidates through InsertRaw, tallying outcomes.
// Validation failures and ambiguous matches are counted, logged, and
// skipped.
func (p *Pipeline) insertAll(ctx context.Context, candidates []*work.Candidate, report *IngestReport) {
	report.Candidates += len(candidates)
	for _, cand := range candidates {
		res, err := p.store.InsertRaw(ctx, cand)
		if err != nil {
			report.Rejected++
			if errors.Is(err, dedupe.ErrAmbiguousMatch) {
				p.log.Warn("ambiguous match, skipping candidate",
					"title", cand.DisplayTitle(), "err", err)
			}
			continue
		}
		if res.Inserted {
			report.Inserted++
		} else {
			report.Merged++
			report.MergedIDs = append(report.MergedIDs, res.MergedInto)
		}
	}
}

// EnrichBatch looks up metadata for up to limit raw records and
// promotes them to enriched. Lookup failures move records to
// failed_enrichment; identifier collisions route through the merge
// path.
func (p *Pipeline) EnrichBatch(ctx context.Context, limit int) (*Summary, error) {
	batch, err := p.store.FetchBatch(ctx, work.StageRaw, limit, nil)
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	for _, w := range batch {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Processed++
		merged, err := p.enrichOne(ctx, w)
		switch {
		case err != nil:
			sum.Failed++
			p.log.Warn("enrichment failed", "id", w.ID, "title", w.Title, "err", err)
		case merged:
			sum.Skipped++
			p.log.Info("record merged as duplicate during enrichment", "id", w.ID)
		default:
			sum.Succeeded++
		}
	}
	return sum, nil
}

// enrichOne looks one record up and promotes it. It reports merged
// when the enriched identifiers collided with a record already held
// and the two were merged instead. Returning an error means the record
// was moved to failed_enrichment (or a store-level failure occurred).
func (p *Pipeline) enrichOne(ctx context.Context, w *work.Work) (merged bool, err error) {
	rec, err := p.lookup(ctx, w)
	if err != nil {
		if _, markErr := p.store.MarkFailed(ctx, w.ID, work.StageRaw, err.Error(), nil); markErr != nil {
			return false, markErr
		}
		return false, err
	}

	patch := patchFromRecord(rec)
	if _, err := p.store.Promote(ctx, w.ID, work.StageRaw, work.StageEnriched, patch); err != nil {
		if ue, ok := corpus.IsUniqueness(err); ok {
			// The identifiers point at a record we already hold.
			if _, mergeErr := p.store.MergeInto(ctx, w.ID, work.StageRaw, patch, ue.CollidingID); mergeErr != nil {
				return false, mergeErr
			}
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// lookup resolves a record against the catalog, by DOI when present,
// by title otherwise.
func (p *Pipeline) lookup(ctx context.Context, w *work.Work) (*enrich.Record, error) {
	if w.DOINorm != "" {
		return p.catalog.LookupDOI(ctx, w.DOINorm)
	}
	return p.catalog.LookupTitle(ctx, w.Title, w.Year)
}

// patchFromRecord turns an enrichment payload into a promotion patch.
// The full payload rides along as source metadata for the download
// stage (open-access location) and expansion (referenced ids).
func patchFromRecord(rec *enrich.Record) *corpus.Patch {
	patch := &corpus.Patch{
		Title:     rec.Title,
		Authors:   rec.Authors,
		Editors:   rec.Editors,
		Year:      rec.Year,
		DOI:       rec.DOI,
		CatalogID: rec.CatalogID,
		Venue:     rec.Venue,
		Abstract:  rec.Abstract,
	}
	if meta, err := json.Marshal(rec); err == nil {
		patch.SourceMeta = string(meta)
	}
	return patch
}

// QueueBatch marks up to limit enriched records for download.
func (p *Pipeline) QueueBatch(ctx context.Context, limit int) (*Summary, error) {
	batch, err := p.store.FetchBatch(ctx, work.StageEnriched, limit, nil)
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	for _, w := range batch {
		sum.Processed++
		if _, err := p.store.Promote(ctx, w.ID, work.StageEnriched, work.StageQueued, nil); err != nil {
			sum.Failed++
			p.log.Warn("queueing failed", "id", w.ID, "err", err)
			continue
		}
		sum.Succeeded++
	}
	return sum, nil
}

// DownloadBatch walks the source chain for up to limit queued records.
// Successes land in done with path and checksum; exhausted records
// move to failed_download with the last failure as the reason. Either
// way the attempt is counted.
func (p *Pipeline) DownloadBatch(ctx context.Context, limit int) (*Summary, error) {
	batch, err := p.store.FetchBatch(ctx, work.StageQueued, limit, nil)
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	for _, w := range batch {
		if ctx.Err() != nil {
			// The interrupted record keeps its queued state and its
			// attempt count; a canceled download never happened.
			return sum, ctx.Err()
		}
		sum.Processed++

		res, err := p.downloader.Download(ctx, w)
		if err != nil {
			if ctx.Err() != nil {
				sum.Processed--
				return sum, ctx.Err()
			}
			sum.Failed++
			if _, markErr := p.store.MarkFailed(ctx, w.ID, work.StageQueued,
				err.Error(), &corpus.Patch{IncAttempts: 1}); markErr != nil {
				return sum, markErr
			}
			p.log.Warn("download exhausted", "id", w.ID, "title", w.Title, "err", err)
			continue
		}

		if _, err := p.store.Promote(ctx, w.ID, work.StageQueued, work.StageDone, &corpus.Patch{
			PDFPath:     res.Path,
			Checksum:    res.Checksum,
			IncAttempts: 1,
		}); err != nil {
			return sum, err
		}
		sum.Succeeded++
		p.log.Info("document stored", "id", w.ID, "source", res.Source, "path", res.Path)
	}
	return sum, nil
}

// ExpandReferences turns the referenced-work ids recorded during a
// record's enrichment into new raw candidates, bounded by the depth
// counter and the fan-out cap. Expansion is explicit work generation,
// not recursion: each call handles one record's references.
func (p *Pipeline) ExpandReferences(ctx context.Context, w *work.Work) (*IngestReport, error) {
	report := &IngestReport{}
	if w.Origin.Depth >= p.maxDepth {
		return report, nil
	}

	ids := referencedIDs(w)
	if len(ids) > p.maxFanout {
		ids = ids[:p.maxFanout]
	}

	origin := work.Origin{
		Kind:  work.OriginSeedExtraction,
		Ref:   w.ID,
		Depth: w.Origin.Depth + 1,
	}

	var candidates []*work.Candidate
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		rec, err := p.catalog.LookupCatalogID(ctx, id)
		if err != nil {
			p.log.Warn("referenced work lookup failed", "catalog_id", id, "err", err)
			continue
		}
		candidates = append(candidates, rec.Candidate(origin))
	}

	p.insertAll(ctx, candidates, report)
	return report, nil
}

// referencedIDs reads the referenced-work ids out of the enrichment
// payload stored as source metadata.
func referencedIDs(w *work.Work) []string {
	if w.SourceMeta == "" {
		return nil
	}
	var meta struct {
		ReferencedIDs []string `json:"referenced_ids"`
	}
	if err := json.Unmarshal([]byte(w.SourceMeta), &meta); err != nil {
		return nil
	}
	return meta.ReferencedIDs
}
