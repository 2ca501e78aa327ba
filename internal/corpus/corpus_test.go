package corpus

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tlawson/papyrus/internal/work"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "corpus.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func coaseCandidate() *work.Candidate {
	return &work.Candidate{
		Title:   "The Nature of the Firm",
		Authors: []work.Author{{Given: "R.", Family: "Coase"}},
		DOI:     "10.1111/j.1468-0335.1937.tb00002.x",
		Origin:  work.Origin{Kind: work.OriginSeedExtraction, Ref: "seed.pdf"},
	}
}

// totalRecords sums every stage relation; with stage exclusivity it
// equals the number of live records.
func totalRecords(t *testing.T, s *Store) int {
	t.Helper()
	counts, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

func TestInsertRaw(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.InsertRaw(ctx, coaseCandidate())
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}
	if !res.Inserted || res.MergedInto != "" {
		t.Fatalf("expected a fresh insert, got %+v", res)
	}

	w, err := s.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.Stage != work.StageRaw {
		t.Errorf("stage = %s, want raw", w.Stage)
	}
	if w.DOINorm != "10.1111/j.1468-0335.1937.tb00002.x" {
		t.Errorf("doi_norm = %q", w.DOINorm)
	}
	if w.AddedAt.IsZero() {
		t.Error("added_at not set")
	}
}

func TestInsertRawRejectsInvalidCandidate(t *testing.T) {
	s := openTestStore(t)

	_, err := s.InsertRaw(context.Background(), &work.Candidate{})
	var ve *work.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if totalRecords(t, s) != 0 {
		t.Error("rejected candidate must not reach the store")
	}
}

func TestInsertRawPlaceholderTitle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.InsertRaw(ctx, &work.Candidate{
		DOI:    "10.5555/untitled",
		Origin: work.Origin{Kind: work.OriginSeedExtraction},
	})
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}
	w, err := s.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.Title != work.PlaceholderTitle {
		t.Errorf("title = %q, want placeholder", w.Title)
	}
}

func TestIdempotentReingestion(t *testing.T) {
	// Two raw candidates with differently-cased/prefixed forms of the
	// same DOI must end up as one record and one merge-log entry.
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.InsertRaw(ctx, coaseCandidate())
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	second := coaseCandidate()
	second.DOI = "https://doi.org/10.1111/J.1468-0335.1937.TB00002.X"
	res, err := s.InsertRaw(ctx, second)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if res.Inserted {
		t.Fatal("second insert of the same DOI must merge, not insert")
	}
	if res.MergedInto != first.ID {
		t.Errorf("merged_into = %s, want %s", res.MergedInto, first.ID)
	}

	if got := totalRecords(t, s); got != 1 {
		t.Errorf("live records = %d, want 1", got)
	}

	log, err := s.MergeLog(ctx, 10)
	if err != nil {
		t.Fatalf("MergeLog: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("merge log entries = %d, want 1", len(log))
	}
	if log[0].SurvivorID != first.ID {
		t.Errorf("log survivor = %s, want %s", log[0].SurvivorID, first.ID)
	}
	if log[0].Loser == nil || log[0].Loser.DOINorm != "10.1111/j.1468-0335.1937.tb00002.x" {
		t.Errorf("log loser snapshot should carry the normalized DOI: %+v", log[0].Loser)
	}
}

func TestUntitledWorksWithDistinctDOIsStayDistinct(t *testing.T) {
	// Two untitled references by the same author carry different DOIs:
	// they are different works, and the shared placeholder title must
	// not collapse them.
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.InsertRaw(ctx, &work.Candidate{
		Authors: []work.Author{{Given: "R.", Family: "Coase"}},
		DOI:     "10.1111/aaa.111",
		Origin:  work.Origin{Kind: work.OriginSeedExtraction},
	})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !first.Inserted {
		t.Fatalf("first insert: %+v", first)
	}

	res, err := s.InsertRaw(ctx, &work.Candidate{
		Authors: []work.Author{{Given: "R.", Family: "Coase"}},
		DOI:     "10.2222/bbb.222",
		Origin:  work.Origin{Kind: work.OriginSeedExtraction},
	})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if !res.Inserted {
		t.Fatalf("second untitled work merged into %s via rule %s", res.MergedInto, res.Rule)
	}
	if got := totalRecords(t, s); got != 2 {
		t.Errorf("live records = %d, want 2", got)
	}
}

func TestConcurrentInsertsOfOneDOI(t *testing.T) {
	// Concurrent inserts of prefix/case variants of one DOI must leave
	// exactly one live record; the rest become merge-log entries.
	s := openTestStore(t)
	ctx := context.Background()

	variants := []string{
		"10.1111/j.1468-0335.1937.tb00002.x",
		"10.1111/J.1468-0335.1937.TB00002.X",
		"doi:10.1111/j.1468-0335.1937.tb00002.x",
		"DOI:10.1111/J.1468-0335.1937.tb00002.x",
		"https://doi.org/10.1111/j.1468-0335.1937.tb00002.x",
		"https://doi.org/10.1111/J.1468-0335.1937.TB00002.X",
	}

	results := make([]*InsertResult, len(variants))
	errs := make([]error, len(variants))
	var wg sync.WaitGroup
	for i, doi := range variants {
		wg.Add(1)
		go func(i int, doi string) {
			defer wg.Done()
			cand := coaseCandidate()
			cand.DOI = doi
			results[i], errs[i] = s.InsertRaw(ctx, cand)
		}(i, doi)
	}
	wg.Wait()

	inserted := 0
	for i := range variants {
		if errs[i] != nil {
			t.Fatalf("insert %d: %v", i, errs[i])
		}
		if results[i].Inserted {
			inserted++
		}
	}
	if inserted != 1 {
		t.Errorf("fresh inserts = %d, want exactly 1", inserted)
	}
	if got := totalRecords(t, s); got != 1 {
		t.Errorf("live records = %d, want 1", got)
	}

	log, err := s.MergeLog(ctx, len(variants))
	if err != nil {
		t.Fatalf("MergeLog: %v", err)
	}
	if len(log) != len(variants)-1 {
		t.Errorf("merge log entries = %d, want %d", len(log), len(variants)-1)
	}
}

func TestMergeBackfillsNullsOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sparse := coaseCandidate()
	sparse.Authors = nil
	first, err := s.InsertRaw(ctx, sparse)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	richer := coaseCandidate()
	richer.Year = 1937
	res, err := s.InsertRaw(ctx, richer)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if res.Inserted {
		t.Fatal("expected merge")
	}

	survivor, err := s.Get(ctx, res.MergedInto)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = first
	if len(survivor.Authors) == 0 {
		t.Error("null authors should be backfilled from the richer candidate")
	}
	if survivor.Year != 1937 {
		t.Error("null year should be backfilled")
	}
	if survivor.Title != "The Nature of the Firm" {
		t.Errorf("populated title must not change: %q", survivor.Title)
	}
}

func TestPromote(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.InsertRaw(ctx, coaseCandidate())
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}

	w, err := s.Promote(ctx, res.ID, work.StageRaw, work.StageEnriched, &Patch{
		CatalogID: "W2015930340",
		Year:      1937,
		Abstract:  "This paper asks why firms exist.",
	})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if w.Stage != work.StageEnriched {
		t.Errorf("stage = %s, want enriched", w.Stage)
	}
	if w.CatalogID != "W2015930340" || w.Year != 1937 {
		t.Errorf("patch not applied: %+v", w)
	}
	if w.ProcessedAt.IsZero() {
		t.Error("processed_at not set by the transition")
	}

	// The record must be in exactly one stage relation.
	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[work.StageRaw] != 0 || counts[work.StageEnriched] != 1 {
		t.Errorf("stage exclusivity violated: %v", counts)
	}
}

func TestPromoteStageMismatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.InsertRaw(ctx, coaseCandidate())
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}
	if _, err := s.Promote(ctx, res.ID, work.StageRaw, work.StageEnriched, nil); err != nil {
		t.Fatalf("first promote: %v", err)
	}

	// A second caller still believing the record is raw must get a
	// conflict, and the store must be left untouched.
	_, err = s.Promote(ctx, res.ID, work.StageRaw, work.StageEnriched, nil)
	if !errors.Is(err, ErrStageMismatch) {
		t.Fatalf("expected ErrStageMismatch, got %v", err)
	}
	var sme *StageMismatchError
	if !errors.As(err, &sme) || sme.Actual != work.StageEnriched {
		t.Errorf("mismatch error should report the actual stage: %v", err)
	}
	if got := totalRecords(t, s); got != 1 {
		t.Errorf("live records = %d, want 1", got)
	}
}

func TestPromoteInvalidTransition(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Promote(context.Background(), "whatever", work.StageRaw, work.StageDone, nil)
	if !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestPromoteUniquenessViolationRoutesToMerge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// An enriched record already holds the catalog id.
	held, err := s.InsertRaw(ctx, coaseCandidate())
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}
	if _, err := s.Promote(ctx, held.ID, work.StageRaw, work.StageEnriched, &Patch{
		CatalogID: "W2015930340",
	}); err != nil {
		t.Fatalf("promote holder: %v", err)
	}

	// A second record (no DOI, so it inserts fresh) is enriched with
	// the same catalog id.
	other, err := s.InsertRaw(ctx, &work.Candidate{
		Title:   "The Nature of the Firm (reprint)",
		Authors: []work.Author{{Family: "Coase"}},
		Origin:  work.Origin{Kind: work.OriginSearchHit, Ref: "q"},
	})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}

	patch := &Patch{CatalogID: "W2015930340"}
	_, err = s.Promote(ctx, other.ID, work.StageRaw, work.StageEnriched, patch)
	ue, ok := IsUniqueness(err)
	if !ok {
		t.Fatalf("expected UniquenessError, got %v", err)
	}
	if ue.CollidingID != held.ID {
		t.Errorf("colliding id = %s, want %s", ue.CollidingID, held.ID)
	}

	// Re-route through the merge path, as the contract requires.
	survivor, err := s.MergeInto(ctx, other.ID, work.StageRaw, patch, ue.CollidingID)
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if survivor.ID != held.ID {
		t.Errorf("survivor = %s, want the further-along record %s", survivor.ID, held.ID)
	}
	if got := totalRecords(t, s); got != 1 {
		t.Errorf("live records = %d, want 1", got)
	}
}

func TestFetchBatchOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"First Paper", "Second Paper", "Third Paper"} {
		res, err := s.InsertRaw(ctx, &work.Candidate{
			Title:  title,
			Origin: work.Origin{Kind: work.OriginSeedExtraction},
		})
		if err != nil {
			t.Fatalf("InsertRaw(%s): %v", title, err)
		}
		ids = append(ids, res.ID)
		time.Sleep(2 * time.Millisecond) // distinct added_at
	}

	batch, err := s.FetchBatch(ctx, work.StageRaw, 2, nil)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	if batch[0].ID != ids[0] || batch[1].ID != ids[1] {
		t.Error("batch should be oldest-first in creation order")
	}

	// Fetching does not mutate stages.
	counts, _ := s.Counts(ctx)
	if counts[work.StageRaw] != 3 {
		t.Errorf("raw count = %d after fetch, want 3", counts[work.StageRaw])
	}
}

func TestMarkFailedAndResubmit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.InsertRaw(ctx, coaseCandidate())
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}

	failed, err := s.MarkFailed(ctx, res.ID, work.StageRaw, "metadata service unreachable", nil)
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if failed.Stage != work.StageFailedEnrichment {
		t.Errorf("stage = %s, want failed_enrichment", failed.Stage)
	}
	if failed.FailReason != "metadata service unreachable" {
		t.Errorf("reason = %q", failed.FailReason)
	}
	if failed.Title != "The Nature of the Firm" {
		t.Error("failure must preserve original fields")
	}

	back, err := s.Resubmit(ctx, res.ID)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if back.Stage != work.StageRaw {
		t.Errorf("resubmitted stage = %s, want raw", back.Stage)
	}
	if back.FailReason != "" {
		t.Error("resubmission should clear the failure reason")
	}
}

func TestResubmitFailedDownload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.InsertRaw(ctx, coaseCandidate())
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}
	if _, err := s.Promote(ctx, res.ID, work.StageRaw, work.StageEnriched, nil); err != nil {
		t.Fatalf("promote to enriched: %v", err)
	}
	if _, err := s.Promote(ctx, res.ID, work.StageEnriched, work.StageQueued, nil); err != nil {
		t.Fatalf("promote to queued: %v", err)
	}
	if _, err := s.MarkFailed(ctx, res.ID, work.StageQueued, "all sources exhausted", &Patch{IncAttempts: 1}); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	back, err := s.Resubmit(ctx, res.ID)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if back.Stage != work.StageQueued {
		t.Errorf("resubmitted stage = %s, want queued", back.Stage)
	}
}

func TestAliasLinkedMergeOnInsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// An enriched record with no authors and year 1938.
	res, err := s.InsertRaw(ctx, &work.Candidate{
		Title:  "Die Natur der Firma",
		Year:   1938,
		Origin: work.Origin{Kind: work.OriginSearchHit},
	})
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}
	if _, err := s.Promote(ctx, res.ID, work.StageRaw, work.StageEnriched, nil); err != nil {
		t.Fatalf("promote: %v", err)
	}

	if _, err := s.AddAlias(ctx, "The Nature of the Firm", "Die Natur der Firma", nil, 1937, "translated title"); err != nil {
		t.Fatalf("AddAlias: %v", err)
	}

	// A candidate under the translated title, one year off: the alias
	// link widens the tolerance and the pair merges.
	merged, err := s.InsertRaw(ctx, &work.Candidate{
		Title:  "The Nature of the Firm",
		Year:   1937,
		Origin: work.Origin{Kind: work.OriginSeedExtraction},
	})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if merged.Inserted {
		t.Fatal("alias-linked candidate should merge")
	}
	if merged.MergedInto != res.ID {
		t.Errorf("merged_into = %s, want %s", merged.MergedInto, res.ID)
	}
}

func TestCoaseScenario(t *testing.T) {
	// The full lifecycle from the acceptance scenario: raw insert,
	// enrichment, queueing, successful download, final state done with
	// checksum set and attempts = 1.
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.InsertRaw(ctx, coaseCandidate())
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}

	if _, err := s.Promote(ctx, res.ID, work.StageRaw, work.StageEnriched, &Patch{
		CatalogID: "W2015930340",
		Year:      1937,
	}); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if _, err := s.Promote(ctx, res.ID, work.StageEnriched, work.StageQueued, nil); err != nil {
		t.Fatalf("queue: %v", err)
	}
	w, err := s.Promote(ctx, res.ID, work.StageQueued, work.StageDone, &Patch{
		PDFPath:     "pdfs/coase1937.pdf",
		Checksum:    "1f3870be274f6c49b3e31a0c6728957f",
		IncAttempts: 1,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if w.Stage != work.StageDone {
		t.Errorf("stage = %s, want done", w.Stage)
	}
	if w.Checksum == "" || w.PDFPath == "" {
		t.Error("done record must carry path and checksum")
	}
	if w.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", w.Attempts)
	}
	if w.CatalogID != "W2015930340" || w.Year != 1937 {
		t.Error("enrichment fields lost along the pipeline")
	}
	if got := totalRecords(t, s); got != 1 {
		t.Errorf("live records = %d, want 1", got)
	}
}

func TestListPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.InsertRaw(ctx, &work.Candidate{
			Title:  "Paper " + string(rune('A'+i)),
			Origin: work.Origin{Kind: work.OriginSeedExtraction},
		})
		if err != nil {
			t.Fatalf("InsertRaw: %v", err)
		}
	}

	page, total, err := s.List(ctx, work.StageRaw, 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Errorf("page size = %d, want 2", len(page))
	}
}
