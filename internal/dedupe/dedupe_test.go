package dedupe

import (
	"errors"
	"testing"

	"github.com/tlawson/papyrus/internal/work"
)

func existingWork(id string, stage work.Stage, mutate func(*work.Work)) *work.Work {
	w := &work.Work{
		ID:      id,
		Title:   "The Nature of the Firm",
		Authors: []work.Author{{Given: "R.", Family: "Coase"}},
		Year:    1937,
		DOINorm: "10.1111/j.1468-0335.1937.tb00002.x",
		Stage:   stage,
	}
	if mutate != nil {
		mutate(w)
	}
	return w
}

func TestResolveDOIWins(t *testing.T) {
	existing := []*work.Work{
		existingWork("a", work.StageEnriched, nil),
	}
	p := Probe{
		DOINorm:   "10.1111/j.1468-0335.1937.tb00002.x",
		TitleNorm: "a completely different title",
	}

	m, err := Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m == nil || m.Rule != RuleDOI {
		t.Fatalf("expected DOI rule match, got %+v", m)
	}
	if m.Target.ID != "a" {
		t.Errorf("target = %s, want a", m.Target.ID)
	}
}

func TestResolveCatalogID(t *testing.T) {
	existing := []*work.Work{
		existingWork("a", work.StageEnriched, func(w *work.Work) {
			w.DOINorm = ""
			w.CatalogID = "W2015930340"
		}),
	}
	p := Probe{CatalogID: "W2015930340"}

	m, err := Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m == nil || m.Rule != RuleCatalogID {
		t.Fatalf("expected catalog rule match, got %+v", m)
	}
}

func TestResolveRuleOrder(t *testing.T) {
	// Both the DOI rule and the title rule would match; the DOI rule
	// must win because rules are evaluated in order.
	existing := []*work.Work{
		existingWork("a", work.StageEnriched, nil),
	}
	p := Probe{
		DOINorm:      "10.1111/j.1468-0335.1937.tb00002.x",
		TitleNorm:    "the nature of the firm",
		AuthorSetKey: "coase",
		Authors:      []work.Author{{Family: "Coase"}},
	}

	m, err := Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Rule != RuleDOI {
		t.Errorf("rule = %s, want doi", m.Rule)
	}
}

func TestResolveTitleAuthorsRequiresMissingYear(t *testing.T) {
	existing := []*work.Work{
		existingWork("a", work.StageRaw, func(w *work.Work) {
			w.DOINorm = ""
		}),
	}
	p := Probe{
		TitleNorm:    "the nature of the firm",
		AuthorSetKey: "coase",
		Authors:      []work.Author{{Family: "Coase"}},
		Year:         1937,
	}

	// Both sides have a year: rule 3 must not apply (rule 5 then
	// matches on identical authors instead).
	m, err := Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m == nil {
		t.Fatal("expected fuzzy fallback match")
	}
	if m.Rule == RuleTitleAuthors {
		t.Errorf("rule 3 applied although both sides have a year")
	}

	// Candidate year missing: rule 3 applies.
	p.Year = 0
	m, err = Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m == nil || m.Rule != RuleTitleAuthors {
		t.Fatalf("expected title_authors match, got %+v", m)
	}
}

func TestResolveTitleYearWithAliasTolerance(t *testing.T) {
	existing := []*work.Work{
		existingWork("a", work.StageEnriched, func(w *work.Work) {
			w.DOINorm = ""
			w.Authors = nil
			w.Title = "Die Natur der Firma"
			w.Year = 1938
		}),
	}
	aliases := []Alias{{
		TitleNorm:     "the nature of the firm",
		CanonicalNorm: "die natur der firma",
	}}
	p := Probe{
		TitleNorm: "the nature of the firm",
		Year:      1937,
	}

	// Without the alias the titles differ and nothing matches.
	m, err := Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m != nil {
		t.Fatalf("expected no match without alias, got %+v", m)
	}

	// The alias links the titles and widens the year tolerance to ±1.
	m, err = Resolve(p, existing, aliases)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m == nil || m.Rule != RuleTitleYear {
		t.Fatalf("expected title_year match via alias, got %+v", m)
	}
}

func TestResolveTitleYearExactWithoutAlias(t *testing.T) {
	existing := []*work.Work{
		existingWork("a", work.StageEnriched, func(w *work.Work) {
			w.DOINorm = ""
			w.Authors = nil
		}),
	}
	p := Probe{TitleNorm: "the nature of the firm", Year: 1938}

	// ±1 tolerance only applies through an alias link.
	m, err := Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m != nil {
		t.Fatalf("year off by one without alias should not match, got %+v", m)
	}

	p.Year = 1937
	m, err = Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m == nil || m.Rule != RuleTitleYear {
		t.Fatalf("expected exact title_year match, got %+v", m)
	}
}

func TestResolveFuzzy(t *testing.T) {
	existing := []*work.Work{
		existingWork("a", work.StageEnriched, func(w *work.Work) {
			w.DOINorm = ""
			w.Authors = []work.Author{{Family: "Morgenstern"}}
		}),
	}
	p := Probe{
		TitleNorm: "the nature of the firm",
		Authors:   []work.Author{{Family: "Morgenstarn"}}, // OCR-style slip
		Year:      1937,
	}

	m, err := Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m == nil || m.Rule != RuleFuzzy {
		t.Fatalf("expected fuzzy match, got %+v", m)
	}
	if m.Score <= FuzzyThreshold {
		t.Errorf("score %f should exceed threshold", m.Score)
	}
}

func TestResolveAmbiguous(t *testing.T) {
	existing := []*work.Work{
		existingWork("a", work.StageEnriched, func(w *work.Work) {
			w.DOINorm = ""
			w.Authors = []work.Author{{Family: "Morgenstern"}}
		}),
		existingWork("b", work.StageEnriched, func(w *work.Work) {
			w.DOINorm = ""
			w.Authors = []work.Author{{Family: "Morgenstarn"}}
		}),
	}
	// Scores 1.0 against one target and ~0.91 against the other, both
	// above threshold.
	p := Probe{
		TitleNorm: "the nature of the firm",
		Authors:   []work.Author{{Family: "Morgenstern"}},
		Year:      1937,
	}

	_, err := Resolve(p, existing, nil)
	if !errors.Is(err, ErrAmbiguousMatch) {
		t.Fatalf("expected ErrAmbiguousMatch, got %v", err)
	}
	var ambErr *AmbiguousMatchError
	if !errors.As(err, &ambErr) || len(ambErr.TargetIDs) != 2 {
		t.Errorf("expected two competing targets, got %v", err)
	}
}

func TestResolveUntitledWorksStayDistinct(t *testing.T) {
	// Two untitled references by the same author are separate works;
	// the shared placeholder title must not act as an identity key.
	existing := []*work.Work{
		existingWork("a", work.StageRaw, func(w *work.Work) {
			w.Title = work.PlaceholderTitle
			w.Year = 0
			w.DOINorm = "10.1111/aaa.111"
		}),
	}
	p := ProbeFromCandidate(&work.Candidate{
		Authors: []work.Author{{Family: "Coase"}},
		DOI:     "10.2222/bbb.222",
	})
	if p.TitleNorm != "" {
		t.Fatalf("untitled probe carries title key %q", p.TitleNorm)
	}

	m, err := Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m != nil {
		t.Fatalf("untitled works merged via %s", m.Rule)
	}
}

func TestResolveDistinctDOIsBlockTitleRules(t *testing.T) {
	// Same title and authors but each side carries its own DOI, the
	// reprint case. No title rule may bridge two distinct DOIs.
	existing := []*work.Work{
		existingWork("a", work.StageEnriched, func(w *work.Work) {
			w.Year = 0
		}),
	}
	p := Probe{
		DOINorm:      "10.9999/reprint.1",
		TitleNorm:    "the nature of the firm",
		AuthorSetKey: "coase",
		Authors:      []work.Author{{Family: "Coase"}},
	}

	m, err := Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m != nil {
		t.Fatalf("distinct DOIs matched via %s", m.Rule)
	}
}

func TestResolveNoMatch(t *testing.T) {
	existing := []*work.Work{
		existingWork("a", work.StageEnriched, nil),
	}
	p := Probe{
		DOINorm:   "10.9999/other",
		TitleNorm: "an unrelated paper",
		Year:      2001,
	}

	m, err := Resolve(p, existing, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m != nil {
		t.Fatalf("expected no match, got %+v", m)
	}
}

func TestPlanMergeStageRankWins(t *testing.T) {
	// A richer raw incoming record must lose to a sparser done record.
	existing := existingWork("survivor", work.StageDone, func(w *work.Work) {
		w.Abstract = ""
		w.Venue = ""
	})
	incoming := existingWork("loser", work.StageRaw, func(w *work.Work) {
		w.Abstract = "A rich abstract."
		w.Venue = "Economica"
		w.CatalogID = "W2015930340"
	})

	plan := PlanMerge(existing, incoming, &Match{Rule: RuleDOI, Score: 1, MatchedOn: []string{"doi_norm"}})
	if plan.Survivor.ID != "survivor" {
		t.Fatalf("survivor = %s, want the done-stage record", plan.Survivor.ID)
	}
	if plan.Survivor.Abstract != "A rich abstract." {
		t.Error("null abstract should be backfilled from loser")
	}
	if plan.Survivor.CatalogID != "W2015930340" {
		t.Error("null catalog id should be backfilled from loser")
	}
}

func TestPlanMergeNeverOverwrites(t *testing.T) {
	existing := existingWork("survivor", work.StageDone, func(w *work.Work) {
		w.Abstract = "Original abstract."
		w.PDFPath = "pdfs/coase1937.pdf"
		w.Checksum = "abc"
	})
	incoming := existingWork("loser", work.StageRaw, func(w *work.Work) {
		w.Abstract = "Different abstract."
		w.PDFPath = "pdfs/other.pdf"
	})

	plan := PlanMerge(existing, incoming, &Match{Rule: RuleDOI, Score: 1})
	if plan.Survivor.Abstract != "Original abstract." {
		t.Error("populated abstract was overwritten")
	}
	if plan.Survivor.PDFPath != "pdfs/coase1937.pdf" || plan.Survivor.Checksum != "abc" {
		t.Error("populated download fields were overwritten")
	}
	for _, f := range plan.Backfill {
		if f == "abstract" || f == "pdf_path" {
			t.Errorf("field %s reported as backfilled but was populated", f)
		}
	}
}

func TestPlanMergeEqualRankPrefersCompleteness(t *testing.T) {
	existing := existingWork("sparse", work.StageRaw, func(w *work.Work) {
		w.Year = 0
		w.DOINorm = ""
	})
	incoming := existingWork("rich", work.StageRaw, func(w *work.Work) {
		w.Abstract = "abstract"
		w.Venue = "Economica"
	})

	plan := PlanMerge(existing, incoming, &Match{Rule: RuleTitleAuthors, Score: 1})
	if plan.Survivor.ID != "rich" {
		t.Errorf("equal stage rank: survivor = %s, want the more complete record", plan.Survivor.ID)
	}
}
