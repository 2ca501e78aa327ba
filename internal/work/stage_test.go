package work

import "testing"

func TestStageCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageRaw, StageEnriched, true},
		{StageRaw, StageFailedEnrichment, true},
		{StageRaw, StageQueued, false},
		{StageRaw, StageDone, false},
		{StageEnriched, StageQueued, true},
		{StageEnriched, StageFailedEnrichment, true},
		{StageEnriched, StageRaw, false},
		{StageQueued, StageDone, true},
		{StageQueued, StageFailedDownload, true},
		{StageQueued, StageEnriched, false},
		{StageFailedEnrichment, StageRaw, true},
		{StageFailedEnrichment, StageQueued, false},
		{StageFailedDownload, StageQueued, true},
		{StageFailedDownload, StageRaw, false},
		{StageDone, StageQueued, false},
		{StageDone, StageDuplicate, false},
		{StageDuplicate, StageRaw, false},
		// Any non-terminal stage can be retired as a duplicate.
		{StageRaw, StageDuplicate, true},
		{StageEnriched, StageDuplicate, true},
		{StageQueued, StageDuplicate, true},
		{StageFailedEnrichment, StageDuplicate, true},
		{StageFailedDownload, StageDuplicate, true},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStageRank(t *testing.T) {
	if StageDone.Rank() <= StageQueued.Rank() {
		t.Error("done should outrank queued")
	}
	if StageQueued.Rank() != StageFailedDownload.Rank() {
		t.Error("queued and failed_download should rank together")
	}
	if StageEnriched.Rank() != StageFailedEnrichment.Rank() {
		t.Error("enriched and failed_enrichment should rank together")
	}
	if StageEnriched.Rank() <= StageRaw.Rank() {
		t.Error("enriched should outrank raw")
	}
	if StageFailedDownload.Rank() <= StageEnriched.Rank() {
		t.Error("failed_download should outrank enriched")
	}
}

func TestStageResubmitTarget(t *testing.T) {
	if target, ok := StageFailedEnrichment.ResubmitTarget(); !ok || target != StageRaw {
		t.Errorf("failed_enrichment resubmit = %s, %v", target, ok)
	}
	if target, ok := StageFailedDownload.ResubmitTarget(); !ok || target != StageQueued {
		t.Errorf("failed_download resubmit = %s, %v", target, ok)
	}
	if _, ok := StageDone.ResubmitTarget(); ok {
		t.Error("done should not be resubmittable")
	}
	if _, ok := StageRaw.ResubmitTarget(); ok {
		t.Error("raw should not be resubmittable")
	}
}

func TestCandidateValidate(t *testing.T) {
	tests := []struct {
		name    string
		cand    Candidate
		wantErr bool
	}{
		{"title only", Candidate{Title: "The Nature of the Firm"}, false},
		{"doi only", Candidate{DOI: "10.1111/j.1468-0335.1937.tb00002.x"}, false},
		{"authors only", Candidate{Authors: []Author{{Family: "Coase"}}}, false},
		{"empty", Candidate{}, true},
		{"whitespace title", Candidate{Title: "   "}, true},
		{"negative year", Candidate{Title: "x", Year: -5}, true},
		{"implausible year", Candidate{Title: "x", Year: 12}, true},
		{"plausible year", Candidate{Title: "x", Year: 1937}, false},
		{"empty author entry", Candidate{Title: "x", Authors: []Author{{}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cand.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCandidateDisplayTitle(t *testing.T) {
	c := Candidate{DOI: "10.1/x"}
	if got := c.DisplayTitle(); got != PlaceholderTitle {
		t.Errorf("DisplayTitle() = %q, want placeholder", got)
	}
	c.Title = "  A Title  "
	if got := c.DisplayTitle(); got != "A Title" {
		t.Errorf("DisplayTitle() = %q", got)
	}
}

func TestFieldCompleteness(t *testing.T) {
	sparse := &Work{Title: PlaceholderTitle}
	rich := &Work{
		Title:   "The Nature of the Firm",
		Authors: []Author{{Given: "R.", Family: "Coase"}},
		Year:    1937,
		DOINorm: "10.1111/j.1468-0335.1937.tb00002.x",
	}
	if sparse.FieldCompleteness() >= rich.FieldCompleteness() {
		t.Errorf("completeness: sparse %d >= rich %d",
			sparse.FieldCompleteness(), rich.FieldCompleteness())
	}
}
