package work

// Stage is one state in the record lifecycle finite-state machine.
//
// The forward path is raw → enriched → queued → done, with failure
// branches enriched → failed_enrichment and queued → failed_download.
// Any non-terminal record can be retired to duplicate by a merge.
// Failed records may be explicitly resubmitted (failed_enrichment →
// raw, failed_download → queued); no other backward move exists.
type Stage string

const (
	StageRaw              Stage = "raw"
	StageEnriched         Stage = "enriched"
	StageQueued           Stage = "queued"
	StageDone             Stage = "done"
	StageFailedEnrichment Stage = "failed_enrichment"
	StageFailedDownload   Stage = "failed_download"
	StageDuplicate        Stage = "duplicate"
)

// Stages lists every stage that owns a relation, in pipeline order.
var Stages = []Stage{
	StageRaw,
	StageEnriched,
	StageQueued,
	StageDone,
	StageFailedEnrichment,
	StageFailedDownload,
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageRaw, StageEnriched, StageQueued, StageDone,
		StageFailedEnrichment, StageFailedDownload, StageDuplicate:
		return true
	}
	return false
}

// Terminal reports whether a record in this stage can never move again.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageDuplicate
}

// Rank orders stages for merge survivor selection: done beats the
// download stages, which beat the enrichment stages, which beat raw.
// Failure stages rank with their sibling stage so a failed download
// still outranks a fresh raw candidate for the same work.
func (s Stage) Rank() int {
	switch s {
	case StageDone:
		return 4
	case StageQueued, StageFailedDownload:
		return 3
	case StageEnriched, StageFailedEnrichment:
		return 2
	case StageRaw:
		return 1
	}
	return 0
}

// CanTransition reports whether a record may move from s to to.
func (s Stage) CanTransition(to Stage) bool {
	if s.Terminal() {
		return false
	}
	if to == StageDuplicate {
		return true
	}
	switch s {
	case StageRaw:
		return to == StageEnriched || to == StageFailedEnrichment
	case StageEnriched:
		return to == StageQueued || to == StageFailedEnrichment
	case StageQueued:
		return to == StageDone || to == StageFailedDownload
	case StageFailedEnrichment:
		return to == StageRaw // explicit resubmission only
	case StageFailedDownload:
		return to == StageQueued // explicit resubmission only
	}
	return false
}

// ResubmitTarget returns the stage a failed record re-enters on
// explicit retry, and false for stages that cannot be resubmitted.
func (s Stage) ResubmitTarget() (Stage, bool) {
	switch s {
	case StageFailedEnrichment:
		return StageRaw, true
	case StageFailedDownload:
		return StageQueued, true
	}
	return "", false
}

// UniqueFrom reports whether the DOI/catalog-id uniqueness constraint
// applies at this stage. Uniqueness is enforced at enriched and beyond;
// raw candidates may transiently share identifiers until dedup runs.
func (s Stage) UniqueFrom() bool {
	return s.Rank() >= StageEnriched.Rank()
}
