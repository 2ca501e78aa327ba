package dedupe

import (
	"time"

	"github.com/tlawson/papyrus/internal/work"
)

// Plan describes how to combine a matched pair: which record survives,
// which fields of the survivor get backfilled from the loser, and the
// audit data to log. The corpus store executes the plan atomically.
type Plan struct {
	Survivor *work.Work
	Loser    *work.Work
	// Backfill holds field names of the survivor that were null and got
	// filled from the loser. Populated survivor fields are never
	// overwritten.
	Backfill  []string
	Rule      Rule
	Score     float64
	MatchedOn []string
	DecidedAt time.Time
}

// PlanMerge decides survivor and backfill between an existing record
// and an incoming one that matched it, mutating the survivor in place.
// The record further along the stage pipeline survives; on equal rank
// the more complete record survives; on a full tie the existing record
// survives. Stage rank always wins over field count: a late, richer
// raw candidate never displaces validated later-stage data, it only
// backfills gaps.
func PlanMerge(existing, incoming *work.Work, m *Match) *Plan {
	survivor, loser := existing, incoming
	switch {
	case incoming.Stage.Rank() > existing.Stage.Rank():
		survivor, loser = incoming, existing
	case incoming.Stage.Rank() == existing.Stage.Rank() &&
		incoming.FieldCompleteness() > existing.FieldCompleteness():
		survivor, loser = incoming, existing
	}

	plan := &Plan{
		Survivor:  survivor,
		Loser:     loser,
		Rule:      m.Rule,
		Score:     m.Score,
		MatchedOn: m.MatchedOn,
		DecidedAt: time.Now().UTC(),
	}
	plan.Backfill = backfillFields(survivor, loser)
	return plan
}

// backfillFields fills only the survivor's null fields from the loser
// and returns the names of the fields it filled.
func backfillFields(survivor, loser *work.Work) []string {
	var filled []string

	if (survivor.Title == "" || survivor.Title == work.PlaceholderTitle) &&
		loser.Title != "" && loser.Title != work.PlaceholderTitle {
		survivor.Title = loser.Title
		filled = append(filled, "title")
	}
	if len(survivor.Authors) == 0 && len(loser.Authors) > 0 {
		survivor.Authors = loser.Authors
		filled = append(filled, "authors")
	}
	if len(survivor.Editors) == 0 && len(loser.Editors) > 0 {
		survivor.Editors = loser.Editors
		filled = append(filled, "editors")
	}
	if survivor.Year == 0 && loser.Year != 0 {
		survivor.Year = loser.Year
		filled = append(filled, "year")
	}
	if survivor.DOINorm == "" && loser.DOINorm != "" {
		survivor.DOI = loser.DOI
		survivor.DOINorm = loser.DOINorm
		filled = append(filled, "doi")
	}
	if survivor.CatalogID == "" && loser.CatalogID != "" {
		survivor.CatalogID = loser.CatalogID
		filled = append(filled, "catalog_id")
	}
	if survivor.Venue == "" && loser.Venue != "" {
		survivor.Venue = loser.Venue
		filled = append(filled, "venue")
	}
	if survivor.Abstract == "" && loser.Abstract != "" {
		survivor.Abstract = loser.Abstract
		filled = append(filled, "abstract")
	}
	if survivor.SourceMeta == "" && loser.SourceMeta != "" {
		survivor.SourceMeta = loser.SourceMeta
		filled = append(filled, "source_meta")
	}
	if survivor.PDFPath == "" && loser.PDFPath != "" {
		survivor.PDFPath = loser.PDFPath
		survivor.Checksum = loser.Checksum
		filled = append(filled, "pdf_path")
	}
	return filled
}
