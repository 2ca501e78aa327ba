package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tlawson/papyrus/internal/dedupe"
	"github.com/tlawson/papyrus/internal/normalize"
	"github.com/tlawson/papyrus/internal/work"
)

// InsertResult reports the outcome of an insert: either a fresh record
// or a merge into an existing one.
type InsertResult struct {
	ID         string      `json:"id"`
	Inserted   bool        `json:"inserted"`
	MergedInto string      `json:"merged_into,omitempty"`
	Rule       dedupe.Rule `json:"rule,omitempty"`
}

// Patch carries optional field updates applied during a promotion.
// Zero values mean "leave unchanged".
type Patch struct {
	Title       string
	Authors     []work.Author
	Editors     []work.Author
	Year        int
	DOI         string
	CatalogID   string
	Venue       string
	Abstract    string
	SourceMeta  string
	PDFPath     string
	Checksum    string
	FailReason  string
	IncAttempts int
}

// apply mutates w with the patch's populated fields, recomputing the
// normalized DOI when the raw DOI changes.
func (p *Patch) apply(w *work.Work) {
	if p == nil {
		return
	}
	if p.Title != "" {
		w.Title = p.Title
	}
	if len(p.Authors) > 0 {
		w.Authors = p.Authors
	}
	if len(p.Editors) > 0 {
		w.Editors = p.Editors
	}
	if p.Year != 0 {
		w.Year = p.Year
	}
	if p.DOI != "" {
		w.DOI = p.DOI
		w.DOINorm = normalize.DOI(p.DOI)
	}
	if p.CatalogID != "" {
		w.CatalogID = p.CatalogID
	}
	if p.Venue != "" {
		w.Venue = p.Venue
	}
	if p.Abstract != "" {
		w.Abstract = p.Abstract
	}
	if p.SourceMeta != "" {
		w.SourceMeta = p.SourceMeta
	}
	if p.PDFPath != "" {
		w.PDFPath = p.PDFPath
	}
	if p.Checksum != "" {
		w.Checksum = p.Checksum
	}
	if p.FailReason != "" {
		w.FailReason = p.FailReason
	}
	w.Attempts += p.IncAttempts
}

// InsertRaw validates a candidate, resolves its identity against the
// whole corpus, and either inserts a new raw record or merges the
// candidate into the existing match. The dedup check and the write
// happen in one transaction, so two concurrent candidates for the same
// identity cannot both pass the check.
func (s *Store) InsertRaw(ctx context.Context, cand *work.Candidate) (*InsertResult, error) {
	if err := cand.Validate(); err != nil {
		return nil, err
	}

	incoming := &work.Work{
		ID:      uuid.NewString(),
		Title:   cand.DisplayTitle(),
		Authors: cand.Authors,
		Editors: cand.Editors,
		Year:    cand.Year,
		DOI:     strings.TrimSpace(cand.DOI),
		DOINorm: normalize.DOI(cand.DOI),
		Origin:  cand.Origin,
		Stage:   work.StageRaw,
		AddedAt: time.Now().UTC(),
	}
	if cand.Excerpt != "" {
		meta, err := json.Marshal(map[string]string{"excerpt": cand.Excerpt})
		if err != nil {
			return nil, fmt.Errorf("marshaling excerpt: %w", err)
		}
		incoming.SourceMeta = string(meta)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	probe := dedupe.ProbeFromWork(incoming)
	aliases, err := loadAliases(tx, probe.TitleNorm)
	if err != nil {
		return nil, err
	}
	existing, err := matchCandidates(tx, probe, linkedTitles(aliases, probe.TitleNorm))
	if err != nil {
		return nil, err
	}

	match, err := dedupe.Resolve(probe, existing, aliases)
	if err != nil {
		return nil, err
	}

	if match == nil {
		if err := insertWork(tx, stageTable(work.StageRaw), incoming); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing insert: %w", err)
		}
		return &InsertResult{ID: incoming.ID, Inserted: true}, nil
	}

	survivorID, err := mergeRecords(tx, match.Target, incoming, false, match)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing merge: %w", err)
	}
	return &InsertResult{ID: incoming.ID, MergedInto: survivorID, Rule: match.Rule}, nil
}

// Promote moves a record from one stage to the next, applying the
// patch on the way. It fails with a StageMismatchError when the record
// is not where the caller saw it, and with a UniquenessError when the
// patch would collide with another record's DOI or catalog id at the
// destination stage or beyond. The caller must then re-route the pair
// through MergeInto instead of completing the promotion.
func (s *Store) Promote(ctx context.Context, id string, from, to work.Stage, patch *Patch) (*work.Work, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	w, err := getFromStage(tx, from, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, s.stageMismatch(tx, id, from)
	}

	patch.apply(w)

	if to.UniqueFrom() {
		if err := checkUnique(tx, w.DOINorm, w.CatalogID, w.ID); err != nil {
			return nil, err
		}
	}

	if err := moveWork(tx, w, from, to); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing promotion: %w", err)
	}
	return w, nil
}

// MarkFailed moves a record to the failure stage corresponding to its
// current stage, preserving all fields plus the reason. The optional
// patch records bookkeeping from the failed attempt (attempt counts).
func (s *Store) MarkFailed(ctx context.Context, id string, from work.Stage, reason string, patch *Patch) (*work.Work, error) {
	var to work.Stage
	switch from {
	case work.StageRaw, work.StageEnriched:
		to = work.StageFailedEnrichment
	case work.StageQueued:
		to = work.StageFailedDownload
	default:
		return nil, fmt.Errorf("%w: no failure stage for %s", ErrBadTransition, from)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	w, err := getFromStage(tx, from, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, s.stageMismatch(tx, id, from)
	}

	patch.apply(w)
	w.FailReason = reason
	if err := moveWork(tx, w, from, to); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing failure: %w", err)
	}
	return w, nil
}

// Resubmit explicitly re-enters a failed record into the pipeline:
// failed_enrichment records go back to raw, failed_download records
// back to queued. This is the only backward move the lifecycle allows.
func (s *Store) Resubmit(ctx context.Context, id string) (*work.Work, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, from := range []work.Stage{work.StageFailedEnrichment, work.StageFailedDownload} {
		w, err := getFromStage(tx, from, id)
		if err != nil {
			return nil, err
		}
		if w == nil {
			continue
		}
		to, _ := from.ResubmitTarget()
		w.FailReason = ""
		if err := moveWork(tx, w, from, to); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing resubmit: %w", err)
		}
		return w, nil
	}

	return nil, fmt.Errorf("resubmitting %s: %w", id, ErrNotFound)
}

// MergeInto resolves a uniqueness collision surfaced by Promote: the
// record being promoted (with its patch applied) is merged with the
// colliding record, in a single transaction. Returns the survivor.
func (s *Store) MergeInto(ctx context.Context, id string, from work.Stage, patch *Patch, collidingID string) (*work.Work, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	w, err := getFromStage(tx, from, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, s.stageMismatch(tx, id, from)
	}
	patch.apply(w)

	target, err := findAnywhere(tx, collidingID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("merge target %s: %w", collidingID, ErrNotFound)
	}

	match, err := dedupe.Resolve(dedupe.ProbeFromWork(w), []*work.Work{target}, nil)
	if err != nil {
		return nil, err
	}
	if match == nil {
		// The collision came from a unique index, so the identifiers
		// matched; a nil result here means the store and the caller
		// disagree about the record, which is a conflict to retry.
		return nil, s.stageMismatch(tx, id, from)
	}

	survivorID, err := mergeRecords(tx, target, w, true, match)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing merge: %w", err)
	}

	survivor, err := s.Get(ctx, survivorID)
	if err != nil {
		return nil, err
	}
	return survivor, nil
}

// FetchBatch returns up to limit records from a stage in stable
// creation order, oldest first, without mutating anything.
func (s *Store) FetchBatch(ctx context.Context, stage work.Stage, limit int, filter *Filter) ([]*work.Work, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf("SELECT %s FROM %s", workColumns, stageTable(stage))
	var args []any
	if where, whereArgs := filter.clause(); where != "" {
		query += " WHERE " + where
		args = whereArgs
	}
	query += " ORDER BY added_at, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching batch from %s: %w", stage, err)
	}
	defer rows.Close()

	return scanWorks(rows, stage)
}

// Get returns a record by id from whatever stage holds it.
func (s *Store) Get(ctx context.Context, id string) (*work.Work, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	w, err := findAnywhere(tx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return w, nil
}

// --- internals ---

// getFromStage fetches a record from a specific stage relation.
func getFromStage(e execer, stage work.Stage, id string) (*work.Work, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", workColumns, stageTable(stage))
	return scanWork(e.QueryRow(query, id), stage)
}

// findAnywhere searches every stage relation for a record.
func findAnywhere(e execer, id string) (*work.Work, error) {
	for _, stage := range work.Stages {
		w, err := getFromStage(e, stage, id)
		if err != nil {
			return nil, err
		}
		if w != nil {
			return w, nil
		}
	}
	return nil, nil
}

// stageMismatch builds the concurrency-conflict error, reporting where
// the record actually is.
func (s *Store) stageMismatch(e execer, id string, expected work.Stage) error {
	actual, err := findAnywhere(e, id)
	if err != nil || actual == nil {
		return &StageMismatchError{ID: id, Expected: expected}
	}
	return &StageMismatchError{ID: id, Expected: expected, Actual: actual.Stage}
}

// moveWork removes a record from one stage relation and inserts it
// into another. Both statements run on the caller's transaction; the
// RowsAffected check is the optimistic-concurrency guard.
func moveWork(e execer, w *work.Work, from, to work.Stage) error {
	res, err := e.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", stageTable(from)), w.ID)
	if err != nil {
		return fmt.Errorf("removing from %s: %w", from, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return &StageMismatchError{ID: w.ID, Expected: from}
	}

	w.Stage = to
	w.ProcessedAt = time.Now().UTC()
	return insertWork(e, stageTable(to), w)
}

// checkUnique scans the unique-stage relations for another record
// holding the same normalized DOI or catalog id.
func checkUnique(e execer, doiNorm, catalogID, excludeID string) error {
	for _, stage := range work.Stages {
		if !stage.UniqueFrom() {
			continue
		}
		t := stageTable(stage)
		if doiNorm != "" {
			var id string
			err := e.QueryRow(
				fmt.Sprintf("SELECT id FROM %s WHERE doi_norm = ? AND id != ?", t),
				doiNorm, excludeID).Scan(&id)
			if err == nil {
				return &UniquenessError{Field: "doi_norm", Value: doiNorm, CollidingID: id, Stage: stage}
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("checking doi uniqueness in %s: %w", t, err)
			}
		}
		if catalogID != "" {
			var id string
			err := e.QueryRow(
				fmt.Sprintf("SELECT id FROM %s WHERE catalog_id = ? AND id != ?", t),
				catalogID, excludeID).Scan(&id)
			if err == nil {
				return &UniquenessError{Field: "catalog_id", Value: catalogID, CollidingID: id, Stage: stage}
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("checking catalog uniqueness in %s: %w", t, err)
			}
		}
	}
	return nil
}

// linkedTitles collects the normalized titles an alias links to the
// given one, in either direction, so alias-linked records load as
// match candidates too.
func linkedTitles(aliases []dedupe.Alias, titleNorm string) []string {
	if titleNorm == "" {
		return nil
	}
	var titles []string
	for _, a := range aliases {
		switch titleNorm {
		case a.TitleNorm:
			titles = append(titles, a.CanonicalNorm)
		case a.CanonicalNorm:
			titles = append(titles, a.TitleNorm)
		}
	}
	return titles
}

// matchCandidates loads records from every stage that share any dedup
// key with the probe, for the resolver to evaluate.
func matchCandidates(e execer, p dedupe.Probe, aliasTitles []string) ([]*work.Work, error) {
	var all []*work.Work
	for _, stage := range work.Stages {
		var conds []string
		var args []any
		if p.DOINorm != "" {
			conds = append(conds, "doi_norm = ?")
			args = append(args, p.DOINorm)
		}
		if p.CatalogID != "" {
			conds = append(conds, "catalog_id = ?")
			args = append(args, p.CatalogID)
		}
		if p.TitleNorm != "" {
			conds = append(conds, "title_norm = ?")
			args = append(args, p.TitleNorm)
		}
		for _, t := range aliasTitles {
			conds = append(conds, "title_norm = ?")
			args = append(args, t)
		}
		if len(conds) == 0 {
			return nil, nil
		}

		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
			workColumns, stageTable(stage), strings.Join(conds, " OR "))
		rows, err := e.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("matching against %s: %w", stage, err)
		}
		works, err := scanWorks(rows, stage)
		rows.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, works...)
	}
	return all, nil
}

// mergeRecords executes a merge plan: the loser is removed from its
// stage relation (when it was persisted at all), archived in the
// duplicates relation, and logged; the survivor is rewritten with its
// backfilled fields. Deletions run first so the survivor's new
// identifiers cannot trip the loser's unique index entries.
func mergeRecords(e execer, existing, incoming *work.Work, incomingPersisted bool, m *dedupe.Match) (string, error) {
	plan := dedupe.PlanMerge(existing, incoming, m)

	loserJSON, err := json.Marshal(plan.Loser)
	if err != nil {
		return "", fmt.Errorf("marshaling loser snapshot: %w", err)
	}

	// Remove the loser (and, when the survivor switched places with a
	// persisted incoming record, the survivor's old row).
	if plan.Loser != incoming || incomingPersisted {
		if _, err := e.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE id = ?", stageTable(plan.Loser.Stage)),
			plan.Loser.ID); err != nil {
			return "", fmt.Errorf("removing merge loser: %w", err)
		}
	}

	if plan.Survivor == incoming {
		// The incoming record won; rewrite it in place of both rows.
		if incomingPersisted {
			if _, err := e.Exec(
				fmt.Sprintf("DELETE FROM %s WHERE id = ?", stageTable(plan.Survivor.Stage)),
				plan.Survivor.ID); err != nil {
				return "", fmt.Errorf("removing survivor's old row: %w", err)
			}
		}
		if err := insertWork(e, stageTable(plan.Survivor.Stage), plan.Survivor); err != nil {
			return "", err
		}
	} else {
		if err := updateWork(e, stageTable(plan.Survivor.Stage), plan.Survivor); err != nil {
			return "", err
		}
	}

	matchedOn, err := json.Marshal(plan.MatchedOn)
	if err != nil {
		return "", fmt.Errorf("marshaling matched fields: %w", err)
	}
	if _, err := e.Exec(`
		INSERT INTO merge_log (loser_id, survivor_id, loser_json, rule, score, matched_on, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.Loser.ID, plan.Survivor.ID, string(loserJSON),
		string(plan.Rule), plan.Score, string(matchedOn),
		plan.DecidedAt.Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("writing merge log: %w", err)
	}

	if _, err := e.Exec(`
		INSERT INTO duplicates (id, survivor_id, record_json, retired_at)
		VALUES (?, ?, ?, ?)`,
		plan.Loser.ID, plan.Survivor.ID, string(loserJSON),
		plan.DecidedAt.Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("archiving duplicate: %w", err)
	}

	return plan.Survivor.ID, nil
}

// updateWork rewrites a record's mutable columns in place.
func updateWork(e execer, table string, w *work.Work) error {
	authorsJSON, err := marshalAuthors(w.Authors)
	if err != nil {
		return fmt.Errorf("marshaling authors for %s: %w", w.ID, err)
	}
	editorsJSON, err := marshalAuthors(w.Editors)
	if err != nil {
		return fmt.Errorf("marshaling editors for %s: %w", w.ID, err)
	}

	query := fmt.Sprintf(`UPDATE %s SET
		title = ?, title_norm = ?, authors_json = ?, editors_json = ?, year = ?,
		doi = ?, doi_norm = ?, catalog_id = ?, venue = ?, abstract = ?, source_meta = ?,
		pdf_path = ?, checksum = ?, attempts = ?, fail_reason = ?, processed_at = ?
		WHERE id = ?`, table)

	_, err = e.Exec(query,
		w.Title, normalize.Title(w.Title), authorsJSON, editorsJSON, nullableInt(w.Year),
		nullableString(w.DOI), nullableString(w.DOINorm), nullableString(w.CatalogID),
		nullableString(w.Venue), nullableString(w.Abstract), nullableString(w.SourceMeta),
		nullableString(w.PDFPath), nullableString(w.Checksum), w.Attempts,
		nullableString(w.FailReason), nullableTime(w.ProcessedAt),
		w.ID)
	if err != nil {
		return fmt.Errorf("updating %s: %w", table, err)
	}
	return nil
}

// loadAliases returns alias records touching the given normalized title.
func loadAliases(e execer, titleNorm string) ([]dedupe.Alias, error) {
	if titleNorm == "" {
		return nil, nil
	}
	rows, err := e.Query(`
		SELECT id, title_norm, canonical_norm, author_set_key, year, note
		FROM aliases WHERE title_norm = ? OR canonical_norm = ?`,
		titleNorm, titleNorm)
	if err != nil {
		return nil, fmt.Errorf("loading aliases: %w", err)
	}
	defer rows.Close()

	var aliases []dedupe.Alias
	for rows.Next() {
		var a dedupe.Alias
		var setKey, note sql.NullString
		var year sql.NullInt64
		if err := rows.Scan(&a.ID, &a.TitleNorm, &a.CanonicalNorm, &setKey, &year, &note); err != nil {
			return nil, err
		}
		a.AuthorSetKey = setKey.String
		a.Note = note.String
		if year.Valid {
			a.Year = int(year.Int64)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}
