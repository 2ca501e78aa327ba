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

// Filter narrows batch fetches and exports. Zero values are ignored.
type Filter struct {
	OriginKind work.OriginKind
	OriginRef  string
	YearFrom   int
	YearTo     int
}

// clause renders the filter as a WHERE fragment.
func (f *Filter) clause() (string, []any) {
	if f == nil {
		return "", nil
	}
	var conds []string
	var args []any
	if f.OriginKind != "" {
		conds = append(conds, "origin_kind = ?")
		args = append(args, string(f.OriginKind))
	}
	if f.OriginRef != "" {
		conds = append(conds, "origin_ref = ?")
		args = append(args, f.OriginRef)
	}
	if f.YearFrom > 0 {
		conds = append(conds, "year >= ?")
		args = append(args, f.YearFrom)
	}
	if f.YearTo > 0 {
		conds = append(conds, "year <= ?")
		args = append(args, f.YearTo)
	}
	return strings.Join(conds, " AND "), args
}

// Counts returns the number of records per stage.
func (s *Store) Counts(ctx context.Context) (map[work.Stage]int, error) {
	counts := make(map[work.Stage]int, len(work.Stages))
	for _, stage := range work.Stages {
		var n int
		err := s.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s", stageTable(stage))).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", stage, err)
		}
		counts[stage] = n
	}
	return counts, nil
}

// List returns a page of records from a stage in creation order, plus
// the stage's total for pagination.
func (s *Store) List(ctx context.Context, stage work.Stage, limit, offset int) ([]*work.Work, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", stageTable(stage))).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting %s: %w", stage, err)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY added_at, id LIMIT ? OFFSET ?",
			workColumns, stageTable(stage)),
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing %s: %w", stage, err)
	}
	defer rows.Close()

	works, err := scanWorks(rows, stage)
	if err != nil {
		return nil, 0, err
	}
	return works, total, nil
}

// ExportDone returns completed records matching the filter, for export.
func (s *Store) ExportDone(ctx context.Context, filter *Filter) ([]*work.Work, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", workColumns, stageTable(work.StageDone))
	var args []any
	if where, whereArgs := filter.clause(); where != "" {
		query += " WHERE " + where
		args = whereArgs
	}
	query += " ORDER BY added_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exporting done records: %w", err)
	}
	defer rows.Close()

	return scanWorks(rows, work.StageDone)
}

// MergeLogEntry is one immutable merge audit row.
type MergeLogEntry struct {
	Seq        int64      `json:"seq"`
	LoserID    string     `json:"loser_id"`
	SurvivorID string     `json:"survivor_id"`
	Loser      *work.Work `json:"loser"`
	Rule       string     `json:"rule"`
	Score      float64    `json:"score"`
	MatchedOn  []string   `json:"matched_on"`
	CreatedAt  time.Time  `json:"created_at"`
}

// MergeLog returns merge audit entries, newest first.
func (s *Store) MergeLog(ctx context.Context, limit int) ([]MergeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, loser_id, survivor_id, loser_json, rule, score, matched_on, created_at
		FROM merge_log ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading merge log: %w", err)
	}
	defer rows.Close()

	var entries []MergeLogEntry
	for rows.Next() {
		var e MergeLogEntry
		var loserJSON, matchedOn, createdAt string
		if err := rows.Scan(&e.Seq, &e.LoserID, &e.SurvivorID, &loserJSON,
			&e.Rule, &e.Score, &matchedOn, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(loserJSON), &e.Loser); err != nil {
			return nil, fmt.Errorf("parsing loser snapshot %d: %w", e.Seq, err)
		}
		if err := json.Unmarshal([]byte(matchedOn), &e.MatchedOn); err != nil {
			return nil, fmt.Errorf("parsing matched fields %d: %w", e.Seq, err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing merge timestamp %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddAlias records an alternate title surface form (e.g. a translated
// title) linking to a canonical title. Titles are normalized on the
// way in so the dedup rules can compare keys directly.
func (s *Store) AddAlias(ctx context.Context, altTitle, canonicalTitle string, authors []work.Author, year int, note string) (*dedupe.Alias, error) {
	a := &dedupe.Alias{
		ID:            uuid.NewString(),
		TitleNorm:     normalize.Title(altTitle),
		CanonicalNorm: normalize.Title(canonicalTitle),
		AuthorSetKey:  normalize.AuthorSetKey(authors),
		Year:          year,
		Note:          note,
	}
	if a.TitleNorm == "" || a.CanonicalNorm == "" {
		return nil, &work.ValidationError{Field: "alias", Reason: "requires both titles"}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aliases (id, title_norm, canonical_norm, author_set_key, year, note)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.TitleNorm, a.CanonicalNorm,
		nullableString(a.AuthorSetKey), nullableInt(a.Year), nullableString(a.Note))
	if err != nil {
		return nil, fmt.Errorf("inserting alias: %w", err)
	}
	return a, nil
}

// Aliases lists all recorded alias surface forms.
func (s *Store) Aliases(ctx context.Context) ([]dedupe.Alias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title_norm, canonical_norm, author_set_key, year, note
		FROM aliases ORDER BY title_norm`)
	if err != nil {
		return nil, fmt.Errorf("listing aliases: %w", err)
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
