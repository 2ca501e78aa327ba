package corpus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tlawson/papyrus/internal/normalize"
	"github.com/tlawson/papyrus/internal/work"
)

// execer covers *sql.DB and *sql.Tx for the write helpers.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// scanner covers sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// insertWork writes a record into the given stage relation.
func insertWork(e execer, table string, w *work.Work) error {
	authorsJSON, err := marshalAuthors(w.Authors)
	if err != nil {
		return fmt.Errorf("marshaling authors for %s: %w", w.ID, err)
	}
	editorsJSON, err := marshalAuthors(w.Editors)
	if err != nil {
		return fmt.Errorf("marshaling editors for %s: %w", w.ID, err)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, workColumns, placeholders(21))

	_, err = e.Exec(query,
		w.ID, w.Title, normalize.Title(w.Title), authorsJSON, editorsJSON,
		nullableInt(w.Year),
		nullableString(w.DOI), nullableString(w.DOINorm), nullableString(w.CatalogID),
		nullableString(w.Venue), nullableString(w.Abstract), nullableString(w.SourceMeta),
		nullableString(w.PDFPath), nullableString(w.Checksum), w.Attempts,
		string(w.Origin.Kind), nullableString(w.Origin.Ref), w.Origin.Depth,
		nullableString(w.FailReason),
		w.AddedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(w.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	return nil
}

// scanWork reads one record, setting the stage from the relation it
// came out of.
func scanWork(s scanner, stage work.Stage) (*work.Work, error) {
	var w work.Work
	var authorsJSON, editorsJSON sql.NullString
	var doi, doiNorm, catalogID, venue, abstract, sourceMeta sql.NullString
	var pdfPath, checksum, originRef, failReason, processedAt sql.NullString
	var titleNorm, addedAt, originKind string
	var year sql.NullInt64

	err := s.Scan(
		&w.ID, &w.Title, &titleNorm, &authorsJSON, &editorsJSON, &year,
		&doi, &doiNorm, &catalogID, &venue, &abstract, &sourceMeta,
		&pdfPath, &checksum, &w.Attempts,
		&originKind, &originRef, &w.Origin.Depth,
		&failReason, &addedAt, &processedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	w.Stage = stage
	w.DOI = doi.String
	w.DOINorm = doiNorm.String
	w.CatalogID = catalogID.String
	w.Venue = venue.String
	w.Abstract = abstract.String
	w.SourceMeta = sourceMeta.String
	w.PDFPath = pdfPath.String
	w.Checksum = checksum.String
	w.Origin.Kind = work.OriginKind(originKind)
	w.Origin.Ref = originRef.String
	w.FailReason = failReason.String
	if year.Valid {
		w.Year = int(year.Int64)
	}

	if w.AddedAt, err = time.Parse(time.RFC3339Nano, addedAt); err != nil {
		return nil, fmt.Errorf("parsing added_at for %s: %w", w.ID, err)
	}
	if processedAt.Valid && processedAt.String != "" {
		if w.ProcessedAt, err = time.Parse(time.RFC3339Nano, processedAt.String); err != nil {
			return nil, fmt.Errorf("parsing processed_at for %s: %w", w.ID, err)
		}
	}

	if authorsJSON.Valid && authorsJSON.String != "" {
		if err := json.Unmarshal([]byte(authorsJSON.String), &w.Authors); err != nil {
			return nil, fmt.Errorf("parsing authors for %s: %w", w.ID, err)
		}
	}
	if editorsJSON.Valid && editorsJSON.String != "" {
		if err := json.Unmarshal([]byte(editorsJSON.String), &w.Editors); err != nil {
			return nil, fmt.Errorf("parsing editors for %s: %w", w.ID, err)
		}
	}

	return &w, nil
}

// scanWorks collects all records from a multi-row result.
func scanWorks(rows *sql.Rows, stage work.Stage) ([]*work.Work, error) {
	var works []*work.Work
	for rows.Next() {
		w, err := scanWork(rows, stage)
		if err != nil {
			return nil, err
		}
		if w != nil {
			works = append(works, w)
		}
	}
	return works, rows.Err()
}

func marshalAuthors(authors []work.Author) (sql.NullString, error) {
	if len(authors) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(authors)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// nullableString converts a string to sql.NullString, treating empty as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableInt treats zero as NULL (unknown year).
func nullableInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
