// Package corpus is the staged corpus store: the sole owner of
// persisted work records. Every record lives in exactly one stage
// relation at any instant and every stage transition is a single
// all-or-nothing SQLite transaction, so no concurrent reader ever sees
// a record in two stages or in none.
package corpus

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/tlawson/papyrus/internal/work"
	_ "modernc.org/sqlite"
)

// Store wraps the corpus database.
type Store struct {
	db *sql.DB
}

// stageTable maps a stage to its relation name.
func stageTable(s work.Stage) string {
	return "works_" + string(s)
}

// workColumns is the shared column layout of every stage relation.
const workColumns = `id, title, title_norm, authors_json, editors_json, year,
	doi, doi_norm, catalog_id, venue, abstract, source_meta,
	pdf_path, checksum, attempts,
	origin_kind, origin_ref, origin_depth,
	fail_reason, added_at, processed_at`

// Open opens or creates the corpus database at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer; funneling every connection through
	// one handle makes stage transitions serializable per record.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// createSchema creates the stage relations and audit tables.
func createSchema(db *sql.DB) error {
	stageDDL := `
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			title_norm TEXT NOT NULL,
			authors_json TEXT,
			editors_json TEXT,
			year INTEGER,
			doi TEXT,
			doi_norm TEXT,
			catalog_id TEXT,
			venue TEXT,
			abstract TEXT,
			source_meta TEXT,
			pdf_path TEXT,
			checksum TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			origin_kind TEXT NOT NULL,
			origin_ref TEXT,
			origin_depth INTEGER NOT NULL DEFAULT 0,
			fail_reason TEXT,
			added_at TEXT NOT NULL,
			processed_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_%s_added ON %s(added_at, id);
		CREATE INDEX IF NOT EXISTS idx_%s_title ON %s(title_norm);
	`

	// Uniqueness on doi_norm/catalog_id applies at enriched and beyond.
	// The partial unique indexes are the per-table backstop; the
	// cross-stage check runs in the transition transactions.
	uniqueDDL := `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_doi ON %s(doi_norm)
			WHERE doi_norm IS NOT NULL AND doi_norm != '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_catalog ON %s(catalog_id)
			WHERE catalog_id IS NOT NULL AND catalog_id != '';
	`

	for _, stage := range work.Stages {
		t := stageTable(stage)
		ddl := fmt.Sprintf(stageDDL, t, t, t, t, t)
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("creating %s: %w", t, err)
		}
		if stage.UniqueFrom() {
			if _, err := db.Exec(fmt.Sprintf(uniqueDDL, t, t, t, t)); err != nil {
				return fmt.Errorf("creating unique indexes for %s: %w", t, err)
			}
		}
	}

	audit := `
		-- Immutable merge audit: one row per merge, never updated.
		CREATE TABLE IF NOT EXISTS merge_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			loser_id TEXT NOT NULL,
			survivor_id TEXT NOT NULL,
			loser_json TEXT NOT NULL,
			rule TEXT NOT NULL,
			score REAL NOT NULL,
			matched_on TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		-- Retired duplicates, archived rather than silently deleted.
		CREATE TABLE IF NOT EXISTS duplicates (
			id TEXT PRIMARY KEY,
			survivor_id TEXT NOT NULL,
			record_json TEXT NOT NULL,
			retired_at TEXT NOT NULL
		);

		-- Alternate surface forms consulted by the dedup title+year rule.
		CREATE TABLE IF NOT EXISTS aliases (
			id TEXT PRIMARY KEY,
			title_norm TEXT NOT NULL,
			canonical_norm TEXT NOT NULL,
			author_set_key TEXT,
			year INTEGER,
			note TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_aliases_title ON aliases(title_norm);
		CREATE INDEX IF NOT EXISTS idx_aliases_canonical ON aliases(canonical_norm);
	`
	if _, err := db.Exec(audit); err != nil {
		return fmt.Errorf("creating audit tables: %w", err)
	}

	return nil
}

// uniqueStageTables returns the relations where the DOI/catalog
// uniqueness constraint holds.
func uniqueStageTables() []string {
	var tables []string
	for _, stage := range work.Stages {
		if stage.UniqueFrom() {
			tables = append(tables, stageTable(stage))
		}
	}
	return tables
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
