// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sqlstore keeps the catalog in a SQL database. SQLite is the default;
// PostgreSQL is selected with the postgres driver.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

const table = "catalog_records"

// baseColumns are always read; bibliography and similar_links are projected.
var baseColumns = []string{
	"id", "source_name", "external_id", "authors", "isbn", "issn",
	"publisher", "title", "year", "pages", "processed",
}

// row is the database shape of a CatalogRecord.
type row struct {
	ID           string `db:"id"`
	SourceName   string `db:"source_name"`
	ExternalID   string `db:"external_id"`
	Authors      string `db:"authors"`
	ISBN         string `db:"isbn"`
	ISSN         string `db:"issn"`
	Publisher    string `db:"publisher"`
	Title        string `db:"title"`
	Year         string `db:"year"`
	Pages        int    `db:"pages"`
	Bibliography string `db:"bibliography"`
	SimilarLinks string `db:"similar_links"`
	Processed    bool   `db:"processed"`
}

// Store implements store.Store over database/sql.
type Store struct {
	db     *sqlx.DB
	flavor sqlbuilder.Flavor
	driver types.StoreDriver
	logger *zap.Logger

	indexOnce sync.Once
	indexErr  error
}

var _ store.Store = (*Store)(nil)

// NewStore opens the database named by cfg and creates the schema if it does
// not exist. For SQLite, cfg.DSN is a file path whose directory is created.
func NewStore(cfg types.StoreConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		driverName string
		dsn        = cfg.DSN
		flavor     sqlbuilder.Flavor
	)
	switch cfg.Driver {
	case types.DriverSQLite, "":
		driverName, flavor = "sqlite3", sqlbuilder.SQLite
		if dsn != ":memory:" {
			if dir := filepath.Dir(dsn); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("creating database directory: %w", err)
				}
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_foreign_keys=on"
		}
	case types.DriverPostgres:
		driverName, flavor = "postgres", sqlbuilder.PostgreSQL
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driverName == "sqlite3" {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:     db,
		flavor: flavor,
		driver: cfg.Driver,
		logger: logger.Named("sqlstore"),
	}
	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS catalog_records (
			id TEXT PRIMARY KEY,
			source_name TEXT NOT NULL,
			external_id TEXT NOT NULL,
			authors TEXT NOT NULL DEFAULT '',
			isbn TEXT NOT NULL DEFAULT '',
			issn TEXT NOT NULL DEFAULT '',
			publisher TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			year TEXT NOT NULL DEFAULT '',
			pages INTEGER NOT NULL DEFAULT 0,
			bibliography TEXT NOT NULL DEFAULT '',
			similar_links TEXT NOT NULL DEFAULT '{}',
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_records_processed ON catalog_records(processed)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// EnsureIndex creates the unique (source_name, external_id) index when it is
// missing and reports whether it did.
func (s *Store) EnsureIndex(ctx context.Context) (bool, error) {
	existsQuery := `SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = ?`
	if s.driver == types.DriverPostgres {
		existsQuery = `SELECT count(*) FROM pg_indexes WHERE indexname = ?`
	}

	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(existsQuery), store.IndexName); err != nil {
		return false, fmt.Errorf("checking index %s: %w", store.IndexName, err)
	}
	if n > 0 {
		return false, nil
	}

	stmt := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %s (source_name, external_id)`, store.IndexName, table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return false, fmt.Errorf("creating index %s: %w", store.IndexName, err)
	}
	s.logger.Info("created index", zap.String("index", store.IndexName))
	return true, nil
}

// Read loads the records that pass filter. Eligibility is pushed down to SQL
// and re-checked with Filter.Match so whitespace rules match the other stores.
func (s *Store) Read(ctx context.Context, filter store.Filter, proj store.Projection) ([]*types.CatalogRecord, error) {
	sb := s.flavor.NewSelectBuilder()
	cols := append([]string(nil), baseColumns...)
	if proj.WithBibliography || filter.OrBibliography {
		cols = append(cols, "bibliography")
	}
	if proj.WithLinks {
		cols = append(cols, "similar_links")
	}
	sb.Select(cols...)
	sb.From(table)

	var where []string
	if filter.Eligible {
		eligible := sb.And(sb.NotEqual("TRIM(title)", ""), sb.NotEqual("TRIM(authors)", ""))
		if filter.OrBibliography {
			eligible = sb.Or(eligible, sb.NotEqual("TRIM(bibliography)", ""))
		}
		where = append(where, eligible)
	}
	if filter.OnlyUnprocessed {
		where = append(where, sb.Equal("processed", false))
	}
	if filter.SourceName != "" {
		where = append(where, sb.Equal("source_name", filter.SourceName))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("source_name", "external_id")

	query, args := sb.Build()
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []*types.CatalogRecord
	for rows.Next() {
		var r row
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		if !filter.Match(rec) {
			continue
		}
		if !proj.WithBibliography {
			rec.RawBibliography = ""
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return out, nil
}

// UpdateMany applies updates in one transaction. Each update runs under its
// own savepoint, so one failing record does not abort the batch.
func (s *Store) UpdateMany(ctx context.Context, updates []store.Update) ([]store.UpdateResult, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	results := make([]store.UpdateResult, len(updates))
	for i, u := range updates {
		results[i].ID = u.ID
		results[i].Err = savepoint(ctx, tx, func() error {
			return s.applyUpdate(ctx, tx, u, now)
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing updates: %w", err)
	}
	return results, nil
}

func (s *Store) applyUpdate(ctx context.Context, tx *sqlx.Tx, u store.Update, now string) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update(table)

	assignments := []string{ub.Assign("updated_at", now)}
	if u.Fields.Has(store.FieldLinks) {
		links, err := encodeLinks(u.Links)
		if err != nil {
			return fmt.Errorf("updating %s: %w", u.ID, err)
		}
		assignments = append(assignments, ub.Assign("similar_links", links))
	}
	if u.Fields.Has(store.FieldProcessed) {
		assignments = append(assignments, ub.Assign("processed", u.Processed))
	}
	if u.Fields.Has(store.FieldDescriptive) {
		assignments = append(assignments,
			ub.Assign("authors", u.Authors),
			ub.Assign("title", u.Title),
			ub.Assign("publisher", u.Publisher),
		)
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", u.ID))

	query, args := ub.Build()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating %s: %w", u.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("updating %s: %w", u.ID, store.ErrNotFound)
	}
	return nil
}

// Insert upserts records keyed by (source_name, external_id). New records get
// a uuid; existing ones keep their id, links and processed flag.
func (s *Store) Insert(ctx context.Context, records []*types.CatalogRecord) (store.InsertSummary, error) {
	var summary store.InsertSummary

	s.indexOnce.Do(func() { _, s.indexErr = s.EnsureIndex(ctx) })
	if s.indexErr != nil {
		return summary, s.indexErr
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	lookup, err := tx.PreparexContext(ctx,
		tx.Rebind(`SELECT id FROM catalog_records WHERE source_name = ? AND external_id = ?`))
	if err != nil {
		return summary, fmt.Errorf("preparing lookup: %w", err)
	}
	defer lookup.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := store.ValidateForInsert(rec); err != nil {
			s.logger.Warn("skipping record", zap.Error(err))
			summary.Failed++
			continue
		}

		var existing string
		err := lookup.GetContext(ctx, &existing, rec.SourceName, rec.ExternalID)
		switch {
		case err == nil:
		case errors.Is(err, sql.ErrNoRows):
			existing = ""
		default:
			return summary, fmt.Errorf("looking up %s/%s: %w", rec.SourceName, rec.ExternalID, err)
		}

		id := existing
		if id == "" {
			id = rec.ID
			if id == "" {
				id = uuid.NewString()
			}
		}
		err = savepoint(ctx, tx, func() error { return s.upsert(ctx, tx, id, rec, now) })
		if err != nil {
			s.logger.Warn("insert failed",
				zap.String("source", rec.SourceName),
				zap.String("external_id", rec.ExternalID),
				zap.Error(err))
			summary.Failed++
			continue
		}

		rec.ID = id
		if existing != "" {
			summary.Updated++
		} else {
			summary.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return store.InsertSummary{}, fmt.Errorf("committing insert: %w", err)
	}
	return summary, nil
}

func (s *Store) upsert(ctx context.Context, tx *sqlx.Tx, id string, rec *types.CatalogRecord, now string) error {
	links, err := encodeLinks(rec.SimilarityLinks)
	if err != nil {
		return err
	}

	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols("id", "source_name", "external_id", "authors", "isbn", "issn", "publisher",
		"title", "year", "pages", "bibliography", "similar_links", "processed", "updated_at")
	ib.Values(id, rec.SourceName, rec.ExternalID, rec.Authors, rec.ISBN, rec.ISSN, rec.Publisher,
		rec.Title, rec.Year, rec.Pages, rec.RawBibliography, links, rec.Processed, now)
	ib.SQL(`ON CONFLICT (source_name, external_id) DO UPDATE SET
		authors = excluded.authors, isbn = excluded.isbn, issn = excluded.issn,
		publisher = excluded.publisher, title = excluded.title, year = excluded.year,
		pages = excluded.pages, bibliography = excluded.bibliography,
		updated_at = excluded.updated_at`)

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting %s/%s: %w", rec.SourceName, rec.ExternalID, err)
	}
	return nil
}

// savepoint runs fn under a savepoint and rolls back to it when fn fails.
func savepoint(ctx context.Context, tx *sqlx.Tx, fn func() error) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT record_write`); err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT record_write`); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back savepoint: %w", rbErr))
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT record_write`); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

func (r row) record() (*types.CatalogRecord, error) {
	rec := &types.CatalogRecord{
		ID:              r.ID,
		SourceName:      r.SourceName,
		ExternalID:      r.ExternalID,
		Authors:         r.Authors,
		ISBN:            r.ISBN,
		ISSN:            r.ISSN,
		Publisher:       r.Publisher,
		Title:           r.Title,
		Year:            r.Year,
		Pages:           r.Pages,
		RawBibliography: r.Bibliography,
		Processed:       r.Processed,
	}
	if r.SimilarLinks != "" && r.SimilarLinks != "{}" {
		if err := json.Unmarshal([]byte(r.SimilarLinks), &rec.SimilarityLinks); err != nil {
			return nil, fmt.Errorf("decoding links of %s: %w", r.ID, err)
		}
	}
	return rec, nil
}

func encodeLinks(links map[string][]types.SimilarityLink) (string, error) {
	if len(links) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(links)
	if err != nil {
		return "", fmt.Errorf("encoding links: %w", err)
	}
	return string(data), nil
}
