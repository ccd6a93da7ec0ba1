// File path: internal/cache/sqlite.go
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/comexa/docverifier/internal/document"
	"github.com/comexa/docverifier/internal/report"
)

const sqliteBusyTimeoutMS = 5000

// SQLiteStore is the default cache backend: one SQLite file holding both the
// document and workflow tables.
type SQLiteStore struct {
	db  *sqlx.DB
	cfg Config

	// now is swappable so tests can step the clock across the TTL window.
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the cache database at path and runs
// the schema migration.
func OpenSQLite(path string, cfg Config) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache database path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve cache database path: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", abs, sqliteBusyTimeoutMS)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg, now: time.Now}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

var cacheSchema = []string{
	`CREATE TABLE IF NOT EXISTS document_cache (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                file_hash TEXT NOT NULL,
                doc_type TEXT NOT NULL,
                filename TEXT,
                extracted_json TEXT,
                created_at TEXT NOT NULL
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_document_cache_hash_role
                ON document_cache(file_hash, doc_type);`,
	`CREATE TABLE IF NOT EXISTS workflow_cache (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                workflow_hash TEXT NOT NULL UNIQUE,
                bl_hash TEXT NOT NULL,
                invoice_hash TEXT NOT NULL,
                packing_hash TEXT,
                report_json TEXT NOT NULL,
                created_at TEXT NOT NULL,
                last_access TEXT NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_cache_bl ON workflow_cache(bl_hash);`,
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin cache migration: %w", err)
	}
	for i, stmt := range cacheSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute cache schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache migration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureReady() error {
	if s == nil || s.db == nil {
		return ErrNotInitialised
	}
	return nil
}

// Close releases the underlying database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

type documentRow struct {
	Extracted sql.NullString `db:"extracted_json"`
	CreatedAt string         `db:"created_at"`
}

// GetDocument implements Store.
func (s *SQLiteStore) GetDocument(ctx context.Context, hash string, role document.Role) (*document.Record, bool, error) {
	if err := s.ensureReady(); err != nil {
		return nil, false, err
	}
	if !s.cfg.Enabled {
		return nil, false, nil
	}
	var row documentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT extracted_json, created_at FROM document_cache
                 WHERE file_hash = ? AND doc_type = ?
                 ORDER BY id DESC LIMIT 1`, hash, string(role))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select document cache: %w", err)
	}
	if s.expired(row.CreatedAt) {
		return nil, false, nil
	}
	if !row.Extracted.Valid {
		return nil, false, nil
	}
	var record document.Record
	if err := json.Unmarshal([]byte(row.Extracted.String), &record); err != nil {
		return nil, false, fmt.Errorf("decode cached document: %w", err)
	}
	return &record, true, nil
}

// PutDocument implements Store. The upsert is a single statement so
// concurrent writers to the same (hash, role) pair serialize in the engine.
func (s *SQLiteStore) PutDocument(ctx context.Context, hash string, role document.Role, filename string, record *document.Record) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if !s.cfg.Enabled {
		return nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode document record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO document_cache (file_hash, doc_type, filename, extracted_json, created_at)
                 VALUES (?, ?, ?, ?, ?)
                 ON CONFLICT(file_hash, doc_type) DO UPDATE SET
                        filename = excluded.filename,
                        extracted_json = excluded.extracted_json,
                        created_at = excluded.created_at`,
		hash, string(role), filename, string(payload), s.nowString())
	if err != nil {
		return fmt.Errorf("upsert document cache: %w", err)
	}
	return nil
}

// DeleteDocument implements Store.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, hash string, role document.Role) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if !s.cfg.Enabled {
		return nil
	}
	var err error
	if role == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM document_cache WHERE file_hash = ?`, hash)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM document_cache WHERE file_hash = ? AND doc_type = ?`, hash, string(role))
	}
	if err != nil {
		return fmt.Errorf("delete document cache: %w", err)
	}
	return nil
}

type workflowRow struct {
	Report    string `db:"report_json"`
	CreatedAt string `db:"created_at"`
}

// GetWorkflow implements Store.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, key string) (*report.Workflow, bool, error) {
	if err := s.ensureReady(); err != nil {
		return nil, false, err
	}
	if !s.cfg.Enabled {
		return nil, false, nil
	}
	var row workflowRow
	err := s.db.GetContext(ctx, &row,
		`SELECT report_json, created_at FROM workflow_cache WHERE workflow_hash = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select workflow cache: %w", err)
	}
	if s.expired(row.CreatedAt) {
		return nil, false, nil
	}
	var wf report.Workflow
	if err := json.Unmarshal([]byte(row.Report), &wf); err != nil {
		return nil, false, fmt.Errorf("decode cached workflow report: %w", err)
	}
	// A hit refreshes last_access only; created_at keeps the original
	// write time so the TTL window never slides.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE workflow_cache SET last_access = ? WHERE workflow_hash = ?`,
		s.nowString(), key); err != nil {
		return nil, false, fmt.Errorf("touch workflow cache: %w", err)
	}
	return &wf, true, nil
}

// PutWorkflow implements Store.
func (s *SQLiteStore) PutWorkflow(ctx context.Context, key, blHash, invoiceHash, packingHash string, wf *report.Workflow) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if !s.cfg.Enabled {
		return nil
	}
	payload, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow report: %w", err)
	}
	var packing interface{}
	if strings.TrimSpace(packingHash) != "" {
		packing = packingHash
	}
	now := s.nowString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_cache (workflow_hash, bl_hash, invoice_hash, packing_hash, report_json, created_at, last_access)
                 VALUES (?, ?, ?, ?, ?, ?, ?)
                 ON CONFLICT(workflow_hash) DO UPDATE SET
                        bl_hash = excluded.bl_hash,
                        invoice_hash = excluded.invoice_hash,
                        packing_hash = excluded.packing_hash,
                        report_json = excluded.report_json,
                        created_at = excluded.created_at,
                        last_access = excluded.last_access`,
		key, blHash, invoiceHash, packing, string(payload), now, now)
	if err != nil {
		return fmt.Errorf("upsert workflow cache: %w", err)
	}
	return nil
}

// DeleteWorkflow implements Store.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, key string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if !s.cfg.Enabled {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_cache WHERE workflow_hash = ?`, key); err != nil {
		return fmt.Errorf("delete workflow cache: %w", err)
	}
	return nil
}

func (s *SQLiteStore) nowString() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// expired parses the stored timestamp and applies the TTL window. Rows with
// unparseable timestamps are treated as live, matching the read-side
// tolerance for legacy rows.
func (s *SQLiteStore) expired(createdAt string) bool {
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return false
	}
	return s.cfg.expired(created, s.now())
}
