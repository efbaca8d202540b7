package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/assetsearch/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned when the storage is used after Close
	ErrClosed = errors.New("storage closed")
)

var _ Storage = (*SQLiteStorage)(nil)

// DefaultReconcileBatch is the number of asset deletions per reconcile transaction
const DefaultReconcileBatch = 512

// Option configures a SQLiteStorage
type Option func(*SQLiteStorage)

// WithReconcileBatch sets how many stale assets are deleted per transaction
// during ReconcileAgainstSnapshot. Values <= 0 are ignored.
func WithReconcileBatch(n int) Option {
	return func(s *SQLiteStorage) {
		if n > 0 {
			s.reconcileBatch = n
		}
	}
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db             *sql.DB
	path           string
	stmts          *statements
	reconcileBatch int
}

// statements holds the prepared statements used on the indexing hot path
type statements struct {
	selectIndexHash *sql.Stmt
	deleteAsset     *sql.Stmt
	insertAsset     *sql.Stmt
	insertProperty  *sql.Stmt
	selectFile      *sql.Stmt
	upsertFile      *sql.Stmt
}

const (
	selectIndexHashSQL = `SELECT index_hash FROM assets WHERE path = ?`
	deleteAssetSQL     = `DELETE FROM assets WHERE path = ?`
	insertAssetSQL     = `INSERT INTO assets (name, type, path, index_hash) VALUES (?, ?, ?, ?)`
	insertPropertySQL  = `
		INSERT INTO properties (asset_id, object_name, object_path, object_native_class,
			property_name, property_field, property_class, value_text, value_hidden)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	selectFileSQL = `SELECT path, mod_time, hash FROM files WHERE path = ?`
	upsertFileSQL = `
		INSERT INTO files (path, mod_time, hash)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mod_time = excluded.mod_time,
			hash = excluded.hash
	`
)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// A single connection owns the database; this also keeps an in-memory
	// database alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=OFF",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// NewSQLiteStorage opens or creates the index database at dbPath.
//
// A database stamped with an older schema version is deleted together with
// its WAL files and recreated empty. A newer schema version fails with
// ErrSchemaTooNew and leaves the file untouched.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	ctx := context.Background()

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	version, err := schemaVersion(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	switch {
	case version > SchemaVersion:
		_ = db.Close()
		return nil, fmt.Errorf("%w: found v%d, supported v%d", ErrSchemaTooNew, version, SchemaVersion)
	case version != 0 && version < SchemaVersion:
		_ = db.Close()
		if err := removeDatabaseFiles(dbPath); err != nil {
			return nil, fmt.Errorf("failed to discard outdated database: %w", err)
		}
		db, err = openDatabase(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to recreate database: %w", err)
		}
	}

	if err := ApplySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStorage{
		db:             db,
		path:           dbPath,
		reconcileBatch: DefaultReconcileBatch,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.prepare(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) prepare(ctx context.Context) error {
	var st statements
	targets := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&st.selectIndexHash, selectIndexHashSQL},
		{&st.deleteAsset, deleteAssetSQL},
		{&st.insertAsset, insertAssetSQL},
		{&st.insertProperty, insertPropertySQL},
		{&st.selectFile, selectFileSQL},
		{&st.upsertFile, upsertFileSQL},
	}
	for _, t := range targets {
		stmt, err := s.db.PrepareContext(ctx, t.query)
		if err != nil {
			st.close()
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		*t.dst = stmt
	}
	s.stmts = &st
	return nil
}

func (st *statements) close() {
	for _, stmt := range []*sql.Stmt{
		st.selectIndexHash, st.deleteAsset, st.insertAsset,
		st.insertProperty, st.selectFile, st.upsertFile,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// Path returns the database path the storage was opened with
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return ErrClosed
	}
	if s.stmts != nil {
		s.stmts.close()
		s.stmts = nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// withTx runs fn inside a transaction, committing on success
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Asset operations

// IsUpToDate reports whether the stored index hash for id equals cacheKey
func (s *SQLiteStorage) IsUpToDate(ctx context.Context, id types.AssetIdentity, cacheKey string) (bool, error) {
	if s.db == nil {
		return false, ErrClosed
	}
	var stored string
	err := s.stmts.selectIndexHash.QueryRowContext(ctx, id.Path).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read index hash: %w", err)
	}
	return stored == cacheKey, nil
}

// AddOrUpdate atomically replaces the stored properties of id with props
// and records cacheKey as the asset's index hash
func (s *SQLiteStorage) AddOrUpdate(ctx context.Context, id types.AssetIdentity, props []types.Property, cacheKey string) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.StmtContext(ctx, s.stmts.deleteAsset).ExecContext(ctx, id.Path); err != nil {
			return fmt.Errorf("failed to delete previous asset: %w", err)
		}

		res, err := tx.StmtContext(ctx, s.stmts.insertAsset).ExecContext(ctx, id.Name(), id.Type, id.Path, cacheKey)
		if err != nil {
			return fmt.Errorf("failed to insert asset: %w", err)
		}
		assetID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read asset id: %w", err)
		}

		insert := tx.StmtContext(ctx, s.stmts.insertProperty)
		for i := range props {
			p := &props[i]
			_, err := insert.ExecContext(ctx, assetID,
				p.ObjectName, p.ObjectPath, p.ObjectNativeClass,
				p.PropertyName, p.PropertyField, p.PropertyClass,
				p.ValueText, nullString(p.ValueHidden))
			if err != nil {
				return fmt.Errorf("failed to insert property %q: %w", p.PropertyField, err)
			}
		}
		return nil
	})
}

// removeWithQuerier deletes one asset; the assets_bd trigger removes its properties
func (s *SQLiteStorage) removeWithQuerier(ctx context.Context, q querier, path string) (int64, error) {
	res, err := q.ExecContext(ctx, deleteAssetSQL, path)
	if err != nil {
		return 0, fmt.Errorf("failed to delete asset: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes the asset and all of its properties. Removing an unknown
// asset is a no-op.
func (s *SQLiteStorage) Remove(ctx context.Context, id types.AssetIdentity) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.removeWithQuerier(ctx, tx, id.Path)
		return err
	})
}

// ReconcileAgainstSnapshot deletes every stored asset whose path is absent
// from knownPaths. Deletions are committed in batches so a large cleanup
// never holds one long write transaction.
func (s *SQLiteStorage) ReconcileAgainstSnapshot(ctx context.Context, knownPaths []string) (int, error) {
	known := make(map[string]struct{}, len(knownPaths))
	for _, p := range knownPaths {
		known[p] = struct{}{}
	}

	// Collect first; the cursor must be closed before deleting
	stored, err := s.ListAssetPaths(ctx)
	if err != nil {
		return 0, err
	}
	stale := make([]string, 0)
	for _, p := range stored {
		if _, ok := known[p]; !ok {
			stale = append(stale, p)
		}
	}

	removed := 0
	for start := 0; start < len(stale); start += s.reconcileBatch {
		end := min(start+s.reconcileBatch, len(stale))
		batch := stale[start:end]
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for _, p := range batch {
				n, err := s.removeWithQuerier(ctx, tx, p)
				if err != nil {
					return err
				}
				removed += int(n)
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to reconcile assets: %w", err)
		}
	}
	return removed, nil
}

// getAssetWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getAssetWithQuerier(ctx context.Context, q querier, path string) (*Asset, error) {
	query := `SELECT id, name, type, path, index_hash FROM assets WHERE path = ?`
	var a Asset
	err := q.QueryRowContext(ctx, query, path).Scan(&a.ID, &a.Name, &a.Type, &a.Path, &a.IndexHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStorage) GetAsset(ctx context.Context, path string) (*Asset, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.getAssetWithQuerier(ctx, s.querier(), path)
}

// ListAssetPaths returns every stored asset path in ascending order
func (s *SQLiteStorage) ListAssetPaths(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM assets ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ListProperties returns the stored properties of one asset in insertion order
func (s *SQLiteStorage) ListProperties(ctx context.Context, path string) ([]types.Property, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	query := `
		SELECT object_name, object_path, object_native_class,
		       property_name, property_field, property_class,
		       value_text, value_hidden
		FROM asset_properties
		WHERE asset_path = ?
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer func() { _ = rows.Close() }()

	props := make([]types.Property, 0)
	for rows.Next() {
		var p types.Property
		var hidden sql.NullString
		err := rows.Scan(
			&p.ObjectName, &p.ObjectPath, &p.ObjectNativeClass,
			&p.PropertyName, &p.PropertyField, &p.PropertyClass,
			&p.ValueText, &hidden,
		)
		if err != nil {
			return nil, err
		}
		p.ValueHidden = hidden.String
		props = append(props, p)
	}
	return props, rows.Err()
}

// File operations

// GetFileRecord returns the last recorded state of a backing file
func (s *SQLiteStorage) GetFileRecord(ctx context.Context, path string) (*FileRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var rec FileRecord
	var modTime int64
	err := s.stmts.selectFile.QueryRowContext(ctx, path).Scan(&rec.Path, &modTime, &rec.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file record: %w", err)
	}
	rec.ModTime = time.Unix(0, modTime).UTC()
	return &rec, nil
}

// UpsertFileRecord inserts or replaces the record for file.Path
func (s *SQLiteStorage) UpsertFileRecord(ctx context.Context, file *FileRecord) error {
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.stmts.upsertFile.ExecContext(ctx, file.Path, file.ModTime.UnixNano(), file.Hash)
	if err != nil {
		return fmt.Errorf("failed to upsert file record: %w", err)
	}
	return nil
}

// Search operations

// Search runs an FTS5 MATCH expression and streams hits, best first, to fn.
// Iteration stops early when fn returns false. An empty expression yields
// no hits. limit <= 0 means unbounded.
func (s *SQLiteStorage) Search(ctx context.Context, match string, limit int, fn func(types.SearchHit) bool) error {
	if s.db == nil {
		return ErrClosed
	}
	if match == "" {
		return nil
	}
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT asset_name, asset_type, asset_path,
		       object_name, object_path, object_native_class,
		       property_name, property_field, property_class,
		       value_text, value_hidden, rank
		FROM properties_fts
		WHERE properties_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, match, limit)
	if err != nil {
		return fmt.Errorf("failed to search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var hit types.SearchHit
		var hidden sql.NullString
		err := rows.Scan(
			&hit.AssetName, &hit.AssetType, &hit.AssetPath,
			&hit.ObjectName, &hit.ObjectPath, &hit.ObjectNativeClass,
			&hit.PropertyName, &hit.PropertyField, &hit.PropertyClass,
			&hit.ValueText, &hidden, &hit.Score,
		)
		if err != nil {
			return fmt.Errorf("failed to scan hit: %w", err)
		}
		hit.ValueHidden = hidden.String
		if !fn(hit) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to search: %w", err)
	}
	return nil
}

// CountIndexedProperties returns the number of stored property rows
func (s *SQLiteStorage) CountIndexedProperties(ctx context.Context) (int64, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM properties")
}

// CountAssets returns the number of stored assets
func (s *SQLiteStorage) CountAssets(ctx context.Context) (int64, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM assets")
}

// CountProjection returns the number of rows in the full-text projection
func (s *SQLiteStorage) CountProjection(ctx context.Context) (int64, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM properties_fts")
}

func (s *SQLiteStorage) count(ctx context.Context, query string) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// SizeBytes returns the database size computed from its page count
func (s *SQLiteStorage) SizeBytes(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, err
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pageCount * pageSize, nil
}

// Database operations

// Vacuum optimizes the FTS index and compacts the database file
func (s *SQLiteStorage) Vacuum(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO properties_fts(properties_fts) VALUES('optimize')"); err != nil {
		return fmt.Errorf("failed to optimize fts index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	return nil
}

// Reset drops and recreates the schema, discarding all indexed data
func (s *SQLiteStorage) Reset(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	s.stmts.close()
	s.stmts = nil
	if err := DropSchema(ctx, s.db); err != nil {
		return err
	}
	if err := ApplySchema(ctx, s.db); err != nil {
		return err
	}
	return s.prepare(ctx)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
