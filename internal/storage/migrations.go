package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// SchemaVersion is stored in PRAGMA user_version. A database with an
	// older version is deleted and recreated; a newer one is refused.
	SchemaVersion = 2
)

// ErrSchemaTooNew is returned when the database was written by a newer build
var ErrSchemaTooNew = errors.New("database schema is newer than supported")

const schemaUp = `
-- Backing files and their last known content hash
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL,
    mod_time INTEGER NOT NULL,
    hash TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_files_path ON files(path);

-- Indexed assets
CREATE TABLE IF NOT EXISTS assets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    path TEXT NOT NULL,
    index_hash TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_path ON assets(path);

-- Extracted properties, many per asset
CREATE TABLE IF NOT EXISTS properties (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    asset_id INTEGER NOT NULL,
    object_name TEXT NOT NULL,
    object_path TEXT NOT NULL,
    object_native_class TEXT NOT NULL,
    property_name TEXT NOT NULL,
    property_field TEXT NOT NULL,
    property_class TEXT NOT NULL,
    value_text TEXT NOT NULL,
    value_hidden TEXT,
    FOREIGN KEY (asset_id) REFERENCES assets(id)
);

CREATE INDEX IF NOT EXISTS idx_properties_asset ON properties(asset_id);

-- Join of assets and properties
CREATE VIEW IF NOT EXISTS asset_properties AS
    SELECT p.id AS id, a.id AS asset_id,
           a.name AS asset_name, a.type AS asset_type, a.path AS asset_path,
           p.object_name, p.object_path, p.object_native_class,
           p.property_name, p.property_field, p.property_class,
           p.value_text, p.value_hidden
    FROM properties p
    JOIN assets a ON a.id = p.asset_id;

-- Full-text projection of asset_properties keyed by properties.id
CREATE VIRTUAL TABLE IF NOT EXISTS properties_fts USING fts5(
    asset_name,
    asset_type,
    asset_path UNINDEXED,
    object_name,
    object_path UNINDEXED,
    object_native_class UNINDEXED,
    property_name,
    property_field UNINDEXED,
    property_class UNINDEXED,
    value_text,
    value_hidden,
    asset_id UNINDEXED,
    tokenize = 'unicode61'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS properties_ai AFTER INSERT ON properties BEGIN
    INSERT INTO properties_fts(rowid, asset_name, asset_type, asset_path,
        object_name, object_path, object_native_class,
        property_name, property_field, property_class,
        value_text, value_hidden, asset_id)
    SELECT new.id, a.name, a.type, a.path,
        new.object_name, new.object_path, new.object_native_class,
        new.property_name, new.property_field, new.property_class,
        new.value_text, new.value_hidden, a.id
    FROM assets a WHERE a.id = new.asset_id;
END;

CREATE TRIGGER IF NOT EXISTS properties_ad AFTER DELETE ON properties BEGIN
    DELETE FROM properties_fts WHERE rowid = old.id;
END;

CREATE TRIGGER IF NOT EXISTS properties_au AFTER UPDATE ON properties BEGIN
    DELETE FROM properties_fts WHERE rowid = old.id;
    INSERT INTO properties_fts(rowid, asset_name, asset_type, asset_path,
        object_name, object_path, object_native_class,
        property_name, property_field, property_class,
        value_text, value_hidden, asset_id)
    SELECT new.id, a.name, a.type, a.path,
        new.object_name, new.object_path, new.object_native_class,
        new.property_name, new.property_field, new.property_class,
        new.value_text, new.value_hidden, a.id
    FROM assets a WHERE a.id = new.asset_id;
END;

-- Deleting an asset removes its properties
CREATE TRIGGER IF NOT EXISTS assets_bd BEFORE DELETE ON assets BEGIN
    DELETE FROM properties WHERE asset_id = old.id;
END;
`

const schemaDown = `
DROP TRIGGER IF EXISTS assets_bd;
DROP TRIGGER IF EXISTS properties_au;
DROP TRIGGER IF EXISTS properties_ad;
DROP TRIGGER IF EXISTS properties_ai;

DROP TABLE IF EXISTS properties_fts;
DROP VIEW IF EXISTS asset_properties;
DROP TABLE IF EXISTS properties;
DROP TABLE IF EXISTS assets;
DROP TABLE IF EXISTS files;
`

// schemaVersion reads PRAGMA user_version; 0 means a fresh database
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// ApplySchema creates all tables, the FTS projection and its triggers, then
// stamps the current schema version
func ApplySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaUp); err != nil {
		return fmt.Errorf("failed to apply schema v%d: %w", SchemaVersion, err)
	}
	// PRAGMA does not accept bound parameters
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// DropSchema removes every object created by ApplySchema
func DropSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDown); err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA user_version = 0"); err != nil {
		return fmt.Errorf("failed to reset schema version: %w", err)
	}
	return nil
}

func isMemoryPath(dbPath string) bool {
	return dbPath == "" || dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// removeDatabaseFiles deletes the database and its WAL side files
func removeDatabaseFiles(dbPath string) error {
	if isMemoryPath(dbPath) {
		return nil
	}
	path := strings.TrimPrefix(dbPath, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
