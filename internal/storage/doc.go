// Package storage provides SQLite-based persistence for the asset search index.
//
// The storage layer manages:
//   - Indexed assets and the cache key that produced each one
//   - Extracted properties, many per asset
//   - Backing file records (modification time and content hash)
//   - An FTS5 full-text projection of assets joined with their properties
//
// # Database Schema
//
// Tables:
//   - files: backing file path, modification time and SHA-256 hash
//   - assets: name, type, unique path and index_hash
//   - properties: object and property fields plus value text, keyed to assets
//   - asset_properties: view joining assets and properties
//   - properties_fts: FTS5 projection of asset_properties, keyed by property id
//
// Triggers keep properties_fts equal to asset_properties after every insert,
// update and delete. Deleting an asset deletes its properties first.
//
// The schema version lives in PRAGMA user_version. Opening a database with
// an older version discards it; a newer version fails with ErrSchemaTooNew.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(".assetsearch/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	id := types.AssetIdentity{Path: "/Game/Props/Chair", Type: "StaticMesh"}
//	upToDate, err := store.IsUpToDate(ctx, id, key)
//	if !upToDate {
//	    err = store.AddOrUpdate(ctx, id, props, key)
//	}
//
//	err = store.Search(ctx, `"chair"*`, 100, func(hit types.SearchHit) bool {
//	    fmt.Println(hit.AssetPath, hit.PropertyName, hit.ValueText)
//	    return true
//	})
//
// # Build Tags
//
// Pure Go build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build -tags "purego"
//
// CGO build (cgo_sqlite tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires a C compiler and the sqlite_fts5 tag
//
//     CGO_ENABLED=1 go build -tags "cgo_sqlite,sqlite_fts5"
//
// A SQLiteStorage is not safe for concurrent use; the indexing pipeline's
// worker goroutine is its only user.
package storage
