package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/assetsearch/pkg/types"
)

func setupTestDB(t *testing.T, opts ...Option) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:", opts...)
	require.NoError(t, err)
	require.NotNil(t, storage)
	return storage
}

var (
	chair = types.AssetIdentity{Path: "/Game/Props/Chair", Type: "StaticMesh"}
	table = types.AssetIdentity{Path: "/Game/Props/Table", Type: "StaticMesh"}
	lamp  = types.AssetIdentity{Path: "/Game/Props/Lamp", Type: "StaticMesh"}
)

func colorProps(color string) []types.Property {
	return []types.Property{
		{
			ObjectName:    "Chair",
			ObjectPath:    "/Game/Props/Chair",
			PropertyName:  "Color",
			PropertyField: "color",
			PropertyClass: "string",
			ValueText:     color,
		},
		{
			ObjectName:    "Chair",
			ObjectPath:    "/Game/Props/Chair",
			PropertyName:  "Legs",
			PropertyField: "legs",
			PropertyClass: "number",
			ValueText:     "4",
		},
	}
}

func collect(t *testing.T, s *SQLiteStorage, match string) []types.SearchHit {
	t.Helper()
	hits := make([]types.SearchHit, 0)
	err := s.Search(context.Background(), match, 0, func(hit types.SearchHit) bool {
		hits = append(hits, hit)
		return true
	})
	require.NoError(t, err)
	return hits
}

// assertProjectionConsistent checks that the full-text projection holds
// exactly the rows of asset_properties, keyed by property id
func assertProjectionConsistent(t *testing.T, s *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()

	read := func(query string) []string {
		rows, err := s.db.QueryContext(ctx, query)
		require.NoError(t, err)
		defer func() { _ = rows.Close() }()

		out := make([]string, 0)
		for rows.Next() {
			var id int64
			var assetName, assetPath, propertyName, valueText string
			require.NoError(t, rows.Scan(&id, &assetName, &assetPath, &propertyName, &valueText))
			out = append(out, fmt.Sprintf("%d|%s|%s|%s|%s", id, assetName, assetPath, propertyName, valueText))
		}
		require.NoError(t, rows.Err())
		return out
	}

	view := read(`SELECT id, asset_name, asset_path, property_name, value_text FROM asset_properties ORDER BY id`)
	fts := read(`SELECT rowid, asset_name, asset_path, property_name, value_text FROM properties_fts ORDER BY rowid`)
	assert.Equal(t, view, fts)
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	assert.NotNil(t, storage.db)
	assert.Equal(t, DefaultReconcileBatch, storage.reconcileBatch)

	version, err := schemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestClose(t *testing.T) {
	storage := setupTestDB(t)
	err := storage.Close()
	assert.NoError(t, err)

	assert.ErrorIs(t, storage.Close(), ErrClosed)
	_, err = storage.IsUpToDate(context.Background(), chair, "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAddOrUpdate_Searchable(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("red"), "k1"))

	hits := collect(t, storage, `"red"*`)
	require.Len(t, hits, 1)
	hit := hits[0]
	assert.Equal(t, "Chair", hit.AssetName)
	assert.Equal(t, "StaticMesh", hit.AssetType)
	assert.Equal(t, "/Game/Props/Chair", hit.AssetPath)
	assert.Equal(t, "Color", hit.PropertyName)
	assert.Equal(t, "color", hit.PropertyField)
	assert.Equal(t, "string", hit.PropertyClass)
	assert.Equal(t, "red", hit.ValueText)
	assert.Equal(t, chair, hit.Identity())

	asset, err := storage.GetAsset(ctx, chair.Path)
	require.NoError(t, err)
	assert.Equal(t, "k1", asset.IndexHash)
	assert.Equal(t, chair, asset.Identity())

	assertProjectionConsistent(t, storage)
}

func TestAddOrUpdate_ReplacesProperties(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("red"), "k1"))
	require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("blue"), "k2"))

	assert.Empty(t, collect(t, storage, `"red"*`))
	assert.Len(t, collect(t, storage, `"blue"*`), 1)

	count, err := storage.CountIndexedProperties(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	assets, err := storage.CountAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), assets)

	assertProjectionConsistent(t, storage)
}

func TestPropertyUpdate_KeepsProjectionInSync(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("red"), "k1"))
	require.NoError(t, storage.AddOrUpdate(ctx, table, colorProps("red"), "k2"))

	res, err := storage.db.ExecContext(ctx,
		`UPDATE properties SET value_text = 'green'
		 WHERE property_name = 'Color'
		   AND asset_id = (SELECT id FROM assets WHERE path = ?)`, chair.Path)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	assertProjectionConsistent(t, storage)

	green := collect(t, storage, `"green"*`)
	require.Len(t, green, 1)
	assert.Equal(t, chair, green[0].Identity())
	assert.Equal(t, []string{table.Path}, hitPathsOf(collect(t, storage, `"red"*`)))

	count, err := storage.CountIndexedProperties(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	projected, err := storage.CountProjection(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, projected)
}

func hitPathsOf(hits []types.SearchHit) []string {
	paths := make([]string, len(hits))
	for i, h := range hits {
		paths[i] = h.AssetPath
	}
	return paths
}

func TestAddOrUpdate_Idempotent(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("red"), "k1"))
	}

	props, err := storage.ListProperties(ctx, chair.Path)
	require.NoError(t, err)
	assert.Equal(t, colorProps("red"), props)

	projection, err := storage.CountProjection(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), projection)
	assertProjectionConsistent(t, storage)
}

func TestAddOrUpdate_NoProperties(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, storage.AddOrUpdate(ctx, chair, nil, "k1"))

	upToDate, err := storage.IsUpToDate(ctx, chair, "k1")
	require.NoError(t, err)
	assert.True(t, upToDate)

	count, err := storage.CountIndexedProperties(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAddOrUpdate_InvalidIdentity(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	err := storage.AddOrUpdate(context.Background(), types.AssetIdentity{Type: "StaticMesh"}, nil, "k")
	assert.ErrorIs(t, err, types.ErrEmptyAssetPath)
}

func TestHiddenValueSearchable(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	props := []types.Property{{
		ObjectName:   "Chair",
		PropertyName: "Material",
		ValueText:    "Wood",
		ValueHidden:  "MI_Oak_Varnished",
	}}
	require.NoError(t, storage.AddOrUpdate(ctx, chair, props, "k1"))

	hits := collect(t, storage, `"varnished"*`)
	require.Len(t, hits, 1)
	assert.Equal(t, "MI_Oak_Varnished", hits[0].ValueHidden)
	assert.Equal(t, "Wood", hits[0].ValueText)
}

func TestIsUpToDate(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()

	upToDate, err := storage.IsUpToDate(ctx, chair, "k1")
	require.NoError(t, err)
	assert.False(t, upToDate, "unknown asset is never up to date")

	require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("red"), "k1"))

	upToDate, err = storage.IsUpToDate(ctx, chair, "k1")
	require.NoError(t, err)
	assert.True(t, upToDate)

	upToDate, err = storage.IsUpToDate(ctx, chair, "k2")
	require.NoError(t, err)
	assert.False(t, upToDate)
}

func TestRemove_Cascades(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("red"), "k1"))
	require.NoError(t, storage.AddOrUpdate(ctx, table, colorProps("green"), "k1"))

	require.NoError(t, storage.Remove(ctx, chair))

	_, err := storage.GetAsset(ctx, chair.Path)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, collect(t, storage, `"red"*`))
	assert.Len(t, collect(t, storage, `"green"*`), 1)

	count, err := storage.CountIndexedProperties(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assertProjectionConsistent(t, storage)

	// Removing again is a no-op
	assert.NoError(t, storage.Remove(ctx, chair))
}

func TestReconcileAgainstSnapshot(t *testing.T) {
	tests := []struct {
		name  string
		batch int
	}{
		{"single batch", 0},
		{"one per batch", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := setupTestDB(t, WithReconcileBatch(tt.batch))
			defer storage.Close()

			ctx := context.Background()
			for _, id := range []types.AssetIdentity{chair, table, lamp} {
				require.NoError(t, storage.AddOrUpdate(ctx, id, colorProps("red"), "k1"))
			}

			removed, err := storage.ReconcileAgainstSnapshot(ctx, []string{chair.Path, lamp.Path})
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			paths, err := storage.ListAssetPaths(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{chair.Path, lamp.Path}, paths)
			assertProjectionConsistent(t, storage)
		})
	}
}

func TestReconcileAgainstSnapshot_EmptySnapshot(t *testing.T) {
	storage := setupTestDB(t, WithReconcileBatch(2))
	defer storage.Close()

	ctx := context.Background()
	for _, id := range []types.AssetIdentity{chair, table, lamp} {
		require.NoError(t, storage.AddOrUpdate(ctx, id, colorProps("red"), "k1"))
	}

	removed, err := storage.ReconcileAgainstSnapshot(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	projection, err := storage.CountProjection(ctx)
	require.NoError(t, err)
	assert.Zero(t, projection)
}

func TestSearch_EmptyExpression(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	require.NoError(t, storage.AddOrUpdate(context.Background(), chair, colorProps("red"), "k1"))
	assert.Empty(t, collect(t, storage, ""))
}

func TestSearch_StopsEarly(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	for _, id := range []types.AssetIdentity{chair, table, lamp} {
		require.NoError(t, storage.AddOrUpdate(ctx, id, colorProps("red"), "k1"))
	}

	seen := 0
	err := storage.Search(ctx, `"red"*`, 0, func(types.SearchHit) bool {
		seen++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestSearch_LimitAndRanking(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	for _, id := range []types.AssetIdentity{chair, table, lamp} {
		require.NoError(t, storage.AddOrUpdate(ctx, id, colorProps("red"), "k1"))
	}

	var scores []float64
	err := storage.Search(ctx, `"red"*`, 2, func(hit types.SearchHit) bool {
		scores = append(scores, hit.Score)
		return true
	})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.LessOrEqual(t, scores[0], scores[1])
}

func TestSearch_InvalidExpression(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	err := storage.Search(context.Background(), `"unterminated`, 0, func(types.SearchHit) bool { return true })
	assert.Error(t, err)
}

func TestFileRecords(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	_, err := storage.GetFileRecord(ctx, "/game/props/chair.json")
	assert.ErrorIs(t, err, ErrNotFound)

	modTime := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	rec := &FileRecord{Path: "/game/props/chair.json", ModTime: modTime, Hash: "abc"}
	require.NoError(t, storage.UpsertFileRecord(ctx, rec))

	got, err := storage.GetFileRecord(ctx, rec.Path)
	require.NoError(t, err)
	assert.Equal(t, rec.Path, got.Path)
	assert.True(t, modTime.Equal(got.ModTime))
	assert.Equal(t, "abc", got.Hash)

	rec.Hash = "def"
	require.NoError(t, storage.UpsertFileRecord(ctx, rec))
	got, err = storage.GetFileRecord(ctx, rec.Path)
	require.NoError(t, err)
	assert.Equal(t, "def", got.Hash)
}

func TestReset(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("red"), "k1"))
	require.NoError(t, storage.Reset(ctx))

	paths, err := storage.ListAssetPaths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)

	// Prepared statements work against the recreated schema
	require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("red"), "k1"))
	assert.Len(t, collect(t, storage, `"red"*`), 1)
}

func TestVacuum(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("red"), "k1"))
	assert.NoError(t, storage.Vacuum(ctx))

	size, err := storage.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

// stampVersion creates a database file carrying the given user_version and a
// marker table
func stampVersion(t *testing.T, path string, version int) {
	t.Helper()
	db, err := sql.Open(DriverName, path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE marker (x INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	require.NoError(t, err)
}

func TestSchema_OlderVersionRecreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	stampVersion(t, path, SchemaVersion-1)

	storage, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer storage.Close()

	var markers int
	err = storage.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'marker'`).Scan(&markers)
	require.NoError(t, err)
	assert.Zero(t, markers, "outdated database should be discarded")

	version, err := schemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestSchema_NewerVersionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	stampVersion(t, path, SchemaVersion+1)

	_, err := NewSQLiteStorage(path)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestSchema_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	storage, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, storage.AddOrUpdate(ctx, chair, colorProps("red"), "k1"))
	require.NoError(t, storage.Close())

	storage, err = NewSQLiteStorage(path)
	require.NoError(t, err)
	defer storage.Close()

	upToDate, err := storage.IsUpToDate(ctx, chair, "k1")
	require.NoError(t, err)
	assert.True(t, upToDate)
}
