package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/assetsearch/internal/ddc"
	"github.com/dshills/assetsearch/internal/extractor"
	"github.com/dshills/assetsearch/internal/inventory"
	"github.com/dshills/assetsearch/internal/pipeline"
	"github.com/dshills/assetsearch/internal/storage"
	"github.com/dshills/assetsearch/pkg/types"
)

// fakeIndex answers searches synchronously from a fixed hit list
type fakeIndex struct {
	enabled   bool
	hits      []types.SearchHit
	searchErr error
	silent    bool // never call onDone
	stats     pipeline.Stats
	missing   []types.AssetIdentity
	forced    int
	queries   []string
}

func (f *fakeIndex) Enabled() bool { return f.enabled }

func (f *fakeIndex) Search(q string, onHit func(types.SearchHit) bool, onDone func(error)) {
	f.queries = append(f.queries, q)
	if f.silent {
		return
	}
	for _, hit := range f.hits {
		if !onHit(hit) {
			break
		}
	}
	onDone(f.searchErr)
}

func (f *fakeIndex) Stats() pipeline.Stats                { return f.stats }
func (f *fakeIndex) MissingAssets() []types.AssetIdentity { return f.missing }

func (f *fakeIndex) ForceReindexMissing() int {
	f.forced++
	return len(f.missing)
}

func newTestServer(t *testing.T, index Index) *Server {
	t.Helper()
	s, err := NewServer(index, log.New(os.Stderr))
	require.NoError(t, err)
	return s
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func sampleHits(n int) []types.SearchHit {
	hits := make([]types.SearchHit, n)
	for i := range hits {
		hits[i] = types.SearchHit{
			AssetName: "Chair", AssetType: "StaticMesh", AssetPath: "/Game/Chair",
			PropertyName: "color", ValueText: "red", Score: float64(-i),
		}
	}
	return hits
}

func TestNewServer_RequiresIndex(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestSearchAssets(t *testing.T) {
	index := &fakeIndex{enabled: true, hits: sampleHits(3)}
	s := newTestServer(t, index)

	result, err := s.handleSearchAssets(context.Background(), callRequest(searchAssetsName, map[string]interface{}{
		"query": "red chair",
	}))
	require.NoError(t, err)

	out := decodeResult(t, result)
	assert.Equal(t, "red chair", out["query"])
	assert.Equal(t, float64(3), out["count"])
	hits := out["hits"].([]interface{})
	require.Len(t, hits, 3)
	first := hits[0].(map[string]interface{})
	assert.Equal(t, "/Game/Chair", first["asset_path"])
	assert.Equal(t, "red", first["value_text"])
	assert.Equal(t, []string{"red chair"}, index.queries)
}

func TestSearchAssets_LimitStopsSearch(t *testing.T) {
	index := &fakeIndex{enabled: true, hits: sampleHits(10)}
	s := newTestServer(t, index)

	result, err := s.handleSearchAssets(context.Background(), callRequest(searchAssetsName, map[string]interface{}{
		"query": "red",
		"limit": float64(4),
	}))
	require.NoError(t, err)
	assert.Equal(t, float64(4), decodeResult(t, result)["count"])
}

func TestSearchAssets_InvalidParams(t *testing.T) {
	s := newTestServer(t, &fakeIndex{enabled: true})

	tests := []struct {
		name string
		args interface{}
		code int
	}{
		{"non-object arguments", "red", ErrorCodeInvalidParams},
		{"missing query", map[string]interface{}{}, ErrorCodeEmptyQuery},
		{"blank query", map[string]interface{}{"query": "   "}, ErrorCodeEmptyQuery},
		{"zero limit", map[string]interface{}{"query": "red", "limit": float64(0)}, ErrorCodeInvalidParams},
		{"limit too large", map[string]interface{}{"query": "red", "limit": float64(maxSearchLimit + 1)}, ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req mcp.CallToolRequest
			req.Params.Name = searchAssetsName
			req.Params.Arguments = tt.args

			_, err := s.handleSearchAssets(context.Background(), req)
			requireMCPError(t, err, tt.code)
		})
	}
}

func TestSearchAssets_Disabled(t *testing.T) {
	s := newTestServer(t, &fakeIndex{enabled: false})

	_, err := s.handleSearchAssets(context.Background(), callRequest(searchAssetsName, map[string]interface{}{"query": "red"}))
	requireMCPError(t, err, ErrorCodeIndexUnavailable)
}

func TestSearchAssets_Failure(t *testing.T) {
	s := newTestServer(t, &fakeIndex{enabled: true, searchErr: errors.New("fts5: syntax error")})

	_, err := s.handleSearchAssets(context.Background(), callRequest(searchAssetsName, map[string]interface{}{"query": "red"}))
	requireMCPError(t, err, ErrorCodeInternalError)
}

func TestSearchAssets_Timeout(t *testing.T) {
	s := newTestServer(t, &fakeIndex{enabled: true, silent: true})
	s.SetSearchTimeout(20 * time.Millisecond)

	_, err := s.handleSearchAssets(context.Background(), callRequest(searchAssetsName, map[string]interface{}{"query": "red"}))
	requireMCPError(t, err, ErrorCodeSearchTimeout)
}

func TestGetIndexStatus(t *testing.T) {
	index := &fakeIndex{
		enabled: true,
		stats:   pipeline.Stats{Enabled: true, PendingScans: 3, TotalIndexedProperties: 42, AssetsMissingIndex: 1},
		missing: []types.AssetIdentity{{Path: "/Game/Broken", Type: "StaticMesh"}},
	}
	s := newTestServer(t, index)

	result, err := s.handleGetIndexStatus(context.Background(), callRequest(indexStatusName, nil))
	require.NoError(t, err)

	out := decodeResult(t, result)
	assert.Equal(t, true, out["enabled"])
	stats := out["statistics"].(map[string]interface{})
	assert.Equal(t, float64(3), stats["pending_scans"])
	assert.Equal(t, float64(42), stats["total_indexed_properties"])
	assert.Equal(t, float64(1), stats["assets_missing_index"])
	assert.Len(t, out["missing_assets"], 1)

	engine := out["engine"].(map[string]interface{})
	assert.Equal(t, storage.DriverName, engine["driver"])
}

func TestReindexMissing(t *testing.T) {
	index := &fakeIndex{
		enabled: true,
		missing: []types.AssetIdentity{{Path: "/Game/A", Type: "StaticMesh"}, {Path: "/Game/B", Type: "StaticMesh"}},
	}
	s := newTestServer(t, index)

	result, err := s.handleReindexMissing(context.Background(), callRequest(reindexMissingName, nil))
	require.NoError(t, err)
	assert.Equal(t, float64(2), decodeResult(t, result)["queued"])
	assert.Equal(t, 1, index.forced)

	index.enabled = false
	_, err = s.handleReindexMissing(context.Background(), callRequest(reindexMissingName, nil))
	requireMCPError(t, err, ErrorCodeIndexUnavailable)
}

func TestSearchAssets_Pipeline(t *testing.T) {
	root := t.TempDir()
	writeAsset := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	writeAsset("Game/Chair.json", `{"$type":"Object","color":"Crimson","material":"oak"}`)
	writeAsset("Game/Table.json", `{"$type":"Object","color":"Walnut"}`)

	logger := log.New(os.Stderr)
	dir, err := inventory.NewDirectory(root, ".json", logger)
	require.NoError(t, err)

	reg := extractor.NewRegistry()
	require.NoError(t, reg.Register("Object", extractor.NewJSONExtractor("JSONProperties", 1)))

	p, err := pipeline.New(pipeline.Config{IdleSleep: time.Millisecond}, pipeline.Deps{
		Registry: reg,
		Loader:   dir,
		Files:    dir,
		Cache:    ddc.NewMemoryCache(),
		Open: func() (storage.Storage, error) {
			return storage.NewSQLiteStorage(":memory:")
		},
		Logger: logger,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	// The producer loop; tool handlers block until it delivers results.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Tick()
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	_, err = dir.Scan(context.Background(), p)
	require.NoError(t, err)
	require.Eventually(t, p.Idle, 5*time.Second, 5*time.Millisecond)

	s := newTestServer(t, p)

	result, err := s.handleSearchAssets(context.Background(), callRequest(searchAssetsName, map[string]interface{}{"query": "crim"}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	require.Equal(t, float64(1), out["count"])
	hit := out["hits"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "/Game/Chair", hit["asset_path"])
	assert.Equal(t, "Crimson", hit["value_text"])

	result, err = s.handleSearchAssets(context.Background(), callRequest(searchAssetsName, map[string]interface{}{"query": "Crimson OR Walnut"}))
	require.NoError(t, err)
	assert.Equal(t, float64(2), decodeResult(t, result)["count"])

	result, err = s.handleGetIndexStatus(context.Background(), callRequest(indexStatusName, nil))
	require.NoError(t, err)
	stats := decodeResult(t, result)["statistics"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["assets_indexed"])
}
