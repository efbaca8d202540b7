package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/assetsearch/internal/storage"
	"github.com/dshills/assetsearch/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeIndexUnavailable = -32001 // Search store could not be opened
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
	ErrorCodeSearchTimeout    = -32005 // Search did not complete in time
)

// handleSearchAssets handles the search_assets tool invocation
func (s *Server) handleSearchAssets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", defaultSearchLimit)
	if limit < 1 || limit > maxSearchLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	if !s.index.Enabled() {
		return nil, newMCPError(ErrorCodeIndexUnavailable, "search index is unavailable", nil)
	}

	start := time.Now()
	hits := make([]types.SearchHit, 0, limit)
	done := make(chan error, 1)

	s.index.Search(query, func(hit types.SearchHit) bool {
		hits = append(hits, hit)
		return len(hits) < limit
	}, func(err error) {
		done <- err
	})

	ctx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
				"query": query,
				"error": err.Error(),
			})
		}
	case <-ctx.Done():
		return nil, newMCPError(ErrorCodeSearchTimeout, "search did not complete", map[string]interface{}{
			"query": query,
			"error": ctx.Err().Error(),
		})
	}

	response := map[string]interface{}{
		"query":       query,
		"count":       len(hits),
		"hits":        hits,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetIndexStatus handles the get_index_status tool invocation
func (s *Server) handleGetIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.index.Stats()

	response := map[string]interface{}{
		"enabled":    stats.Enabled,
		"statistics": stats,
		"engine": map[string]interface{}{
			"driver":     storage.DriverName,
			"build_mode": storage.BuildMode,
		},
	}

	if missing := s.index.MissingAssets(); len(missing) > 0 {
		paths := make([]string, len(missing))
		for i, id := range missing {
			paths[i] = id.String()
		}
		response["missing_assets"] = paths
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleReindexMissing handles the reindex_missing tool invocation
func (s *Server) handleReindexMissing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.index.Enabled() {
		return nil, newMCPError(ErrorCodeIndexUnavailable, "search index is unavailable", nil)
	}

	queued := s.index.ForceReindexMissing()
	s.logger.Info("forced reindex of missing assets", "queued", queued)

	response := map[string]interface{}{
		"queued": queued,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}
