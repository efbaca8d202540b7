package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	searchAssetsName   = "search_assets"
	indexStatusName    = "get_index_status"
	reindexMissingName = "reindex_missing"

	defaultSearchLimit = 20
	maxSearchLimit     = 200
)

// searchAssetsTool returns the tool definition for search_assets
func searchAssetsTool() mcp.Tool {
	return mcp.Tool{
		Name:        searchAssetsName,
		Description: "Full-text search over indexed asset properties",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type": "string",
					"description": "Filter expression: bare words match as prefixes, \"quoted phrases\" match exactly, " +
						"OR (also || and |) alternates, AND (also && and &) and parentheses group",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of hits to return (1-200)",
					"default":     defaultSearchLimit,
					"minimum":     1,
					"maximum":     maxSearchLimit,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getIndexStatusTool returns the tool definition for get_index_status
func getIndexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        indexStatusName,
		Description: "Report indexing progress and diagnostics counters",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// reindexMissingTool returns the tool definition for reindex_missing
func reindexMissingTool() mcp.Tool {
	return mcp.Tool{
		Name:        reindexMissingName,
		Description: "Force re-extraction of every asset that is missing an index, bypassing the build cache",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
