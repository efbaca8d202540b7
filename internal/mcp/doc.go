// Package mcp implements the Model Context Protocol (MCP) server for the
// asset search index.
//
// The MCP server exposes three tools:
//   - search_assets: Full-text search over indexed asset properties
//   - get_index_status: Indexing progress and diagnostics counters
//   - reindex_missing: Force re-extraction of assets missing an index
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the serve command, which also runs the indexing
// pipeline and the content watcher:
//
//	assetsearch serve
//
// # Tool: search_assets
//
//	Request:
//	{
//	  "name": "search_assets",
//	  "arguments": {
//	    "query": "red chair OR \"oak table\"",
//	    "limit": 20
//	  }
//	}
//
//	Response:
//	{
//	  "query": "red chair OR \"oak table\"",
//	  "count": 2,
//	  "duration_ms": 3,
//	  "hits": [
//	    {
//	      "asset_name": "Chair",
//	      "asset_type": "StaticMesh",
//	      "asset_path": "/Game/Props/Chair",
//	      "property_name": "color",
//	      "value_text": "red",
//	      "score": -1.42
//	    }
//	  ]
//	}
//
// Bare words match as prefixes. A run of two or more bare words also matches
// the words joined together, so "fire ball" finds "fireball". Quoted phrases
// match exactly. OR, || and | alternate; AND, && and & require both sides.
// Operators are recognized in upper case only.
//
// # Tool: get_index_status
//
// Returns the pipeline's counters: pending scans, pending store writes,
// active build cache fetches, total indexed properties and the number of
// assets missing an index. When show_missing_assets is enabled the response
// also lists the missing assets.
//
// # Tool: reindex_missing
//
// Queues a forced extraction of every asset missing an index and returns how
// many were queued.
//
// # Error Handling
//
// Tool failures are returned as MCPError values carrying a JSON-RPC code:
//
//	-32602  Invalid parameters (bad limit, malformed arguments)
//	-32603  Internal error (store query failed)
//	-32001  Index unavailable (the search store could not be opened)
//	-32004  Empty query
//	-32005  Search timeout (the pipeline did not answer in time)
package mcp
