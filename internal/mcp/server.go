package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/assetsearch/internal/pipeline"
	"github.com/dshills/assetsearch/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "assetsearch"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultSearchTimeout bounds how long search_assets waits for hits
	DefaultSearchTimeout = 10 * time.Second
)

// Index is the part of the indexing pipeline the tools use.
// *pipeline.Pipeline satisfies it.
type Index interface {
	Enabled() bool
	Search(q string, onHit func(types.SearchHit) bool, onDone func(error))
	Stats() pipeline.Stats
	MissingAssets() []types.AssetIdentity
	ForceReindexMissing() int
}

var _ Index = (*pipeline.Pipeline)(nil)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp           *server.MCPServer
	index         Index
	logger        *log.Logger
	searchTimeout time.Duration
}

// NewServer creates a new MCP server instance. Searches only complete while
// the pipeline's producer is ticking.
func NewServer(index Index, logger *log.Logger) (*Server, error) {
	if index == nil {
		return nil, errors.New("index is required")
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		mcp:           server.NewMCPServer(ServerName, ServerVersion),
		index:         index,
		logger:        logger.WithPrefix("mcp"),
		searchTimeout: DefaultSearchTimeout,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// SetSearchTimeout overrides DefaultSearchTimeout
func (s *Server) SetSearchTimeout(d time.Duration) {
	if d > 0 {
		s.searchTimeout = d
	}
}

// Serve runs the MCP protocol over in/out until ctx is canceled or in closes
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("serving MCP on stdio", "tools", []string{searchAssetsName, indexStatusName, reindexMissingName})
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(searchAssetsTool(), s.handleSearchAssets)
	s.mcp.AddTool(getIndexStatusTool(), s.handleGetIndexStatus)
	s.mcp.AddTool(reindexMissingTool(), s.handleReindexMissing)
	return nil
}
