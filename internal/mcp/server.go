package mcp

import (
	"context"

	"github.com/standardbeagle/ovi/internal/config"
	"github.com/standardbeagle/ovi/internal/debug"
	"github.com/standardbeagle/ovi/internal/indexing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes the inheritance index over the Model Context Protocol
// using stdio transport.
type Server struct {
	manager *indexing.Manager
	cfg     *config.Config
	server  *mcp.Server
}

func NewServer(manager *indexing.Manager, cfg *config.Config) *Server {
	s := &Server{
		manager: manager,
		cfg:     cfg,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "ovi-mcp-server",
		Version: "0.1.0",
	}, nil)

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name:        "get_method_relationships",
		Description: "Get the base methods a Python method overrides and the methods that override it. Lines are 1-based; small line drift from edits is tolerated.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"file_path": {
					Type:        "string",
					Description: "Path to the Python file, absolute or workspace-relative",
				},
				"class_name": {
					Type:        "string",
					Description: "Name of the class containing the method",
				},
				"method_name": {
					Type:        "string",
					Description: "Name of the method",
				},
				"line": {
					Type:        "integer",
					Description: "1-based line of the method definition",
				},
			},
			Required: []string{"file_path", "class_name", "method_name", "line"},
		},
	}, s.handleGetMethodRelationships)

	s.server.AddTool(&mcp.Tool{
		Name:        "get_class_inheritance",
		Description: "Get the base classes and subclasses of a Python class.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"file_path": {
					Type:        "string",
					Description: "Path to the Python file defining the class (optional, narrows the lookup)",
				},
				"class_name": {
					Type:        "string",
					Description: "Class name, short or dotted",
				},
				"line": {
					Type:        "integer",
					Description: "1-based line of the class definition (optional, disambiguates same-named classes in the file)",
				},
			},
			Required: []string{"class_name"},
		},
	}, s.handleGetClassInheritance)

	s.server.AddTool(&mcp.Tool{
		Name:        "find_class_definition",
		Description: "Locate the file and line where a Python class is defined. Suggests similarly named classes on a miss.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"class_name": {
					Type:        "string",
					Description: "Class name to locate",
				},
			},
			Required: []string{"class_name"},
		},
	}, s.handleFindClassDefinition)

	s.server.AddTool(&mcp.Tool{
		Name:        "reindex_workspace",
		Description: "Re-scan the workspace and rebuild the inheritance index. With force, every file is re-analyzed even if unchanged.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"force": {
					Type:        "boolean",
					Description: "Re-analyze files whose content is unchanged",
				},
			},
		},
	}, s.handleReindexWorkspace)

	s.server.AddTool(&mcp.Tool{
		Name:        "index_status",
		Description: "Report index size and pipeline state, pending changes and queued and active batches.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, s.handleIndexStatus)
}

// Start runs the server on stdio until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	debug.SetMCPMode(true)
	debug.LogMCP("starting MCP server with stdio transport\n")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Shutdown stops accepting work and releases the indexing pipeline.
func (s *Server) Shutdown() {
	debug.LogMCP("shutting down MCP server\n")
	s.manager.Dispose()
}
