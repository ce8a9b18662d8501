package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/standardbeagle/ovi/internal/debug"
	"github.com/standardbeagle/ovi/internal/index"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const maxClassSuggestions = 5

// MethodRelationshipsParams are the arguments for get_method_relationships
type MethodRelationshipsParams struct {
	FilePath   string `json:"file_path"`
	ClassName  string `json:"class_name"`
	MethodName string `json:"method_name"`
	Line       int    `json:"line"`
}

type ClassInheritanceParams struct {
	FilePath  string `json:"file_path"`
	ClassName string `json:"class_name"`
	Line      int    `json:"line"`
}

type FindClassParams struct {
	ClassName string `json:"class_name"`
}

type ReindexParams struct {
	Force bool `json:"force"`
}

// resolvePath anchors workspace-relative tool arguments at the project
// root.
func (s *Server) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.cfg.Project.Root, path)
}

func (s *Server) handleGetMethodRelationships(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params MethodRelationshipsParams
	if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
		return createErrorResponse("get_method_relationships", fmt.Errorf("invalid parameters: %v", err))
	}
	if params.FilePath == "" || params.ClassName == "" || params.MethodName == "" {
		return createErrorResponse("get_method_relationships", fmt.Errorf("file_path, class_name and method_name are required"))
	}

	debug.LogMCP("get_method_relationships %s %s.%s:%d\n",
		params.FilePath, params.ClassName, params.MethodName, params.Line)

	path := s.resolvePath(params.FilePath)
	rel := s.manager.GetRelationshipsForMethod(path, params.ClassName, params.MethodName, params.Line)
	if rel == nil {
		return createJSONResponse(map[string]interface{}{
			"success":     true,
			"found":       false,
			"suggestions": s.manager.Index().SuggestClasses(params.ClassName, maxClassSuggestions),
		})
	}

	return createJSONResponse(map[string]interface{}{
		"success":          true,
		"found":            true,
		"method":           rel.Method,
		"base_methods":     rel.BaseMethods,
		"override_methods": rel.OverrideMethods,
	})
}

func (s *Server) handleGetClassInheritance(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params ClassInheritanceParams
	if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
		return createErrorResponse("get_class_inheritance", fmt.Errorf("invalid parameters: %v", err))
	}
	if params.ClassName == "" {
		return createErrorResponse("get_class_inheritance", fmt.Errorf("class_name is required"))
	}

	debug.LogMCP("get_class_inheritance %s %s:%d\n", params.FilePath, params.ClassName, params.Line)

	info := s.manager.GetClassInheritance(s.resolvePath(params.FilePath), params.ClassName, params.Line)
	if info == nil {
		return createJSONResponse(map[string]interface{}{
			"success":     true,
			"found":       false,
			"suggestions": s.manager.Index().SuggestClasses(params.ClassName, maxClassSuggestions),
		})
	}

	return createJSONResponse(map[string]interface{}{
		"success":      true,
		"found":        true,
		"full_name":    info.FullName,
		"base_classes": info.BaseClasses,
		"sub_classes":  info.SubClasses,
		"line":         info.Line,
	})
}

func (s *Server) handleFindClassDefinition(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params FindClassParams
	if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
		return createErrorResponse("find_class_definition", fmt.Errorf("invalid parameters: %v", err))
	}
	if params.ClassName == "" {
		return createErrorResponse("find_class_definition", fmt.Errorf("class_name is required"))
	}

	debug.LogMCP("find_class_definition %s\n", params.ClassName)

	path, line, found := s.manager.FindClassDefinition(params.ClassName)
	if !found {
		return createJSONResponse(map[string]interface{}{
			"success":     true,
			"found":       false,
			"suggestions": s.manager.Index().SuggestClasses(params.ClassName, maxClassSuggestions),
		})
	}

	return createJSONResponse(map[string]interface{}{
		"success":   true,
		"found":     true,
		"file_path": index.WorkspaceRelative(s.cfg.Project.Root, path),
		"line":      line,
	})
}

func (s *Server) handleReindexWorkspace(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params ReindexParams
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
			return createErrorResponse("reindex_workspace", fmt.Errorf("invalid parameters: %v", err))
		}
	}

	start := time.Now()
	var err error
	if params.Force {
		err = s.manager.Refresh(ctx)
	} else {
		err = s.manager.IndexWorkspace(ctx, false)
	}
	if err != nil {
		return createErrorResponse("reindex_workspace", err)
	}

	return createJSONResponse(map[string]interface{}{
		"success":       true,
		"indexed_files": s.manager.Index().Len(),
		"duration_ms":   time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleIndexStatus(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queued, active := s.manager.QueueState()

	return createJSONResponse(map[string]interface{}{
		"success":         true,
		"workspace_root":  s.cfg.Project.Root,
		"indexed_files":   s.manager.Index().Len(),
		"pending_changes": s.manager.PendingCount(),
		"queued_batches":  queued,
		"active_batches":  active,
		"snapshot_path":   s.cfg.Index.SnapshotPath,
	})
}
