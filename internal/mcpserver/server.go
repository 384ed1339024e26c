// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes LCCA project tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/lcca/internal/projectservice"
)

const formatResourceURI = "lcca://project-format"

// Server wraps the MCP server with LCCA tools.
type Server struct {
	mcp *server.MCPServer
	svc *projectservice.Service
}

// New creates a new MCP server with all LCCA tools registered.
func New(svc *projectservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"LCCA",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List projects with their display name, recovery flag, and checkpoint count."),
		mcp.WithString("sort", mcp.Description("Sort key: id (default), name, or updated")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of projects (default 50)")),
	), s.listProjects)

	s.mcp.AddTool(mcp.NewTool("search_projects",
		mcp.WithDescription("Search project names and metadata values."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchProjects)

	s.mcp.AddTool(mcp.NewTool("project_health",
		mcp.WithDescription("Report whether a project's canonical file and backup parse, and whether it is locked."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Project id")),
	), s.projectHealth)

	s.mcp.AddTool(mcp.NewTool("read_project",
		mcp.WithDescription("Read a project's document as JSON. See the get_project_format tool for its structure."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Project id")),
	), s.readProject)

	s.mcp.AddTool(mcp.NewTool("list_checkpoints",
		mcp.WithDescription("List a project's checkpoints, newest first."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Project id")),
	), s.listCheckpoints)

	s.mcp.AddTool(mcp.NewTool("create_checkpoint",
		mcp.WithDescription("Write a named checkpoint of a project. Checkpoints are never overwritten."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("name", mcp.Description("Checkpoint name (default Manual_Backup)")),
	), s.createCheckpoint)

	s.mcp.AddTool(mcp.NewTool("get_project_format",
		mcp.WithDescription("Returns the LCCA project layout and document format."),
	), s.getProjectFormat)

	s.mcp.AddResource(
		mcp.NewResource(formatResourceURI, "Project Format",
			mcp.WithResourceDescription("On-disk project layout and document format."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 50)
	items, total, err := s.svc.ListProjects(ctx, limit, 0, req.GetString("sort", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"projects": items, "total": total})
}

func (s *Server) searchProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) projectHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.svc.Health(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"report":      report,
		"recoverable": report.Recoverable(),
	})
}

func (s *Server) readProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.ReadProject(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := doc.Marshal()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listCheckpoints(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cps, err := s.svc.Checkpoints(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	labels := make([]map[string]string, len(cps))
	for i, cp := range cps {
		labels[i] = map[string]string{"filename": cp.Filename, "label": cp.Label()}
	}
	return jsonResult(labels)
}

func (s *Server) createCheckpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	file, err := s.svc.CreateCheckpoint(ctx, id, req.GetString("name", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", file)), nil
}

func (s *Server) getProjectFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentFormatContract), nil
}

func (s *Server) readFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatResourceURI,
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
