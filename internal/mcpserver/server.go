// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Muninn memory tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/muninn/internal/audit"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/memoryservice"
	"github.com/starford/muninn/internal/record"
)

// Server wraps the MCP server with Muninn tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *memoryservice.Service
	auditor *audit.Auditor
}

// New creates a new MCP server with all Muninn tools registered.
func New(svc *memoryservice.Service, auditor *audit.Auditor) *Server {
	s := &Server{svc: svc, auditor: auditor}

	s.mcp = server.NewMCPServer(
		"Muninn",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("write_memory",
		mcp.WithDescription("Persist a memory record. Type must be one of: "+
			strings.Join(record.Types(), ", ")+". The id is derived from the "+
			"type and title; read the contract first via get_memory_contract "+
			"or the muninn://memory-format resource."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Record type")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Human-readable title")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown body")),
		mcp.WithString("tags", mcp.Description("Optional comma-separated tags")),
		mcp.WithString("severity", mcp.Description("Optional severity: low, medium, high or critical")),
		mcp.WithBoolean("autoLink", mcp.Description("Link to similar memories via embeddings")),
	), s.writeMemory)

	s.mcp.AddTool(mcp.NewTool("read_memory",
		mcp.WithDescription("Read one memory by id, including its graph neighbourhood."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Memory id (e.g. decision-use-postgres)")),
	), s.readMemory)

	s.mcp.AddTool(mcp.NewTool("search_memories",
		mcp.WithDescription("Search memories by title, id and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("type", mcp.Description("Optional type filter")),
	), s.searchMemories)

	s.mcp.AddTool(mcp.NewTool("list_memories",
		mcp.WithDescription("List memories, newest first."),
		mcp.WithString("type", mcp.Description("Optional type filter")),
	), s.listMemories)

	s.mcp.AddTool(mcp.NewTool("delete_memory",
		mcp.WithDescription("Delete a memory and every reference to it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Memory id")),
	), s.deleteMemory)

	s.mcp.AddTool(mcp.NewTool("link_memories",
		mcp.WithDescription("Create a directed edge between two memories. "+
			"Labels: relates-to (default) or supersedes."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source memory id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target memory id")),
		mcp.WithString("label", mcp.Description("Edge label")),
	), s.linkMemories)

	s.mcp.AddTool(mcp.NewTool("related_memories",
		mcp.WithDescription("List the direct graph neighbourhood of a memory."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Memory id")),
	), s.relatedMemories)

	s.mcp.AddTool(mcp.NewTool("check_health",
		mcp.WithDescription("Audit the store for drift between files, index and graph."),
	), s.checkHealth)

	s.mcp.AddTool(mcp.NewTool("get_memory_contract",
		mcp.WithDescription("Returns the canonical Muninn memory file format. "+
			"Call this before writing memories to ensure correct structure."),
	), s.getMemoryContract)

	// Resource: memory format contract.
	s.mcp.AddResource(
		mcp.NewResource("muninn://memory-format", "Memory Format Contract",
			mcp.WithResourceDescription("Canonical memory record format that all stored files follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMemoryFormatResource,
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

func (s *Server) writeMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cr := memoryservice.CreateRequest{
		Type:     typ,
		Title:    title,
		Content:  content,
		Severity: req.GetString("severity", ""),
		AutoLink: req.GetBool("autoLink", false),
	}
	if tags := req.GetString("tags", ""); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				cr.Tags = append(cr.Tags, tag)
			}
		}
	}

	res, err := s.svc.Create(ctx, cr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := fmt.Sprintf("created: %s", res.Memory.ID)
	if res.AutoLinked > 0 {
		out += fmt.Sprintf(" (auto-linked to %d similar memories)", res.AutoLinked)
	}
	if len(res.SimilarTitles) > 0 {
		out += "\nsimilar titles already stored: " + strings.Join(res.SimilarTitles, ", ")
	}
	for _, warn := range res.Warnings {
		out += "\nwarning: " + warn
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) readMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(m, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.Search(ctx, query, index.SearchOptions{
		Type:  req.GetString("type", ""),
		Limit: 20,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", h.Entry.ID, h.Entry.Type, h.Entry.Title)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) listMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.svc.List(ctx, memoryservice.ListOptions{
		Type: req.GetString("type", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("no memories stored"), nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", e.ID, e.Type, e.Title)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) deleteMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) linkMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Link(ctx, source, target, req.GetString("label", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.AlreadyExists {
		return mcp.NewToolResultText(fmt.Sprintf("edge already present: %s -[%s]-> %s", res.Source, res.Label, res.Target)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("linked: %s -[%s]-> %s", res.Source, res.Label, res.Target)), nil
}

func (s *Server) relatedMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rel, err := s.svc.GetRelated(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rel.Neighbors) == 0 {
		return mcp.NewToolResultText("no related memories"), nil
	}
	out, _ := json.MarshalIndent(rel, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) checkHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.auditor.Validate()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getMemoryContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MemoryFormatContract), nil
}

func (s *Server) readMemoryFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "muninn://memory-format",
			MIMEType: "text/markdown",
			Text:     MemoryFormatContract,
		},
	}, nil
}
