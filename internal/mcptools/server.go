// Package mcptools exposes read-only document access over the Model Context
// Protocol so tool-calling agents can browse ingested documents.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/taxgpt/taxgpt/internal/model"
	"github.com/taxgpt/taxgpt/internal/repository"
)

// Repository is the read-only surface the tools need.
type Repository interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*model.Document, error)
}

// Server wraps an MCP stdio server with the document tools registered.
type Server struct {
	repo      Repository
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server instance and registers all tools.
func NewServer(repo Repository, version string) (*Server, error) {
	if repo == nil {
		return nil, fmt.Errorf("repo cannot be nil")
	}
	mcpServer := server.NewMCPServer(
		"taxgpt-documents",
		version,
		server.WithToolCapabilities(false),
	)
	s := &Server{repo: repo, mcpServer: mcpServer}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	listTool := mcp.NewTool(
		"list_documents",
		mcp.WithDescription("List ingested tax documents with their status and extracted metadata"),
		mcp.WithNumber("tax_year",
			mcp.Description("Optional tax year filter, e.g. 2024"),
		),
		mcp.WithString("doc_type",
			mcp.Description("Optional document type filter (w2, 1099_int, 1099_div, 1099_nec, 1099_misc, 1099_b, 1098, brokerage_statement, unknown)"),
		),
	)
	s.mcpServer.AddTool(listTool, s.handleListDocuments)

	metadataTool := mcp.NewTool(
		"get_document_metadata",
		mcp.WithDescription("Get the metadata of a single ingested tax document"),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("Document id returned by list_documents or ingestion"),
		),
	)
	s.mcpServer.AddTool(metadataTool, s.handleGetMetadata)

	textTool := mcp.NewTool(
		"get_document_text",
		mcp.WithDescription("Get the full extracted text of a completed tax document"),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("Document id returned by list_documents or ingestion"),
		),
	)
	s.mcpServer.AddTool(textTool, s.handleGetText)
}

func (s *Server) handleListDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	var filter repository.ListFilter
	if year, ok := args["tax_year"].(float64); ok && year != 0 {
		filter.TaxYear = int(year)
	}
	if docType, ok := args["doc_type"].(string); ok && docType != "" {
		if !model.ValidDocType(docType) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown doc_type %q", docType)), nil
		}
		filter.DocType = docType
	}

	docs, err := s.repo.List(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	payload, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleGetMetadata(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleGetText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if doc.Status != model.StatusCompleted {
		return mcp.NewToolResultError(fmt.Sprintf("document %s is %s, text is only available once completed", id, doc.Status)), nil
	}
	return mcp.NewToolResultText(doc.FullText), nil
}

// Run serves MCP over stdio until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	if err := server.ServeStdio(s.mcpServer); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}
