// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes notehub tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notehub/internal/models"
	"github.com/starford/notehub/internal/mutation"
	"github.com/starford/notehub/internal/parser"
	"github.com/starford/notehub/internal/query"
)

// ContractURI is the resource URI of the note format contract.
const ContractURI = "notehub://note-format"

// Session is the part of the notehub session the tools use.
type Session interface {
	Load(ctx context.Context, page int, search string) (query.View, error)
	CreateNote(ctx context.Context, fields models.NoteFields) (*models.Note, error)
	DeleteNote(ctx context.Context, id string) (*models.Deleted, error)
}

// Server wraps the MCP server with notehub tools.
type Server struct {
	mcp  *server.MCPServer
	sess Session
}

// New creates a new MCP server with all notehub tools registered.
func New(sess Session, version string) *Server {
	s := &Server{sess: sess}

	s.mcp = server.NewMCPServer(
		"Notehub",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List one page of notes, newest first, optionally filtered by a search term."),
		mcp.WithNumber("page", mcp.Description("1-based page number (default 1); clamped to the last page")),
		mcp.WithString("search", mcp.Description("Optional search over title and content")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note. Provide title and tag (and optionally content), "+
			"or a Markdown document in markdown. Read the contract first via the "+
			"get_note_contract tool or the "+ContractURI+" resource."),
		mcp.WithString("title", mcp.Description("Note title, 1-50 characters")),
		mcp.WithString("content", mcp.Description("Note text, at most 500 characters")),
		mcp.WithString("tag", mcp.Description("One of Todo, Work, Personal, Meeting, Shopping"),
			mcp.Enum("Todo", "Work", "Personal", "Meeting", "Shopping")),
		mcp.WithString("markdown", mcp.Description("Markdown document with optional frontmatter title/tag")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the note to delete")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the notehub note format contract. "+
			"Call this before creating notes to ensure valid fields."),
	), s.getNoteContract)

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource(ContractURI, "Note Format Contract",
			mcp.WithResourceDescription("Fields, limits and tags every note must satisfy."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
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

type listResult struct {
	Notes     []models.Note `json:"notes"`
	Page      int           `json:"page"`
	PageCount int           `json:"pageCount"`
	Search    string        `json:"search,omitempty"`
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page := req.GetInt("page", 1)
	search := req.GetString("search", "")

	v, err := s.sess.Load(ctx, page, search)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if v.Error {
		return mcp.NewToolResultError("list notes: " + v.Message), nil
	}
	return jsonResult(listResult{Notes: v.Items, Page: v.Page, PageCount: v.PageCount, Search: v.Search})
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var fields models.NoteFields
	if md := req.GetString("markdown", ""); md != "" {
		res, err := parser.Parse([]byte(md))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fields = res.Fields()
	}
	if v := req.GetString("title", ""); v != "" {
		fields.Title = v
	}
	if v := req.GetString("content", ""); v != "" {
		fields.Content = v
	}
	if v := req.GetString("tag", ""); v != "" {
		tag, ok := models.ParseTag(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown tag %q", v)), nil
		}
		fields.Tag = tag
	}

	note, err := s.sess.CreateNote(ctx, fields)
	if err != nil {
		return mutationError(err), nil
	}
	return jsonResult(note)
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.sess.DeleteNote(ctx, id); err != nil {
		return mutationError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) getNoteContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ContractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

func mutationError(err error) *mcp.CallToolResult {
	var merr *mutation.Error
	if errors.As(err, &merr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s (%s)", merr.Error(), merr.Kind))
	}
	return mcp.NewToolResultError(err.Error())
}
