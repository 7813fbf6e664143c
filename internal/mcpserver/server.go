// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the stored cards to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/document"
	"github.com/starford/pinboard/internal/models"
)

// CardFormatURI names the card format resource.
const CardFormatURI = "pinboard://card-format"

// CardFormat describes how read_card renders a record.
const CardFormat = `# Pinboard card format

A card is rendered as YAML frontmatter followed by the card content verbatim.

---
_id: 01JQ8Y0Z3V5C6T9R2W4X7K1M0N
_rev: 2-5f1c...
x: 70
y: 70
width: 260
height: 176
titleColor: '#d9d9d9'
backgroundColor: '#ffffff'
backgroundOpacity: 1
createdAt: 2026-01-02T15:04:05Z
modifiedAt: 2026-01-02T15:04:05Z
---
Card content goes here.
`

// Store is the subset of the store adapter the tools use.
type Store interface {
	Get(ctx context.Context, id models.CardID) (models.CardProp, models.Revision, error)
	Put(ctx context.Context, p models.CardProp, rev models.Revision) (models.Revision, error)
	Summaries(ctx context.Context) ([]models.CardSummary, error)
	NewID() models.CardID
}

// Server wraps the MCP server with the card tools.
type Server struct {
	mcp   *server.MCPServer
	store Store
	now   func() time.Time
}

// New creates a new MCP server with all card tools registered.
func New(store Store) *Server {
	s := &Server{store: store, now: time.Now}

	s.mcp = server.NewMCPServer(
		"Pinboard",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_cards",
		mcp.WithDescription("List every stored card with its revision and a short content preview."),
	), s.listCards)

	s.mcp.AddTool(mcp.NewTool("read_card",
		mcp.WithDescription("Read one card: geometry, colors and timestamps as frontmatter, then the content."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Card id as returned by list_cards")),
	), s.readCard)

	s.mcp.AddTool(mcp.NewTool("create_card",
		mcp.WithDescription("Store a new card with default geometry and colors. "+
			"It is shown on screen the next time cards are restored."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Card text")),
	), s.createCard)

	s.mcp.AddResource(
		mcp.NewResource(CardFormatURI, "Card Format",
			mcp.WithResourceDescription("Layout of a card as returned by read_card."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCardFormat,
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

func (s *Server) listCards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cards, err := s.store.Summaries(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(cards) == 0 {
		return mcp.NewToolResultText("no cards stored"), nil
	}
	out, _ := json.MarshalIndent(cards, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, rev, err := s.store.Get(ctx, models.CardID(id))
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := document.MarshalMarkdown(document.FromProp(p, rev))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p := models.NewCardProp(s.store.NewID(), s.now())
	p.Content = content
	if _, err := s.store.Put(ctx, p, ""); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", p.ID)), nil
}

func (s *Server) readCardFormat(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      CardFormatURI,
			MIMEType: "text/markdown",
			Text:     CardFormat,
		},
	}, nil
}
