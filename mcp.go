package dommark

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dommark/store"
)

// RegisterMCP registers the highlight tools on an MCP server so agents
// can browse, search and curate anchors alongside the human user.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerListPagesTool(srv)
	s.registerSearchTool(srv)
	s.registerUpdateAnchorTool(srv)
	s.registerDeleteAnchorTool(srv)
	s.registerExportTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

// addTool wires a JSON-in/JSON-out handler into the SDK's tool shape.
func addTool(srv *mcp.Server, tool *mcp.Tool, handler func(ctx context.Context, args json.RawMessage) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := handler(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func (s *Service) registerListPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dommark_list_pages",
		Description: "List all pages that have highlights, with anchor counts, most recently updated first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ json.RawMessage) (any, error) {
		pages, err := s.Store.ListPages(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"pages": pages, "count": len(pages)}, nil
	})
}

type searchReq struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Service) registerSearchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dommark_search",
		Description: "Search highlights by quote or note text.",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Substring to match against quotes and notes"},
			"limit": map[string]any{"type": "integer", "description": "Max results (default: 50)"},
		}, []string{"query"}),
	}
	addTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r searchReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		hits, err := s.Store.SearchAnchors(ctx, r.Query, r.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"hits": hits, "count": len(hits)}, nil
	})
}

type updateAnchorReq struct {
	ID    string    `json:"id"`
	Color *string   `json:"color,omitempty"`
	Note  *string   `json:"note,omitempty"`
	Tags  *[]string `json:"tags,omitempty"`
}

func (s *Service) registerUpdateAnchorTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dommark_update_anchor",
		Description: "Update a highlight's color, note or tags. Omitted fields are left untouched. Live sessions see the change immediately.",
		InputSchema: inputSchema(map[string]any{
			"id":    map[string]any{"type": "string", "description": "Anchor id (hl_…)"},
			"color": map[string]any{"type": "string", "description": "One of: yellow, green, blue, pink, orange"},
			"note":  map[string]any{"type": "string", "description": "Free-form note; empty string clears"},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Replacement tag list; normalized to #lowercase",
			},
		}, []string{"id"}),
	}
	addTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r updateAnchorReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		a, err := s.UpdateAnchor(ctx, r.ID, store.Patch{Color: r.Color, Note: r.Note, Tags: r.Tags})
		if err != nil {
			return nil, err
		}
		return map[string]any{"anchor": a}, nil
	})
}

type deleteAnchorReq struct {
	ID string `json:"id"`
}

func (s *Service) registerDeleteAnchorTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dommark_delete_anchor",
		Description: "Delete a highlight. Its live mark, if rendered, is unwrapped; an empty page is removed.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Anchor id (hl_…)"},
		}, []string{"id"}),
	}
	addTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r deleteAnchorReq
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if err := s.DeleteAnchor(ctx, r.ID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": r.ID}, nil
	})
}

func (s *Service) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dommark_export",
		Description: "Export every page and highlight as a versioned snapshot document.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.Export(ctx)
	})
}
