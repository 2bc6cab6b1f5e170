// Package mcpserver exposes the model and raster resolvers as MCP tools over
// stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/catalog"
	"github.com/agentic-research/paleodem/internal/models"
	"github.com/agentic-research/paleodem/internal/rasters"
)

// Server holds what the tool handlers need.
type Server struct {
	Models  *models.Resolver
	Rasters *rasters.Resolver

	// Catalog, Client and Sources enable refresh_catalog. Catalog may be
	// nil, in which case the tool is not registered.
	Catalog *catalog.HotSwap
	Client  *catalog.Client
	Sources catalog.Sources

	Log zerolog.Logger
}

// ModelInfo is the JSON shape of one model in tool results.
type ModelInfo struct {
	Name        string   `json:"name"`
	Canonical   string   `json:"canonical"`
	Description string   `json:"description,omitempty"`
	Origin      string   `json:"origin"`
	Cached      bool     `json:"cached"`
	SmallTime   float64  `json:"small_time"`
	BigTime     float64  `json:"big_time"`
	Layers      []string `json:"layers"`
}

// RasterInfo is the JSON shape of one raster in tool results.
type RasterInfo struct {
	Name      string `json:"name"`
	Display   string `json:"display"`
	Available bool   `json:"available"`
	LocalPath string `json:"local_path,omitempty"`
}

// MCP builds the MCP server with every tool registered.
func (s *Server) MCP(version string) *server.MCPServer {
	srv := server.NewMCPServer("paleodem", version, server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("list_models",
		mcp.WithDescription("List plate reconstruction models, optionally only those providing every listed layer kind."),
		mcp.WithArray("layers",
			mcp.Description("Required layer kinds, e.g. Coastlines, StaticPolygons"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), s.listModels)

	srv.AddTool(mcp.NewTool("model_info",
		mcp.WithDescription("Describe one model: origin, time range, layers and whether it is cached."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Model display name as returned by list_models")),
	), s.modelInfo)

	srv.AddTool(mcp.NewTool("list_rasters",
		mcp.WithDescription("List the present-day reference rasters and their local copies."),
	), s.listRasters)

	srv.AddTool(mcp.NewTool("resolve_raster",
		mcp.WithDescription("Download a reference raster if needed and return its local path."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Raster key or display name")),
	), s.resolveRaster)

	if s.Catalog != nil && s.Client != nil {
		srv.AddTool(mcp.NewTool("refresh_catalog",
			mcp.WithDescription("Reload the remote model catalog and raster manifest."),
		), s.refreshCatalog)
	}
	return srv
}

// Serve runs the server on stdin/stdout until the client disconnects.
func (s *Server) Serve(version string) error {
	s.Log.Info().Msg("serving MCP on stdio")
	if err := server.ServeStdio(s.MCP(version)); err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

func (s *Server) listModels(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var kinds []api.LayerKind
	for _, l := range req.GetStringSlice("layers", nil) {
		k, ok := api.ParseLayerKind(l)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown layer kind %q", l)), nil
		}
		kinds = append(kinds, k)
	}
	out := []ModelInfo{}
	for _, name := range s.Models.ListAvailable(kinds...) {
		info, err := s.describe(name)
		if err != nil {
			s.Log.Warn().Err(err).Str("model", name).Msg("describe model")
			continue
		}
		out = append(out, info)
	}
	return jsonResult(out)
}

func (s *Server) modelInfo(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := s.describe(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (s *Server) describe(name string) (ModelInfo, error) {
	m, err := s.Models.Resolve(name)
	if err != nil {
		return ModelInfo{}, err
	}
	d := m.Descriptor()
	info := ModelInfo{
		Name:        d.DisplayName,
		Canonical:   d.Name,
		Description: d.Description,
		Origin:      string(d.Origin),
		Cached:      s.Models.IsCachedLocally(name),
		SmallTime:   d.SmallTime,
		BigTime:     d.BigTime,
		Layers:      []string{},
	}
	for k := range d.Layers {
		info.Layers = append(info.Layers, string(k))
	}
	sort.Strings(info.Layers)
	return info, nil
}

func (s *Server) listRasters(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := []RasterInfo{}
	for _, d := range s.Rasters.ListAvailable() {
		out = append(out, RasterInfo{Name: d.Name, Display: d.Display, Available: d.URL != "", LocalPath: d.LocalPath})
	}
	return jsonResult(out)
}

func (s *Server) resolveRaster(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.Rasters.Resolve(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(p), nil
}

func (s *Server) refreshCatalog(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cat := s.Catalog.Refresh(ctx, s.Client, s.Sources)
	warnings := make([]string, 0, len(cat.Warnings))
	for _, w := range cat.Warnings {
		warnings = append(warnings, w.Error())
	}
	return jsonResult(map[string]any{
		"models":   len(cat.Models),
		"rasters":  len(cat.RasterKeys),
		"warnings": warnings,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
