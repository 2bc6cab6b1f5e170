package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/cache"
	"github.com/agentic-research/paleodem/internal/catalog"
	"github.com/agentic-research/paleodem/internal/config"
	"github.com/agentic-research/paleodem/internal/models"
	"github.com/agentic-research/paleodem/internal/rasters"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	c, err := cache.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	cat := &catalog.Catalog{
		Models: []api.CatalogEntry{{
			Name: "muller2019", BigTime: 250, Rotations: "https://example.test/rot.zip",
			Layers: map[api.LayerKind]string{api.Coastlines: "https://example.test/c.zip"},
		}},
		RasterURLs: map[string]string{"etopo_bed_60": "https://example.test/bed60.nc"},
		RasterKeys: []string{"etopo_bed_60"},
	}
	mr := models.New(cat, nil, c.Models(), zerolog.Nop())

	src := t.TempDir()
	rot := filepath.Join(src, "a.rot")
	require.NoError(t, os.WriteFile(rot, []byte("r"), 0o644))
	_, err = mr.AddCustomModel(models.CustomModel{Name: "Sandbox", BigTime: 100, Rotations: []string{rot}})
	require.NoError(t, err)

	return &Server{
		Models:  mr,
		Rasters: rasters.New(config.DefaultRasters, cat, nil, c, zerolog.Nop()),
		Log:     zerolog.Nop(),
	}
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content %T", res.Content[0])
	return ""
}

func TestListModels(t *testing.T) {
	s := newServer(t)

	res, err := s.listModels(context.Background(), call(nil))
	require.NoError(t, err)
	var all []ModelInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &all))
	require.Len(t, all, 2)
	assert.Equal(t, "Muller 2019", all[0].Name)
	assert.Equal(t, "remote", all[0].Origin)
	assert.False(t, all[0].Cached)
	assert.Equal(t, "Sandbox", all[1].Name)
	assert.True(t, all[1].Cached)

	res, err = s.listModels(context.Background(), call(map[string]any{"layers": []any{"Coastlines"}}))
	require.NoError(t, err)
	var filtered []ModelInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, []string{"Coastlines"}, filtered[0].Layers)

	res, err = s.listModels(context.Background(), call(map[string]any{"layers": []any{"Rivers"}}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestModelInfo(t *testing.T) {
	s := newServer(t)

	res, err := s.modelInfo(context.Background(), call(map[string]any{"name": "Sandbox"}))
	require.NoError(t, err)
	var info ModelInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &info))
	assert.Equal(t, "custom", info.Origin)
	assert.Equal(t, 100.0, info.BigTime)

	res, err = s.modelInfo(context.Background(), call(map[string]any{"name": "Nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.modelInfo(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRasters(t *testing.T) {
	s := newServer(t)

	res, err := s.listRasters(context.Background(), call(nil))
	require.NoError(t, err)
	var list []RasterInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &list))
	require.Len(t, list, 4)
	assert.True(t, list[0].Available)
	assert.False(t, list[1].Available)

	// No client: resolving reports the failure as a tool error.
	res, err = s.resolveRaster(context.Background(), call(map[string]any{"name": "etopo_bed_60"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCPRegistersTools(t *testing.T) {
	s := newServer(t)
	assert.NotNil(t, s.MCP("test"))

	s.Catalog = catalog.NewHotSwap(nil)
	s.Client = catalog.NewClient(0, zerolog.Nop())
	assert.NotNil(t, s.MCP("test"))
}
