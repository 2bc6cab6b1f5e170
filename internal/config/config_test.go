package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/paleodem/api"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalogURL, cfg.CatalogURL)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	assert.Len(t, cfg.Rasters, 4)
	assert.Equal(t, "etopo_bed_60", cfg.Rasters[0].Name)
	assert.Equal(t, 0.5, cfg.BufferDistance)
	assert.Equal(t, -1000.0, cfg.DepthThreshold)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRasterManifestURL, cfg.RasterManifestURL)
}

func TestLoad_Overrides(t *testing.T) {
	path := write(t, `
cache_dir    = "/tmp/pdem"
catalog_url  = "http://localhost/models.json"
http_timeout = "5s"

raster "gebco" {
  display = "GEBCO 2023"
}

compose {
  depth_threshold = -500
}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pdem", cfg.CacheDir)
	assert.Equal(t, "http://localhost/models.json", cfg.CatalogURL)
	assert.Equal(t, DefaultRasterManifestURL, cfg.RasterManifestURL)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, []Raster{{Name: "gebco", Display: "GEBCO 2023"}}, cfg.Rasters)
	assert.Equal(t, 0.5, cfg.BufferDistance)
	assert.Equal(t, -500.0, cfg.DepthThreshold)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(write(t, `http_timeout = "soon"`))
	assert.True(t, errors.Is(err, api.ErrValidation))

	_, err = Load(write(t, "raster \"a\" {\n  display = \"A\"\n}\nraster \"a\" {\n  display = \"B\"\n}\n"))
	assert.True(t, errors.Is(err, api.ErrValidation))

	_, err = Load(write(t, `unknown_field = 1`))
	assert.Error(t, err)
}
