// Package config loads the HCL configuration file.
//
//	cache_dir           = "/data/paleodem"
//	catalog_url         = "https://repo.gplates.org/webdav/pmm/config/models_v2.json"
//	raster_manifest_url = "https://repo.gplates.org/webdav/pmm/config/present_day_rasters.json"
//	http_timeout        = "30s"
//
//	raster "etopo_bed_60" {
//	  display = "ETOPO 2022 Bedrock (60 arc seconds)"
//	}
//
//	compose {
//	  buffer_distance = 0.5
//	  depth_threshold = -1000
//	}
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/paleodem/api"
)

const (
	DefaultCatalogURL        = "https://repo.gplates.org/webdav/pmm/config/models_v2.json"
	DefaultRasterManifestURL = "https://repo.gplates.org/webdav/pmm/config/present_day_rasters.json"
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultBufferDistance    = 0.5
	DefaultDepthThreshold    = -1000.0
)

// DefaultRasters is the raster table used when the file declares none.
var DefaultRasters = []Raster{
	{Name: "etopo_bed_60", Display: "ETOPO 2022 Bedrock (60 arc seconds)"},
	{Name: "etopo_ice_60", Display: "ETOPO 2022 Ice Surface (60 arc seconds)"},
	{Name: "etopo_bed_30", Display: "ETOPO 2022 Bedrock (30 arc seconds)"},
	{Name: "etopo_ice_30", Display: "ETOPO 2022 Ice Surface (30 arc seconds)"},
}

// Raster maps a manifest key to its display name.
type Raster struct {
	Name    string `hcl:"name,label"`
	Display string `hcl:"display"`
}

// Compose holds compositor defaults.
type Compose struct {
	BufferDistance *float64 `hcl:"buffer_distance,optional"`
	DepthThreshold *float64 `hcl:"depth_threshold,optional"`
}

type file struct {
	CacheDir          string   `hcl:"cache_dir,optional"`
	CatalogURL        string   `hcl:"catalog_url,optional"`
	RasterManifestURL string   `hcl:"raster_manifest_url,optional"`
	HTTPTimeout       string   `hcl:"http_timeout,optional"`
	Rasters           []Raster `hcl:"raster,block"`
	Compose           *Compose `hcl:"compose,block"`
}

// Config is the resolved configuration with defaults applied.
type Config struct {
	CacheDir          string
	CatalogURL        string
	RasterManifestURL string
	HTTPTimeout       time.Duration
	Rasters           []Raster
	BufferDistance    float64
	DepthThreshold    float64
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		CacheDir:          DefaultCacheDir(),
		CatalogURL:        DefaultCatalogURL,
		RasterManifestURL: DefaultRasterManifestURL,
		HTTPTimeout:       DefaultHTTPTimeout,
		Rasters:           append([]Raster(nil), DefaultRasters...),
		BufferDistance:    DefaultBufferDistance,
		DepthThreshold:    DefaultDepthThreshold,
	}
}

// DefaultCacheDir is $HOME/.paleodem/cache, or a directory under the
// system temp dir when no home directory is known.
func DefaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".paleodem", "cache")
	}
	return filepath.Join(os.TempDir(), "paleodem", "cache")
}

// DefaultPath is the configuration file read when --config is not given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".paleodem", "config.hcl")
}

// Load reads path and applies defaults for every unset field. A missing file
// yields Default(); an empty path is treated the same way.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	var f file
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if f.CacheDir != "" {
		cfg.CacheDir = f.CacheDir
	}
	if f.CatalogURL != "" {
		cfg.CatalogURL = f.CatalogURL
	}
	if f.RasterManifestURL != "" {
		cfg.RasterManifestURL = f.RasterManifestURL
	}
	if f.HTTPTimeout != "" {
		d, err := time.ParseDuration(f.HTTPTimeout)
		if err != nil || d <= 0 {
			return nil, api.Invalid("load config", "%s: invalid http_timeout %q", path, f.HTTPTimeout)
		}
		cfg.HTTPTimeout = d
	}
	if len(f.Rasters) > 0 {
		seen := map[string]bool{}
		for _, r := range f.Rasters {
			if seen[r.Name] {
				return nil, api.Invalid("load config", "%s: raster %q declared twice", path, r.Name)
			}
			seen[r.Name] = true
		}
		cfg.Rasters = f.Rasters
	}
	if f.Compose != nil {
		if f.Compose.BufferDistance != nil {
			cfg.BufferDistance = *f.Compose.BufferDistance
		}
		if f.Compose.DepthThreshold != nil {
			cfg.DepthThreshold = *f.Compose.DepthThreshold
		}
	}
	return cfg, nil
}
