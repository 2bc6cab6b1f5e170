// Package catalog is the remote side of resource resolution: the plate model
// catalog, the present-day raster manifest and the HTTP client that fetches
// them. A failed fetch never fails a load; the affected half of the catalog
// comes back empty and the failure is reported as a warning.
package catalog

import (
	"context"

	"github.com/agentic-research/paleodem/api"
)

// Sources are the catalog document URLs. An empty URL is skipped.
type Sources struct {
	ModelsURL         string
	RasterManifestURL string
}

// Catalog is one snapshot of the remote catalog.
type Catalog struct {
	Models []api.CatalogEntry // catalog order

	RasterKeys []string // manifest order
	RasterURLs map[string]string

	// Warnings holds the fetch and parse failures that left part of the
	// snapshot empty.
	Warnings []error
}

// Source yields the current catalog snapshot.
type Source interface {
	Current() *Catalog
}

// Empty returns a catalog with no entries, for offline use.
func Empty() *Catalog {
	return &Catalog{RasterURLs: map[string]string{}}
}

// Current lets a fixed snapshot serve as a Source.
func (c *Catalog) Current() *Catalog { return c }

// Model returns the entry with the given canonical name.
func (c *Catalog) Model(name string) (api.CatalogEntry, bool) {
	for _, e := range c.Models {
		if e.Name == name {
			return e, true
		}
	}
	return api.CatalogEntry{}, false
}

// RasterURL returns the manifest URL of a raster key.
func (c *Catalog) RasterURL(key string) (string, bool) {
	u, ok := c.RasterURLs[key]
	return u, ok
}

// Degraded reports whether any part of the snapshot failed to load.
func (c *Catalog) Degraded() bool { return len(c.Warnings) > 0 }

// Load fetches both catalog documents. It always returns a usable catalog.
func (c *Client) Load(ctx context.Context, src Sources) *Catalog {
	cat := Empty()

	if src.ModelsURL != "" {
		models, err := c.loadModels(ctx, src.ModelsURL)
		if err != nil {
			c.Log.Warn().Err(err).Msg("model catalog unavailable, using local models only")
			cat.Warnings = append(cat.Warnings, err)
		} else {
			cat.Models = models
		}
	}

	if src.RasterManifestURL != "" {
		keys, urls, err := c.loadManifest(ctx, src.RasterManifestURL)
		if err != nil {
			c.Log.Warn().Err(err).Msg("raster manifest unavailable, using local rasters only")
			cat.Warnings = append(cat.Warnings, err)
		} else {
			cat.RasterKeys, cat.RasterURLs = keys, urls
		}
	}
	return cat
}

func (c *Client) loadModels(ctx context.Context, u string) ([]api.CatalogEntry, error) {
	data, err := c.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	return ParseModels(data)
}

func (c *Client) loadManifest(ctx context.Context, u string) ([]string, map[string]string, error) {
	data, err := c.Get(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return ParseManifest(data)
}
