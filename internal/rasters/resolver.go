// Package rasters resolves the present-day reference rasters (bedrock and ice
// surface elevation) used as inputs to paleo-DEM construction. Rasters are
// downloaded on demand and re-downloaded when the server reports a newer
// version than the one in the cache.
package rasters

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/cache"
	"github.com/agentic-research/paleodem/internal/catalog"
	"github.com/agentic-research/paleodem/internal/config"
)

// rasterExts are the downloaded file types returned by Resolve, in order of
// preference when an archive holds more than one file.
var rasterExts = []string{".nc", ".nc4", ".grd", ".asc"}

// Resolver maps raster names to local files.
type Resolver struct {
	Table   []config.Raster
	Catalog catalog.Source
	Client  *catalog.Client // nil disables freshness checks and downloads
	Cache   *cache.Cache
	Log     zerolog.Logger
}

func New(table []config.Raster, src catalog.Source, client *catalog.Client, c *cache.Cache, log zerolog.Logger) *Resolver {
	return &Resolver{Table: table, Catalog: src, Client: client, Cache: c, Log: log}
}

func (r *Resolver) store() *cache.Store { return r.Cache.Rasters() }

func (r *Resolver) manifestURL(key string) (string, bool) {
	if r.Catalog == nil {
		return "", false
	}
	cat := r.Catalog.Current()
	if cat == nil {
		return "", false
	}
	return cat.RasterURL(key)
}

// lookup accepts either the display name or the manifest key.
func (r *Resolver) lookup(name string) (config.Raster, error) {
	for _, e := range r.Table {
		if e.Display == name || e.Name == name {
			return e, nil
		}
	}
	return config.Raster{}, fmt.Errorf("raster %q: %w", name, api.ErrNotFound)
}

// ListAvailable describes every configured raster in table order. URL is
// empty for a raster missing from the manifest; LocalPath is empty for one
// that has not been downloaded.
func (r *Resolver) ListAvailable() []api.RasterDescriptor {
	out := make([]api.RasterDescriptor, 0, len(r.Table))
	for _, e := range r.Table {
		d := api.RasterDescriptor{Name: e.Name, Display: e.Display}
		d.URL, _ = r.manifestURL(e.Name)
		if p, err := r.localFile(e.Name); err == nil {
			d.LocalPath = p
		}
		out = append(out, d)
	}
	return out
}

// LocalPath returns the downloaded file of a raster without contacting the
// server, or an error wrapping api.ErrNotFound.
func (r *Resolver) LocalPath(name string) (string, error) {
	e, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	return r.localFile(e.Name)
}

func (r *Resolver) localFile(key string) (string, error) {
	dir, err := r.store().PathFor(key)
	if err != nil {
		return "", err
	}
	rec, err := r.Cache.Index.Freshness(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(rec.File)), nil
}

// IsCachedLocally reports whether a raster is downloaded and still current.
func (r *Resolver) IsCachedLocally(ctx context.Context, name string) bool {
	e, err := r.lookup(name)
	if err != nil {
		return false
	}
	if _, err := r.localFile(e.Name); err != nil {
		return false
	}
	return r.fresh(ctx, e.Name)
}

// fresh compares the stored validators of a present raster with the server.
// Anything that prevents the comparison keeps the local copy.
func (r *Resolver) fresh(ctx context.Context, key string) bool {
	rec, err := r.Cache.Index.Freshness(key)
	if err != nil {
		return false
	}
	u, ok := r.manifestURL(key)
	if !ok {
		r.Log.Warn().Str("raster", key).Msg("raster missing from manifest, using local copy")
		return true
	}
	if u != rec.URL {
		return false
	}
	if r.Client == nil {
		return true
	}
	val, err := r.Client.Head(ctx, u)
	if err != nil {
		r.Log.Warn().Err(err).Str("raster", key).Msg("cannot check raster for updates, using local copy")
		return true
	}
	return sameVersion(*rec, val)
}

func sameVersion(rec api.FreshnessRecord, val catalog.Validators) bool {
	switch {
	case val.ETag != "" && rec.ETag != "":
		return val.ETag == rec.ETag
	case val.LastModified != "" && rec.LastModified != "":
		return val.LastModified == rec.LastModified
	case val.Size >= 0 && rec.Size > 0:
		return val.Size == rec.Size
	}
	return true
}

// Resolve returns the local file of a raster, downloading it first when it
// is missing or out of date.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	e, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	key := e.Name
	u, hasURL := r.manifestURL(key)

	_, _, err = r.store().EnsureFresh(key, func() bool {
		if _, err := r.Cache.Index.Freshness(key); err != nil {
			return false
		}
		return r.fresh(ctx, key)
	}, func(stage billy.Filesystem) error {
		if !hasURL {
			return fmt.Errorf("raster %s is not in the manifest: %w", key, api.ErrNotFound)
		}
		if r.Client == nil {
			return &api.NetworkError{URL: u, Err: errors.New("downloads disabled")}
		}
		if val, err := r.Client.Head(ctx, u); err == nil && val.Size > 0 {
			if err := r.Cache.CheckSpace(val.Size); err != nil {
				return err
			}
		}
		r.Log.Info().Str("raster", key).Str("url", u).Msg("downloading raster")
		val, files, err := r.Client.Download(ctx, u, stage, "")
		if err != nil {
			return err
		}
		file := pickRaster(files)
		if file == "" {
			return api.Invalid("resolve raster", "download of %s holds no raster file", key)
		}
		// Recorded before the entry is marked present, so a present raster
		// always has validators.
		return r.Cache.Index.PutFreshness(api.FreshnessRecord{
			Name: key, URL: u, ETag: val.ETag, LastModified: val.LastModified, Size: val.Size, File: file,
		})
	})
	if err != nil {
		return "", err
	}
	return r.localFile(key)
}

// Delete removes a downloaded raster. Deleting one that is not cached is a
// no-op.
func (r *Resolver) Delete(name string) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	if err := r.store().Remove(e.Name); err != nil {
		return err
	}
	return r.Cache.Index.DeleteFreshness(e.Name)
}

func pickRaster(files []string) string {
	for _, ext := range rasterExts {
		for _, f := range files {
			if strings.EqualFold(path.Ext(f), ext) {
				return f
			}
		}
	}
	if len(files) > 0 {
		return files[0]
	}
	return ""
}
