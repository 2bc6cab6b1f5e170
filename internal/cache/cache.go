// Package cache is the local resource store: one directory per model or
// raster name under a cache root, a sqlite index recording which entries are
// complete, and per-name locks that serialize presence checks with the
// downloads that fill them.
//
// Layout:
//
//	<root>/index.db
//	<root>/models/<name>/...
//	<root>/rasters/<name>/...
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
)

// Namespaces under the cache root.
const (
	Models  = "models"
	Rasters = "rasters"
)

// Cache owns the index and the per-namespace stores.
type Cache struct {
	Root  string
	Index *Index

	models  *Store
	rasters *Store
}

// Open opens the cache rooted at root on the OS filesystem, creating the
// root and namespace directories if needed.
func Open(root string, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root %s: %w", root, err)
	}
	return OpenFS(osfs.New(root), root, filepath.Join(root, "index.db"), log)
}

// OpenFS opens a cache over fs. root is the OS path fs is rooted at, used to
// build the paths handed to geo I/O. An empty indexPath keeps the index in
// memory.
func OpenFS(fs billy.Filesystem, root, indexPath string, log zerolog.Logger) (*Cache, error) {
	for _, ns := range []string{Models, Rasters} {
		if err := fs.MkdirAll(ns, 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", ns, err)
		}
	}
	ix, err := OpenIndex(indexPath)
	if err != nil {
		return nil, err
	}
	c := &Cache{Root: root, Index: ix}
	c.models = newStore(Models, chroot.New(fs, Models), filepath.Join(root, Models), ix, log)
	c.rasters = newStore(Rasters, chroot.New(fs, Rasters), filepath.Join(root, Rasters), ix, log)
	return c, nil
}

// Models is the plate model store.
func (c *Cache) Models() *Store { return c.models }

// Rasters is the reference raster store.
func (c *Cache) Rasters() *Store { return c.rasters }

// Close closes the index.
func (c *Cache) Close() error { return c.Index.Close() }

// CheckSpace fails with a ValidationError if fewer than need bytes are free
// on the filesystem holding the cache. Unknown sizes and platforms without
// a free-space query pass.
func (c *Cache) CheckSpace(need int64) error {
	if need <= 0 {
		return nil
	}
	free, err := freeBytes(c.Root)
	if err != nil {
		return nil
	}
	if uint64(need) > free {
		return api.Invalid("check disk space", "need %d bytes in %s, %d available", need, c.Root, free)
	}
	return nil
}
