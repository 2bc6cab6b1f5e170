package geoio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/grid"
)

// ReadRaster loads the first 2-D band of a raster file. Source no-data values
// are converted to NaN.
func ReadRaster(path string) (*grid.Grid, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nc", ".grd", ".nc4":
		return readNetCDF(path)
	case ".asc":
		return readASCII(path)
	default:
		return nil, api.Invalid("read raster", "unsupported raster format %q", filepath.Ext(path))
	}
}

// WriteRaster saves g, choosing the encoding from the file extension.
func WriteRaster(path string, g *grid.Grid) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nc", ".grd", ".nc4":
		return WriteAtomic(path, func(tmp string) error { return writeNetCDF(tmp, g) })
	case ".asc":
		return WriteAtomic(path, func(tmp string) error { return writeASCII(tmp, g) })
	default:
		return api.Invalid("write raster", "unsupported raster format %q", filepath.Ext(path))
	}
}

// WriteAtomic calls write with a temporary path next to path and renames the
// result into place only if write succeeds. The temporary file is removed on
// failure, so path never holds a partial result.
func WriteAtomic(path string, write func(tmp string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmp := f.Name()
	_ = f.Close()
	// Some writers refuse to open an existing file.
	_ = os.Remove(tmp)

	if err := write(tmp); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
