// Package geoio is the geo I/O provider: it reads and writes rasters and
// vector layers, and turns vector geometry into masks aligned to a grid.
//
// Vector layers are GeoJSON feature collections (orb/geojson). Rasters are
// netCDF (.nc, .grd) or ESRI ASCII grids (.asc). Writes are atomic: data goes
// to a temporary sibling first and is renamed into place only when complete.
package geoio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/agentic-research/paleodem/api"
)

// ReadVector loads a GeoJSON feature collection.
func ReadVector(path string) (*geojson.FeatureCollection, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
	default:
		return nil, api.Invalid("read vector", "unsupported vector format %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vector %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson %s: %w", path, err)
	}
	return fc, nil
}

// WriteVector saves fc as GeoJSON.
func WriteVector(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	return WriteAtomic(path, func(tmp string) error {
		return os.WriteFile(tmp, data, 0o644)
	})
}

// Filter returns the features whose string property key equals value.
// Comparison is case-insensitive and ignores surrounding whitespace.
func Filter(fc *geojson.FeatureCollection, key, value string) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	for _, f := range fc.Features {
		if strings.EqualFold(strings.TrimSpace(f.Properties.MustString(key, "")), strings.TrimSpace(value)) {
			out.Append(f)
		}
	}
	return out
}

// Select returns the features at the given indices; out-of-range indices are ignored.
func Select(fc *geojson.FeatureCollection, indices []int) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for _, i := range indices {
		if i >= 0 && i < len(fc.Features) {
			out.Append(fc.Features[i])
		}
	}
	return out
}

// Merge concatenates the features of every collection.
func Merge(fcs ...*geojson.FeatureCollection) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for _, fc := range fcs {
		if fc == nil {
			continue
		}
		for _, f := range fc.Features {
			out.Append(f)
		}
	}
	return out
}

// IsEmpty reports whether fc is nil or has no features.
func IsEmpty(fc *geojson.FeatureCollection) bool {
	return fc == nil || len(fc.Features) == 0
}

// polygons flattens a geometry into its polygon parts.
func polygons(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return []orb.Polygon(v)
	case orb.Bound:
		return []orb.Polygon{v.ToPolygon()}
	case orb.Collection:
		var out []orb.Polygon
		for _, part := range v {
			out = append(out, polygons(part)...)
		}
		return out
	}
	return nil
}
