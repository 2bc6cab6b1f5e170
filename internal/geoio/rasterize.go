package geoio

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/grid"
)

// Rasterizer burns polygon geometry into masks aligned to a target grid.
// A cell is inside when its centre is inside the geometry, matching GDAL's
// default (non all-touched) rasterization.
type Rasterizer struct {
	Transform grid.GeoTransform
	Rows      int
	Cols      int
	Log       zerolog.Logger
}

// NewRasterizer returns a rasterizer aligned to g.
func NewRasterizer(g *grid.Grid, log zerolog.Logger) *Rasterizer {
	return &Rasterizer{Transform: g.Transform, Rows: g.Rows, Cols: g.Cols, Log: log}
}

// Collection burns every polygonal feature of fc into one mask. Features
// without polygonal geometry are skipped with a warning.
func (r *Rasterizer) Collection(fc *geojson.FeatureCollection) *grid.Mask {
	m := grid.NewMask(r.Rows, r.Cols)
	if fc == nil {
		return m
	}
	for i, f := range fc.Features {
		if err := r.burn(m, f.Geometry, 0); err != nil {
			r.Log.Warn().Err(&api.GeometryError{Feature: i, Msg: err.Error()}).Msg("skipping feature")
		}
	}
	return m
}

// Feature burns a single feature. Non-polygonal geometry is a GeometryError.
func (r *Rasterizer) Feature(index int, f *geojson.Feature) (*grid.Mask, error) {
	m := grid.NewMask(r.Rows, r.Cols)
	if err := r.burn(m, f.Geometry, 0); err != nil {
		return nil, &api.GeometryError{Feature: index, Msg: err.Error()}
	}
	return m, nil
}

// Buffer burns the fixed-distance buffer of every polygonal feature of fc:
// a cell is inside when its centre lies in a polygon or within distance of
// any of its rings. Distance is in map units.
func (r *Rasterizer) Buffer(fc *geojson.FeatureCollection, distance float64) *grid.Mask {
	m := grid.NewMask(r.Rows, r.Cols)
	if fc == nil {
		return m
	}
	for i, f := range fc.Features {
		if err := r.burn(m, f.Geometry, distance); err != nil {
			r.Log.Warn().Err(&api.GeometryError{Feature: i, Msg: err.Error()}).Msg("skipping feature in buffer")
		}
	}
	return m
}

type errNotPolygonal string

func (e errNotPolygonal) Error() string { return "geometry " + string(e) + " is not polygonal" }

func (r *Rasterizer) burn(m *grid.Mask, g orb.Geometry, distance float64) error {
	if g == nil {
		return errNotPolygonal("<nil>")
	}
	polys := polygons(g)
	if len(polys) == 0 {
		return errNotPolygonal(g.GeoJSONType())
	}
	for _, p := range polys {
		if len(p) == 0 || len(p[0]) < 3 {
			continue
		}
		r.burnPolygon(m, p, distance)
	}
	return nil
}

func (r *Rasterizer) burnPolygon(m *grid.Mask, p orb.Polygon, distance float64) {
	b := p.Bound()
	if distance > 0 {
		b = b.Pad(distance)
	}
	r0, r1, c0, c1, ok := r.window(b)
	if !ok {
		return
	}
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			x, y := r.Transform.CellCenter(row, col)
			pt := orb.Point{x, y}
			if !b.Contains(pt) {
				continue
			}
			if planar.PolygonContains(p, pt) || (distance > 0 && withinDistance(p, pt, distance)) {
				m.Add(row, col)
			}
		}
	}
}

// window returns the inclusive row/column range whose cells may intersect b.
func (r *Rasterizer) window(b orb.Bound) (r0, r1, c0, c1 int, ok bool) {
	ra, ca := r.Transform.CellOf(b.Min[0], b.Min[1])
	rb, cb := r.Transform.CellOf(b.Max[0], b.Max[1])
	r0 = clamp(int(math.Floor(math.Min(ra, rb))), 0, r.Rows-1)
	r1 = clamp(int(math.Ceil(math.Max(ra, rb))), 0, r.Rows-1)
	c0 = clamp(int(math.Floor(math.Min(ca, cb))), 0, r.Cols-1)
	c1 = clamp(int(math.Ceil(math.Max(ca, cb))), 0, r.Cols-1)
	if math.Max(ra, rb) < 0 || math.Min(ra, rb) > float64(r.Rows) ||
		math.Max(ca, cb) < 0 || math.Min(ca, cb) > float64(r.Cols) {
		return 0, 0, 0, 0, false
	}
	return r0, r1, c0, c1, true
}

func withinDistance(p orb.Polygon, pt orb.Point, d float64) bool {
	for _, ring := range p {
		for i := 1; i < len(ring); i++ {
			if planar.DistanceFromSegment(ring[i-1], ring[i], pt) <= d {
				return true
			}
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
