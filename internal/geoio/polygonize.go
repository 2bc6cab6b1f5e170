package geoio

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
)

// Polygonize closes line features into polygons. A LineString becomes a
// single-ring polygon; a MultiLineString becomes a polygon whose first line
// is the shell and the rest are holes. Any other geometry is a GeometryError
// for that feature; it is logged and the remaining features are processed.
func Polygonize(fc *geojson.FeatureCollection, log zerolog.Logger) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	for i, f := range fc.Features {
		poly, err := PolygonizeFeature(i, f)
		if err != nil {
			log.Warn().Err(err).Msg("cannot polygonize feature")
			continue
		}
		nf := geojson.NewFeature(poly)
		nf.Properties = f.Properties.Clone()
		out.Append(nf)
	}
	return out
}

// PolygonizeFeature closes one line feature into a polygon.
func PolygonizeFeature(index int, f *geojson.Feature) (orb.Polygon, error) {
	switch g := f.Geometry.(type) {
	case orb.LineString:
		return orb.Polygon{closeRing(g)}, nil
	case orb.MultiLineString:
		poly := make(orb.Polygon, 0, len(g))
		for _, ls := range g {
			poly = append(poly, closeRing(ls))
		}
		return poly, nil
	case nil:
		return nil, &api.GeometryError{Feature: index, Msg: "missing geometry"}
	default:
		return nil, &api.GeometryError{Feature: index, Msg: "geometry is neither a line nor a multi-line: " + g.GeoJSONType()}
	}
}

func closeRing(ls orb.LineString) orb.Ring {
	ring := append(orb.Ring(nil), ls...)
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}

// FixInvalid repairs the common defects of hand-digitised masks: repeated
// vertices, unclosed rings, degenerate rings and wrong winding. Shells are
// oriented counter-clockwise and holes clockwise. Features whose shell is
// degenerate are dropped with a warning. Self-intersections are left in
// place; rasterization uses even-odd containment so they do not leak.
func FixInvalid(fc *geojson.FeatureCollection, log zerolog.Logger) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	for i, f := range fc.Features {
		var fixed orb.Geometry
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			if p, ok := fixPolygon(g); ok {
				fixed = p
			}
		case orb.MultiPolygon:
			var mp orb.MultiPolygon
			for _, p := range g {
				if fp, ok := fixPolygon(p); ok {
					mp = append(mp, fp)
				}
			}
			if len(mp) > 0 {
				fixed = mp
			}
		default:
			fixed = f.Geometry
		}
		if fixed == nil {
			log.Warn().Err(&api.GeometryError{Feature: i, Msg: "degenerate polygon"}).Msg("dropping feature")
			continue
		}
		nf := geojson.NewFeature(fixed)
		nf.ID = f.ID
		nf.Properties = f.Properties.Clone()
		out.Append(nf)
	}
	return out
}

func fixPolygon(p orb.Polygon) (orb.Polygon, bool) {
	var out orb.Polygon
	for i, ring := range p {
		r := dedupe(ring)
		if len(r) > 0 && !r.Closed() {
			r = append(r, r[0])
		}
		if len(r) < 4 {
			if i == 0 {
				return nil, false
			}
			continue
		}
		want := orb.CCW
		if i > 0 {
			want = orb.CW
		}
		if r.Orientation() != want {
			r.Reverse()
		}
		out = append(out, r)
	}
	return out, len(out) > 0
}

func dedupe(ring orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(ring))
	for _, pt := range ring {
		if len(out) > 0 && out[len(out)-1].Equal(pt) {
			continue
		}
		out = append(out, pt)
	}
	return out
}
