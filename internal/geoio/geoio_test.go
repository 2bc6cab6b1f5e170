package geoio

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/grid"
)

// unitGrid is a rows x cols grid of 1x1 cells with its origin at (0, rows),
// north-up, so cell (r, c) has its centre at (c+0.5, rows-r-0.5).
func unitGrid(rows, cols int) *grid.Grid {
	return grid.New(rows, cols, grid.GeoTransform{0, 1, 0, float64(rows), 0, -1}, "EPSG:4326")
}

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func collection(geoms ...orb.Geometry) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, g := range geoms {
		fc.Append(geojson.NewFeature(g))
	}
	return fc
}

func TestRasterizer_Collection(t *testing.T) {
	r := NewRasterizer(unitGrid(4, 4), zerolog.Nop())

	t.Run("cell centres inside the polygon", func(t *testing.T) {
		m := r.Collection(collection(square(0, 2, 2, 4)))
		assert.Equal(t, 4, m.Count())
		assert.True(t, m.Has(0, 0))
		assert.True(t, m.Has(1, 1))
		assert.False(t, m.Has(2, 0))
	})

	t.Run("non-polygonal features are skipped", func(t *testing.T) {
		m := r.Collection(collection(orb.Point{1, 1}, square(3, 0, 4, 1)))
		assert.Equal(t, 1, m.Count())
		assert.True(t, m.Has(3, 3))
	})

	t.Run("geometry outside the grid", func(t *testing.T) {
		m := r.Collection(collection(square(10, 10, 12, 12)))
		assert.True(t, m.IsEmpty())
	})

	t.Run("holes are excluded", func(t *testing.T) {
		p := square(0, 0, 4, 4)
		p = append(p, orb.Ring{{1, 1}, {1, 3}, {3, 3}, {3, 1}, {1, 1}})
		m := r.Collection(collection(p))
		assert.Equal(t, 12, m.Count())
		assert.False(t, m.Has(1, 1))
	})
}

func TestRasterizer_Feature(t *testing.T) {
	r := NewRasterizer(unitGrid(2, 2), zerolog.Nop())
	_, err := r.Feature(3, geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrGeometry))

	var ge *api.GeometryError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 3, ge.Feature)
}

func TestRasterizer_Buffer(t *testing.T) {
	r := NewRasterizer(unitGrid(5, 5), zerolog.Nop())
	fc := collection(square(2, 2, 3, 3))

	assert.Equal(t, 1, r.Buffer(fc, 0).Count())

	// Distance 0.5 reaches the centres of the four edge neighbours but
	// not the diagonal ones (distance ~0.707).
	m := r.Buffer(fc, 0.5)
	assert.Equal(t, 5, m.Count())
	assert.True(t, m.Has(1, 2))
	assert.True(t, m.Has(2, 1))
	assert.False(t, m.Has(1, 1))

	assert.Equal(t, 9, r.Buffer(fc, 0.75).Count())
}

func TestPolygonize(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	line := geojson.NewFeature(orb.LineString{{0, 0}, {2, 0}, {2, 2}, {0, 2}})
	line.Properties["layer"] = "Continents"
	fc.Append(line)
	fc.Append(geojson.NewFeature(orb.MultiLineString{
		{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}},
		{{1, 1}, {1, 2}, {2, 2}, {1, 1}},
	}))
	fc.Append(geojson.NewFeature(orb.Point{0, 0}))

	out := Polygonize(fc, zerolog.Nop())
	require.Len(t, out.Features, 2)

	p0 := out.Features[0].Geometry.(orb.Polygon)
	assert.True(t, p0[0].Closed())
	assert.Len(t, p0[0], 5)
	assert.Equal(t, "Continents", out.Features[0].Properties.MustString("layer"))

	p1 := out.Features[1].Geometry.(orb.Polygon)
	assert.Len(t, p1, 2)
}

func TestFixInvalid(t *testing.T) {
	// Clockwise shell with a repeated vertex and no closing point.
	bad := orb.Polygon{{{0, 0}, {0, 2}, {0, 2}, {2, 2}, {2, 0}}}
	degenerate := orb.Polygon{{{0, 0}, {1, 1}, {0, 0}}}

	fc := collection(bad, degenerate, orb.Point{5, 5})
	fc.Features[0].Properties["name"] = "a"

	out := FixInvalid(fc, zerolog.Nop())
	require.Len(t, out.Features, 2)

	p := out.Features[0].Geometry.(orb.Polygon)
	assert.Len(t, p[0], 5)
	assert.True(t, p[0].Closed())
	assert.Equal(t, orb.CCW, p[0].Orientation())
	assert.Equal(t, "a", out.Features[0].Properties.MustString("name"))

	_, isPoint := out.Features[1].Geometry.(orb.Point)
	assert.True(t, isPoint)
}

func TestFilterSelectMerge(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	for _, layer := range []string{"Shallow sea", "Continents", "continents "} {
		f := geojson.NewFeature(square(0, 0, 1, 1))
		f.Properties["layer"] = layer
		fc.Append(f)
	}

	assert.Len(t, Filter(fc, "layer", "Continents").Features, 2)
	assert.Len(t, Filter(fc, "layer", "Continental Shelves").Features, 0)
	assert.Len(t, Select(fc, []int{0, 2, 9}).Features, 2)
	assert.Len(t, Merge(fc, nil, fc).Features, 6)
	assert.True(t, IsEmpty(nil))
	assert.False(t, IsEmpty(fc))
}

func TestVector_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "mask.geojson")
	fc := collection(square(0, 0, 1, 1))
	require.NoError(t, WriteVector(path, fc))

	got, err := ReadVector(path)
	require.NoError(t, err)
	assert.Len(t, got.Features, 1)

	_, err = ReadVector(filepath.Join(t.TempDir(), "mask.shp"))
	assert.True(t, errors.Is(err, api.ErrValidation))
}

func TestASCII_RoundTrip(t *testing.T) {
	g := grid.New(2, 3, grid.GeoTransform{-180, 0.5, 0, 90, 0, -0.5}, "")
	copy(g.Data, []float64{1, 2, 3, -4.5, math.NaN(), 6})

	path := filepath.Join(t.TempDir(), "dem.asc")
	require.NoError(t, WriteRaster(path, g))

	got, err := ReadRaster(path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Rows)
	assert.Equal(t, 3, got.Cols)
	assert.InDeltaSlice(t, g.Transform[:], got.Transform[:], 1e-12)
	assert.Equal(t, 1.0, got.At(0, 0))
	assert.Equal(t, -4.5, got.At(1, 0))
	assert.True(t, math.IsNaN(got.At(1, 1)))
	assert.Equal(t, 6.0, got.At(1, 2))
}

func TestASCII_SouthUpIsFlipped(t *testing.T) {
	g := grid.New(2, 1, grid.GeoTransform{0, 1, 0, 0, 0, 1}, "")
	copy(g.Data, []float64{10, 20}) // row 0 is the southern row

	path := filepath.Join(t.TempDir(), "dem.asc")
	require.NoError(t, WriteRaster(path, g))

	got, err := ReadRaster(path)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.At(0, 0))
	assert.Equal(t, 10.0, got.At(1, 0))
	assert.Equal(t, 2.0, got.Transform[3])
}

func TestWriteRaster_UnsupportedLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	err := WriteRaster(filepath.Join(dir, "dem.tif"), unitGrid(1, 1))
	assert.True(t, errors.Is(err, api.ErrValidation))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteAtomic_FailureKeepsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	err := WriteAtomic(path, func(tmp string) error {
		require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o644))
		return errors.New("boom")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
