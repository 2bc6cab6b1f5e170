package partition

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/progress"
)

// 6x6 grid of unit cells covering x in [0,6], y in [0,6], north-up.
func workGrid() *grid.Grid {
	return grid.New(6, 6, grid.GeoTransform{0, 1, 0, 6, 0, -1}, "EPSG:4326")
}

func box(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func polys(ps ...orb.Polygon) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range ps {
		fc.Append(geojson.NewFeature(p))
	}
	return fc
}

func run(t *testing.T, in Inputs) *Result {
	t.Helper()
	g := workGrid()
	p := &Partitioner{Log: zerolog.Nop()}
	res, err := p.Run(context.Background(), in, geoio.NewRasterizer(g, zerolog.Nop()), nil)
	require.NoError(t, err)
	return res
}

func TestPartition_Overlapping(t *testing.T) {
	// Nested boxes: sea covers everything, shelf the inner 4x4, continent the inner 2x2.
	res := run(t, Inputs{
		ShallowSea: ClassInput{Polygons: polys(box(0, 0, 6, 6))},
		Shelf:      ClassInput{Polygons: polys(box(1, 1, 5, 5))},
		Continent:  ClassInput{Polygons: polys(box(2, 2, 4, 4))},
	})

	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 36-16, res.ShallowSea.Count())
	assert.Equal(t, 16-4, res.Shelf.Count())
	assert.Equal(t, 4, res.Continent.Count())
	assert.False(t, res.ShallowSea.Intersects(res.Shelf))
	assert.False(t, res.ShallowSea.Intersects(res.Continent))
	assert.False(t, res.Shelf.Intersects(res.Continent))
	assert.Equal(t, 36, res.Land.Count(), "classes cover the union of the inputs")
}

func TestPartition_Idempotent(t *testing.T) {
	// Disjoint strips: already exclusive.
	in := Inputs{
		ShallowSea: ClassInput{Polygons: polys(box(0, 0, 2, 6))},
		Shelf:      ClassInput{Polygons: polys(box(2, 0, 4, 6))},
		Continent:  ClassInput{Polygons: polys(box(4, 0, 6, 6))},
	}
	res := run(t, in)

	r := geoio.NewRasterizer(workGrid(), zerolog.Nop())
	assert.True(t, res.ShallowSea.Equal(r.Collection(in.ShallowSea.Polygons)))
	assert.True(t, res.Shelf.Equal(r.Collection(in.Shelf.Polygons)))
	assert.True(t, res.Continent.Equal(r.Collection(in.Continent.Polygons)))

	sea, shelf, cont := Exclusive(res.ShallowSea, res.Shelf, res.Continent)
	assert.True(t, sea.Equal(res.ShallowSea))
	assert.True(t, shelf.Equal(res.Shelf))
	assert.True(t, cont.Equal(res.Continent))
}

func TestPartition_LinesArePolygonized(t *testing.T) {
	lines := geojson.NewFeatureCollection()
	lines.Append(geojson.NewFeature(orb.LineString{{0, 0}, {2, 0}, {2, 2}, {0, 2}}))
	lines.Append(geojson.NewFeature(orb.Point{1, 1})) // skipped

	res := run(t, Inputs{
		ShallowSea: ClassInput{Lines: lines},
		Continent:  ClassInput{Polygons: polys(box(4, 4, 6, 6))},
	})
	assert.Equal(t, 4, res.ShallowSea.Count())
	assert.True(t, res.Shelf.IsEmpty())
	assert.Equal(t, 4, res.Continent.Count())
}

func TestPartition_TwoStepWithoutContinents(t *testing.T) {
	res := run(t, Inputs{
		ShallowSea: ClassInput{Polygons: polys(box(0, 0, 2, 2))},
		Shelf:      ClassInput{Polygons: polys(box(1, 1, 3, 3))},
	})
	assert.Equal(t, ModeTwoStep, res.Mode)
	assert.Equal(t, 7, res.Land.Count())
	assert.True(t, res.Continent.IsEmpty())

	cg := res.ClassGrid(workGrid().Transform, "EPSG:4326")
	assert.Equal(t, float64(ClassContinent), cg.At(5, 0))
	assert.Equal(t, float64(ClassNone), cg.At(0, 0))
}

func TestResult_ClassGrid(t *testing.T) {
	res := run(t, Inputs{
		ShallowSea: ClassInput{Polygons: polys(box(0, 0, 6, 6))},
		Shelf:      ClassInput{Polygons: polys(box(1, 1, 5, 5))},
		Continent:  ClassInput{Polygons: polys(box(2, 2, 4, 4))},
	})
	cg := res.ClassGrid(workGrid().Transform, "EPSG:4326")
	assert.Equal(t, float64(ClassShallowSea), cg.At(0, 0))
	assert.Equal(t, float64(ClassShelf), cg.At(1, 1))
	assert.Equal(t, float64(ClassContinent), cg.At(2, 2))
}

func TestSplitByLayer(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	for _, name := range []string{LayerShallowSea, LayerShelf, LayerContinent, LayerContinent, "other"} {
		f := geojson.NewFeature(box(0, 0, 1, 1))
		f.Properties[LayerAttribute] = name
		fc.Append(f)
	}
	in := SplitByLayer(fc)
	assert.Len(t, in.ShallowSea.Polygons.Features, 1)
	assert.Len(t, in.Shelf.Polygons.Features, 1)
	assert.Len(t, in.Continent.Polygons.Features, 2)
}

func TestPartition_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Partitioner{}
	res, err := p.Run(ctx, Inputs{}, geoio.NewRasterizer(workGrid(), zerolog.Nop()), progress.New(nil))
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}
