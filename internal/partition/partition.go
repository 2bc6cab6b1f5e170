// Package partition turns three possibly overlapping mask layers (shallow
// sea, continental shelf, continent) into mutually exclusive classes
// rasterized against a working grid.
//
// Authority runs continent > shelf > shallow sea: a cell claimed by a more
// authoritative class is removed from every less authoritative one. The
// difference is computed in raster space under cell-centre sampling, which
// gives the same cells as rasterizing the vector differences.
package partition

import (
	"context"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/progress"
)

// Values of the "layer" attribute that name each class in a combined mask layer.
const (
	LayerAttribute  = "layer"
	LayerShallowSea = "Shallow sea"
	LayerShelf      = "Continental Shelves"
	LayerContinent  = "Continents"
)

// Class codes written by ClassGrid.
const (
	ClassNone       = 0
	ClassShallowSea = 1
	ClassShelf      = 2
	ClassContinent  = 3
)

// Mode reports how the partition was produced.
type Mode int

const (
	// ModeFull distinguishes shallow sea, shelf and continent.
	ModeFull Mode = iota
	// ModeTwoStep is used when no continent mask is available; every mask
	// cell is treated as land.
	ModeTwoStep
)

func (m Mode) String() string {
	if m == ModeTwoStep {
		return "two-step"
	}
	return "full"
}

// ClassInput is one mask class supplied as polygons, polylines, or both.
type ClassInput struct {
	Polygons *geojson.FeatureCollection
	Lines    *geojson.FeatureCollection
}

// Inputs holds the three mask classes.
type Inputs struct {
	ShallowSea ClassInput
	Shelf      ClassInput
	Continent  ClassInput
}

// SplitByLayer builds Inputs from a single polygon layer whose "layer"
// attribute names the class of each feature.
func SplitByLayer(fc *geojson.FeatureCollection) Inputs {
	return Inputs{
		ShallowSea: ClassInput{Polygons: geoio.Filter(fc, LayerAttribute, LayerShallowSea)},
		Shelf:      ClassInput{Polygons: geoio.Filter(fc, LayerAttribute, LayerShelf)},
		Continent:  ClassInput{Polygons: geoio.Filter(fc, LayerAttribute, LayerContinent)},
	}
}

// Result is an exclusive partition aligned to the working grid. In
// ModeTwoStep only Land is populated; the class masks are empty.
type Result struct {
	Mode       Mode
	ShallowSea *grid.Mask
	Shelf      *grid.Mask
	Continent  *grid.Mask
	Land       *grid.Mask
}

// ClassGrid encodes the partition as 0 (none), 1 (shallow sea), 2 (shelf)
// and 3 (continent). In two-step mode land cells are 3.
func (r *Result) ClassGrid(gt grid.GeoTransform, crs string) *grid.Grid {
	g := grid.New(r.Land.Rows, r.Land.Cols, gt, crs)
	g.Fill(ClassNone)
	paint := func(m *grid.Mask, v float64) {
		for _, idx := range m.Cells() {
			g.Data[idx] = v
		}
	}
	if r.Mode == ModeTwoStep {
		paint(r.Land, ClassContinent)
		return g
	}
	paint(r.ShallowSea, ClassShallowSea)
	paint(r.Shelf, ClassShelf)
	paint(r.Continent, ClassContinent)
	return g
}

// Partitioner runs the partition. The zero value is ready to use.
type Partitioner struct {
	Log zerolog.Logger
}

// Run prepares each class (polygonize lines, fix rings, merge), rasterizes
// it with r and computes the exclusive partition.
func (p *Partitioner) Run(ctx context.Context, in Inputs, r *geoio.Rasterizer, tr *progress.Tracker) (*Result, error) {
	classes := []struct {
		name string
		in   ClassInput
	}{
		{LayerShallowSea, in.ShallowSea},
		{LayerShelf, in.Shelf},
		{LayerContinent, in.Continent},
	}
	prepared := make([]*geojson.FeatureCollection, len(classes))
	for i, c := range classes {
		if err := tr.Checkpoint(ctx, i*10, "prepare "+c.name); err != nil {
			return nil, err
		}
		prepared[i] = p.prepare(c.in)
		p.Log.Debug().Str("class", c.name).Int("features", len(prepared[i].Features)).Msg("mask class prepared")
	}

	masks := make([]*grid.Mask, len(classes))
	for i, c := range classes {
		if err := tr.Checkpoint(ctx, 30+i*20, "rasterize "+c.name); err != nil {
			return nil, err
		}
		masks[i] = r.Collection(prepared[i])
	}
	if err := tr.Checkpoint(ctx, 90, "extract masks"); err != nil {
		return nil, err
	}

	var res *Result
	if geoio.IsEmpty(prepared[2]) {
		p.Log.Warn().Msg("no continent masks; using two-step mode")
		res = &Result{
			Mode:       ModeTwoStep,
			ShallowSea: grid.NewMask(r.Rows, r.Cols),
			Shelf:      grid.NewMask(r.Rows, r.Cols),
			Continent:  grid.NewMask(r.Rows, r.Cols),
			Land:       grid.Union(r.Rows, r.Cols, masks...),
		}
	} else {
		sea, shelf, cont := Exclusive(masks[0], masks[1], masks[2])
		res = &Result{
			Mode:       ModeFull,
			ShallowSea: sea,
			Shelf:      shelf,
			Continent:  cont,
			Land:       grid.Union(r.Rows, r.Cols, sea, shelf, cont),
		}
	}
	if err := tr.Checkpoint(ctx, 100, "masks extracted"); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Partitioner) prepare(in ClassInput) *geojson.FeatureCollection {
	parts := []*geojson.FeatureCollection{geoio.FixInvalid(in.Polygons, p.Log)}
	if !geoio.IsEmpty(in.Lines) {
		parts = append(parts, geoio.FixInvalid(geoio.Polygonize(in.Lines, p.Log), p.Log))
	}
	return geoio.Merge(parts...)
}

// Exclusive applies the fixed difference sequence:
//
//	sea1   = sea \ shelf
//	shelf1 = shelf \ continent
//	rest   = (sea1 ∪ shelf1) \ continent
//
// and returns the sea part of rest, shelf1, and continent. The inputs are
// not modified.
func Exclusive(sea, shelf, continent *grid.Mask) (*grid.Mask, *grid.Mask, *grid.Mask) {
	sea1 := sea.Clone()
	sea1.AndNot(shelf)

	shelf1 := shelf.Clone()
	shelf1.AndNot(continent)

	rest := sea1.Clone()
	rest.Or(shelf1)
	rest.AndNot(continent)

	seaOut := rest.Clone()
	seaOut.And(sea1)
	return seaOut, shelf1, continent.Clone()
}
