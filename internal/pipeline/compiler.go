package pipeline

import (
	"context"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/agedepth"
	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/partition"
	"github.com/agentic-research/paleodem/internal/progress"
)

const (
	DefaultShelfDepth = -200.0

	// Shallow bathymetry between this depth and the shelf depth is kept on
	// shelf cells instead of the flat shelf depth.
	shelfKeepFloor = -2000.0
	// Two-step mode discards bathymetry deeper than this.
	trenchFloor = -12000.0
)

// CompileInput holds the grids and masks for a paleo-DEM compilation. All
// grids must be aligned with Bathymetry. ShelfDepth is used as given, so
// callers wanting the usual shelf start from DefaultShelfDepth.
type CompileInput struct {
	Bathymetry        *grid.Grid
	OceanAge          *grid.Grid
	ReconstructionAge float64
	Masks             *geojson.FeatureCollection
	ShallowBathymetry *grid.Grid
	ShelfDepth        float64
	Topography        *grid.Grid
}

// Compiler assembles a paleo-DEM from paleobathymetry, an optional ocean age
// grid, present-day topography and a mask layer whose "layer" attribute
// names each polygon's class.
type Compiler struct {
	Input CompileInput
	Log   zerolog.Logger
}

func (c *Compiler) Name() string { return "compile" }

// Execute runs the compilation.
func (c *Compiler) Execute(ctx context.Context, tr *progress.Tracker) (*grid.Grid, error) {
	in := c.Input
	if in.Bathymetry == nil {
		return nil, api.Invalid("compile", "paleobathymetry grid is required")
	}
	if err := grid.CheckAligned(
		grid.Named{Name: "bathymetry", Grid: in.Bathymetry},
		grid.Named{Name: "ocean age", Grid: in.OceanAge},
		grid.Named{Name: "shallow bathymetry", Grid: in.ShallowBathymetry},
		grid.Named{Name: "topography", Grid: in.Topography},
	); err != nil {
		return nil, err
	}
	hasMasks := !geoio.IsEmpty(in.Masks)
	if hasMasks && in.Topography == nil {
		return nil, api.Invalid("compile", "topography grid is required when masks are given")
	}

	if err := tr.Checkpoint(ctx, 0, "prepare base grid"); err != nil {
		return nil, err
	}
	inputs := partition.SplitByLayer(in.Masks)
	twoStep := hasMasks && geoio.IsEmpty(inputs.Continent.Polygons)
	dem := baseGrid(in.Bathymetry, twoStep)

	if in.OceanAge != nil {
		if err := tr.Checkpoint(ctx, 10, "convert ocean age"); err != nil {
			return nil, err
		}
		depth := agedepth.Convert(in.OceanAge, in.ReconstructionAge)
		for i, d := range depth.Data {
			if !grid.IsNoData(d) {
				dem.Data[i] = d
			}
		}
	}
	if !hasMasks {
		c.Log.Warn().Msg("no mask layer; output is bathymetry only")
		return dem, tr.Checkpoint(ctx, 100, "compiled")
	}

	if err := tr.Checkpoint(ctx, 20, "rasterize masks"); err != nil {
		return nil, err
	}
	if twoStep {
		// Every mask polygon is land, whatever its class.
		inputs = partition.Inputs{Continent: partition.ClassInput{Polygons: in.Masks}}
	}
	p := &partition.Partitioner{Log: c.Log}
	parts, err := p.Run(ctx, inputs, geoio.NewRasterizer(dem, c.Log), tr.Sub(20, 70))
	if err != nil {
		return nil, err
	}

	if err := tr.Checkpoint(ctx, 75, "fill masks"); err != nil {
		return nil, err
	}
	if twoStep {
		paint(dem, parts.Land, in.Topography)
		return dem, tr.Checkpoint(ctx, 100, "compiled")
	}

	var shallow *grid.Grid
	if in.ShallowBathymetry != nil && !parts.ShallowSea.IsEmpty() {
		// Shallow bathymetry never deepens the base grid.
		shallow = in.ShallowBathymetry.Clone()
		for i, v := range shallow.Data {
			if v < dem.Data[i] {
				shallow.Data[i] = dem.Data[i]
			}
		}
		paint(dem, parts.ShallowSea, shallow)
	}
	if err := tr.Checkpoint(ctx, 85, "fill shelves"); err != nil {
		return nil, err
	}
	shelfDepth := in.ShelfDepth
	for _, idx := range parts.Shelf.Cells() {
		dem.Data[idx] = shelfDepth
		if shallow != nil {
			if v := shallow.Data[idx]; v > shelfKeepFloor && v < shelfDepth {
				dem.Data[idx] = v
			}
		}
	}
	if err := tr.Checkpoint(ctx, 95, "fill continents"); err != nil {
		return nil, err
	}
	paint(dem, parts.Continent, in.Topography)
	return dem, tr.Checkpoint(ctx, 100, "compiled")
}

// baseGrid keeps negative bathymetry, sets positive values to sea level and
// everything else to no-data.
func baseGrid(bathy *grid.Grid, twoStep bool) *grid.Grid {
	dem := bathy.Like()
	for i, v := range bathy.Data {
		switch {
		case v > 0:
			dem.Data[i] = 0
		case v < 0 && !(twoStep && v < trenchFloor):
			dem.Data[i] = v
		}
	}
	return dem
}

func paint(dst *grid.Grid, m *grid.Mask, src *grid.Grid) {
	for _, idx := range m.Cells() {
		dst.Data[idx] = src.Data[idx]
	}
}
