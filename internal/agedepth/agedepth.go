// Package agedepth converts oceanic-crust age to bathymetric depth with the
// empirical half-space cooling relation depth = -2620 - 330*sqrt(age),
// floored at -5750 for crust older than 90 Ma.
package agedepth

import (
	"context"
	"math"

	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/progress"
)

const (
	RidgeDepth = -2620.0
	Subsidence = -330.0
	FloorDepth = -5750.0
	FloorOnset = 90.0
)

// Depth converts a single age value. Ages are re-based by rTime only when
// positive; a non-positive re-based age yields NaN.
func Depth(age, rTime float64) float64 {
	if grid.IsNoData(age) || age <= 0 {
		return grid.NoData
	}
	a := age - rTime
	switch {
	case a > FloorOnset:
		return FloorDepth
	case a > 0:
		return RidgeDepth + Subsidence*math.Sqrt(a)
	default:
		return grid.NoData
	}
}

// Convert maps every cell of age to depth. The input is not modified.
func Convert(age *grid.Grid, rTime float64) *grid.Grid {
	out := age.Like()
	for i, v := range age.Data {
		out.Data[i] = Depth(v, rTime)
	}
	return out
}

// Run is Convert with the pipeline checkpoint contract.
func Run(ctx context.Context, age *grid.Grid, rTime float64, tr *progress.Tracker) (*grid.Grid, error) {
	if err := tr.Checkpoint(ctx, 0, "convert age to depth"); err != nil {
		return nil, err
	}
	out := Convert(age, rTime)
	if err := tr.Checkpoint(ctx, 100, "age converted"); err != nil {
		return nil, err
	}
	return out, nil
}
