// Package grid holds the in-memory raster every pipeline stage works on.
//
// A Grid is a row-major float64 array with a GDAL-style geotransform. NaN is
// the no-data sentinel; it is distinct from zero and never compares equal to
// anything, so "finite" checks are how stages decide whether a cell has data.
package grid

import (
	"fmt"
	"math"

	"github.com/agentic-research/paleodem/api"
)

// NoData marks a cell without a valid value.
var NoData = math.NaN()

// IsNoData reports whether v is the no-data sentinel (or infinite).
func IsNoData(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// GeoTransform follows the GDAL ordering:
// [originX, cellWidth, rotX, originY, rotY, cellHeight].
// cellHeight is negative for north-up grids.
type GeoTransform [6]float64

// CellCenter returns the map coordinates of the centre of cell (row, col).
func (gt GeoTransform) CellCenter(row, col int) (x, y float64) {
	fc, fr := float64(col)+0.5, float64(row)+0.5
	x = gt[0] + fc*gt[1] + fr*gt[2]
	y = gt[3] + fc*gt[4] + fr*gt[5]
	return x, y
}

// CellOf returns the (fractional) row and column holding map point (x, y).
// Rotation terms are ignored.
func (gt GeoTransform) CellOf(x, y float64) (row, col float64) {
	return (y - gt[3]) / gt[5], (x - gt[0]) / gt[1]
}

// Grid is a 2-D raster.
type Grid struct {
	Rows      int
	Cols      int
	Data      []float64
	Transform GeoTransform
	CRS       string
}

// New allocates a grid with every cell set to NoData.
func New(rows, cols int, gt GeoTransform, crs string) *Grid {
	g := &Grid{Rows: rows, Cols: cols, Data: make([]float64, rows*cols), Transform: gt, CRS: crs}
	g.Fill(NoData)
	return g
}

// FromRows builds a grid from nested row slices; all rows must have equal length.
func FromRows(rows [][]float64, gt GeoTransform, crs string) (*Grid, error) {
	if len(rows) == 0 {
		return nil, api.Invalid("grid", "no rows")
	}
	cols := len(rows[0])
	g := &Grid{Rows: len(rows), Cols: cols, Data: make([]float64, 0, len(rows)*cols), Transform: gt, CRS: crs}
	for i, r := range rows {
		if len(r) != cols {
			return nil, api.Invalid("grid", "row %d has %d columns, want %d", i, len(r), cols)
		}
		g.Data = append(g.Data, r...)
	}
	return g, nil
}

func (g *Grid) Index(row, col int) int { return row*g.Cols + col }

func (g *Grid) At(row, col int) float64 { return g.Data[row*g.Cols+col] }

func (g *Grid) Set(row, col int, v float64) { g.Data[row*g.Cols+col] = v }

// Fill sets every cell to v.
func (g *Grid) Fill(v float64) {
	for i := range g.Data {
		g.Data[i] = v
	}
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := *g
	out.Data = append([]float64(nil), g.Data...)
	return &out
}

// Like allocates a NoData grid with the same shape, transform and CRS.
func (g *Grid) Like() *Grid {
	return New(g.Rows, g.Cols, g.Transform, g.CRS)
}

// Rows2D returns the grid as nested row slices (copies).
func (g *Grid) Rows2D() [][]float64 {
	out := make([][]float64, g.Rows)
	for r := range out {
		out[r] = append([]float64(nil), g.Data[r*g.Cols:(r+1)*g.Cols]...)
	}
	return out
}

// ReplaceNoData turns every cell equal to nd into NaN. Used when a source
// carries a numeric no-data value.
func (g *Grid) ReplaceNoData(nd float64) {
	if math.IsNaN(nd) {
		return
	}
	for i, v := range g.Data {
		if v == nd {
			g.Data[i] = NoData
		}
	}
}

// FiniteMax returns the largest finite value in cells, or false if none.
func (g *Grid) FiniteMax(cells []uint32) (float64, bool) {
	maxV, found := math.Inf(-1), false
	for _, idx := range cells {
		v := g.Data[idx]
		if IsNoData(v) {
			continue
		}
		if v > maxV {
			maxV = v
		}
		found = true
	}
	return maxV, found
}

// SizeMismatchError is returned when grids that must be combined differ in
// shape or geotransform. It satisfies errors.Is(err, api.ErrValidation).
type SizeMismatchError struct {
	Name       string
	Rows, Cols int
	WantRows   int
	WantCols   int
	Transform  bool // true when only the geotransform differs
}

func (e *SizeMismatchError) Error() string {
	if e.Transform {
		return fmt.Sprintf("grid %s: geotransform differs from the reference grid", e.Name)
	}
	return fmt.Sprintf("grid %s: size %dx%d, want %dx%d", e.Name, e.Cols, e.Rows, e.WantCols, e.WantRows)
}

func (e *SizeMismatchError) Is(target error) bool { return target == api.ErrValidation }

// Named pairs a grid with a label for error messages.
type Named struct {
	Name string
	Grid *Grid
}

// CheckAligned fails with a SizeMismatchError if any grid differs from the
// first in rows, columns or geotransform. Nil grids are skipped.
func CheckAligned(grids ...Named) error {
	var ref *Grid
	for _, n := range grids {
		if n.Grid == nil {
			continue
		}
		if ref == nil {
			ref = n.Grid
			continue
		}
		if n.Grid.Rows != ref.Rows || n.Grid.Cols != ref.Cols {
			return &SizeMismatchError{Name: n.Name, Rows: n.Grid.Rows, Cols: n.Grid.Cols, WantRows: ref.Rows, WantCols: ref.Cols}
		}
		if !transformEqual(n.Grid.Transform, ref.Transform) {
			return &SizeMismatchError{Name: n.Name, Transform: true}
		}
	}
	return nil
}

func transformEqual(a, b GeoTransform) bool {
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if d > 1e-9*math.Max(1, math.Abs(a[i])) {
			return false
		}
	}
	return true
}

// CheckSize fails if g does not have the given dimensions.
func CheckSize(name string, g *Grid, rows, cols int) error {
	if g.Rows != rows || g.Cols != cols {
		return &SizeMismatchError{Name: name, Rows: g.Rows, Cols: g.Cols, WantRows: rows, WantCols: cols}
	}
	return nil
}
