package grid

import (
	"github.com/RoaringBitmap/roaring"
)

// Mask is a boolean raster aligned to a Grid. Set cells are stored as
// row-major cell indices in a roaring bitmap, which keeps sparse coastal
// masks small and makes set algebra between classes cheap.
type Mask struct {
	Rows int
	Cols int
	bits *roaring.Bitmap
}

func NewMask(rows, cols int) *Mask {
	return &Mask{Rows: rows, Cols: cols, bits: roaring.New()}
}

// MaskLike returns an empty mask with g's dimensions.
func MaskLike(g *Grid) *Mask { return NewMask(g.Rows, g.Cols) }

func (m *Mask) Add(row, col int) { m.bits.Add(uint32(row*m.Cols + col)) }

func (m *Mask) AddIndex(idx int) { m.bits.Add(uint32(idx)) }

func (m *Mask) Has(row, col int) bool { return m.bits.Contains(uint32(row*m.Cols + col)) }

func (m *Mask) HasIndex(idx int) bool { return m.bits.Contains(uint32(idx)) }

func (m *Mask) Count() int { return int(m.bits.GetCardinality()) }

func (m *Mask) IsEmpty() bool { return m.bits.IsEmpty() }

// Cells returns the set cell indices in ascending order.
func (m *Mask) Cells() []uint32 { return m.bits.ToArray() }

func (m *Mask) Clone() *Mask {
	return &Mask{Rows: m.Rows, Cols: m.Cols, bits: m.bits.Clone()}
}

// Or adds every cell of other to m.
func (m *Mask) Or(other *Mask) { m.bits.Or(other.bits) }

// AndNot removes every cell of other from m.
func (m *Mask) AndNot(other *Mask) { m.bits.AndNot(other.bits) }

// And keeps only cells also set in other.
func (m *Mask) And(other *Mask) { m.bits.And(other.bits) }

func (m *Mask) Intersects(other *Mask) bool { return m.bits.Intersects(other.bits) }

func (m *Mask) Equal(other *Mask) bool {
	return m.Rows == other.Rows && m.Cols == other.Cols && m.bits.Equals(other.bits)
}

// Union returns a new mask holding the cells of all masks.
func Union(rows, cols int, masks ...*Mask) *Mask {
	out := NewMask(rows, cols)
	for _, m := range masks {
		if m != nil {
			out.Or(m)
		}
	}
	return out
}

// ToGrid burns 1 for set cells and NoData elsewhere.
func (m *Mask) ToGrid(gt GeoTransform, crs string) *Grid {
	g := New(m.Rows, m.Cols, gt, crs)
	it := m.bits.Iterator()
	for it.HasNext() {
		g.Data[it.Next()] = 1
	}
	return g
}

// FromGrid builds a mask of every cell where g holds a finite, non-zero value.
func FromGrid(g *Grid) *Mask {
	m := MaskLike(g)
	for i, v := range g.Data {
		if !IsNoData(v) && v != 0 {
			m.AddIndex(i)
		}
	}
	return m
}
