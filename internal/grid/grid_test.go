package grid

import (
	"errors"
	"math"
	"testing"

	"github.com/agentic-research/paleodem/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var globalGT = GeoTransform{-180, 1, 0, 90, 0, -1}

func TestNewFillsNoData(t *testing.T) {
	g := New(2, 3, globalGT, "EPSG:4326")
	require.Len(t, g.Data, 6)
	for _, v := range g.Data {
		assert.True(t, math.IsNaN(v))
	}
}

func TestCellCenter(t *testing.T) {
	x, y := globalGT.CellCenter(0, 0)
	assert.Equal(t, -179.5, x)
	assert.Equal(t, 89.5, y)

	r, c := globalGT.CellOf(x, y)
	assert.InDelta(t, 0.5, r, 1e-12)
	assert.InDelta(t, 0.5, c, 1e-12)
}

func TestFromRows(t *testing.T) {
	g, err := FromRows([][]float64{{1, 2}, {3, 4}}, globalGT, "")
	require.NoError(t, err)
	assert.Equal(t, 3.0, g.At(1, 0))
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, g.Rows2D())

	_, err = FromRows([][]float64{{1, 2}, {3}}, globalGT, "")
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestCheckAligned(t *testing.T) {
	a := New(4, 4, globalGT, "")
	b := New(4, 4, globalGT, "")
	require.NoError(t, CheckAligned(Named{"a", a}, Named{"b", b}, Named{"nil", nil}))

	c := New(4, 5, globalGT, "")
	err := CheckAligned(Named{"a", a}, Named{"c", c})
	var sm *SizeMismatchError
	require.True(t, errors.As(err, &sm))
	assert.Equal(t, "c", sm.Name)
	assert.ErrorIs(t, err, api.ErrValidation)

	shifted := New(4, 4, GeoTransform{-179, 1, 0, 90, 0, -1}, "")
	err = CheckAligned(Named{"a", a}, Named{"shifted", shifted})
	require.True(t, errors.As(err, &sm))
	assert.True(t, sm.Transform)
}

func TestReplaceNoDataAndFiniteMax(t *testing.T) {
	g, err := FromRows([][]float64{{-9999, 5}, {7, math.NaN()}}, globalGT, "")
	require.NoError(t, err)
	g.ReplaceNoData(-9999)
	assert.True(t, math.IsNaN(g.At(0, 0)))

	maxV, ok := g.FiniteMax([]uint32{0, 1, 2, 3})
	require.True(t, ok)
	assert.Equal(t, 7.0, maxV)

	_, ok = g.FiniteMax([]uint32{0, 3})
	assert.False(t, ok)
}

func TestMaskAlgebra(t *testing.T) {
	a := NewMask(3, 3)
	a.Add(0, 0)
	a.Add(1, 1)
	b := NewMask(3, 3)
	b.Add(1, 1)
	b.Add(2, 2)

	diff := a.Clone()
	diff.AndNot(b)
	assert.Equal(t, []uint32{0}, diff.Cells())
	assert.True(t, a.Intersects(b))
	assert.False(t, diff.Intersects(b))

	u := Union(3, 3, a, b, nil)
	assert.Equal(t, 3, u.Count())

	g := u.ToGrid(globalGT, "")
	assert.Equal(t, 1.0, g.At(2, 2))
	assert.True(t, math.IsNaN(g.At(0, 1)))
	assert.True(t, FromGrid(g).Equal(u))
}
