package agedepth

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/paleodem/internal/grid"
)

func TestDepth(t *testing.T) {
	tests := []struct {
		name  string
		age   float64
		rTime float64
		want  float64
	}{
		{"twenty five", 25, 0, -4270},
		{"rebased", 35, 10, -4270},
		{"exactly ninety", 90, 0, -2620 - 330*math.Sqrt(90)},
		{"above ninety", 91, 0, -5750},
		{"zero crust", 0.0001, 0, -2620 - 330*math.Sqrt(0.0001)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Depth(tt.age, tt.rTime), 1e-9)
		})
	}
}

func TestDepth_Undefined(t *testing.T) {
	for _, c := range [][2]float64{{0, 0}, {-3, 0}, {10, 10}, {10, 20}, {math.NaN(), 0}} {
		assert.True(t, math.IsNaN(Depth(c[0], c[1])), "age %v rTime %v", c[0], c[1])
	}
}

func TestConvert(t *testing.T) {
	age := grid.New(1, 3, grid.GeoTransform{0, 1, 0, 1, 0, -1}, "EPSG:4326")
	copy(age.Data, []float64{25, 0, 91})

	out := Convert(age, 0)
	assert.Equal(t, -4270.0, out.Data[0])
	assert.True(t, math.IsNaN(out.Data[1]))
	assert.Equal(t, -5750.0, out.Data[2])
	assert.Equal(t, 25.0, age.Data[0], "input is unchanged")
	assert.Equal(t, age.Transform, out.Transform)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := Run(ctx, grid.New(1, 1, grid.GeoTransform{}, ""), 0, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}
