// Package compose merges ordered raster layers into one grid. Layer 1 has the
// highest priority: it is painted last, so its valid cells always win.
package compose

import (
	"context"
	"fmt"
	"sort"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/progress"
)

const (
	DefaultBufferDistance = 0.5
	DefaultDepthThreshold = -1000.0
)

// LayerItem is one input layer. Order is 1-based; lower numbers win.
type LayerItem struct {
	Order       int
	Name        string
	Grid        *grid.Grid
	MaskApplied bool
}

// Options configures overlap suppression. Mask is the overlap mask layer;
// when Selected is non-empty only those feature indices are buffered.
type Options struct {
	Mask           *geojson.FeatureCollection
	Selected       []int
	BufferDistance float64
	DepthThreshold float64
}

// DefaultOptions returns the standard buffer distance and depth threshold
// with no mask.
func DefaultOptions() Options {
	return Options{BufferDistance: DefaultBufferDistance, DepthThreshold: DefaultDepthThreshold}
}

// Compositor merges layers. The zero value uses zero buffer distance and
// threshold; use DefaultOptions for the standard values.
type Compositor struct {
	Options Options
	Log     zerolog.Logger
}

// New returns a compositor with opts.
func New(opts Options, log zerolog.Logger) *Compositor {
	return &Compositor{Options: opts, Log: log}
}

// Compose merges items. The result takes its size from the first item
// supplied and its geotransform and CRS from the order-1 item. Items with a
// different size fail with a SizeMismatchError before anything is computed.
func (c *Compositor) Compose(ctx context.Context, items []LayerItem, tr *progress.Tracker) (*grid.Grid, error) {
	if len(items) == 0 {
		return nil, api.Invalid("compose", "no layers")
	}
	ref := items[0].Grid
	seen := make(map[int]bool, len(items))
	for _, it := range items {
		if it.Grid == nil {
			return nil, api.Invalid("compose", "layer %d (%s) has no grid", it.Order, it.Name)
		}
		if err := grid.CheckSize(it.Name, it.Grid, ref.Rows, ref.Cols); err != nil {
			return nil, err
		}
		if it.Order < 1 {
			return nil, api.Invalid("compose", "layer %s: order must be at least 1, got %d", it.Name, it.Order)
		}
		if seen[it.Order] {
			return nil, api.Invalid("compose", "duplicate layer order %d", it.Order)
		}
		seen[it.Order] = true
	}

	ordered := append([]LayerItem(nil), items...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	top := ordered[0].Grid

	out := grid.New(ref.Rows, ref.Cols, top.Transform, crsOf(ordered))

	var buffer *grid.Mask
	for i := len(ordered) - 1; i >= 0; i-- {
		it := ordered[i]
		done := len(ordered) - 1 - i
		if err := tr.Checkpoint(ctx, done*90/len(ordered), fmt.Sprintf("compile layer %d", it.Order)); err != nil {
			return nil, err
		}
		c.Log.Debug().Int("order", it.Order).Str("layer", it.Name).Msg("compiling raster layer")
		for idx, v := range it.Grid.Data {
			if !grid.IsNoData(v) {
				out.Data[idx] = v
			}
		}

		if !it.MaskApplied {
			continue
		}
		if geoio.IsEmpty(c.Options.Mask) {
			c.Log.Warn().Str("layer", it.Name).Msg("overlap removal requested without a mask layer")
			continue
		}
		if buffer == nil {
			buffer = c.buffer(out)
		}
		c.suppress(out, buffer)
	}

	if err := tr.Checkpoint(ctx, 100, "layers compiled"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Compositor) buffer(like *grid.Grid) *grid.Mask {
	fc := c.Options.Mask
	if len(c.Options.Selected) > 0 {
		fc = geoio.Select(fc, c.Options.Selected)
	}
	return geoio.NewRasterizer(like, c.Log).Buffer(fc, c.Options.BufferDistance)
}

// suppress clears cells inside buffer whose value is below the depth threshold.
func (c *Compositor) suppress(out *grid.Grid, buffer *grid.Mask) {
	removed := 0
	for _, idx := range buffer.Cells() {
		if v := out.Data[idx]; !grid.IsNoData(v) && v < c.Options.DepthThreshold {
			out.Data[idx] = grid.NoData
			removed++
		}
	}
	c.Log.Debug().Int("cells", removed).Msg("removed bathymetry from gaps between blocks")
}

func crsOf(ordered []LayerItem) string {
	for _, it := range ordered {
		if it.Grid.CRS != "" {
			return it.Grid.CRS
		}
	}
	return ""
}
