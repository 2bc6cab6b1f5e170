package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/agentic-research/paleodem/internal/compose"
	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/pipeline"
	"github.com/agentic-research/paleodem/internal/progress"
)

var (
	composeLayers    []string
	composeMasked    []int
	composeMask      string
	composeSelect    []int
	composeBuffer    float64
	composeThreshold float64
	composeOutput    string
)

func init() {
	composeCmd.Flags().StringArrayVar(&composeLayers, "layer", nil, "Raster layer in priority order (first wins); repeatable")
	composeCmd.Flags().IntSliceVar(&composeMasked, "mask-layers", nil, "1-based orders of layers the mask applies to")
	composeCmd.Flags().StringVar(&composeMask, "mask", "", "Polygon file (GeoJSON) bounding the masked layers")
	composeCmd.Flags().IntSliceVar(&composeSelect, "select", nil, "0-based mask feature indices to use (default all)")
	composeCmd.Flags().Float64Var(&composeBuffer, "buffer", compose.DefaultBufferDistance, "Buffer distance around the mask in map units; overrides the config file")
	composeCmd.Flags().Float64Var(&composeThreshold, "threshold", compose.DefaultDepthThreshold, "Values in the buffer deeper than this are suppressed; overrides the config file")
	composeCmd.Flags().StringVarP(&composeOutput, "output", "o", "", "Output raster path (.nc, .grd, .asc)")
	rootCmd.AddCommand(composeCmd)
}

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Merge aligned rasters by priority, optionally masking some layers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		opts := compose.Options{
			Selected:       composeSelect,
			BufferDistance: cfg.BufferDistance,
			DepthThreshold: cfg.DepthThreshold,
		}
		if cmd.Flags().Changed("buffer") {
			opts.BufferDistance = composeBuffer
		}
		if cmd.Flags().Changed("threshold") {
			opts.DepthThreshold = composeThreshold
		}
		if composeMask != "" {
			if opts.Mask, err = geoio.ReadVector(composeMask); err != nil {
				return err
			}
		}
		items, err := readLayers(composeLayers, composeMasked)
		if err != nil {
			return err
		}

		c := compose.New(opts, log)
		job := pipeline.JobFunc{
			Label: "compose",
			Fn: func(ctx context.Context, tr *progress.Tracker) (*grid.Grid, error) {
				return c.Compose(ctx, items, tr)
			},
		}
		return runJob(cmd, log, job, composeOutput)
	},
}

func readLayers(paths []string, masked []int) ([]compose.LayerItem, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("compose: at least one --layer is required")
	}
	apply := make(map[int]bool, len(masked))
	for _, o := range masked {
		apply[o] = true
	}
	items := make([]compose.LayerItem, 0, len(paths))
	for i, p := range paths {
		g, err := geoio.ReadRaster(p)
		if err != nil {
			return nil, err
		}
		items = append(items, compose.LayerItem{
			Order:       i + 1,
			Name:        strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)),
			Grid:        g,
			MaskApplied: apply[i+1],
		})
	}
	return items, nil
}

// readMasks loads a mask file as a feature collection, reporting an empty
// path as absent.
func readMasks(path string) (*geojson.FeatureCollection, error) {
	if path == "" {
		return nil, nil
	}
	return geoio.ReadVector(path)
}
