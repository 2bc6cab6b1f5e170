package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/partition"
	"github.com/agentic-research/paleodem/internal/pipeline"
	"github.com/agentic-research/paleodem/internal/progress"
)

var (
	masksLike   string
	masksOutput string
)

func init() {
	masksCmd.Flags().StringVar(&masksLike, "like", "", "Raster whose size and georeferencing the masks are burned onto")
	masksCmd.Flags().StringVarP(&masksOutput, "output", "o", "", "Output class raster (0 none, 1 shallow sea, 2 shelf, 3 continent)")
	_ = masksCmd.MarkFlagRequired("like")
	rootCmd.AddCommand(masksCmd)
}

var masksCmd = &cobra.Command{
	Use:   "masks MASKS",
	Short: "Partition a layered mask file into exclusive shallow sea, shelf and continent classes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, err := loadConfig()
		if err != nil {
			return err
		}
		fc, err := geoio.ReadVector(args[0])
		if err != nil {
			return err
		}
		like, err := geoio.ReadRaster(masksLike)
		if err != nil {
			return err
		}

		p := &partition.Partitioner{Log: log}
		job := pipeline.JobFunc{
			Label: "masks",
			Fn: func(ctx context.Context, tr *progress.Tracker) (*grid.Grid, error) {
				res, err := p.Run(ctx, partition.SplitByLayer(fc), geoio.NewRasterizer(like, log), tr)
				if err != nil {
					return nil, err
				}
				log.Info().Stringer("mode", res.Mode).
					Int("shallow_sea", res.ShallowSea.Count()).
					Int("shelf", res.Shelf.Count()).
					Int("continent", res.Continent.Count()).
					Msg("masks partitioned")
				return res.ClassGrid(like.Transform, like.CRS), nil
			},
		}
		return runJob(cmd, log, job, masksOutput)
	},
}
