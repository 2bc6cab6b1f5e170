package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agentic-research/paleodem/internal/agedepth"
	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/pipeline"
	"github.com/agentic-research/paleodem/internal/progress"
)

var (
	ageTime   float64
	ageOutput string
)

func init() {
	agedepthCmd.Flags().Float64Var(&ageTime, "time", 0, "Reconstruction time (Ma) subtracted from each cell's age")
	agedepthCmd.Flags().StringVarP(&ageOutput, "output", "o", "", "Output depth raster")
	rootCmd.AddCommand(agedepthCmd)
}

var agedepthCmd = &cobra.Command{
	Use:   "agedepth AGE",
	Short: "Convert an ocean floor age grid to depth",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, err := loadConfig()
		if err != nil {
			return err
		}
		age, err := geoio.ReadRaster(args[0])
		if err != nil {
			return err
		}
		job := pipeline.JobFunc{
			Label: "agedepth",
			Fn: func(ctx context.Context, tr *progress.Tracker) (*grid.Grid, error) {
				return agedepth.Run(ctx, age, ageTime, tr)
			},
		}
		return runJob(cmd, log, job, ageOutput)
	},
}
