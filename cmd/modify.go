package cmd

import (
	"context"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/pipeline"
	"github.com/agentic-research/paleodem/internal/progress"
	"github.com/agentic-research/paleodem/internal/transform"
)

var (
	modifyRegions  string
	modifyField    string
	modifyValue    string
	modifyOutput   string
	rangeMin       float64
	rangeMax       float64
	rangeMinField  string
	rangeMaxField  string
	formulaExpr    string
	formulaField   string
	formulaMin     float64
	formulaMax     float64
	formulaMinAttr string
	formulaMaxAttr string
)

func init() {
	for _, c := range []*cobra.Command{modifyRangeCmd, modifyFormulaCmd} {
		c.Flags().StringVar(&modifyRegions, "regions", "", "Polygon file (GeoJSON) of modification regions")
		c.Flags().StringVar(&modifyField, "field", "", "Only use regions whose attribute FIELD equals --value")
		c.Flags().StringVar(&modifyValue, "value", "", "Attribute value selecting regions")
		c.Flags().StringVarP(&modifyOutput, "output", "o", "", "Output raster path")
		_ = c.MarkFlagRequired("regions")
	}

	modifyRangeCmd.Flags().Float64Var(&rangeMin, "min", 0, "Final minimum")
	modifyRangeCmd.Flags().Float64Var(&rangeMax, "max", 0, "Final maximum")
	modifyRangeCmd.Flags().StringVar(&rangeMinField, "min-field", "", "Attribute holding each region's final minimum")
	modifyRangeCmd.Flags().StringVar(&rangeMaxField, "max-field", "", "Attribute holding each region's final maximum")

	modifyFormulaCmd.Flags().StringVar(&formulaExpr, "formula", "", "Expression in x applied to every region, e.g. \"x*0.5+100\"")
	modifyFormulaCmd.Flags().StringVar(&formulaField, "formula-field", "", "Attribute holding each region's formula")
	modifyFormulaCmd.Flags().Float64Var(&formulaMin, "min-bound", 0, "Only modify cells with values above this")
	modifyFormulaCmd.Flags().Float64Var(&formulaMax, "max-bound", 0, "Only modify cells with values below this")
	modifyFormulaCmd.Flags().StringVar(&formulaMinAttr, "min-bound-field", "", "Attribute holding each region's lower bound")
	modifyFormulaCmd.Flags().StringVar(&formulaMaxAttr, "max-bound-field", "", "Attribute holding each region's upper bound")

	modifyCmd.AddCommand(modifyRangeCmd, modifyFormulaCmd)
	rootCmd.AddCommand(modifyCmd)
}

var modifyCmd = &cobra.Command{
	Use:   "modify",
	Short: "Rewrite raster values inside polygon regions",
}

var modifyRangeCmd = &cobra.Command{
	Use:   "range RASTER",
	Short: "Rescale values in each region into a final range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := transform.RangeSpec{
			Selection: transform.Selection{Field: modifyField, Value: modifyValue},
			Min:       rangeMin,
			Max:       rangeMax,
			MinField:  rangeMinField,
			MaxField:  rangeMaxField,
		}
		return runTransform(cmd, args[0], "modify range", func(ctx context.Context, t *transform.Transformer, in *grid.Grid, regions *geojson.FeatureCollection, tr *progress.Tracker) (*grid.Grid, error) {
			return t.Range(ctx, in, regions, spec, tr)
		})
	},
}

var modifyFormulaCmd = &cobra.Command{
	Use:   "formula RASTER",
	Short: "Apply an expression in x to values in each region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if formulaExpr == "" && formulaField == "" {
			return api.Invalid("modify formula", "one of --formula or --formula-field is required")
		}
		spec := transform.FormulaSpec{
			Selection:     transform.Selection{Field: modifyField, Value: modifyValue},
			Formula:       formulaExpr,
			FormulaField:  formulaField,
			MinBoundField: formulaMinAttr,
			MaxBoundField: formulaMaxAttr,
		}
		if cmd.Flags().Changed("min-bound") {
			v := formulaMin
			spec.MinBound = &v
		}
		if cmd.Flags().Changed("max-bound") {
			v := formulaMax
			spec.MaxBound = &v
		}
		return runTransform(cmd, args[0], "modify formula", func(ctx context.Context, t *transform.Transformer, in *grid.Grid, regions *geojson.FeatureCollection, tr *progress.Tracker) (*grid.Grid, error) {
			return t.Formula(ctx, in, regions, spec, tr)
		})
	},
}

type transformFunc func(ctx context.Context, t *transform.Transformer, in *grid.Grid, regions *geojson.FeatureCollection, tr *progress.Tracker) (*grid.Grid, error)

func runTransform(cmd *cobra.Command, input, label string, fn transformFunc) error {
	_, log, err := loadConfig()
	if err != nil {
		return err
	}
	in, err := geoio.ReadRaster(input)
	if err != nil {
		return err
	}
	regions, err := geoio.ReadVector(modifyRegions)
	if err != nil {
		return err
	}
	t := &transform.Transformer{Log: log}
	job := pipeline.JobFunc{
		Label: label,
		Fn: func(ctx context.Context, tr *progress.Tracker) (*grid.Grid, error) {
			return fn(ctx, t, in, regions, tr)
		},
	}
	return runJob(cmd, log, job, modifyOutput)
}
