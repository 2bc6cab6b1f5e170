package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/pipeline"
)

var (
	compileBathy   string
	compileAge     string
	compileTime    float64
	compileMasks   string
	compileShallow string
	compileShelf   float64
	compileTopo    string
	compileOutput  string
)

func init() {
	f := compileCmd.Flags()
	f.StringVar(&compileBathy, "bathymetry", "", "Paleobathymetry raster")
	f.StringVar(&compileAge, "ocean-age", "", "Ocean floor age raster, converted to depth")
	f.Float64Var(&compileTime, "time", 0, "Reconstruction time (Ma)")
	f.StringVar(&compileMasks, "masks", "", "Mask file whose \"layer\" attribute names each polygon's class")
	f.StringVar(&compileShallow, "shallow-bathymetry", "", "Raster filling shallow sea and shelf cells")
	f.Float64Var(&compileShelf, "shelf-depth", pipeline.DefaultShelfDepth, "Depth given to continental shelf cells")
	f.StringVar(&compileTopo, "topography", "", "Topography raster path or reference raster name, e.g. etopo_bed_60")
	f.StringVarP(&compileOutput, "output", "o", "", "Output paleo-DEM raster")
	_ = compileCmd.MarkFlagRequired("bathymetry")
	rootCmd.AddCommand(compileCmd)
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Assemble a paleo-DEM from bathymetry, masks and topography",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, err := loadConfig()
		if err != nil {
			return err
		}
		in := pipeline.CompileInput{ReconstructionAge: compileTime, ShelfDepth: compileShelf}
		if in.Bathymetry, err = geoio.ReadRaster(compileBathy); err != nil {
			return err
		}
		if in.OceanAge, err = optionalRaster(compileAge); err != nil {
			return err
		}
		if in.ShallowBathymetry, err = optionalRaster(compileShallow); err != nil {
			return err
		}
		if in.Masks, err = readMasks(compileMasks); err != nil {
			return err
		}
		topo, err := topographyPath(cmd.Context(), compileTopo)
		if err != nil {
			return err
		}
		if in.Topography, err = optionalRaster(topo); err != nil {
			return err
		}

		return runJob(cmd, log, &pipeline.Compiler{Input: in, Log: log}, compileOutput)
	},
}

func optionalRaster(path string) (*grid.Grid, error) {
	if path == "" {
		return nil, nil
	}
	return geoio.ReadRaster(path)
}

// topographyPath returns name unchanged when it is a file, and otherwise
// resolves it as a reference raster, downloading it if needed.
func topographyPath(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	if _, err := os.Stat(name); !errors.Is(err, os.ErrNotExist) {
		return name, nil
	}
	e, err := openEnv(ctx)
	if err != nil {
		return "", err
	}
	defer e.Close()
	return e.rasters.Resolve(ctx, name)
}
