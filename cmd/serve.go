package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentic-research/paleodem/internal/mcpserver"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the model and raster resolvers as MCP tools on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		s := &mcpserver.Server{
			Models:  e.models,
			Rasters: e.rasters,
			Catalog: e.catalog,
			Client:  e.client,
			Sources: e.sources,
			Log:     e.log,
		}
		return s.Serve(version)
	},
}
