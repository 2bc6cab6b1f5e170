package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rastersCmd.AddCommand(rastersListCmd, rastersGetCmd, rastersDeleteCmd)
	rootCmd.AddCommand(rastersCmd)
}

var rastersCmd = &cobra.Command{
	Use:   "rasters",
	Short: "List, download and remove present-day reference rasters",
}

var rastersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reference rasters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		for _, d := range e.rasters.ListAvailable() {
			state := ""
			switch {
			case d.LocalPath != "" && e.rasters.IsCachedLocally(cmd.Context(), d.Name):
				state = " [downloaded]"
			case d.LocalPath != "":
				state = " [update available]"
			case d.URL == "":
				state = " [unavailable]"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s%s\n", d.Name, d.Display, state)
		}
		return nil
	},
}

var rastersGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Download a raster if needed and print its path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		p, err := e.rasters.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

var rastersDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Remove a downloaded raster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		return e.rasters.Delete(args[0])
	},
}
