package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/models"
)

var (
	modelLayers     []string
	customRotations []string
	customLayers    []string
	customSmallTime float64
	customBigTime   float64
	customDesc      string
)

func init() {
	modelsListCmd.Flags().StringSliceVar(&modelLayers, "layer", nil, "Only list models providing these layer kinds")

	modelsAddCmd.Flags().StringSliceVar(&customRotations, "rotation", nil, "Rotation file (*.rot, *.grot); repeatable")
	modelsAddCmd.Flags().StringArrayVar(&customLayers, "layer", nil, "Layer file as Kind=path, e.g. Coastlines=coast.gpml; repeatable")
	modelsAddCmd.Flags().Float64Var(&customSmallTime, "small-time", models.DefaultSmallTime, "Youngest reconstruction age (Ma)")
	modelsAddCmd.Flags().Float64Var(&customBigTime, "big-time", models.DefaultBigTime, "Oldest reconstruction age (Ma)")
	modelsAddCmd.Flags().StringVar(&customDesc, "description", "", "Model description")

	modelsCmd.AddCommand(modelsListCmd, modelsInfoCmd, modelsFetchCmd, modelsAddCmd, modelsDeleteCmd)
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List, fetch and manage plate reconstruction models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := parseKinds(modelLayers)
		if err != nil {
			return err
		}
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		for _, name := range e.models.ListAvailable(kinds...) {
			mark := ""
			switch {
			case e.models.IsCustom(name):
				mark = " [custom]"
			case e.models.IsCachedLocally(name):
				mark = " [downloaded]"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", name, mark)
		}
		return nil
	},
}

var modelsInfoCmd = &cobra.Command{
	Use:   "info NAME",
	Short: "Show a model's time range and layers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		m, err := e.models.Resolve(args[0])
		if err != nil {
			return err
		}
		d := m.Descriptor()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name:        %s (%s)\n", d.DisplayName, d.Name)
		fmt.Fprintf(out, "Origin:      %s\n", d.Origin)
		if d.Description != "" {
			fmt.Fprintf(out, "Description: %s\n", d.Description)
		}
		fmt.Fprintf(out, "Time range:  %g - %g Ma\n", d.SmallTime, d.BigTime)
		fmt.Fprintf(out, "Cached:      %v\n", e.models.IsCachedLocally(args[0]))
		kinds := make([]string, 0, len(d.Layers))
		for k := range d.Layers {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		fmt.Fprintf(out, "Layers:      %s\n", strings.Join(kinds, ", "))
		return nil
	},
}

var modelsFetchCmd = &cobra.Command{
	Use:   "fetch NAME",
	Short: "Download a model's rotation files and every known layer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		m, err := e.models.Resolve(args[0])
		if err != nil {
			return err
		}
		rots, err := m.Rotations(cmd.Context())
		if err != nil {
			return err
		}
		for _, f := range rots {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		d := m.Descriptor()
		for _, kind := range api.LayerKinds {
			if !d.HasLayer(kind) {
				continue
			}
			files, err := m.Layer(cmd.Context(), kind, true)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
		}
		return nil
	},
}

var modelsAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a custom model from local files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layers := make(map[api.LayerKind][]string)
		for _, spec := range customLayers {
			k, p, ok := strings.Cut(spec, "=")
			if !ok || p == "" {
				return api.Invalid("add custom model", "layer %q: want Kind=path", spec)
			}
			kind, ok := api.ParseLayerKind(k)
			if !ok {
				return api.Invalid("add custom model", "unknown layer kind %q", k)
			}
			layers[kind] = append(layers[kind], p)
		}

		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		m, err := e.models.AddCustomModel(models.CustomModel{
			Name:        args[0],
			Description: customDesc,
			SmallTime:   customSmallTime,
			BigTime:     customBigTime,
			Rotations:   customRotations,
			Layers:      layers,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", m.Descriptor().DisplayName)
		return nil
	},
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Remove a custom or downloaded model from the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		return e.models.DeleteModel(args[0])
	},
}

func parseKinds(names []string) ([]api.LayerKind, error) {
	kinds := make([]api.LayerKind, 0, len(names))
	for _, n := range names {
		k, ok := api.ParseLayerKind(n)
		if !ok {
			return nil, api.Invalid("parse layer kinds", "unknown layer kind %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
