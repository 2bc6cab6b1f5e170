package geoio

import (
	"fmt"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	ncapi "github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/grid"
)

const geographicCRS = "EPSG:4326"

// Variable names tried, in order, for the data band of a netCDF raster.
var dataVarNames = []string{"z", "elevation", "Band1", "seafloor_age", "age", "depth"}

func readNetCDF(path string) (*grid.Grid, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open netcdf %s: %w", path, err)
	}
	defer nc.Close()

	name, v, err := findDataVar(nc)
	if err != nil {
		return nil, fmt.Errorf("netcdf %s: %w", path, err)
	}
	rows, err := toFloatRows(v.Values)
	if err != nil {
		return nil, fmt.Errorf("netcdf %s variable %s: %w", path, name, err)
	}

	xs, err := coordVar(nc, v.Dimensions[1])
	if err != nil {
		return nil, fmt.Errorf("netcdf %s: %w", path, err)
	}
	ys, err := coordVar(nc, v.Dimensions[0])
	if err != nil {
		return nil, fmt.Errorf("netcdf %s: %w", path, err)
	}
	if len(xs) != len(rows[0]) || len(ys) != len(rows) {
		return nil, api.Invalid("read netcdf", "%s: coordinate lengths %dx%d do not match data %dx%d",
			path, len(xs), len(ys), len(rows[0]), len(rows))
	}

	g, err := grid.FromRows(rows, transformFromCoords(xs, ys), geographicCRS)
	if err != nil {
		return nil, err
	}
	applyPacking(g, v.Attributes)
	return g, nil
}

func findDataVar(nc ncapi.Group) (string, *ncapi.Variable, error) {
	available := nc.ListVariables()
	candidates := append([]string(nil), dataVarNames...)
	candidates = append(candidates, available...)
	for _, name := range candidates {
		if !contains(available, name) {
			continue
		}
		v, err := nc.GetVariable(name)
		if err != nil {
			return "", nil, fmt.Errorf("get variable %s: %w", name, err)
		}
		if len(v.Dimensions) == 2 {
			return name, v, nil
		}
	}
	return "", nil, fmt.Errorf("no 2-D variable among %s: %w", strings.Join(available, ", "), api.ErrNotFound)
}

func coordVar(nc ncapi.Group, dim string) ([]float64, error) {
	v, err := nc.GetVariable(dim)
	if err != nil {
		return nil, fmt.Errorf("coordinate variable %s: %w", dim, err)
	}
	return toFloats(v.Values)
}

// applyPacking applies _FillValue/missing_value and scale_factor/add_offset.
func applyPacking(g *grid.Grid, attrs ncapi.AttributeMap) {
	if attrs == nil {
		return
	}
	for _, key := range []string{"_FillValue", "missing_value"} {
		if raw, ok := attrs.Get(key); ok {
			if nd, ok := scalar(raw); ok {
				g.ReplaceNoData(nd)
			}
		}
	}
	scale, offset := 1.0, 0.0
	if raw, ok := attrs.Get("scale_factor"); ok {
		if s, ok := scalar(raw); ok {
			scale = s
		}
	}
	if raw, ok := attrs.Get("add_offset"); ok {
		if o, ok := scalar(raw); ok {
			offset = o
		}
	}
	if scale == 1 && offset == 0 {
		return
	}
	for i, v := range g.Data {
		if !grid.IsNoData(v) {
			g.Data[i] = v*scale + offset
		}
	}
}

// transformFromCoords derives a geotransform from cell-centre coordinates.
// Ascending latitudes yield a positive cell height (south-up row order).
func transformFromCoords(xs, ys []float64) grid.GeoTransform {
	dx, dy := 1.0, 1.0
	if len(xs) > 1 {
		dx = (xs[len(xs)-1] - xs[0]) / float64(len(xs)-1)
	}
	if len(ys) > 1 {
		dy = (ys[len(ys)-1] - ys[0]) / float64(len(ys)-1)
	}
	return grid.GeoTransform{xs[0] - dx/2, dx, 0, ys[0] - dy/2, 0, dy}
}

func writeNetCDF(path string, g *grid.Grid) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("create netcdf %s: %w", path, err)
	}

	xs := make([]float64, g.Cols)
	for c := range xs {
		xs[c], _ = g.Transform.CellCenter(0, c)
	}
	ys := make([]float64, g.Rows)
	for r := range ys {
		_, ys[r] = g.Transform.CellCenter(r, 0)
	}
	data := make([][]float32, g.Rows)
	for r := range data {
		data[r] = make([]float32, g.Cols)
		for c := range data[r] {
			data[r][c] = float32(g.At(r, c))
		}
	}

	lonAttrs, err := util.NewOrderedMap([]string{"units"}, map[string]interface{}{"units": "degrees_east"})
	if err != nil {
		return err
	}
	latAttrs, err := util.NewOrderedMap([]string{"units"}, map[string]interface{}{"units": "degrees_north"})
	if err != nil {
		return err
	}
	// The writer rejects underscore names such as _FillValue; NaN is the fill.
	zAttrs, err := util.NewOrderedMap([]string{"long_name"}, map[string]interface{}{"long_name": "elevation"})
	if err != nil {
		return err
	}

	vars := []struct {
		name string
		v    ncapi.Variable
	}{
		{"lon", ncapi.Variable{Values: xs, Dimensions: []string{"lon"}, Attributes: lonAttrs}},
		{"lat", ncapi.Variable{Values: ys, Dimensions: []string{"lat"}, Attributes: latAttrs}},
		{"z", ncapi.Variable{Values: data, Dimensions: []string{"lat", "lon"}, Attributes: zAttrs}},
	}
	for _, nv := range vars {
		if err := cw.AddVar(nv.name, nv.v); err != nil {
			_ = cw.Close()
			return fmt.Errorf("add variable %s: %w", nv.name, err)
		}
	}
	return cw.Close()
}

func toFloatRows(values interface{}) ([][]float64, error) {
	var rows [][]float64
	switch v := values.(type) {
	case [][]float64:
		return v, nil
	case [][]float32:
		for _, r := range v {
			rows = append(rows, widen(r))
		}
	case [][]int32:
		for _, r := range v {
			rows = append(rows, widen(r))
		}
	case [][]int16:
		for _, r := range v {
			rows = append(rows, widen(r))
		}
	case [][]int8:
		for _, r := range v {
			rows = append(rows, widen(r))
		}
	default:
		return nil, fmt.Errorf("unsupported value type %T", values)
	}
	if len(rows) == 0 {
		return nil, api.Invalid("read netcdf", "empty variable")
	}
	return rows, nil
}

func toFloats(values interface{}) ([]float64, error) {
	switch v := values.(type) {
	case []float64:
		return v, nil
	case []float32:
		return widen(v), nil
	case []int32:
		return widen(v), nil
	case []int16:
		return widen(v), nil
	default:
		return nil, fmt.Errorf("unsupported coordinate type %T", values)
	}
}

func widen[T float32 | int32 | int16 | int8](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func scalar(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int32:
		return float64(v), true
	case int16:
		return float64(v), true
	case int8:
		return float64(v), true
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
