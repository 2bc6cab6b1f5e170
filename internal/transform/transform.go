// Package transform rewrites the cells of a raster that fall inside region
// polygons, either by rescaling their elevation range (range mode) or by a
// per-region formula over the cell value x (formula mode).
//
// The input grid is never modified: all rules run against a copy, which is
// returned only if every rule succeeds.
package transform

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/geoio"
	"github.com/agentic-research/paleodem/internal/grid"
	"github.com/agentic-research/paleodem/internal/progress"
)

// Selection restricts the regions to features whose Field equals Value.
// An empty Field selects every feature.
type Selection struct {
	Field string
	Value string
}

// RangeSpec configures range mode. If MinField and MaxField are both empty
// the whole selection is rescaled once to [Min, Max]; otherwise each feature
// supplies its own final minimum and maximum.
type RangeSpec struct {
	Selection
	Min, Max           float64
	MinField, MaxField string
}

// FormulaSpec configures formula mode. FormulaField, when set, names the
// attribute holding each feature's formula; otherwise Formula applies to all.
// Bounds restrict evaluation to cells with MinBound < x < MaxBound; each side
// is optional and may come from an attribute instead.
type FormulaSpec struct {
	Selection
	Formula       string
	FormulaField  string
	MinBound      *float64
	MaxBound      *float64
	MinBoundField string
	MaxBoundField string
}

// Rule is the transformation of one region.
type Rule struct {
	Feature  int
	Region   *geojson.FeatureCollection
	Expr     *Expr
	Min, Max float64
	MinBound *float64
	MaxBound *float64
}

// Transformer applies rules. The zero value is ready to use.
type Transformer struct {
	Log zerolog.Logger
}

// RescaleRange compresses or expands the values v >= fmin of g at cells into
// [fmin, fmax] in place: imax is the largest finite value at cells, and
// v' = fmin + (v - fmin) / ((imax - fmin) / (fmax - fmin)).
// A zero ratio is a ValidationError. Cells without finite values are left as
// they are; an all-NaN selection is a no-op.
func RescaleRange(g *grid.Grid, cells []uint32, fmin, fmax float64) error {
	if fmax == fmin {
		return api.Invalid("rescale range", "final maximum equals final minimum (%g)", fmin)
	}
	imax, ok := g.FiniteMax(cells)
	if !ok {
		return nil
	}
	ratio := (imax - fmin) / (fmax - fmin)
	if ratio == 0 {
		return api.Invalid("rescale range", "region maximum %g equals final minimum; ratio is zero", imax)
	}
	for _, idx := range cells {
		if v := g.Data[idx]; !grid.IsNoData(v) && v >= fmin {
			g.Data[idx] = fmin + (v-fmin)/ratio
		}
	}
	return nil
}

// Range runs range mode over g and returns the rewritten copy.
func (t *Transformer) Range(ctx context.Context, g *grid.Grid, regions *geojson.FeatureCollection, spec RangeSpec, tr *progress.Tracker) (*grid.Grid, error) {
	fc, err := selectRegions(regions, spec.Selection)
	if err != nil {
		return nil, err
	}

	var rules []Rule
	if spec.MinField == "" && spec.MaxField == "" {
		rules = []Rule{{Feature: -1, Region: fc, Min: spec.Min, Max: spec.Max}}
	} else {
		for i, f := range fc.Features {
			fmin, okMin := numberProp(f, spec.MinField, spec.Min)
			fmax, okMax := numberProp(f, spec.MaxField, spec.Max)
			if !okMin || !okMax {
				t.Log.Warn().Int("feature", i).Str("min_field", spec.MinField).Str("max_field", spec.MaxField).
					Msg("region has no final minimum or maximum; skipping")
				continue
			}
			rules = append(rules, Rule{Feature: i, Region: single(f), Min: fmin, Max: fmax})
		}
	}
	for _, r := range rules {
		if r.Max == r.Min {
			return nil, api.Invalid("transform range", "feature %d: final maximum equals final minimum (%g)", r.Feature, r.Min)
		}
	}
	return t.apply(ctx, g, rules, tr, func(out *grid.Grid, r Rule, cells []uint32) error {
		if err := RescaleRange(out, cells, r.Min, r.Max); err != nil {
			return fmt.Errorf("feature %d: %w", r.Feature, err)
		}
		return nil
	})
}

// Formula runs formula mode over g and returns the rewritten copy. Every
// formula is compiled before any cell is touched; a region whose formula is
// empty or never references x is skipped with a warning.
func (t *Transformer) Formula(ctx context.Context, g *grid.Grid, regions *geojson.FeatureCollection, spec FormulaSpec, tr *progress.Tracker) (*grid.Grid, error) {
	fc, err := selectRegions(regions, spec.Selection)
	if err != nil {
		return nil, err
	}

	var rules []Rule
	if spec.FormulaField == "" {
		expr, err := Compile(spec.Formula)
		if errors.Is(err, ErrNoVariable) {
			t.Log.Warn().Str("formula", spec.Formula).Msg("formula does not reference x; nothing to do")
			return g.Clone(), nil
		}
		if err != nil {
			return nil, err
		}
		for i, f := range fc.Features {
			rules = append(rules, t.formulaRule(i, f, expr, spec))
		}
	} else {
		for i, f := range fc.Features {
			src := f.Properties.MustString(spec.FormulaField, "")
			expr, err := Compile(src)
			if errors.Is(err, ErrNoVariable) {
				t.Log.Warn().Int("feature", i).Str("field", spec.FormulaField).
					Msg("region does not contain a formula; skipping")
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			rules = append(rules, t.formulaRule(i, f, expr, spec))
		}
	}

	return t.apply(ctx, g, rules, tr, func(out *grid.Grid, r Rule, cells []uint32) error {
		for _, idx := range cells {
			v := out.Data[idx]
			if grid.IsNoData(v) || !inBounds(v, r.MinBound, r.MaxBound) {
				continue
			}
			nv, err := r.Expr.Eval(v)
			if err != nil {
				return fmt.Errorf("feature %d: %w", r.Feature, err)
			}
			out.Data[idx] = nv
		}
		return nil
	})
}

func (t *Transformer) formulaRule(i int, f *geojson.Feature, expr *Expr, spec FormulaSpec) Rule {
	r := Rule{Feature: i, Region: single(f), Expr: expr, MinBound: spec.MinBound, MaxBound: spec.MaxBound}
	if spec.MinBoundField != "" {
		r.MinBound = optionalProp(f, spec.MinBoundField)
	}
	if spec.MaxBoundField != "" {
		r.MaxBound = optionalProp(f, spec.MaxBoundField)
	}
	return r
}

type applyFunc func(out *grid.Grid, r Rule, cells []uint32) error

// apply rasterizes each rule's region individually and calls fn on a copy of g.
func (t *Transformer) apply(ctx context.Context, g *grid.Grid, rules []Rule, tr *progress.Tracker, fn applyFunc) (*grid.Grid, error) {
	out := g.Clone()
	rz := geoio.NewRasterizer(g, t.Log)
	for i, r := range rules {
		if err := tr.Checkpoint(ctx, i*100/max(len(rules), 1), fmt.Sprintf("transform region %d", r.Feature)); err != nil {
			return nil, err
		}
		cells := rz.Collection(r.Region).Cells()
		if len(cells) == 0 {
			t.Log.Debug().Int("feature", r.Feature).Msg("region covers no cells")
			continue
		}
		if err := fn(out, r, cells); err != nil {
			return nil, err
		}
	}
	if err := tr.Checkpoint(ctx, 100, "regions transformed"); err != nil {
		return nil, err
	}
	return out, nil
}

func selectRegions(fc *geojson.FeatureCollection, sel Selection) (*geojson.FeatureCollection, error) {
	if fc == nil {
		return nil, api.Invalid("transform", "no region layer")
	}
	if sel.Field == "" {
		return fc, nil
	}
	out := geoio.Filter(fc, sel.Field, sel.Value)
	if geoio.IsEmpty(out) {
		return nil, api.Invalid("transform", "no region has %s = %q", sel.Field, sel.Value)
	}
	return out, nil
}

func single(f *geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(f)
	return fc
}

func inBounds(v float64, lo, hi *float64) bool {
	if lo != nil && !(v > *lo) {
		return false
	}
	if hi != nil && !(v < *hi) {
		return false
	}
	return true
}

// numberProp reads a numeric attribute. An empty key returns def. Strings
// holding numbers are accepted; missing or blank values report false.
func numberProp(f *geojson.Feature, key string, def float64) (float64, bool) {
	if key == "" {
		return def, true
	}
	switch v := f.Properties[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	}
	return 0, false
}

func optionalProp(f *geojson.Feature, key string) *float64 {
	v, ok := numberProp(f, key, 0)
	if !ok {
		return nil
	}
	return &v
}
