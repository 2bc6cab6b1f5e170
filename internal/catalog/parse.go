package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/paleodem/api"
)

// defaultKey is a pseudo-entry in the model catalog that names the default
// model rather than describing one.
const defaultKey = "default"

var (
	xDescription = jp.MustParseString("$.Description")
	xURL         = jp.MustParseString("$.URL")
	xVersion     = jp.MustParseString("$.Version")
	xSmallTime   = jp.MustParseString("$.SmallTime")
	xBigTime     = jp.MustParseString("$.BigTime")
	xTimeRange   = jp.MustParseString("$.TimeRange[*]")
	xRotations   = jp.MustParseString("$.Rotations")
	xLayers      = jp.MustParseString("$.Layers")
	xRasterURL   = jp.MustParseString("$.url")
)

// ParseModels decodes a model catalog: a JSON object keyed by canonical
// model name. Entries are returned in document order.
func ParseModels(data []byte) ([]api.CatalogEntry, error) {
	keys, raw, err := orderedObject(data)
	if err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	entries := make([]api.CatalogEntry, 0, len(keys))
	for _, name := range keys {
		if name == defaultKey {
			continue
		}
		obj, ok := raw[name].(map[string]any)
		if !ok {
			continue
		}
		e := api.CatalogEntry{
			Name:        name,
			Description: str(xDescription.First(obj)),
			URL:         str(xURL.First(obj)),
			Version:     str(xVersion.First(obj)),
			Rotations:   str(xRotations.First(obj)),
		}
		e.SmallTime, e.BigTime = timeBounds(obj)
		if layers, ok := xLayers.First(obj).(map[string]any); ok {
			e.Layers = make(map[api.LayerKind]string, len(layers))
			for k, v := range layers {
				kind, ok := api.ParseLayerKind(k)
				if !ok {
					kind = api.LayerKind(k)
				}
				if u := str(v); u != "" {
					e.Layers[kind] = u
				}
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ParseManifest decodes a raster manifest mapping raster key to either a URL
// string or an object with a "url" member. Keys are returned in document
// order alongside the key to URL map.
func ParseManifest(data []byte) ([]string, map[string]string, error) {
	keys, raw, err := orderedObject(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse raster manifest: %w", err)
	}
	order := make([]string, 0, len(keys))
	urls := make(map[string]string, len(keys))
	for _, k := range keys {
		var u string
		switch v := raw[k].(type) {
		case string:
			u = v
		case map[string]any:
			u = str(xRasterURL.First(v))
		}
		if u == "" {
			continue
		}
		order = append(order, k)
		urls[k] = u
	}
	return order, urls, nil
}

// orderedObject decodes a top-level JSON object and returns its keys in the
// order they appear.
func orderedObject(data []byte) ([]string, map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		k, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		keys = append(keys, k)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, nil, err
		}
	}
	return keys, raw, nil
}

// timeBounds reads SmallTime/BigTime, falling back to a [big, small]
// TimeRange pair.
func timeBounds(obj map[string]any) (small, big float64) {
	small, okSmall := num(xSmallTime.First(obj))
	big, okBig := num(xBigTime.First(obj))
	if rng := xTimeRange.Get(obj); len(rng) == 2 {
		a, okA := num(rng[0])
		b, okB := num(rng[1])
		if okA && okB {
			if a < b {
				a, b = b, a
			}
			if !okBig {
				big, okBig = a, true
			}
			if !okSmall {
				small, okSmall = b, true
			}
		}
	}
	if !okBig {
		big = 1000
	}
	if !okSmall {
		small = 0
	}
	return small, big
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
