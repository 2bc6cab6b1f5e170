package api

import "strings"

// LayerKind names one of the vector layers a plate model can carry.
type LayerKind string

const (
	Topologies          LayerKind = "Topologies"
	Coastlines          LayerKind = "Coastlines"
	COBs                LayerKind = "COBs"
	StaticPolygons      LayerKind = "StaticPolygons"
	ContinentalPolygons LayerKind = "ContinentalPolygons"
)

// LayerKinds lists every known layer kind in display order.
var LayerKinds = []LayerKind{Topologies, Coastlines, COBs, StaticPolygons, ContinentalPolygons}

// ParseLayerKind accepts the canonical name or a spaced variant ("Static Polygons").
func ParseLayerKind(s string) (LayerKind, bool) {
	compact := strings.NewReplacer(" ", "", "_", "").Replace(s)
	for _, k := range LayerKinds {
		if strings.EqualFold(string(k), compact) {
			return k, true
		}
	}
	return "", false
}

// Origin records where a model descriptor came from.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginCached Origin = "cached"
	OriginCustom Origin = "custom"
)

// CatalogEntry is one model as published by the remote catalog.
type CatalogEntry struct {
	Name        string               `json:"Name"`
	Description string               `json:"Description,omitempty"`
	URL         string               `json:"URL,omitempty"`
	Version     string               `json:"Version,omitempty"`
	SmallTime   float64              `json:"SmallTime"`
	BigTime     float64              `json:"BigTime"`
	Rotations   string               `json:"Rotations"`
	Layers      map[LayerKind]string `json:"Layers,omitempty"`
}

// ModelRecord is the on-disk .metadata.json of a cached or custom model.
// Paths in Rotations and Layers are relative to the model directory.
type ModelRecord struct {
	Name        string                 `json:"Name"`
	Description string                 `json:"Description,omitempty"`
	SmallTime   float64                `json:"SmallTime"`
	BigTime     float64                `json:"BigTime"`
	Rotations   []string               `json:"Rotations"`
	Layers      map[LayerKind][]string `json:"Layers,omitempty"`
	Origin      Origin                 `json:"Origin"`
	// Remote is the catalog entry a cached model was fetched from.
	Remote *CatalogEntry `json:"Remote,omitempty"`
}

// ModelDescriptor is the resolved view of a model, whatever its origin.
// Layers lists the kinds the model provides; for a remote model the paths
// are empty until the layer has been fetched.
type ModelDescriptor struct {
	Name        string
	DisplayName string
	Description string
	SmallTime   float64
	BigTime     float64
	Origin      Origin
	Rotations   []string
	Layers      map[LayerKind][]string
}

// HasLayer reports whether the model provides the given layer kind.
func (d *ModelDescriptor) HasLayer(kind LayerKind) bool {
	_, ok := d.Layers[kind]
	return ok
}

// RasterDescriptor describes a present-day reference raster.
type RasterDescriptor struct {
	Name      string // manifest key, e.g. etopo_bed_60
	Display   string // human-readable name
	URL       string // manifest entry
	LocalPath string // empty until downloaded
}

// FreshnessRecord is what the cache remembers about a downloaded raster.
type FreshnessRecord struct {
	Name         string
	URL          string
	ETag         string
	LastModified string
	Size         int64
	File         string
}
