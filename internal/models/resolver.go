// Package models resolves plate reconstruction models by display name. Names
// come from three tiers: the remote catalog, models downloaded from it
// earlier (listed from their cached metadata when the catalog is
// unreachable) and custom models added from local files.
package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/cache"
	"github.com/agentic-research/paleodem/internal/catalog"
)

// MetadataFile is the per-model record inside the model directory.
const MetadataFile = ".metadata.json"

// Fallback time bounds for a model whose descriptor cannot be resolved.
const (
	DefaultSmallTime = 0
	DefaultBigTime   = 1000
)

const rotationsDir = "Rotations"

// Resolver maps display names to models.
type Resolver struct {
	Catalog catalog.Source
	Client  *catalog.Client // nil disables downloads
	Store   *cache.Store
	Log     zerolog.Logger
}

func New(src catalog.Source, client *catalog.Client, store *cache.Store, log zerolog.Logger) *Resolver {
	return &Resolver{Catalog: src, Client: client, Store: store, Log: log}
}

// entry is one listed model.
type entry struct {
	display   string
	canonical string
	origin    api.Origin
	remote    *api.CatalogEntry
	record    *api.ModelRecord
}

func (e *entry) layerKinds() []api.LayerKind {
	var kinds []api.LayerKind
	switch {
	case e.record != nil && e.origin == api.OriginCustom:
		for k := range e.record.Layers {
			kinds = append(kinds, k)
		}
	case e.remote != nil:
		for k := range e.remote.Layers {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (e *entry) hasLayer(kind api.LayerKind) bool {
	for _, k := range e.layerKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// entries lists catalog models in catalog order, then cached models the
// catalog no longer (or not currently) lists, then custom models.
func (r *Resolver) entries() []*entry {
	var cat *catalog.Catalog
	if r.Catalog != nil {
		cat = r.Catalog.Current()
	}
	if cat == nil {
		cat = catalog.Empty()
	}

	seen := make(map[string]bool)
	var out []*entry
	for i := range cat.Models {
		e := &cat.Models[i]
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		out = append(out, &entry{display: DisplayName(e.Name), canonical: e.Name, origin: api.OriginRemote, remote: e})
	}

	names, err := r.Store.ListNames()
	if err != nil {
		r.Log.Warn().Err(err).Msg("list cached models")
		return out
	}
	var cached, custom []*entry
	for _, name := range names {
		if seen[name] {
			continue
		}
		rec, err := r.readRecord(name)
		if err != nil {
			r.Log.Warn().Err(err).Str("model", name).Msg("skipping model without readable metadata")
			continue
		}
		switch {
		case rec.Origin == api.OriginCached && rec.Remote != nil:
			cached = append(cached, &entry{display: DisplayName(name), canonical: name, origin: api.OriginCached, remote: rec.Remote, record: rec})
		default:
			custom = append(custom, &entry{display: name, canonical: name, origin: api.OriginCustom, record: rec})
		}
	}
	out = append(out, cached...)
	return append(out, custom...)
}

func (r *Resolver) lookup(display string) (*entry, error) {
	for _, e := range r.entries() {
		if e.display == display {
			return e, nil
		}
	}
	return nil, fmt.Errorf("model %q: %w", display, api.ErrNotFound)
}

func (r *Resolver) readRecord(name string) (*api.ModelRecord, error) {
	data, err := r.Store.ReadFile(path.Join(name, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("read metadata of %s: %w", name, err)
	}
	var rec api.ModelRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse metadata of %s: %w", name, err)
	}
	if rec.Origin == "" {
		rec.Origin = api.OriginCustom
	}
	return &rec, nil
}

// ListAvailable returns the display names of every model providing all of
// the required layer kinds.
func (r *Resolver) ListAvailable(required ...api.LayerKind) []string {
	var names []string
	for _, e := range r.entries() {
		ok := true
		for _, k := range required {
			if !e.hasLayer(k) {
				ok = false
				break
			}
		}
		if ok {
			names = append(names, e.display)
		}
	}
	return names
}

// Resolve returns a handle on the named model. Files of a catalog model are
// downloaded on first access through the handle.
func (r *Resolver) Resolve(display string) (*Model, error) {
	e, err := r.lookup(display)
	if err != nil {
		return nil, err
	}
	return r.model(e), nil
}

func (r *Resolver) model(e *entry) *Model {
	m := &Model{r: r, canonical: e.canonical, remote: e.remote}
	m.desc = api.ModelDescriptor{
		Name:        e.canonical,
		DisplayName: e.display,
		Origin:      e.origin,
		SmallTime:   DefaultSmallTime,
		BigTime:     DefaultBigTime,
		Layers:      make(map[api.LayerKind][]string),
	}
	switch {
	case e.origin == api.OriginCustom:
		rec := e.record
		m.desc.Description = rec.Description
		m.desc.SmallTime, m.desc.BigTime = rec.SmallTime, rec.BigTime
		m.desc.Rotations = r.absolute(e.canonical, rec.Rotations)
		for k, files := range rec.Layers {
			m.desc.Layers[k] = r.absolute(e.canonical, files)
		}
		m.readOnly = true
	case e.remote != nil:
		m.desc.Description = e.remote.Description
		m.desc.SmallTime, m.desc.BigTime = e.remote.SmallTime, e.remote.BigTime
		for k := range e.remote.Layers {
			m.desc.Layers[k] = nil
		}
	}
	return m
}

func (r *Resolver) absolute(name string, rel []string) []string {
	root, err := r.Store.PathFor(name)
	if err != nil {
		return nil
	}
	out := make([]string, len(rel))
	for i, p := range rel {
		out[i] = joinOS(root, p)
	}
	return out
}

// GetLayer fetches the layer files of the named model. When allowMissing is
// set a model without that layer yields nil and no error.
func (r *Resolver) GetLayer(ctx context.Context, display string, kind api.LayerKind, allowMissing bool) ([]string, error) {
	m, err := r.Resolve(display)
	if err != nil {
		return nil, err
	}
	return m.Layer(ctx, kind, allowMissing)
}

// SmallTime returns the youngest reconstruction age of the model, or
// DefaultSmallTime when it cannot be resolved.
func (r *Resolver) SmallTime(display string) float64 {
	m, err := r.Resolve(display)
	if err != nil {
		return DefaultSmallTime
	}
	return m.desc.SmallTime
}

// BigTime returns the oldest reconstruction age of the model, or
// DefaultBigTime when it cannot be resolved.
func (r *Resolver) BigTime(display string) float64 {
	m, err := r.Resolve(display)
	if err != nil {
		return DefaultBigTime
	}
	return m.desc.BigTime
}

// IsCustom reports whether the name is a custom model.
func (r *Resolver) IsCustom(display string) bool {
	e, err := r.lookup(display)
	return err == nil && e.origin == api.OriginCustom
}

// IsCachedLocally reports whether the model's files are in the cache.
func (r *Resolver) IsCachedLocally(display string) bool {
	e, err := r.lookup(display)
	return err == nil && r.Store.Has(e.canonical)
}

// DeleteModel removes a custom or downloaded model from the cache.
func (r *Resolver) DeleteModel(display string) error {
	e, err := r.lookup(display)
	if err != nil {
		return err
	}
	if !r.Store.Has(e.canonical) {
		return api.Invalid("delete model", "model %q is not stored locally", display)
	}
	if err := r.Store.Remove(e.canonical); err != nil {
		return err
	}
	r.Log.Info().Str("model", display).Msg("model deleted")
	return nil
}

// listFiles returns the files under dir inside the model store whose names
// match patterns, relative to the model directory and sorted.
func (r *Resolver) listFiles(model, dir string, patterns []string) ([]string, error) {
	fs := r.Store.FS()
	root := path.Join(model, dir)
	var files []string
	err := util.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && matchAny(patterns, p) {
			rel := p[len(model)+1:]
			files = append(files, rel)
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
