package models

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/cache"
)

// CustomModel describes a model assembled from local files. Rotations and
// Layers hold OS paths of the files to copy into the cache.
type CustomModel struct {
	Name        string
	Description string
	SmallTime   float64
	BigTime     float64
	Rotations   []string
	Layers      map[api.LayerKind][]string
}

// AddCustomModel validates m and copies its files into a new model directory
// with a metadata record. Every check runs before anything is copied, and a
// name already known to the resolver or the cache is rejected.
func (r *Resolver) AddCustomModel(m CustomModel) (*Model, error) {
	const op = "add custom model"

	name := strings.TrimSpace(m.Name)
	if name == "" {
		return nil, api.Invalid(op, "model name is required")
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, api.Invalid(op, "model name %q is not a valid directory name", name)
	}
	for _, e := range r.entries() {
		if e.display == name || e.canonical == name {
			return nil, api.Invalid(op, "a model named %q already exists", name)
		}
	}
	if m.BigTime < m.SmallTime {
		return nil, api.Invalid(op, "big time %g is younger than small time %g", m.BigTime, m.SmallTime)
	}
	if len(m.Rotations) == 0 {
		return nil, api.Invalid(op, "at least one rotation file is required")
	}

	// dst (relative to the model directory) -> source path
	copies := make(map[string]string)
	rec := api.ModelRecord{
		Name:        name,
		Description: m.Description,
		SmallTime:   m.SmallTime,
		BigTime:     m.BigTime,
		Origin:      api.OriginCustom,
		Layers:      make(map[api.LayerKind][]string),
	}

	add := func(dir, src string, patterns []string) (string, error) {
		if !matchAny(patterns, src) {
			return "", api.Invalid(op, "%s: file type not allowed in %s (want %s)", src, dir, strings.Join(patterns, ", "))
		}
		info, err := os.Stat(src)
		if err != nil {
			return "", api.Invalid(op, "%s: %v", src, err)
		}
		if !info.Mode().IsRegular() {
			return "", api.Invalid(op, "%s is not a regular file", src)
		}
		dst := path.Join(dir, filepath.Base(src))
		if _, dup := copies[dst]; dup {
			return "", api.Invalid(op, "two files would be stored as %s", dst)
		}
		copies[dst] = src
		return dst, nil
	}

	for _, src := range m.Rotations {
		dst, err := add(rotationsDir, src, RotationPatterns)
		if err != nil {
			return nil, err
		}
		rec.Rotations = append(rec.Rotations, dst)
	}
	kinds := make([]string, 0, len(m.Layers))
	for k := range m.Layers {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		kind, ok := api.ParseLayerKind(k)
		if !ok {
			return nil, api.Invalid(op, "unknown layer kind %q", k)
		}
		for _, src := range m.Layers[api.LayerKind(k)] {
			dst, err := add(string(kind), src, LayerPatterns)
			if err != nil {
				return nil, err
			}
			rec.Layers[kind] = append(rec.Layers[kind], dst)
		}
	}

	_, stored, err := r.Store.Ensure(name, func(stage billy.Filesystem) error {
		for _, dst := range sortedKeys(copies) {
			if err := cache.CopyFile(stage, dst, copies[dst]); err != nil {
				return err
			}
		}
		return writeRecord(stage, &rec)
	})
	if err != nil {
		return nil, err
	}
	if !stored {
		return nil, api.Invalid(op, "a model named %q already exists", name)
	}
	r.Log.Info().Str("model", name).Int("files", len(copies)).Msg("custom model added")
	return r.Resolve(name)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
