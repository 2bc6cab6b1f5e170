package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/paleodem/api"
	"github.com/agentic-research/paleodem/internal/catalog"
)

// ErrOffline is returned when a model file must be downloaded but the
// resolver has no client.
var ErrOffline = errors.New("downloads disabled")

// Model is a resolved model. Custom models are read-only snapshots of their
// metadata; catalog models fetch their rotation and layer files into the
// cache the first time they are asked for.
type Model struct {
	r         *Resolver
	canonical string
	remote    *api.CatalogEntry
	readOnly  bool

	mu   sync.Mutex
	desc api.ModelDescriptor
}

// Descriptor returns a copy of what is currently known about the model.
// Paths of catalog models stay empty until fetched.
func (m *Model) Descriptor() api.ModelDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.desc
	d.Rotations = append([]string(nil), m.desc.Rotations...)
	d.Layers = make(map[api.LayerKind][]string, len(m.desc.Layers))
	for k, v := range m.desc.Layers {
		d.Layers[k] = append([]string(nil), v...)
	}
	return d
}

// Rotations returns the model's rotation files, downloading them if needed.
func (m *Model) Rotations(ctx context.Context) ([]string, error) {
	if m.readOnly {
		return m.Descriptor().Rotations, nil
	}
	root, err := m.ensureModel(ctx)
	if err != nil {
		return nil, err
	}
	rel, err := m.r.listFiles(m.canonical, rotationsDir, RotationPatterns)
	if err != nil {
		return nil, err
	}
	files := joinAll(root, rel)

	m.mu.Lock()
	m.desc.Rotations = files
	m.mu.Unlock()
	return files, nil
}

// Layer returns the files of one layer, downloading them if needed. A model
// that does not provide kind yields nil when allowMissing is set and an
// error wrapping api.ErrNotFound otherwise.
func (m *Model) Layer(ctx context.Context, kind api.LayerKind, allowMissing bool) ([]string, error) {
	missing := func() ([]string, error) {
		if allowMissing {
			return nil, nil
		}
		return nil, fmt.Errorf("layer %s of model %s: %w", kind, m.canonical, api.ErrNotFound)
	}

	if m.readOnly {
		files, ok := m.Descriptor().Layers[kind]
		if !ok || len(files) == 0 {
			return missing()
		}
		return files, nil
	}

	var u string
	if m.remote != nil {
		u = m.remote.Layers[kind]
	}
	if u == "" {
		return missing()
	}

	if _, err := m.ensureModel(ctx); err != nil {
		return nil, err
	}
	key := path.Join(m.canonical, string(kind))
	root, fetched, err := m.r.Store.Ensure(key, func(stage billy.Filesystem) error {
		client, err := m.r.client(u)
		if err != nil {
			return err
		}
		_, _, err = client.Download(ctx, u, stage, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	if fetched {
		m.r.Log.Info().Str("model", m.canonical).Str("layer", string(kind)).Msg("layer downloaded")
	}

	rel, err := m.r.listFiles(m.canonical, string(kind), LayerPatterns)
	if err != nil {
		return nil, err
	}
	modelRoot := filepath.Dir(root)
	files := joinAll(modelRoot, rel)
	if len(files) == 0 {
		m.r.Log.Warn().Str("model", m.canonical).Str("layer", string(kind)).Msg("layer archive holds no recognised layer files")
		return missing()
	}

	m.mu.Lock()
	m.desc.Layers[kind] = files
	m.mu.Unlock()
	return files, nil
}

// ensureModel makes sure the model directory with its rotation files and
// metadata record is in the cache and returns its path.
func (m *Model) ensureModel(ctx context.Context) (string, error) {
	if m.remote == nil {
		return "", fmt.Errorf("model %s has no catalog entry: %w", m.canonical, api.ErrNotFound)
	}
	remote := *m.remote
	root, fetched, err := m.r.Store.Ensure(m.canonical, func(stage billy.Filesystem) error {
		var rotations []string
		if remote.Rotations != "" {
			client, err := m.r.client(remote.Rotations)
			if err != nil {
				return err
			}
			_, files, err := client.Download(ctx, remote.Rotations, stage, rotationsDir)
			if err != nil {
				return err
			}
			for _, f := range files {
				if matchAny(RotationPatterns, f) {
					rotations = append(rotations, f)
				}
			}
		}
		rec := api.ModelRecord{
			Name:        remote.Name,
			Description: remote.Description,
			SmallTime:   remote.SmallTime,
			BigTime:     remote.BigTime,
			Rotations:   rotations,
			Origin:      api.OriginCached,
			Remote:      &remote,
		}
		return writeRecord(stage, &rec)
	})
	if err != nil {
		return "", err
	}
	if fetched {
		m.r.Log.Info().Str("model", m.canonical).Msg("model downloaded")
	}
	return root, nil
}

func (r *Resolver) client(u string) (*catalog.Client, error) {
	if r.Client == nil {
		return nil, &api.NetworkError{URL: u, Err: ErrOffline}
	}
	return r.Client, nil
}

func writeRecord(fs billy.Filesystem, rec *api.ModelRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := util.WriteFile(fs, MetadataFile, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func joinOS(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

func joinAll(root string, rel []string) []string {
	out := make([]string, len(rel))
	for i, p := range rel {
		out[i] = joinOS(root, p)
	}
	return out
}
