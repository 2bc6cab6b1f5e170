package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/paleodem/api"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeFile(fs billy.Filesystem, name, body string) error {
	return util.WriteFile(fs, name, []byte(body), 0o644)
}

func TestOpenCreatesLayout(t *testing.T) {
	c := openTemp(t)
	for _, ns := range []string{Models, Rasters} {
		info, err := os.Stat(filepath.Join(c.Root, ns))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	_, err := os.Stat(filepath.Join(c.Root, "index.db"))
	require.NoError(t, err)
}

func TestStoreAndPathFor(t *testing.T) {
	c := openTemp(t)
	s := c.Models()

	assert.False(t, s.Has("muller2019"))
	_, err := s.PathFor("muller2019")
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrNotFound))

	err = s.Store("muller2019", func(stage billy.Filesystem) error {
		return writeFile(stage, "Rotations/model.rot", "rot")
	})
	require.NoError(t, err)

	assert.True(t, s.Has("muller2019"))
	p, err := s.PathFor("muller2019")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Root, Models, "muller2019"), p)

	body, err := os.ReadFile(filepath.Join(p, "Rotations", "model.rot"))
	require.NoError(t, err)
	assert.Equal(t, "rot", string(body))

	// No staging leftovers once the entry is in place.
	left, err := os.ReadDir(filepath.Join(c.Root, Models, stagingDir))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestStoreFailureLeavesNothing(t *testing.T) {
	c := openTemp(t)
	s := c.Models()

	err := s.Store("broken", func(stage billy.Filesystem) error {
		if err := writeFile(stage, "half.rot", "x"); err != nil {
			return err
		}
		return errors.New("connection reset")
	})
	require.Error(t, err)
	assert.False(t, s.Has("broken"))
	_, statErr := os.Stat(filepath.Join(c.Root, Models, "broken"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStoreReplacesExisting(t *testing.T) {
	c := openTemp(t)
	s := c.Rasters()

	require.NoError(t, s.Store("etopo_bed_60", func(stage billy.Filesystem) error {
		return writeFile(stage, "old.nc", "old")
	}))
	require.NoError(t, s.Store("etopo_bed_60", func(stage billy.Filesystem) error {
		return writeFile(stage, "new.nc", "new")
	}))

	p, err := s.PathFor("etopo_bed_60")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(p, "old.nc"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(p, "new.nc"))
	assert.NoError(t, err)
}

func TestStoreFiles(t *testing.T) {
	c := openTemp(t)
	src := t.TempDir()
	rot := filepath.Join(src, "a.rot")
	require.NoError(t, os.WriteFile(rot, []byte("rotation"), 0o644))

	require.NoError(t, c.Models().StoreFiles("custom", map[string]string{"Rotations/a.rot": rot}))
	p, err := c.Models().PathFor("custom")
	require.NoError(t, err)
	body, err := os.ReadFile(filepath.Join(p, "Rotations", "a.rot"))
	require.NoError(t, err)
	assert.Equal(t, "rotation", string(body))
}

func TestRemove(t *testing.T) {
	c := openTemp(t)
	s := c.Models()

	require.NoError(t, s.Remove("never-stored"))

	require.NoError(t, s.Store("m", func(stage billy.Filesystem) error {
		return writeFile(stage, "a.rot", "x")
	}))
	require.NoError(t, s.Store("m/Coastlines", func(stage billy.Filesystem) error {
		return writeFile(stage, "c.gpml", "x")
	}))
	require.NoError(t, s.Remove("m"))

	assert.False(t, s.Has("m"))
	assert.False(t, s.Has("m/Coastlines"))
	_, err := os.Stat(filepath.Join(c.Root, Models, "m"))
	assert.True(t, os.IsNotExist(err))
}

func TestListNames(t *testing.T) {
	c := openTemp(t)
	s := c.Models()
	for _, name := range []string{"zahirovic2022", "merdith2021"} {
		require.NoError(t, s.Store(name, func(stage billy.Filesystem) error {
			return writeFile(stage, "a.rot", name)
		}))
	}
	require.NoError(t, s.Store("merdith2021/Coastlines", func(stage billy.Filesystem) error {
		return writeFile(stage, "c.gpml", "x")
	}))

	// A stray directory without a marker is not an entry.
	require.NoError(t, os.MkdirAll(filepath.Join(c.Root, Models, "stray"), 0o755))

	names, err := s.ListNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"merdith2021", "zahirovic2022"}, names)

	raster, err := c.Rasters().ListNames()
	require.NoError(t, err)
	assert.Empty(t, raster)
}

func TestMarkerWithoutDirectoryIsAbsent(t *testing.T) {
	c := openTemp(t)
	s := c.Models()
	require.NoError(t, s.Store("m", func(stage billy.Filesystem) error {
		return writeFile(stage, "a.rot", "x")
	}))
	require.NoError(t, os.RemoveAll(filepath.Join(c.Root, Models, "m")))

	assert.False(t, s.Has("m"))
	names, err := s.ListNames()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestEnsureFetchesOnce(t *testing.T) {
	c := openTemp(t)
	s := c.Rasters()

	var calls atomic.Int32
	fill := func(stage billy.Filesystem) error {
		calls.Add(1)
		return writeFile(stage, "grid.nc", "data")
	}

	var wg sync.WaitGroup
	fetched := make([]bool, 8)
	errs := make([]error, 8)
	for i := range fetched {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, fetched[i], errs[i] = s.Ensure("etopo_ice_60", fill)
		}(i)
	}
	wg.Wait()

	n := 0
	for i := range fetched {
		require.NoError(t, errs[i])
		if fetched[i] {
			n++
		}
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, n)
}

func TestInvalidKeys(t *testing.T) {
	c := openTemp(t)
	for _, key := range []string{"", ".hidden", "../escape", "a/b/c", "a//b", `a\b`} {
		t.Run(key, func(t *testing.T) {
			err := c.Models().Store(key, func(billy.Filesystem) error { return nil })
			require.Error(t, err)
			assert.True(t, errors.Is(err, api.ErrValidation))
			assert.False(t, c.Models().Has(key))
		})
	}
}

func TestMemFS(t *testing.T) {
	c, err := OpenFS(memfs.New(), "/cache", "", zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	s := c.Models()
	require.NoError(t, s.Store("m", func(stage billy.Filesystem) error {
		return writeFile(stage, "Rotations/a.rot", "x")
	}))
	assert.True(t, s.Has("m"))

	body, err := s.ReadFile("m/Rotations/a.rot")
	require.NoError(t, err)
	assert.Equal(t, "x", string(body))
}

func TestFreshnessRecords(t *testing.T) {
	ix, err := OpenIndex("")
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	_, err = ix.Freshness("etopo_bed_60")
	assert.True(t, errors.Is(err, api.ErrNotFound))

	rec := api.FreshnessRecord{Name: "etopo_bed_60", URL: "https://example.test/bed.nc", ETag: `"abc"`, Size: 42, File: "bed.nc"}
	require.NoError(t, ix.PutFreshness(rec))
	rec.ETag = `"def"`
	require.NoError(t, ix.PutFreshness(rec))

	got, err := ix.Freshness("etopo_bed_60")
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	require.NoError(t, ix.DeleteFreshness("etopo_bed_60"))
	_, err = ix.Freshness("etopo_bed_60")
	assert.True(t, errors.Is(err, api.ErrNotFound))
}

func TestUnmarkIsCaseSensitiveAndLiteral(t *testing.T) {
	ix, err := OpenIndex("")
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	for _, key := range []string{"Foo", "Foo/rot", "Foo/layers/coast", "foo", "foo/x", "Foobar", "F_o/y", "Fxo/z"} {
		require.NoError(t, ix.Mark("models", key, 1, 1))
	}
	require.NoError(t, ix.Mark("rasters", "Foo/x", 1, 1))

	present := func(ns, key string) bool {
		ok, err := ix.Present(ns, key)
		require.NoError(t, err)
		return ok
	}

	require.NoError(t, ix.Unmark("models", "Foo"))
	for _, key := range []string{"Foo", "Foo/rot", "Foo/layers/coast"} {
		assert.False(t, present("models", key), key)
	}
	for _, key := range []string{"foo", "foo/x", "Foobar", "F_o/y", "Fxo/z"} {
		assert.True(t, present("models", key), key)
	}
	assert.True(t, present("rasters", "Foo/x"), "other namespaces are untouched")

	require.NoError(t, ix.Unmark("models", "F_o"))
	assert.False(t, present("models", "F_o/y"))
	assert.True(t, present("models", "Fxo/z"), "underscore matches only itself")
}

func TestCheckSpace(t *testing.T) {
	c := openTemp(t)
	assert.NoError(t, c.CheckSpace(0))
	assert.NoError(t, c.CheckSpace(1))
}
