package cache

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"

	"github.com/agentic-research/paleodem/api"
)

const (
	stagingDir = ".staging"
	locksDir   = ".locks"
)

// FillFunc writes an entry's files into stage, a filesystem rooted at a
// fresh staging directory.
type FillFunc func(stage billy.Filesystem) error

// Store is one namespace of the cache. Keys are entry names, optionally with
// one nested component ("muller2019/Coastlines") for artifacts that are
// fetched separately from their parent.
type Store struct {
	ns     string
	fs     billy.Filesystem
	osRoot string
	index  *Index
	log    zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newStore(ns string, fs billy.Filesystem, osRoot string, ix *Index, log zerolog.Logger) *Store {
	return &Store{ns: ns, fs: fs, osRoot: osRoot, index: ix, log: log, locks: make(map[string]*sync.Mutex)}
}

// Namespace returns the store's directory name under the cache root.
func (s *Store) Namespace() string { return s.ns }

// FS returns the store's filesystem, rooted at the namespace directory.
func (s *Store) FS() billy.Filesystem { return s.fs }

// Has reports whether key is marked present and its directory exists.
func (s *Store) Has(key string) bool {
	if validKey(key) != nil {
		return false
	}
	ok, err := s.index.Present(s.ns, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache index query failed")
		return false
	}
	if !ok {
		return false
	}
	if _, err := s.fs.Stat(key); err != nil {
		return false
	}
	return true
}

// PathFor returns the OS path of a present entry, or an error wrapping
// api.ErrNotFound.
func (s *Store) PathFor(key string) (string, error) {
	if !s.Has(key) {
		return "", fmt.Errorf("%s %q: %w", strings.TrimSuffix(s.ns, "s"), key, api.ErrNotFound)
	}
	return filepath.Join(s.osRoot, filepath.FromSlash(key)), nil
}

// Store replaces key with the files written by fill. Nothing is visible
// under key until fill has returned and the staged tree has been moved into
// place; only then is the entry marked present.
func (s *Store) Store(key string, fill FillFunc) error {
	if err := validKey(key); err != nil {
		return err
	}
	unlock, err := s.Lock(key)
	if err != nil {
		return err
	}
	defer unlock()
	return s.storeLocked(key, fill)
}

// Ensure stores key with fill unless it is already present. It returns the
// entry's OS path and whether fill ran. Concurrent callers for the same key
// wait for the first one and then see the entry it stored.
func (s *Store) Ensure(key string, fill FillFunc) (string, bool, error) {
	return s.EnsureFresh(key, nil, fill)
}

// EnsureFresh is Ensure with a staleness check: a present entry is replaced
// when fresh, called under the key's lock, returns false. A nil fresh treats
// every present entry as current.
func (s *Store) EnsureFresh(key string, fresh func() bool, fill FillFunc) (string, bool, error) {
	if err := validKey(key); err != nil {
		return "", false, err
	}
	unlock, err := s.Lock(key)
	if err != nil {
		return "", false, err
	}
	defer unlock()

	if s.Has(key) && (fresh == nil || fresh()) {
		p, err := s.PathFor(key)
		return p, false, err
	}
	if err := s.storeLocked(key, fill); err != nil {
		return "", false, err
	}
	p, err := s.PathFor(key)
	return p, true, err
}

// StoreFiles copies local files into key. files maps a slash-separated path
// relative to the entry to the source path on disk.
func (s *Store) StoreFiles(key string, files map[string]string) error {
	return s.Store(key, func(stage billy.Filesystem) error {
		for _, rel := range sortedKeys(files) {
			if err := CopyFile(stage, rel, files[rel]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) storeLocked(key string, fill FillFunc) error {
	if err := s.fs.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	stage, err := util.TempDir(s.fs, stagingDir, strings.ReplaceAll(key, "/", "_")+"-")
	if err != nil {
		return fmt.Errorf("create staging directory for %s: %w", key, err)
	}
	cleanup := func() { _ = util.RemoveAll(s.fs, stage) }

	if err := fill(chroot.New(s.fs, stage)); err != nil {
		cleanup()
		return err
	}
	files, bytes, err := usage(s.fs, stage)
	if err != nil {
		cleanup()
		return err
	}

	// Clear the old marker first so a crash between here and Mark leaves
	// the entry absent rather than half-replaced.
	if err := s.index.Unmark(s.ns, key); err != nil {
		cleanup()
		return err
	}
	if err := util.RemoveAll(s.fs, key); err != nil {
		cleanup()
		return fmt.Errorf("remove old %s: %w", key, err)
	}
	if dir := path.Dir(key); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			cleanup()
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := s.fs.Rename(stage, key); err != nil {
		cleanup()
		return fmt.Errorf("move %s into place: %w", key, err)
	}
	if err := s.index.Mark(s.ns, key, files, bytes); err != nil {
		return err
	}
	s.log.Debug().Str("ns", s.ns).Str("key", key).Int("files", files).Int64("bytes", bytes).Msg("cache entry stored")
	return nil
}

// Remove deletes key and everything nested under it. Removing a missing key
// is a no-op.
func (s *Store) Remove(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	unlock, err := s.Lock(key)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.index.Unmark(s.ns, key); err != nil {
		return err
	}
	if err := util.RemoveAll(s.fs, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// ListNames returns the present top-level entry names in name order.
func (s *Store) ListNames() ([]string, error) {
	keys, err := s.index.Keys(s.ns)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, err := s.fs.Stat(k); err != nil {
			continue
		}
		names = append(names, k)
	}
	return names, nil
}

// Lock acquires the per-key lock: an in-process mutex plus an advisory file
// lock shared with other processes using the same cache root.
func (s *Store) Lock(key string) (func(), error) {
	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()
	m.Lock()

	if err := s.fs.MkdirAll(locksDir, 0o755); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := s.fs.OpenFile(path.Join(locksDir, strings.ReplaceAll(key, "/", "%")+".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("open lock for %s: %w", key, err)
	}
	if err := f.Lock(); err != nil {
		_ = f.Close()
		m.Unlock()
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return func() {
		_ = f.Unlock()
		_ = f.Close()
		m.Unlock()
	}, nil
}

// ReadFile reads a file inside the store.
func (s *Store) ReadFile(name string) ([]byte, error) {
	return util.ReadFile(s.fs, name)
}

// CopyFile copies the OS file src to dst inside fs, creating parent
// directories.
func CopyFile(fs billy.Filesystem, dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()
	_, err = CopyReader(fs, dst, in)
	return err
}

// CopyReader writes r to dst inside fs, creating parent directories, and
// returns the number of bytes written.
func CopyReader(fs billy.Filesystem, dst string, r io.Reader) (int64, error) {
	if dir := path.Dir(dst); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	out, err := fs.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", dst, err)
	}
	return n, nil
}

func usage(fs billy.Filesystem, root string) (files int, bytes int64, err error) {
	err = util.Walk(fs, root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files++
			bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, bytes, nil
}

// validKey accepts "name" and "name/sub" where neither part is empty, starts
// with a dot or contains a path separator.
func validKey(key string) error {
	parts := strings.Split(key, "/")
	if key == "" || len(parts) > 2 {
		return api.Invalid("cache", "invalid key %q", key)
	}
	for _, p := range parts {
		if p == "" || strings.HasPrefix(p, ".") || strings.ContainsAny(p, `\`) {
			return api.Invalid("cache", "invalid key %q", key)
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
