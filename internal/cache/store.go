// Package cache implements the on-disk cache store from spec §4.2: the
// graph, environment table, compiled script artifacts, manifest, and
// config snapshot kept under ".exmake/" between invocations. Persistence
// format is a simple line/JSON mix chosen to round-trip through this
// package's own operations, the way the teacher's internal/cache/
// cache_fs.go owns its own on-disk layout for cached task outputs rather
// than delegating to a generic serialization format.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/DataDog/zstd"
	"github.com/exmake/exmake/internal/envtable"
	"github.com/exmake/exmake/internal/errs"
	"github.com/exmake/exmake/internal/graph"
	"github.com/nightlyone/lockfile"
)

const (
	verticesFile = "vertices.dag"
	edgesFile    = "edges.dag"
	envFile      = "table.env"
	manifestFile = "manifest.lst"
	configEnv    = "config.env"
	configArg    = "config.arg"
	lockFile     = "lock"
	artifactExt  = ".artifact"

	// EnvStampKey is the synthetic environment-table key save_env stamps on
	// every save, guaranteeing the persisted file differs across saves
	// even when every real entry is unchanged.
	EnvStampKey = "EXMAKE_STAMP"
)

// Store is the cache operating on one ".exmake"-style directory.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir (conventionally ".exmake").
func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(name string) string { return filepath.Join(s.Dir, name) }

func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return errs.NewCache("creating cache directory: %s", err)
	}
	lock, err := lockfile.New(filepath.Join(mustAbs(s.Dir), lockFile))
	if err != nil {
		return errs.NewCache("acquiring cache lock: %s", err)
	}
	if err := lock.TryLock(); err != nil {
		return errs.NewCache("cache directory is locked by another build: %s", err)
	}
	defer lock.Unlock()
	return fn()
}

func mustAbs(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}

// SaveGraph persists the graph's adjacency tables to vertices.dag and
// edges.dag.
func (s *Store) SaveGraph(g *graph.Graph) error {
	return s.withLock(func() error {
		snap := g.Export()
		if err := writeJSON(s.path(verticesFile), snap.Vertices); err != nil {
			return err
		}
		return writeJSON(s.path(edgesFile), snap.Edges)
	})
}

// LoadGraph reconstructs the graph from vertices.dag/edges.dag, rebinding
// every recipe via rebind.
func (s *Store) LoadGraph(rebind graph.Rebinder) (*graph.Graph, error) {
	var vertices []graph.VertexSnapshot
	var edges [][2]string
	if err := readJSON(s.path(verticesFile), &vertices); err != nil {
		return nil, err
	}
	if err := readJSON(s.path(edgesFile), &edges); err != nil {
		return nil, err
	}
	g, err := graph.Import(graph.Snapshot{Vertices: vertices, Edges: edges}, rebind)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// VertexModuleIdentifiers reads vertices.dag and returns the distinct
// module identifiers it references, so LoadMods can be called before
// LoadGraph rebinds recipes on the fresh path.
func (s *Store) VertexModuleIdentifiers() ([]string, error) {
	var vertices []graph.VertexSnapshot
	if err := readJSON(s.path(verticesFile), &vertices); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, v := range vertices {
		if v.ModuleIdentifier != "" && !seen[v.ModuleIdentifier] {
			seen[v.ModuleIdentifier] = true
			ids = append(ids, v.ModuleIdentifier)
		}
	}
	return ids, nil
}

// SaveEnv persists the environment table, stamping EXMAKE_STAMP so the
// file's bytes differ across saves even when nothing else changed.
func (s *Store) SaveEnv(t *envtable.Table) error {
	return s.withLock(func() error {
		t.Put(EnvStampKey, time.Now().Format(time.RFC3339Nano))
		return writeJSON(s.path(envFile), t.Snapshot())
	})
}

// LoadEnv restores the environment table, discarding any in-memory
// contents first.
func (s *Store) LoadEnv() (*envtable.Table, error) {
	var snap envtable.Snapshot
	if err := readJSON(s.path(envFile), &snap); err != nil {
		return nil, err
	}
	t := envtable.New()
	t.Restore(snap)
	return t, nil
}

// SaveMods persists compiled script artifacts verbatim, zstd-compressed,
// one file per module identifier.
func (s *Store) SaveMods(mods map[string][]byte) error {
	return s.withLock(func() error {
		for id, blob := range mods {
			compressed, err := zstd.Compress(nil, blob)
			if err != nil {
				return errs.NewCache("compressing artifact for %s: %s", id, err)
			}
			if err := os.WriteFile(s.path(artifactName(id)), compressed, 0o644); err != nil {
				return errs.NewCache("writing artifact for %s: %s", id, err)
			}
		}
		return nil
	})
}

// LoadMods loads and decompresses every persisted compiled artifact,
// keyed by module identifier.
func (s *Store) LoadMods(ids []string) (map[string][]byte, error) {
	mods := make(map[string][]byte, len(ids))
	for _, id := range ids {
		compressed, err := os.ReadFile(s.path(artifactName(id)))
		if err != nil {
			return nil, errs.NewCache("reading artifact for %s: %s", id, err)
		}
		blob, err := zstd.Decompress(nil, compressed)
		if err != nil {
			return nil, errs.NewCache("decompressing artifact for %s: %s", id, err)
		}
		mods[id] = blob
	}
	return mods, nil
}

func artifactName(moduleIdentifier string) string {
	return moduleIdentifier + artifactExt
}

// AppendManifest appends paths to the manifest, the newline-separated list
// of files whose mtimes invalidate the cache.
func (s *Store) AppendManifest(paths []string) error {
	return s.withLock(func() error {
		existing, _ := s.ManifestList()
		seen := make(map[string]bool, len(existing))
		for _, p := range existing {
			seen[p] = true
		}
		for _, p := range paths {
			if !seen[p] {
				existing = append(existing, p)
				seen[p] = true
			}
		}
		sort.Strings(existing)
		var sb strings.Builder
		for _, p := range existing {
			sb.WriteString(p)
			sb.WriteByte('\n')
		}
		if err := os.WriteFile(s.path(manifestFile), []byte(sb.String()), 0o644); err != nil {
			return errs.NewCache("writing manifest: %s", err)
		}
		return nil
	})
}

// ManifestList returns the manifest's file list, or an empty slice if no
// manifest has been written yet.
func (s *Store) ManifestList() ([]string, error) {
	data, err := os.ReadFile(s.path(manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.NewCache("reading manifest: %s", err)
	}
	var out []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// SaveConfig persists the tail arguments and the precious environment
// variable snapshot.
func (s *Store) SaveConfig(args []string, precious map[string]string) error {
	return s.withLock(func() error {
		if err := writeJSON(s.path(configArg), args); err != nil {
			return err
		}
		return writeJSON(s.path(configEnv), precious)
	})
}

// LoadConfig restores the tail arguments and precious environment variable
// snapshot saved by SaveConfig.
func (s *Store) LoadConfig() ([]string, map[string]string, error) {
	var args []string
	var precious map[string]string
	if err := readJSON(s.path(configArg), &args); err != nil {
		return nil, nil, err
	}
	if err := readJSON(s.path(configEnv), &precious); err != nil {
		return nil, nil, err
	}
	return args, precious, nil
}

// IsStale reports whether the cache must be rebuilt: the manifest is empty
// or the newest manifest entry is younger than the oldest cache file.
// Missing files are treated as epoch-old.
func (s *Store) IsStale() (bool, error) {
	manifest, err := s.ManifestList()
	if err != nil {
		return false, err
	}
	if len(manifest) == 0 {
		return true, nil
	}
	newestManifest := epochTime
	for _, p := range manifest {
		if t := mtimeOrEpoch(p); t.After(newestManifest) {
			newestManifest = t
		}
	}

	cacheFiles := []string{
		s.path(verticesFile), s.path(edgesFile), s.path(envFile),
		s.path(configEnv), s.path(configArg),
	}
	oldestCache := epochTime
	first := true
	for _, p := range cacheFiles {
		t := mtimeOrEpoch(p)
		if first || t.Before(oldestCache) {
			oldestCache = t
			first = false
		}
	}
	return newestManifest.After(oldestCache), nil
}

var epochTime = time.Unix(0, 0)

func mtimeOrEpoch(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return epochTime
	}
	return info.ModTime()
}

// Clear removes every cache file and artifact under the cache directory.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.Dir); err != nil {
		return errs.NewCache("clearing cache: %s", err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.NewCache("encoding %s: %s", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.NewCache("writing %s: %s", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.NewCache("reading %s: %s", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.NewCache("decoding %s: %s", filepath.Base(path), err)
	}
	return nil
}
