package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/exmake/exmake/internal/envtable"
	"github.com/exmake/exmake/internal/graph"
	"github.com/exmake/exmake/internal/script"
	"github.com/stretchr/testify/require"
)

func TestEnvRoundTripsAndStamps(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".exmake"))
	tbl := envtable.New()
	tbl.Put("GREETING", "hi")
	require.NoError(t, tbl.ListAppend("FLAGS", "-O2"))

	require.NoError(t, s.SaveEnv(tbl))
	loaded, err := s.LoadEnv()
	require.NoError(t, err)

	v, ok := loaded.Get("GREETING")
	require.True(t, ok)
	require.Equal(t, "hi", v)
	stamp, ok := loaded.Get(EnvStampKey)
	require.True(t, ok)
	require.NotEmpty(t, stamp)
}

func TestGraphRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".exmake"))
	records := []script.Metadata{{
		Directory:        ".",
		FileName:         "Exmakefile",
		ModuleIdentifier: "Build.Exmakefile",
		DeclaredRules: []*script.Rule{
			{Targets: []string{"out"}, Sources: []string{"in.c"}, Recipe: script.Recipe{Ref: "r1"}},
		},
	}}
	g, err := graph.Build(records)
	require.NoError(t, err)
	require.NoError(t, s.SaveGraph(g))

	rebind := func(moduleIdentifier, ref string) (script.Recipe, error) {
		return script.Recipe{Ref: ref, Run: func(script.RecipeContext) error { return nil }}, nil
	}
	loaded, err := s.LoadGraph(rebind)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
	v, ok := loaded.Vertex("out")
	require.True(t, ok)
	require.Equal(t, "r1", v.Rule.Recipe.Ref)
}

func TestManifestAppendIsDeduplicatedAndSorted(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".exmake"))
	require.NoError(t, s.AppendManifest([]string{"b.ex", "a.ex"}))
	require.NoError(t, s.AppendManifest([]string{"a.ex", "c.ex"}))
	list, err := s.ManifestList()
	require.NoError(t, err)
	require.Equal(t, []string{"a.ex", "b.ex", "c.ex"}, list)
}

func TestConfigRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".exmake"))
	require.NoError(t, s.SaveConfig([]string{"--release"}, map[string]string{"CC": "clang"}))
	args, precious, err := s.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"--release"}, args)
	require.Equal(t, "clang", precious["CC"])
}

func TestIsStaleWhenManifestEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".exmake"))
	stale, err := s.IsStale()
	require.NoError(t, err)
	require.True(t, stale)
}

func TestIsStaleWhenManifestNewerThanCache(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, ".exmake"))
	require.NoError(t, s.SaveConfig(nil, nil))

	manifestSrc := filepath.Join(dir, "Exmakefile")
	require.NoError(t, os.WriteFile(manifestSrc, []byte("x"), 0o644))
	require.NoError(t, s.AppendManifest([]string{manifestSrc}))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(manifestSrc, future, future))

	stale, err := s.IsStale()
	require.NoError(t, err)
	require.True(t, stale)
}

func TestClearRemovesCacheDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".exmake")
	s := New(dir)
	require.NoError(t, s.SaveConfig(nil, nil))
	require.NoError(t, s.Clear())
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}
