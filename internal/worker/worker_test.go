package worker

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/exmake/exmake/internal/config"
	"github.com/exmake/exmake/internal/script"
	"github.com/exmake/exmake/internal/ui"
	"github.com/stretchr/testify/require"
)

// fakeEvaluator is a minimal in-memory stand-in for the embedded script
// evaluator, sufficient to drive the Driver end to end without a real
// script language.
type fakeEvaluator struct {
	onLoad     func(directory, file string) ([]script.ModuleResult, error)
	recipes    map[string]script.Recipe
	loadedArts map[string][]byte
}

func (f *fakeEvaluator) Load(directory, file string) ([]script.ModuleResult, error) {
	return f.onLoad(directory, file)
}

func (f *fakeEvaluator) Rebind(moduleIdentifier, ref string) (script.Recipe, error) {
	return f.recipes[ref], nil
}

func (f *fakeEvaluator) SetLoadPath(paths []string) {}

func (f *fakeEvaluator) LoadArtifacts(mods map[string][]byte) error {
	f.loadedArts = mods
	return nil
}

func TestDriverBuildsStaleTargetThenSkipsWhenFresh(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "in.c")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0o644))

	calls := 0
	buildRecipe := script.Recipe{Ref: "build", Run: func(ctx script.RecipeContext) error {
		calls++
		return os.WriteFile(ctx.Targets[0], []byte("built"), 0o644)
	}}

	eval := &fakeEvaluator{
		recipes: map[string]script.Recipe{"build": buildRecipe},
		onLoad: func(directory, file string) ([]script.ModuleResult, error) {
			return []script.ModuleResult{{
				ModuleIdentifier: "Build.Exmakefile",
				CompiledArtifact: []byte("artifact-bytes"),
				Rules: []*script.Rule{{
					Targets: []string{"out"},
					Sources: []string{"in.c"},
					Recipe:  buildRecipe,
				}},
			}}, nil
		},
	}

	var logbuf bytes.Buffer
	out := ui.New(&logbuf, false)
	cacheDir := filepath.Join(dir, ".exmake")
	cfg := config.Configuration{
		Targets: []string{"out"},
		Options: config.Options{File: filepath.Join(dir, "Exmakefile"), Jobs: 1},
	}

	d := New(eval, cacheDir, out)
	code := d.Run(cfg)
	require.Equal(t, 0, code)
	require.Equal(t, 1, calls)

	content, err := os.ReadFile(filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Equal(t, "built", string(content))

	// Second invocation: cache is fresh, in.c unchanged, out newer — recipe
	// must not run again.
	d2 := New(eval, cacheDir, out)
	code2 := d2.Run(cfg)
	require.Equal(t, 0, code2)
	require.Equal(t, 1, calls, "recipe should not re-run when target is up to date")
}

func TestDriverRunsDefaultTaskTarget(t *testing.T) {
	dir := t.TempDir()

	calls := 0
	allRecipe := script.Recipe{Ref: "all", Run: func(ctx script.RecipeContext) error {
		calls++
		return nil
	}}

	eval := &fakeEvaluator{
		recipes: map[string]script.Recipe{"all": allRecipe},
		onLoad: func(directory, file string) ([]script.ModuleResult, error) {
			return []script.ModuleResult{{
				ModuleIdentifier: "Build.Exmakefile",
				CompiledArtifact: []byte("artifact-bytes"),
				Tasks: []*script.Task{{
					Name:   "all",
					Recipe: allRecipe,
				}},
			}}, nil
		},
	}

	var logbuf bytes.Buffer
	out := ui.New(&logbuf, false)
	cfg := config.Configuration{
		Options: config.Options{File: filepath.Join(dir, "Exmakefile"), Jobs: 1},
	}

	d := New(eval, filepath.Join(dir, ".exmake"), out)
	code := d.Run(cfg)
	require.Equal(t, 0, code, "invoking with no targets must resolve and run the default 'all' task")
	require.Equal(t, 1, calls)
}

func TestDriverUnknownTargetIsUsageError(t *testing.T) {
	dir := t.TempDir()
	eval := &fakeEvaluator{
		recipes: map[string]script.Recipe{},
		onLoad: func(directory, file string) ([]script.ModuleResult, error) {
			return []script.ModuleResult{{ModuleIdentifier: "Build.Exmakefile"}}, nil
		},
	}
	var logbuf bytes.Buffer
	out := ui.New(&logbuf, false)
	cfg := config.Configuration{
		Targets: []string{"nonexistent"},
		Options: config.Options{File: filepath.Join(dir, "Exmakefile"), Jobs: 1},
	}
	d := New(eval, filepath.Join(dir, ".exmake"), out)
	code := d.Run(cfg)
	require.Equal(t, 1, code)
}
