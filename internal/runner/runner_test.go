package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/exmake/exmake/internal/errs"
	"github.com/exmake/exmake/internal/graph"
	"github.com/exmake/exmake/internal/script"
	"github.com/stretchr/testify/require"
)

func ruleVertex(r *script.Rule) *graph.Vertex {
	return &graph.Vertex{ID: r.ID(), Kind: graph.KindRule, Rule: r}
}

func taskVertex(t *script.Task) *graph.Vertex {
	return &graph.Vertex{ID: t.Name, Kind: graph.KindTask, Task: t}
}

func TestRunMissingSourceIsUsageError(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out")
	source := filepath.Join(dir, "missing.c")

	v := ruleVertex(&script.Rule{
		Targets: []string{target},
		Sources: []string{source},
		Recipe:  script.Recipe{Run: func(script.RecipeContext) error { return nil }},
	})

	res := Run(v, "data", "owner")
	require.False(t, res.Ok)
	var usage *errs.UsageError
	require.ErrorAs(t, res.Raise, &usage)
}

func TestRunSkipsFreshRule(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "in.c")
	target := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(source, old, old))

	called := false
	v := ruleVertex(&script.Rule{
		Targets: []string{target},
		Sources: []string{source},
		Recipe:  script.Recipe{Run: func(script.RecipeContext) error { called = true; return nil }},
	})

	res := Run(v, "data", "owner")
	require.True(t, res.Ok)
	require.False(t, called, "recipe should not run when target is newer than source")
}

func TestRunInvokesStaleRuleAndProducesTarget(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "in.c")
	target := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0o644))

	v := ruleVertex(&script.Rule{
		Targets: []string{target},
		Sources: []string{source},
		Recipe: script.Recipe{Run: func(ctx script.RecipeContext) error {
			return os.WriteFile(ctx.Targets[0], []byte("built"), 0o644)
		}},
	})

	res := Run(v, "data", "owner")
	require.True(t, res.Ok)
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "built", string(content))
}

func TestRunDetectsMissingTargetAfterRecipe(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "in.c")
	target := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0o644))

	v := ruleVertex(&script.Rule{
		Targets: []string{target},
		Sources: []string{source},
		Recipe:  script.Recipe{Run: func(script.RecipeContext) error { return nil }},
	})

	res := Run(v, "data", "owner")
	require.False(t, res.Ok)
	var scriptErr *errs.ScriptError
	require.ErrorAs(t, res.Raise, &scriptErr)
}

func TestRunCleansUpPartialTargetsOnFailure(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "in.c")
	target := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0o644))

	v := ruleVertex(&script.Rule{
		Targets: []string{target},
		Sources: []string{source},
		Recipe: script.Recipe{Run: func(ctx script.RecipeContext) error {
			_ = os.WriteFile(ctx.Targets[0], []byte("partial"), 0o644)
			return &errs.ThrowError{Value: "boom"}
		}},
	})

	res := Run(v, "data", "owner")
	require.False(t, res.Ok)
	require.Equal(t, "boom", res.Throw)
	_, err := os.Stat(target)
	require.True(t, os.IsNotExist(err))
}

func TestTaskAlwaysStaleAndChecksOnlyRealSources(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	called := false
	v := taskVertex(&script.Task{
		Name:        "all",
		Sources:     []string{present, "lint"},
		RealSources: []string{present},
		Recipe:      script.Recipe{Run: func(script.RecipeContext) error { called = true; return nil }},
	})

	res := Run(v, "data", "owner")
	require.True(t, res.Ok)
	require.True(t, called)
}
