package graph

import (
	"testing"

	"github.com/exmake/exmake/internal/script"
	"github.com/stretchr/testify/require"
)

func rule(targets, sources []string) *script.Rule {
	return &script.Rule{Targets: targets, Sources: sources}
}

func task(name string, sources []string) *script.Task {
	return &script.Task{Name: name, Sources: sources}
}

func TestBuildSimpleChain(t *testing.T) {
	records := []script.Metadata{{
		Directory: ".",
		FileName:  "Exmakefile",
		DeclaredRules: []*script.Rule{
			rule([]string{"out.o"}, []string{"out.c"}),
			rule([]string{"out"}, []string{"out.o"}),
		},
	}}
	g, err := Build(records)
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())

	leaves := g.Leaves()
	require.Len(t, leaves, 1)
	require.Equal(t, "out.o", leaves[0].ID)
}

func TestBuildDetectsCycle(t *testing.T) {
	records := []script.Metadata{{
		Directory: ".",
		FileName:  "Exmakefile",
		DeclaredRules: []*script.Rule{
			rule([]string{"a"}, []string{"b"}),
			rule([]string{"b"}, []string{"a"}),
		},
	}}
	_, err := Build(records)
	require.Error(t, err)
}

func TestBuildRejectsRuleDependingOnTask(t *testing.T) {
	records := []script.Metadata{{
		Directory:     ".",
		FileName:      "Exmakefile",
		DeclaredRules: []*script.Rule{rule([]string{"out"}, []string{"clean"})},
		DeclaredTasks: []*script.Task{task("clean", nil)},
	}}
	_, err := Build(records)
	require.Error(t, err)
}

func TestBuildComputesTaskRealSources(t *testing.T) {
	records := []script.Metadata{{
		Directory:     ".",
		FileName:      "Exmakefile",
		DeclaredRules: []*script.Rule{rule([]string{"out"}, nil)},
		DeclaredTasks: []*script.Task{task("all", []string{"out", "lint"}), task("lint", nil)},
	}}
	g, err := Build(records)
	require.NoError(t, err)

	v, ok := g.Vertex(anchorTaskName(".", "all"))
	require.True(t, ok)
	require.Equal(t, []string{"out"}, v.Task.RealSources)
}

func TestBuildConnectsTaskToTaskDependency(t *testing.T) {
	records := []script.Metadata{{
		Directory:     ".",
		FileName:      "Exmakefile",
		DeclaredTasks: []*script.Task{task("all", []string{"lint"}), task("lint", nil)},
	}}
	g, err := Build(records)
	require.NoError(t, err)

	all, ok := g.Vertex(anchorTaskName(".", "all"))
	require.True(t, ok)
	require.Empty(t, all.Task.RealSources)

	leaves := g.Leaves()
	require.Len(t, leaves, 1)
	require.Equal(t, anchorTaskName(".", "lint"), leaves[0].ID, "task 'all' must depend on task 'lint', not fall through as a bare file")

	g.MarkProcessing(leaves[0].ID)
	g.Delete(leaves[0].ID)
	leaves = g.Leaves()
	require.Len(t, leaves, 1)
	require.Equal(t, anchorTaskName(".", "all"), leaves[0].ID)
}

func TestPruneKeepsOnlyReachableVertices(t *testing.T) {
	records := []script.Metadata{{
		Directory: ".",
		FileName:  "Exmakefile",
		DeclaredRules: []*script.Rule{
			rule([]string{"a"}, []string{"b"}),
			rule([]string{"b"}, nil),
			rule([]string{"unrelated"}, nil),
		},
	}}
	g, err := Build(records)
	require.NoError(t, err)

	pruned, err := g.Prune("a")
	require.NoError(t, err)
	require.Equal(t, 2, pruned.Len())
	_, ok := pruned.Vertex("unrelated")
	require.False(t, ok)
}

func TestPruneUnknownTarget(t *testing.T) {
	g, err := Build(nil)
	require.NoError(t, err)
	_, err = g.Prune("missing")
	require.Error(t, err)
}

func TestDeleteUnblocksParent(t *testing.T) {
	records := []script.Metadata{{
		Directory: ".",
		FileName:  "Exmakefile",
		DeclaredRules: []*script.Rule{
			rule([]string{"a"}, []string{"b"}),
			rule([]string{"b"}, nil),
		},
	}}
	g, err := Build(records)
	require.NoError(t, err)

	leaves := g.Leaves()
	require.Len(t, leaves, 1)
	require.Equal(t, "b", leaves[0].ID)

	g.MarkProcessing("b")
	require.Empty(t, g.Leaves())

	g.Delete("b")
	leaves = g.Leaves()
	require.Len(t, leaves, 1)
	require.Equal(t, "a", leaves[0].ID)

	g.Delete("a")
	require.True(t, g.IsEmpty())
}

func TestMultipleRulesSameTargetIsScriptError(t *testing.T) {
	records := []script.Metadata{{
		Directory: ".",
		FileName:  "Exmakefile",
		DeclaredRules: []*script.Rule{
			rule([]string{"out"}, []string{"a.c"}),
			rule([]string{"out"}, []string{"b.c"}),
		},
	}}
	_, err := Build(records)
	require.Error(t, err)
}
