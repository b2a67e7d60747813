// Package script defines the per-script metadata model produced by the
// external script evaluator (see Evaluator) and consumed by the graph
// builder: rules, tasks, fallbacks, and the bookkeeping a loaded script
// contributes (manifest entries, sub-script recursion, loaded libraries).
package script

import "github.com/exmake/exmake/internal/errs"

// RecipeContext is the argument bundle passed to a recipe when it runs.
// The engine always populates every field; which fields a given recipe
// actually reads is a function of its declared Arity, mirroring the
// evaluator's variable-arity recipe blocks (2 or 3 arguments for rules, 3
// or 1 for tasks) even though Go itself has no notion of variable arity.
type RecipeContext struct {
	Name      string
	Sources   []string
	Targets   []string
	Directory string
}

// Recipe is an opaque reference to an executable function in some loaded
// script artifact. Arity records how many arguments the evaluator bound it
// with; the engine persists it but never checks it, and always invokes
// Run with a fully populated RecipeContext. Ref is the evaluator-assigned
// opaque handle for this recipe within its module; it is what the graph
// cache persists, since Run itself is a live closure that cannot survive a
// process restart. On a fresh-path build (cache hit), Run is re-obtained by
// calling Evaluator.Rebind(moduleIdentifier, Ref) after compiled artifacts
// are reloaded.
type Recipe struct {
	Arity int
	Ref   string
	Run   func(ctx RecipeContext) error
}

// IsThrow reports whether err represents a recipe "throw" of a non-error
// value, as opposed to a raised exception. The distinction only matters for
// how the failure is reported upstream (see errs.ThrowError); both are
// treated identically by the Runner's cleanup logic.
func IsThrow(err error) (*errs.ThrowError, bool) {
	te, ok := err.(*errs.ThrowError)
	return te, ok
}

// Rule binds a set of output files to a set of input files and a recipe
// that produces the outputs from the inputs.
type Rule struct {
	Targets   []string
	Sources   []string
	Recipe    Recipe
	Directory string

	// ModuleIdentifier names the module this rule was declared in, used to
	// rebind Recipe.Run after a fresh-path cache load.
	ModuleIdentifier string

	// SourceFile/SourceLine locate the declaration for diagnostics.
	SourceFile string
	SourceLine int
}

// ID returns the rule's identity for graph purposes: its first target.
// Rules are looked up by any of their targets, but the canonical vertex
// id is always the first one, matching declaration order.
func (r *Rule) ID() string {
	if len(r.Targets) == 0 {
		return ""
	}
	return r.Targets[0]
}

// Task is a rule whose output is a symbolic name rather than files.
type Task struct {
	Name       string
	Sources    []string
	Recipe     Recipe
	Directory  string
	IsFallback bool

	// ModuleIdentifier names the module this task was declared in, used to
	// rebind Recipe.Run after a fresh-path cache load.
	ModuleIdentifier string

	SourceFile string
	SourceLine int

	// RealSources is the subset of Sources that do not name another task;
	// it is computed by the graph builder once every task name in the
	// build is known (see graph.Build).
	RealSources []string
}

// Library is the metadata a loaded library contributes: its identity plus
// the OS environment variables it has asked the build to persist across
// cache-triggered reruns.
type Library struct {
	ID          string
	Description string
	License     string
	Version     [3]int
	URL         string
	Author      string
	Precious    []string
}

// Metadata is the per-script extracted record the Loader façade produces
// for one loaded script module.
type Metadata struct {
	Directory         string
	FileName          string
	ModuleIdentifier  string
	CompiledArtifact  []byte
	DeclaredRules     []*Rule
	DeclaredTasks     []*Task
	DeclaredFallbacks []*Task
	ManifestEntries   []string
	SubScripts        []SubScript
	Libraries         []Library
}

// SubScript names a sub-directory recursion declared via recurse(dir, file).
type SubScript struct {
	Directory string
	File      string
}
