// Package runner executes a single rule or task recipe: the existence
// check, the staleness decision, the recipe invocation with its
// cwd-unchanged and declared-outputs-exist contracts, and failure cleanup.
// One Runner handles exactly one vertex per invocation, grounded on the
// teacher's per-task execution step in core/scheduler.go's Execute loop,
// generalized from "run an npm script" to "run a recipe closure".
package runner

import (
	"os"
	"time"

	"github.com/exmake/exmake/internal/errs"
	"github.com/exmake/exmake/internal/graph"
	"github.com/exmake/exmake/internal/script"
	"github.com/pkg/errors"
)

// Result is what a Runner reports back to the Coordinator for one job.
type Result struct {
	Rule  string
	Data  string
	Owner string
	Ok    bool
	Throw interface{}
	Raise error
}

// Run executes vertex's existence check, staleness decision, and recipe
// invocation, returning a Result ready to hand to the Coordinator.
func Run(v *graph.Vertex, data, owner string) Result {
	res := Result{Rule: v.ID, Data: data, Owner: owner}

	if err := checkExistence(v); err != nil {
		res.Raise = err
		cleanup(v)
		return res
	}

	if !isStale(v) {
		res.Ok = true
		return res
	}

	if err := invoke(v, &res); err != nil {
		res.Raise = err
		cleanup(v)
		return res
	}

	res.Ok = true
	return res
}

// checkExistence enforces spec §4.5's existence check: every rule source
// (or task real_source) must exist on disk.
func checkExistence(v *graph.Vertex) error {
	var sources []string
	if v.Kind == graph.KindTask {
		sources = v.Task.RealSources
	} else {
		sources = v.Rule.Sources
	}
	for _, s := range sources {
		if _, err := os.Stat(s); err != nil {
			if os.IsNotExist(err) {
				return errs.NewUsage("No rule to make target '%s'", s)
			}
			return errs.NewUsage("No rule to make target '%s': %s", s, err)
		}
	}
	return nil
}

var epoch = time.Unix(0, 0)

// IsStale reports whether vertex v needs its recipe run: tasks and
// fallbacks always run; a rule runs iff the newest source is younger than
// the oldest target (missing files default to epoch).
func IsStale(v *graph.Vertex) bool { return isStale(v) }

func isStale(v *graph.Vertex) bool {
	if v.Kind == graph.KindTask {
		return true
	}
	rule := v.Rule
	if len(rule.Targets) == 0 {
		return true
	}
	newestSource := mtimeOrEpoch(rule.Sources, maxMtime)
	oldestTarget := mtimeOrEpoch(rule.Targets, minMtime)
	return newestSource.After(oldestTarget)
}

func mtimeOrEpoch(paths []string, reduce func(a, b time.Time) time.Time) time.Time {
	if len(paths) == 0 {
		return epoch
	}
	acc := epoch
	first := true
	for _, p := range paths {
		t := epoch
		if info, err := os.Stat(p); err == nil {
			t = info.ModTime()
		}
		if first {
			acc = t
			first = false
			continue
		}
		acc = reduce(acc, t)
	}
	return acc
}

func maxMtime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minMtime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// invoke calls the vertex's recipe, enforcing the cwd-unchanged and
// declared-targets-exist contracts.
func invoke(v *graph.Vertex, res *Result) error {
	before, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "capturing working directory")
	}

	ctx, recipe := recipeContext(v)
	runErr := recipe.Run(ctx)

	after, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "rechecking working directory")
	}
	if before != after {
		return errs.NewScript("Recipe for rule %s changed directory from '%s' to '%s'", v.ID, before, after)
	}

	if runErr != nil {
		if value, ok := throwValue(runErr); ok {
			res.Throw = value
		}
		return runErr
	}

	if v.Kind == graph.KindRule {
		for _, tgt := range v.Rule.Targets {
			if _, err := os.Stat(tgt); err != nil {
				return errs.NewScript("Recipe for rule %s did not produce %s as expected", v.ID, tgt)
			}
		}
	}
	return nil
}

func throwValue(err error) (interface{}, bool) {
	if te, ok := err.(*errs.ThrowError); ok {
		return te.Value, true
	}
	return nil, false
}

func recipeContext(v *graph.Vertex) (script.RecipeContext, script.Recipe) {
	if v.Kind == graph.KindTask {
		return script.RecipeContext{
			Name:      v.Task.Name,
			Sources:   v.Task.Sources,
			Directory: v.Task.Directory,
		}, v.Task.Recipe
	}
	return script.RecipeContext{
		Sources:   v.Rule.Sources,
		Targets:   v.Rule.Targets,
		Directory: v.Rule.Directory,
	}, v.Rule.Recipe
}

// cleanup best-effort deletes every declared target of a rule vertex after
// a failed step; task vertices have no targets to clean.
func cleanup(v *graph.Vertex) {
	if v.Kind != graph.KindRule {
		return
	}
	for _, tgt := range v.Rule.Targets {
		_ = os.Remove(tgt)
	}
}
