// Package worker implements the single top-level build routine from spec
// §4.7: it decides cache freshness, loads or restores scripts/graph/
// environment accordingly, then drives the per-target leaf-processing
// loop through the Coordinator until every requested target's sub-graph
// is empty. Grounded on the teacher's internal/cmd/run/run.go top-level
// "load config, build the task graph, run it" shape, generalized from a
// monorepo task runner to a single-process recipe engine.
package worker

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/exmake/exmake/internal/cache"
	"github.com/exmake/exmake/internal/config"
	"github.com/exmake/exmake/internal/coordinator"
	"github.com/exmake/exmake/internal/envtable"
	"github.com/exmake/exmake/internal/errs"
	"github.com/exmake/exmake/internal/graph"
	"github.com/exmake/exmake/internal/runner"
	"github.com/exmake/exmake/internal/script"
	"github.com/exmake/exmake/internal/ui"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/karrick/godirwalk"
)

// Driver wires together every collaborator the build needs for one
// invocation: the Coordinator actor, the on-disk cache, the script Loader/
// Evaluator, the environment table, and the UI.
type Driver struct {
	Coord  *coordinator.Coordinator
	Cache  *cache.Store
	Loader *script.Loader
	Eval   script.Evaluator
	Env    *envtable.Table
	UI     *ui.UI
}

// New wires a Driver with its own fresh Coordinator and Environment
// table, ready for one Run.
func New(eval script.Evaluator, cacheDir string, out *ui.UI) *Driver {
	d := &Driver{
		Coord:  coordinator.New(),
		Cache:  cache.New(cacheDir),
		Loader: script.NewLoader(eval),
		Eval:   eval,
		Env:    envtable.New(),
		UI:     out,
	}
	return d
}

// Run executes the full worker-driver outline of spec §4.7 and returns
// the process exit code.
func (d *Driver) Run(cfg config.Configuration) int {
	owner := uuid.NewString()
	done := d.Coord.Subscribe(owner)
	d.Coord.Start(func(job coordinator.Job) runner.Result {
		return runner.Run(job.Vertex, job.Data, job.Owner)
	})
	d.Coord.ClearLibraries()
	d.Coord.SetConfig(cfg)

	var timing []string
	if cfg.Options.Time {
		timing = append(timing, "build started")
	}

	entryDir := filepath.Dir(cfg.Options.File)
	entryFile := filepath.Base(cfg.Options.File)
	if err := os.Chdir(entryDir); err != nil {
		return d.fail(errs.NewUsage("cannot change to script directory %q: %s", entryDir, err), timing)
	}
	d.Eval.SetLoadPath(libraryPath())

	stale, err := d.decideCacheState(cfg)
	if err != nil {
		return d.fail(err, timing)
	}

	var g *graph.Graph
	if stale {
		g, err = d.loadStale(cfg, entryFile)
	} else {
		g, err = d.loadFresh()
	}
	if err != nil {
		return d.fail(err, timing)
	}

	fallbacks := fallbackVertices(g)

	for _, target := range cfg.TargetsOrDefault() {
		if _, ok := g.Vertex(target); !ok {
			if ferr := d.runFallbacks(owner, done, fallbacks); ferr != nil {
				return d.fail(ferr, timing)
			}
			return d.fail(errs.NewUsage("Target '%s' not found", target), timing)
		}
	}

	for _, target := range cfg.TargetsOrDefault() {
		sub, err := g.Prune(target)
		if err != nil {
			return d.fail(err, timing)
		}
		if cfg.Options.Question {
			if err := d.walkQuestion(sub); err != nil {
				return d.fail(err, timing)
			}
			continue
		}
		if err := d.processSubgraph(sub, owner, done); err != nil {
			return d.fail(err, timing)
		}
	}

	if cfg.Options.Time {
		timing = append(timing, "build finished")
		d.UI.Timing(timing)
	}
	return 0
}

func (d *Driver) fail(err error, timing []string) int {
	if _, ok := err.(*errs.StaleError); !ok {
		d.UI.Error(err)
	}
	if len(timing) > 0 {
		d.UI.Timing(timing)
	}
	return errs.ExitCode(err)
}

// decideCacheState implements step 4: --clear forces staleness (and wipes
// the cache first); otherwise defer to the cache store.
func (d *Driver) decideCacheState(cfg config.Configuration) (bool, error) {
	if cfg.Options.Clear {
		if err := d.Cache.Clear(); err != nil {
			return false, err
		}
		return true, nil
	}
	return d.Cache.IsStale()
}

// loadStale implements step 5: load scripts fresh, persist every
// derivative artifact, and build the graph from scratch.
func (d *Driver) loadStale(cfg config.Configuration, entryFile string) (*graph.Graph, error) {
	tailArgs := cfg.Args
	if cachedArgs, precious, err := d.Cache.LoadConfig(); err == nil {
		if len(tailArgs) == 0 {
			tailArgs = cachedArgs
		}
		for k, v := range precious {
			if _, set := os.LookupEnv(k); !set {
				_ = os.Setenv(k, v)
			}
		}
	}

	records, err := d.Loader.Load(".", entryFile)
	if err != nil {
		return nil, err
	}

	mods := make(map[string][]byte)
	var manifestFiles []string
	preciousVars := map[string]string{}
	for _, rec := range records {
		mods[rec.ModuleIdentifier] = rec.CompiledArtifact
		manifestFiles = append(manifestFiles, filepath.Join(rec.Directory, rec.FileName))
		manifestFiles = append(manifestFiles, expandManifestEntries(rec.ManifestEntries)...)
		for _, lib := range rec.Libraries {
			for _, name := range lib.Precious {
				if v, ok := os.LookupEnv(name); ok {
					preciousVars[name] = v
				}
			}
		}
	}
	if err := d.Cache.SaveMods(mods); err != nil {
		return nil, err
	}
	if err := d.Cache.SaveEnv(d.Env); err != nil {
		return nil, err
	}

	g, err := graph.Build(records)
	if err != nil {
		return nil, err
	}
	if err := d.Cache.SaveGraph(g); err != nil {
		return nil, err
	}
	if err := d.Cache.AppendManifest(manifestFiles); err != nil {
		return nil, err
	}
	if err := d.Cache.SaveConfig(tailArgs, preciousVars); err != nil {
		return nil, err
	}
	return g, nil
}

// loadFresh implements step 6: restore every piece of state from the
// cache without re-evaluating any script.
func (d *Driver) loadFresh() (*graph.Graph, error) {
	ids, err := d.Cache.VertexModuleIdentifiers()
	if err != nil {
		return nil, err
	}
	mods, err := d.Cache.LoadMods(ids)
	if err != nil {
		return nil, err
	}
	if err := d.Eval.LoadArtifacts(mods); err != nil {
		return nil, errs.NewCache("installing cached artifacts: %s", err)
	}

	env, err := d.Cache.LoadEnv()
	if err != nil {
		return nil, err
	}
	d.Env = env

	return d.Cache.LoadGraph(d.Eval.Rebind)
}

// expandManifestEntries expands any directory entries into their
// recursive file listing via godirwalk, matching the teacher's directory-
// walking idiom for fast filesystem traversal instead of stdlib
// filepath.Walk's slower per-entry Lstat calls.
func expandManifestEntries(entries []string) []string {
	var out []string
	for _, e := range entries {
		info, err := os.Stat(e)
		if err != nil || !info.IsDir() {
			out = append(out, e)
			continue
		}
		_ = godirwalk.Walk(e, &godirwalk.Options{
			Callback: func(path string, de *godirwalk.Dirent) error {
				if !de.IsDir() {
					out = append(out, path)
				}
				return nil
			},
			Unsorted: false,
		})
	}
	return out
}

// fallbackVertices collects every task vertex marked as a fallback.
func fallbackVertices(g *graph.Graph) []*graph.Vertex {
	var out []*graph.Vertex
	for _, id := range g.VertexIDs() {
		v, _ := g.Vertex(id)
		if v.Kind == graph.KindTask && v.Task.IsFallback {
			out = append(out, v)
		}
	}
	return out
}

// runFallbacks runs every fallback task serially via the Coordinator, as
// step 7 requires before reporting an unknown target.
func (d *Driver) runFallbacks(owner string, done <-chan coordinator.Done, fallbacks []*graph.Vertex) error {
	for _, v := range fallbacks {
		d.Coord.Enqueue(v, v.ID, owner)
		msg := <-done
		if !msg.Result.Ok {
			return raiseFrom(msg.Result)
		}
	}
	return nil
}

// walkQuestion implements --question mode: it never invokes a recipe,
// only checks staleness leaf by leaf, failing fast on the first stale one.
func (d *Driver) walkQuestion(g *graph.Graph) error {
	for !g.IsEmpty() {
		leaves := g.Leaves()
		if len(leaves) == 0 {
			break
		}
		for _, v := range leaves {
			if runner.IsStale(v) {
				return &errs.StaleError{}
			}
			g.Delete(v.ID)
		}
	}
	return nil
}

// processSubgraph implements the non-question leaf-processing loop of
// step 8: enqueue every current wave of leaves, await completions one at
// a time, and delete vertices as they succeed until the sub-graph is
// empty. A failing job does not abandon its siblings mid-wave: every job
// already enqueued this wave is drained from done before the failure is
// reported, matching the "no orphaned in-flight recipe" guarantee spec §5
// asks of a failing build. Multiple sibling failures in the same wave are
// aggregated with multierror rather than the driver only ever seeing the
// first one.
func (d *Driver) processSubgraph(g *graph.Graph, owner string, done <-chan coordinator.Done) error {
	for !g.IsEmpty() {
		leaves := g.Leaves()
		if len(leaves) == 0 {
			return errs.NewScript("Dependency graph stalled with no leaves but %d vertices remaining", g.Len())
		}
		for _, v := range leaves {
			g.MarkProcessing(v.ID)
			d.Coord.Enqueue(v, v.ID, owner)
		}

		var failures *multierror.Error
		for range leaves {
			msg := <-done
			if !msg.Result.Ok {
				failures = multierror.Append(failures, raiseFrom(msg.Result))
				continue
			}
			g.Delete(msg.Rule)
		}
		if failures != nil {
			return failures.ErrorOrNil()
		}
	}
	return nil
}

// raiseFrom surfaces a failed Runner result's error: the error the recipe
// returned (a *errs.ThrowError for a thrown value), the
// ScriptError/UsageError raised by the contract checks in internal/runner,
// or a wrapped working-directory lookup failure.
func raiseFrom(res runner.Result) error {
	return res.Raise
}

// libraryPath computes the default EXMAKE_PATH search list, or the
// colon-separated override if EXMAKE_PATH is set.
func libraryPath() []string {
	if v, ok := os.LookupEnv("EXMAKE_PATH"); ok {
		return strings.Split(v, ":")
	}
	paths := []string{"./exmake"}
	if home, ok := os.LookupEnv("HOME"); ok {
		paths = append(paths, filepath.Join(home, ".exmake"))
	}
	paths = append(paths, "/usr/local/lib/exmake", "/usr/lib/exmake", "/lib/exmake")
	return paths
}
