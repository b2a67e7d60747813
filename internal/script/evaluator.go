package script

import "path/filepath"

// Evaluator is the contract the embedded dynamic-script evaluator must
// satisfy. Loading and compiling script files is out of scope for this
// engine (see spec §1); the evaluator is an external collaborator and this
// interface specifies only the metadata it must surface per script file it
// loads.
type Evaluator interface {
	// Load evaluates file in the context of directory and returns one
	// ModuleResult per module the script file defines. A script that
	// fails to parse or compile should return a non-nil error; the
	// Loader façade wraps it as a LoadError.
	Load(directory, file string) ([]ModuleResult, error)

	// Rebind resolves a recipe reference previously persisted via
	// Recipe.Ref back into a callable Recipe, after the module's compiled
	// artifact has been reloaded from cache (the fresh path of spec
	// §4.7 step 6, where scripts are not re-evaluated from source).
	Rebind(moduleIdentifier, ref string) (Recipe, error)

	// SetLoadPath replaces the evaluator's library search path, used to
	// append EXMAKE_PATH's directories before loading the entry script.
	SetLoadPath(paths []string)

	// LoadArtifacts installs previously compiled artifacts (keyed by
	// module identifier) into the evaluator without re-evaluating source,
	// the fresh-path counterpart to Load.
	LoadArtifacts(mods map[string][]byte) error
}

// ModuleResult is what the evaluator surfaces for a single module defined
// in a loaded script file.
type ModuleResult struct {
	ModuleIdentifier string
	CompiledArtifact []byte
	Rules            []*Rule
	Tasks            []*Task
	Fallbacks         []*Task
	ManifestEntries  []string
	SubScripts       []SubScript
	Libraries        []Library
}

// hasExmakefileSuffix reports whether id ends in the case-sensitive
// ".Exmakefile" module-naming convention.
func hasExmakefileSuffix(id string) bool {
	const suffix = ".Exmakefile"
	return len(id) >= len(suffix) && id[len(id)-len(suffix):] == suffix
}

// hasPathSeparator reports whether s contains a path separator, which is
// disallowed for both entry script file names and recurse() sub-script
// file names.
func hasPathSeparator(s string) bool {
	return filepath.Base(s) != s
}
