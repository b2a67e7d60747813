package script

import (
	"fmt"

	"github.com/exmake/exmake/internal/errs"
)

// Loader is the façade between the engine and the external script
// Evaluator: it loads one entry script, recurses through every
// recurse()-declared sub-script, and returns the flattened list of
// per-module Metadata records the graph builder consumes.
type Loader struct {
	Eval Evaluator
}

// NewLoader returns a Loader backed by the given Evaluator.
func NewLoader(eval Evaluator) *Loader {
	return &Loader{Eval: eval}
}

// Load evaluates the entry script file in directory and recursively loads
// every sub-script it declares via recurse(). file must not contain path
// separators.
func (l *Loader) Load(directory, file string) ([]Metadata, error) {
	if hasPathSeparator(file) {
		return nil, errs.NewUsage("script file name %q must not contain path separators", file)
	}
	return l.load(directory, file)
}

func (l *Loader) load(directory, file string) ([]Metadata, error) {
	results, err := l.Eval.Load(directory, file)
	if err != nil {
		return nil, &errs.LoadError{File: file, Directory: directory, Underlying: err}
	}

	var entry *ModuleResult
	matches := 0
	for i := range results {
		if hasExmakefileSuffix(results[i].ModuleIdentifier) {
			matches++
			entry = &results[i]
		}
	}
	switch {
	case matches == 0:
		return nil, &errs.LoadError{
			File:       file,
			Directory:  directory,
			Underlying: fmt.Errorf("No module ending in '.Exmakefile' defined"),
		}
	case matches > 1:
		return nil, &errs.LoadError{
			File:       file,
			Directory:  directory,
			Underlying: fmt.Errorf("%d modules ending in '.Exmakefile' defined", matches),
		}
	}

	records := []Metadata{{
		Directory:         directory,
		FileName:          file,
		ModuleIdentifier:  entry.ModuleIdentifier,
		CompiledArtifact:  entry.CompiledArtifact,
		DeclaredRules:     entry.Rules,
		DeclaredTasks:     entry.Tasks,
		DeclaredFallbacks: entry.Fallbacks,
		ManifestEntries:   entry.ManifestEntries,
		SubScripts:        entry.SubScripts,
		Libraries:         entry.Libraries,
	}}

	for _, sub := range entry.SubScripts {
		subFile := sub.File
		if subFile == "" {
			subFile = "Exmakefile"
		}
		if hasPathSeparator(subFile) {
			return nil, errs.NewUsage("recurse() file name %q must not contain path separators", subFile)
		}
		children, err := l.load(sub.Directory, subFile)
		if err != nil {
			return nil, err
		}
		records = append(records, children...)
	}

	return records, nil
}
