package script

import "github.com/exmake/exmake/internal/errs"

// StubEvaluator is the default Evaluator wired into the exmake binary:
// loading and compiling the exmake script language itself is explicitly
// out of scope for this engine (see spec §1), so the binary ships with a
// placeholder that reports a clear ScriptError rather than silently doing
// nothing. Embedders that bring their own script language implement
// Evaluator and pass it to cmd.RunWithArgs in place of this stub.
type StubEvaluator struct{}

func (StubEvaluator) Load(directory, file string) ([]ModuleResult, error) {
	return nil, errs.NewScript("no script evaluator is configured; StubEvaluator cannot load %s/%s", directory, file)
}

func (StubEvaluator) Rebind(moduleIdentifier, ref string) (Recipe, error) {
	return Recipe{}, errs.NewScript("no script evaluator is configured; StubEvaluator cannot rebind %s", ref)
}

func (StubEvaluator) SetLoadPath(paths []string) {}

func (StubEvaluator) LoadArtifacts(mods map[string][]byte) error {
	if len(mods) == 0 {
		return nil
	}
	return errs.NewScript("no script evaluator is configured; StubEvaluator cannot install artifacts")
}
