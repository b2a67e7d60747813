// Command exmake is the scriptable, dependency-driven build tool's entry
// point: parse argv, drive one build, exit with the resulting code.
package main

import (
	"os"

	"github.com/exmake/exmake/internal/cmd"
	"github.com/exmake/exmake/internal/script"
)

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:], script.StubEvaluator{}))
}
