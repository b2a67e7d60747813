// Package config defines the Configuration record assembled from the
// command line (spec §3, §6) and threaded through the Coordinator and
// Worker driver.
package config

// Options are the recognized switches, every one of them optional save for
// the defaults spelled out below.
type Options struct {
	Help     bool
	Version  bool
	File     string
	Loud     bool
	Question bool
	Jobs     int
	Time     bool
	Clear    bool
}

// Default returns the Options in effect when no switches are given.
func Default() Options {
	return Options{File: "Exmakefile", Jobs: 1}
}

// Configuration is the parsed command line: the targets to build, the
// recognized options, and the opaque tail arguments passed after
// -a/--args.
type Configuration struct {
	Targets []string
	Options Options
	Args    []string
}

// Jobs returns the effective worker-pool bound: Options.Jobs if positive,
// else 1.
func (c Configuration) Jobs() int {
	if c.Options.Jobs < 1 {
		return 1
	}
	return c.Options.Jobs
}

// TargetsOrDefault returns c.Targets, or []string{"all"} when none were
// given on the command line.
func (c Configuration) TargetsOrDefault() []string {
	if len(c.Targets) == 0 {
		return []string{"all"}
	}
	return c.Targets
}
