// Package cmd wires the command-line surface from spec §6 onto a
// config.Configuration and hands it to a worker.Driver. Grounded on the
// teacher's internal/cmd/root.go cobra setup (RunWithArgs taking the raw
// argv and returning an exit code, rather than calling os.Exit directly,
// so main.go stays a one-line wrapper).
package cmd

import (
	"fmt"
	"os"

	"github.com/exmake/exmake/internal/config"
	"github.com/exmake/exmake/internal/script"
	"github.com/exmake/exmake/internal/ui"
	"github.com/exmake/exmake/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is the exmake release version, set at build time via
// -ldflags, mirroring the teacher's own version-stamping convention.
var Version = "dev"

// RunWithArgs parses argv (excluding argv[0]) and drives one build,
// returning the process exit code per spec §6: 0 success, 1 error, 2 for
// --help/--version.
func RunWithArgs(argv []string, eval script.Evaluator) int {
	exitCode := 0
	requestedHelpOrVersion := false

	// Everything after -a/--args (before any "--") is the opaque tail; split
	// it off so cobra never parses it as flags or targets.
	var tailArgs []string
	for i, a := range argv {
		if a == "--" {
			break
		}
		if a == "-a" || a == "--args" {
			tailArgs, argv = argv[i+1:], argv[:i]
			break
		}
	}

	root := &cobra.Command{
		Use:           "exmake [switches] [--] [targets] [--args tail-args]",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(c *cobra.Command, args []string) error {
			// Every flag is read back through viper rather than off the
			// bound Go variables directly: binding cobra's flag set into
			// viper is what lets a future config file or EXMAKE_*-prefixed
			// environment override participate in resolution without
			// touching this function.
			v := viper.New()
			if err := v.BindPFlags(c.Flags()); err != nil {
				return err
			}
			v.SetEnvPrefix("EXMAKE")
			v.AutomaticEnv()

			opts := config.Options{
				Help:     v.GetBool("help"),
				Version:  v.GetBool("version"),
				File:     v.GetString("file"),
				Loud:     v.GetBool("loud"),
				Question: v.GetBool("question"),
				Jobs:     v.GetInt("jobs"),
				Time:     v.GetBool("time"),
				Clear:    v.GetBool("clear"),
			}

			if opts.Help {
				fmt.Println(c.UsageString())
				requestedHelpOrVersion = true
				return nil
			}
			if opts.Version {
				fmt.Println("exmake", Version)
				requestedHelpOrVersion = true
				return nil
			}

			targets, tail := splitTail(args, v.GetString("args"))
			if tailArgs != nil {
				tail = tailArgs
			}
			cfg := config.Configuration{Targets: targets, Args: tail, Options: opts}
			out := ui.New(os.Stdout, opts.Loud)
			exitCode = worker.New(eval, ".exmake", out).Run(cfg)
			return nil
		},
	}

	flags := root.Flags()
	flags.BoolP("help", "h", false, "show usage and exit")
	flags.BoolP("version", "v", false, "show version and exit")
	flags.StringP("file", "f", "Exmakefile", "entry script path")
	flags.BoolP("loud", "l", false, "emit verbose diagnostics")
	flags.BoolP("question", "q", false, "check staleness only, never build")
	flags.IntP("jobs", "j", 1, "maximum concurrent recipes")
	flags.BoolP("time", "t", false, "print a build timing summary")
	flags.BoolP("clear", "c", false, "clear the cache before building")
	flags.StringP("args", "a", "", "everything after this is an opaque tail argument")

	// cobra answers --help itself without calling RunE.
	root.SetHelpFunc(func(c *cobra.Command, _ []string) {
		fmt.Println(c.UsageString())
		requestedHelpOrVersion = true
	})

	root.SetArgs(argv)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "exmake:", err)
		return 1
	}
	if requestedHelpOrVersion {
		return 2
	}
	return exitCode
}

// splitTail separates positional target names from the opaque tail that
// follows -a/--args. A bare "--args" token in the positional list marks
// where the tail begins; flagValue holds whatever cobra already bound to
// -a/--args when it was given a value directly.
func splitTail(positional []string, flagValue string) (targets, tail []string) {
	for i, p := range positional {
		if p == "--args" {
			return positional[:i], positional[i+1:]
		}
	}
	if flagValue != "" {
		tail = []string{flagValue}
	}
	return positional, tail
}
