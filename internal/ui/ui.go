// Package ui provides the build's terminal-facing output: a structured
// logger plus a small colored-status helper, honoring EXMAKE_COLORS and
// EXMAKE_DEBUG the way spec §6 requires. Grounded on the teacher's
// internal/cmdutil logging setup, which wires hclog through a
// color-capable writer gated on TTY detection.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
)

// UI bundles the structured logger with a few colored convenience
// printers used by the cmd/worker layers for user-facing status lines.
type UI struct {
	Logger hclog.Logger
	Colors bool
}

// New builds a UI from the process environment: EXMAKE_DEBUG=1 raises the
// log level to Debug; EXMAKE_COLORS=0 disables ANSI output regardless of
// TTY detection.
func New(out io.Writer, loud bool) *UI {
	level := hclog.Info
	if os.Getenv("EXMAKE_DEBUG") == "1" || loud {
		level = hclog.Debug
	}
	colors := os.Getenv("EXMAKE_COLORS") != "0" && isatty.IsTerminal(os.Stdout.Fd())

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "exmake",
		Level:      level,
		Output:     out,
		Color:      colorOption(colors),
		JSONFormat: false,
	})
	return &UI{Logger: logger, Colors: colors}
}

func colorOption(enabled bool) hclog.ColorOption {
	if enabled {
		return hclog.AutoColor
	}
	return hclog.ColorOff
}

// Status prints a one-line build status for a target, colored green on
// success and red on failure when colors are enabled.
func (u *UI) Status(target string, ok bool) {
	if !u.Colors {
		if ok {
			fmt.Printf("ok   %s\n", target)
		} else {
			fmt.Printf("fail %s\n", target)
		}
		return
	}
	if ok {
		color.New(color.FgGreen).Printf("ok   %s\n", target)
	} else {
		color.New(color.FgRed).Printf("fail %s\n", target)
	}
}

// Error prints err to stderr, colored red when colors are enabled.
func (u *UI) Error(err error) {
	if !u.Colors {
		fmt.Fprintf(os.Stderr, "exmake: %s\n", err)
		return
	}
	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "exmake: %s\n", err)
}

// Timing prints a completed timing session's entries.
func (u *UI) Timing(entries []string) {
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		fmt.Println(e)
	}
}
