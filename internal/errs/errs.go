// Package errs defines the error taxonomy the engine reports through: each
// kind signals a distinct failure mode, and ExitCode maps each to the exit
// code the top-level driver should return for it.
package errs

import "fmt"

// UsageError signals bad CLI arguments or a missing source file discovered
// at build time.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return fmt.Sprintf("UsageError: %s", e.Message) }

// NewUsage builds a UsageError.
func NewUsage(format string, args ...interface{}) *UsageError {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// LoadError signals a script file that is absent, unreadable, has a
// syntax/compile problem, or violates the one-Exmakefile-module-per-script
// rule.
type LoadError struct {
	File      string
	Directory string
	Underlying error
}

func (e *LoadError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("LoadError: %s: %s", e.File, e.Underlying.Error())
	}
	return fmt.Sprintf("LoadError: %s", e.File)
}

func (e *LoadError) Unwrap() error { return e.Underlying }

// NewLoad builds a LoadError with a plain message (no underlying error).
func NewLoad(file, message string) *LoadError {
	return &LoadError{File: file, Underlying: fmt.Errorf("%s", message)}
}

// ScriptError signals a malformed rule/task declaration, a duplicate
// target, a task/rule name collision, a cyclic dependency, or a recipe
// contract violation.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string { return fmt.Sprintf("ScriptError: %s", e.Message) }

// NewScript builds a ScriptError.
func NewScript(format string, args ...interface{}) *ScriptError {
	return &ScriptError{Message: fmt.Sprintf(format, args...)}
}

// CacheError signals an I/O failure persisting or restoring a cache file.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string { return fmt.Sprintf("CacheError: %s", e.Message) }

// NewCache builds a CacheError.
func NewCache(format string, args ...interface{}) *CacheError {
	return &CacheError{Message: fmt.Sprintf(format, args...)}
}

// ShellError signals a subprocess invoked by a recipe that exited non-zero.
type ShellError struct {
	Command  string
	Output   string
	ExitCode int
}

func (e *ShellError) Error() string {
	return fmt.Sprintf("ShellError: command %q exited with status %d: %s", e.Command, e.ExitCode, e.Output)
}

// EnvError signals a mismatched string/list operation on an environment
// table entry.
type EnvError struct {
	Message string
}

func (e *EnvError) Error() string { return fmt.Sprintf("EnvError: %s", e.Message) }

// NewEnv builds an EnvError.
func NewEnv(format string, args ...interface{}) *EnvError {
	return &EnvError{Message: fmt.Sprintf(format, args...)}
}

// StaleError is raised only under --question when some rule is stale. It
// carries no message: the exit code alone is the signal.
type StaleError struct{}

func (e *StaleError) Error() string { return "" }

// ThrowError wraps a non-exception value thrown inside a recipe so callers
// can handle failure uniformly.
type ThrowError struct {
	Value interface{}
}

func (e *ThrowError) Error() string { return fmt.Sprintf("ThrowError: %v", e.Value) }

// ExitCode maps an error produced by the engine to the process exit code
// the CLI should return. nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(*StaleError); ok {
		return 1
	}
	return 1
}
