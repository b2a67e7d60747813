// Package envtable implements the script-authored environment table
// consumed by recipes: a process-wide key/value store where a value is
// either a single string or an ordered list of strings, with shell-style
// ${KEY} expansion over arbitrary text.
//
// Grounded on the teacher's env.EnvironmentVariableMap (sorted, deterministic
// iteration) and on distr1-distri's internal/env package, which expands
// ${VAR}-shaped references with the standard library's os.Expand rather
// than pulling in a templating dependency for a single substitution rule.
package envtable

import (
	"regexp"
	"strings"
	"sync"

	"github.com/exmake/exmake/internal/errs"
)

// entry is the internal representation of one table slot.
type entry struct {
	isList bool
	str    string
	list   []string
}

// Table is the process-wide environment table. Create one with New; the
// zero value has no entry map, and writing to it panics.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Put sets key to a plain string value, overwriting whatever was there.
func (t *Table) Put(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = &entry{str: value}
}

// Get returns the plain string value for key. If key holds a list, the
// list elements are joined with a single space, matching the expansion
// contract in Reduce.
func (t *Table) Get(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	if !ok {
		return "", false
	}
	if e.isList {
		return strings.Join(e.list, " "), true
	}
	return e.str, true
}

// Delete removes key entirely, regardless of its shape.
func (t *Table) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// ListAppend appends value to the list stored at key, creating the list if
// key is unset. Returns an EnvError if key already holds a plain string.
func (t *Table) ListAppend(key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		t.entries[key] = &entry{isList: true, list: []string{value}}
		return nil
	}
	if !e.isList {
		return errs.NewEnv("key %q holds a string, not a list", key)
	}
	e.list = append(e.list, value)
	return nil
}

// ListPrepend prepends value to the list stored at key, creating the list
// if key is unset. Returns an EnvError if key already holds a plain string.
func (t *Table) ListPrepend(key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		t.entries[key] = &entry{isList: true, list: []string{value}}
		return nil
	}
	if !e.isList {
		return errs.NewEnv("key %q holds a string, not a list", key)
	}
	e.list = append([]string{value}, e.list...)
	return nil
}

// ListGet returns a copy of the list stored at key. Returns an EnvError if
// key holds a plain string.
func (t *Table) ListGet(key string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.isList {
		return nil, errs.NewEnv("key %q holds a string, not a list", key)
	}
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out, nil
}

// ListDelete removes every element of the list stored at key that equals
// match, or that matches match interpreted as a regular expression if
// asRegex is true. Returns an EnvError if key holds a plain string.
func (t *Table) ListDelete(key, match string, asRegex bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	if !e.isList {
		return errs.NewEnv("key %q holds a string, not a list", key)
	}
	var re *regexp.Regexp
	if asRegex {
		var err error
		re, err = regexp.Compile(match)
		if err != nil {
			return errs.NewEnv("invalid regular expression %q: %v", match, err)
		}
	}
	kept := e.list[:0:0]
	for _, item := range e.list {
		remove := item == match
		if asRegex {
			remove = re.MatchString(item)
		}
		if !remove {
			kept = append(kept, item)
		}
	}
	e.list = kept
	return nil
}

// Reduce exposes the shell expansion contract: every occurrence of
// ${NAME} in text, where NAME is a key in the table, is replaced by the
// value of NAME (list values are joined by a single space). Expansion is
// applied once, left to right, and is not recursive: a value that itself
// contains "${...}" is inserted verbatim and never re-expanded.
func (t *Table) Reduce(text string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return expandOnce(text, func(name string) (string, bool) {
		e, ok := t.entries[name]
		if !ok {
			return "", false
		}
		if e.isList {
			return strings.Join(e.list, " "), true
		}
		return e.str, true
	})
}

var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandOnce performs a single, non-recursive, left-to-right substitution
// pass. Unknown keys are left untouched (the literal "${NAME}" survives)
// so that malformed or unrelated references in recipe shell text don't
// silently vanish.
func expandOnce(text string, lookup func(string) (string, bool)) string {
	return refPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := refPattern.FindStringSubmatch(match)[1]
		if v, ok := lookup(name); ok {
			return v
		}
		return match
	})
}

// Snapshot captures every entry for persistence (see internal/cache).
type Snapshot struct {
	Strings map[string]string
	Lists   map[string][]string
}

// Snapshot returns a point-in-time copy of the table suitable for encoding.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := Snapshot{Strings: map[string]string{}, Lists: map[string][]string{}}
	for k, e := range t.entries {
		if e.isList {
			list := make([]string, len(e.list))
			copy(list, e.list)
			snap.Lists[k] = list
		} else {
			snap.Strings[k] = e.str
		}
	}
	return snap
}

// Restore replaces the table contents with a previously captured Snapshot.
func (t *Table) Restore(snap Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*entry, len(snap.Strings)+len(snap.Lists))
	for k, v := range snap.Strings {
		t.entries[k] = &entry{str: v}
	}
	for k, v := range snap.Lists {
		list := make([]string, len(v))
		copy(list, v)
		t.entries[k] = &entry{isList: true, list: list}
	}
}

// Keys returns every key currently set, unsorted.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	return keys
}
