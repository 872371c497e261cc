// Package scoped provides a mapping from a key to any value, where keys live in hierarchical scopes.
//
// The compiler uses it to hold the state passes publish for later passes: each pass writes to its own
// scope ("/<pass>") and job-wide values live in the root scope ("/").
package scoped

import (
	"strings"

	"github.com/gomlx/jobflow/pkg/support/xslices"
)

// RootScope is the scope every other scope descends from.
const RootScope = "/"

// Cloner is implemented by values that need a deep copy when the Params holding them is cloned.
type Cloner interface {
	CloneValue() any
}

// Params maps (scope, key) to values. Reading a key searches the scope first and then its parents up to
// the root scope, returning the first value found.
//
// Example: with
//
//	"/":          {"iterations": 2}
//	"/sbp":       {"boxing": 3}
//	"/sbp/extra": {"boxing": 1}
//
// Get("/sbp/extra", "boxing") is 1, Get("/sbp", "boxing") is 3 and Get("/sbp/extra", "iterations") is 2.
//
// Scopes are paths separated by "/" and always start with "/". Params is not safe for concurrent use.
type Params struct {
	scopes map[string]map[string]any
}

// New creates an empty Params.
func New() *Params {
	return &Params{scopes: make(map[string]map[string]any)}
}

// Scope returns the scope for the given path parts: Scope("sbp", "extra") is "/sbp/extra".
func Scope(parts ...string) string {
	return RootScope + strings.Join(parts, "/")
}

// parent returns the parent of scope, and false for the root scope.
func parent(scope string) (string, bool) {
	if scope == RootScope || scope == "" {
		return "", false
	}
	idx := strings.LastIndex(scope, "/")
	if idx <= 0 {
		return RootScope, true
	}
	return scope[:idx], true
}

// Set the value of key in scope.
func (p *Params) Set(scope, key string, value any) {
	values, found := p.scopes[scope]
	if !found {
		values = make(map[string]any)
		p.scopes[scope] = values
	}
	values[key] = value
}

// GetLocal returns the value of key only if set in scope itself.
func (p *Params) GetLocal(scope, key string) (value any, found bool) {
	value, found = p.scopes[scope][key]
	return
}

// Get returns the value of key in scope or, if not set there, in the closest parent scope where it is set.
func (p *Params) Get(scope, key string) (value any, found bool) {
	for {
		if value, found = p.scopes[scope][key]; found {
			return
		}
		var hasParent bool
		if scope, hasParent = parent(scope); !hasParent {
			return nil, false
		}
	}
}

// Delete removes key from scope, if set there.
func (p *Params) Delete(scope, key string) {
	values, found := p.scopes[scope]
	if !found {
		return
	}
	delete(values, key)
	if len(values) == 0 {
		delete(p.scopes, scope)
	}
}

// Len returns the number of (scope, key) entries.
func (p *Params) Len() int {
	count := 0
	for _, values := range p.scopes {
		count += len(values)
	}
	return count
}

// Clone returns a copy of the Params. Values implementing Cloner are deep-copied, others are shared.
func (p *Params) Clone() *Params {
	clone := New()
	for scope, values := range p.scopes {
		cloned := make(map[string]any, len(values))
		for key, value := range values {
			if c, ok := value.(Cloner); ok {
				value = c.CloneValue()
			}
			cloned[key] = value
		}
		clone.scopes[scope] = cloned
	}
	return clone
}

// Enumerate calls fn for every entry, sorted by scope and then by key.
func (p *Params) Enumerate(fn func(scope, key string, value any)) {
	for _, scope := range xslices.SortedKeys(p.scopes) {
		values := p.scopes[scope]
		for _, key := range xslices.SortedKeys(values) {
			fn(scope, key, values[key])
		}
	}
}
