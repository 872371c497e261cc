package compiler

import (
	"github.com/gomlx/jobflow/internal/scoped"
	"github.com/gomlx/jobflow/pkg/core/job"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/prometheus/client_golang/prometheus"
)

// State is handed to each pass: the job being compiled (a clone owned by the pass), the effective
// configuration and the state published by previous passes.
type State struct {
	Job    *job.Job
	Config Config

	pass      string
	params    *scoped.Params
	resolver  *sbp.Resolver
	boxingOps prometheus.Counter
}

// Publish makes a value available to later passes, under the name of the current pass.
func (s *State) Publish(key string, value any) {
	s.params.Set(scoped.Scope(s.pass), key, value)
}

// Lookup returns a value published by the given pass, or a job-wide value.
func (s *State) Lookup(pass, key string) (any, bool) {
	return s.params.Get(scoped.Scope(pass), key)
}

// PassState holds the values published by the passes of one compilation.
type PassState struct {
	params *scoped.Params
}

// Get returns the value published by pass under key.
func (p *PassState) Get(pass, key string) (any, bool) {
	return p.params.GetLocal(scoped.Scope(pass), key)
}

// Enumerate calls fn for every published value, sorted by pass and key.
func (p *PassState) Enumerate(fn func(pass, key string, value any)) {
	p.params.Enumerate(func(scope, key string, value any) {
		fn(scope[len(scoped.RootScope):], key, value)
	})
}
