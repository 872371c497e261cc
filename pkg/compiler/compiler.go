// Package compiler rewrites a logical job into a physical one by running an ordered pipeline of passes:
// placement, inference (shapes, dtypes and batch axes), SBP resolution with boxing insertion, gradient
// generation for training jobs and finalization.
//
// Each pass runs on a clone of the job, which replaces the working job only if the pass succeeds: a
// failing pass leaves no partial changes behind.
package compiler

import (
	"slices"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/jobflow/internal/scoped"
	"github.com/gomlx/jobflow/pkg/core/job"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	_ "github.com/gomlx/jobflow/pkg/ops"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

// DefaultMaxInferenceIterations bounds the number of inference sweeps over the job.
const DefaultMaxInferenceIterations = 16

// Config of the compiler. Values left empty are taken from the job configuration.
type Config struct {
	// Training generates the backward graph for LossLBNs.
	Training bool
	LossLBNs []string

	// DefaultPlacement is the placement group of operators that don't configure one.
	DefaultPlacement string

	MaxInferenceIterations int
	TieBreak               sbp.TieBreak
	CostModel              sbp.CostModel

	// Metrics, if set, is where the compiler registers its metrics.
	Metrics prometheus.Registerer

	// OnPassDone, if set, is called after each pass succeeds.
	OnPassDone func(pass string, index, total int)
}

// Option configures the compiler.
type Option func(*Config)

// WithTraining makes the compiler generate the backward graph of the given loss blobs.
func WithTraining(lossLBNs ...string) Option {
	return func(c *Config) {
		c.Training = true
		c.LossLBNs = slices.Clone(lossLBNs)
	}
}

// WithDefaultPlacement sets the placement group of operators that don't configure one.
func WithDefaultPlacement(group string) Option {
	return func(c *Config) { c.DefaultPlacement = group }
}

// WithMaxInferenceIterations sets the bound on inference sweeps.
func WithMaxInferenceIterations(n int) Option {
	return func(c *Config) { c.MaxInferenceIterations = n }
}

// WithTieBreak sets the SBP resolver tie-break policy.
func WithTieBreak(tieBreak sbp.TieBreak) Option {
	return func(c *Config) { c.TieBreak = tieBreak }
}

// WithCostModel sets the SBP resolver communication cost model.
func WithCostModel(model sbp.CostModel) Option {
	return func(c *Config) { c.CostModel = model }
}

// WithMetrics registers the compiler metrics with the given registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(c *Config) { c.Metrics = registerer }
}

// WithProgress sets a function called after each pass succeeds.
func WithProgress(fn func(pass string, index, total int)) Option {
	return func(c *Config) { c.OnPassDone = fn }
}

// Pass is one step of the compilation pipeline. It mutates the job in the given state.
type Pass interface {
	Name() string
	Run(state *State) error
}

// Compiler runs the pass pipeline.
type Compiler struct {
	config  Config
	passes  []Pass
	metrics *metrics
}

// New creates a compiler with the default pipeline: placement, inference, SBP, gradient (only for training
// jobs) and finalize.
func New(options ...Option) *Compiler {
	c := &Compiler{config: Config{MaxInferenceIterations: DefaultMaxInferenceIterations}}
	for _, option := range options {
		option(&c.config)
	}
	if c.config.MaxInferenceIterations <= 0 {
		c.config.MaxInferenceIterations = DefaultMaxInferenceIterations
	}
	if c.config.CostModel == nil {
		c.config.CostModel = sbp.DefaultCostModel{}
	}
	c.passes = []Pass{PlacementPass{}, InferencePass{}, SbpPass{}, GradientPass{}, FinalizePass{}}
	c.metrics = newMetrics(c.config.Metrics)
	return c
}

// WithPasses replaces the pipeline.
func (c *Compiler) WithPasses(passes ...Pass) *Compiler {
	c.passes = slices.Clone(passes)
	return c
}

// Passes returns the pipeline.
func (c *Compiler) Passes() []Pass { return slices.Clone(c.passes) }

// Config returns the compiler configuration.
func (c *Compiler) Config() Config { return c.config }

// Compile runs the pipeline on a copy of logical and returns the compiled job. logical is not modified.
func (c *Compiler) Compile(logical *job.Job) (*job.Job, error) {
	compiled, _, err := c.CompileWithState(logical)
	return compiled, err
}

// CompileWithState is like Compile, but also returns the state published by the passes.
func (c *Compiler) CompileWithState(logical *job.Job) (*job.Job, *PassState, error) {
	working := logical
	passState := scoped.New()
	start := time.Now()
	for idx, pass := range c.passes {
		state := &State{
			Job:       working.Clone(),
			Config:    c.effectiveConfig(logical),
			pass:      pass.Name(),
			params:    passState.Clone(),
			resolver:  &sbp.Resolver{CostModel: c.config.CostModel, TieBreak: c.config.TieBreak},
			boxingOps: c.metrics.boxingOps,
		}
		passStart := time.Now()
		err := runPass(pass, state)
		elapsed := time.Since(passStart)
		c.metrics.passDuration.WithLabelValues(pass.Name()).Observe(elapsed.Seconds())
		if err != nil {
			c.metrics.compilations.WithLabelValues("error").Inc()
			klog.Errorf("compiler: job %q pass %q failed: %v", logical.Name(), pass.Name(), err)
			return nil, nil, errors.WithMessagef(err, "compiling job %q: pass %q failed", logical.Name(), pass.Name())
		}
		working = state.Job
		passState = state.params
		klog.V(1).Infof("compiler: job %q pass %q done in %s (%d ops)", logical.Name(), pass.Name(), elapsed,
			working.NumOps())
		if c.config.OnPassDone != nil {
			c.config.OnPassDone(pass.Name(), idx, len(c.passes))
		}
	}
	c.metrics.compilations.WithLabelValues("ok").Inc()
	klog.V(1).Infof("compiler: job %q compiled in %s", logical.Name(), time.Since(start))
	return working, &PassState{params: passState}, nil
}

// runPass converts panics with an error into a returned error.
func runPass(pass Pass, state *State) (err error) {
	exception := exceptions.TryCatch[error](func() { err = pass.Run(state) })
	if exception != nil {
		return errors.WithMessagef(exception, "pass %q panicked", pass.Name())
	}
	return err
}

// effectiveConfig merges the compiler configuration with the job's.
func (c *Compiler) effectiveConfig(j *job.Job) Config {
	config := c.config
	jobConfig := j.Config()
	config.Training = config.Training || jobConfig.Training
	if len(config.LossLBNs) == 0 {
		config.LossLBNs = jobConfig.LossLBNs
	}
	if config.DefaultPlacement == "" {
		config.DefaultPlacement = jobConfig.DefaultPlacement
	}
	return config
}
