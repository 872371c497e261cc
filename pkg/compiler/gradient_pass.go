package compiler

import (
	"slices"
	"strings"

	"github.com/gomlx/jobflow/pkg/core/job"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/ops"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GradientPass generates the backward graph of training jobs: it seeds the gradient of each loss blob
// with ones (a fill_like operator), walks the operators in reverse topological order asking each one whose
// outputs received a gradient to define its backward operators, and sums multiple gradients of one blob
// with add_n. New operators are inferred and get their SBP signatures resolved.
//
// It publishes "variable_grads", a map from each trainable variable's LBN to the LBN of its gradient.
// Jobs not configured for training are left untouched.
type GradientPass struct{}

// Name implements Pass.
func (GradientPass) Name() string { return "gradient" }

// Run implements Pass.
func (GradientPass) Run(state *State) error {
	if !state.Config.Training {
		return nil
	}
	j := state.Job
	if len(state.Config.LossLBNs) == 0 {
		return errors.Errorf("job %q: training requires at least one loss blob", j.Name())
	}
	forward, err := j.ReverseTopologicalOrder()
	if err != nil {
		return err
	}
	g := &gradBuilder{job: j, grads: make(map[string][]string), final: make(map[string]string)}
	g.requiresGrad = requiresGrad(j)

	for _, loss := range state.Config.LossLBNs {
		producer, found := j.Producer(loss)
		if !found {
			return errors.Errorf("job %q: loss blob %q has no producer", j.Name(), loss)
		}
		seedName := "grad_seed-" + strings.ReplaceAll(loss, "/", "-")
		if err := g.defineOp(ops.FillLikeConf(seedName, loss, 1), producer); err != nil {
			return err
		}
		g.grads[loss] = append(g.grads[loss], op.MakeLBN(seedName, "out", 0))
	}

	for _, o := range forward {
		if !slices.ContainsFunc(o.OutputLBNs(), func(lbn string) bool { return len(g.grads[lbn]) > 0 }) {
			continue
		}
		if !slices.ContainsFunc(o.InputLBNs(), func(lbn string) bool { return g.requiresGrad[lbn] }) {
			continue
		}
		ctx := &gradContext{builder: g, forward: o}
		if err := o.GenerateBackwardOps(ctx); err != nil {
			return errors.WithMessagef(err, "generating backward operators of %q", o.Name())
		}
		if ctx.err != nil {
			return ctx.err
		}
	}

	variableGrads := make(map[string]string)
	for _, o := range j.Ops() {
		if o.Type() != ops.TypeVariable || !o.Trainable() {
			continue
		}
		lbn := o.OutputLBNs()[0]
		if len(g.grads[lbn]) == 0 {
			klog.Warningf("gradient: trainable variable %q doesn't affect the loss", o.Name())
			continue
		}
		grad, err := g.outputGrad(lbn, o)
		if err != nil {
			return err
		}
		variableGrads[lbn] = grad
	}
	state.Publish("variable_grads", variableGrads)

	if _, err := inferToFixedPoint(j, state.Config.MaxInferenceIterations); err != nil {
		return err
	}
	order, err := j.TopologicalOrder()
	if err != nil {
		return err
	}
	for _, o := range order {
		if !g.defined[o.Name()] {
			continue
		}
		if _, err := resolveSbp(state, o); err != nil {
			return err
		}
	}
	klog.V(1).Infof("gradient: job %q got %d backward operators", j.Name(), len(g.defined))
	return nil
}

// requiresGrad returns the blobs that depend on a trainable variable through operators that propagate
// gradients.
func requiresGrad(j *job.Job) map[string]bool {
	result := make(map[string]bool)
	order, err := j.TopologicalOrder()
	if err != nil {
		return result
	}
	for _, o := range order {
		needs := o.Type() == ops.TypeVariable && o.Trainable()
		if !o.Def().NoGrad {
			needs = needs || slices.ContainsFunc(o.InputLBNs(), func(lbn string) bool { return result[lbn] })
		}
		if needs {
			for _, lbn := range o.OutputLBNs() {
				result[lbn] = true
			}
		}
	}
	return result
}

// gradBuilder accumulates the gradients of the blobs of a job.
type gradBuilder struct {
	job          *job.Job
	requiresGrad map[string]bool

	// grads holds every gradient contribution to a blob, and final the LBN of their sum once needed.
	grads   map[string][]string
	final   map[string]string
	defined map[string]bool
}

// defineOp adds a backward operator placed like the forward operator it comes from.
func (g *gradBuilder) defineOp(conf op.Conf, forward *op.Operator) error {
	if conf.Placement == "" {
		if group, found := g.job.OpPlacement(forward.Name()); found {
			conf.Placement = group.Name()
		}
	}
	if _, err := g.job.AddOp(conf); err != nil {
		return err
	}
	if conf.Placement != "" {
		if err := g.job.SetOpPlacement(conf.Name, conf.Placement); err != nil {
			return err
		}
	}
	if g.defined == nil {
		g.defined = make(map[string]bool)
	}
	g.defined[conf.Name] = true
	return nil
}

// outputGrad returns the gradient of lbn, summing the contributions with add_n the first time it's needed.
func (g *gradBuilder) outputGrad(lbn string, producer *op.Operator) (string, error) {
	if final, found := g.final[lbn]; found {
		return final, nil
	}
	contributions := g.grads[lbn]
	switch len(contributions) {
	case 0:
		return "", errors.Errorf("blob %q has no gradient", lbn)
	case 1:
		g.final[lbn] = contributions[0]
		return contributions[0], nil
	}
	name := "grad_sum-" + strings.ReplaceAll(lbn, "/", "-")
	if err := g.defineOp(ops.AddNConf(name, contributions...), producer); err != nil {
		return "", err
	}
	g.final[lbn] = op.MakeLBN(name, "out", 0)
	return g.final[lbn], nil
}

// gradContext implements op.GradContext for one forward operator.
type gradContext struct {
	builder *gradBuilder
	forward *op.Operator
	err     error
}

// NeedGrad implements op.GradContext.
func (c *gradContext) NeedGrad(arg string, idx int) bool {
	lbn, found := c.forward.InputLBN(arg, idx)
	return found && c.builder.requiresGrad[lbn]
}

// OutputGrad implements op.GradContext.
func (c *gradContext) OutputGrad(arg string, idx int) (string, bool) {
	lbn, found := c.forward.OutputLBN(arg, idx)
	if !found || len(c.builder.grads[lbn]) == 0 {
		return "", false
	}
	grad, err := c.builder.outputGrad(lbn, c.forward)
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		return "", false
	}
	return grad, true
}

// DefineOp implements op.GradContext.
func (c *gradContext) DefineOp(conf op.Conf) error {
	return c.builder.defineOp(conf, c.forward)
}

// BindInputGrad implements op.GradContext.
func (c *gradContext) BindInputGrad(arg string, idx int, lbn string) {
	input, found := c.forward.InputLBN(arg, idx)
	if !found {
		if c.err == nil {
			c.err = errors.Errorf("operator %q has no input %s", c.forward.Name(), op.BindingName(arg, idx))
		}
		return
	}
	c.builder.grads[input] = append(c.builder.grads[input], lbn)
}
