package op

import (
	"fmt"

	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/pkg/errors"
)

// BlobLookup returns the logical description of a blob by its name.
type BlobLookup func(lbn string) (BlobDesc, bool)

// Context is passed to an operator type's inference capabilities. It gives access to the operator's
// configuration, its input blob descriptions and the output blob descriptions being inferred.
//
// Accessing an input or output that doesn't exist panics: capabilities are run with panics converted to
// errors.
type Context struct {
	op      *Operator
	inputs  map[string]BlobDesc
	outputs map[string]*BlobDesc
}

func (o *Operator) newContext(lookup BlobLookup) (*Context, error) {
	ctx := &Context{
		op:      o,
		inputs:  make(map[string]BlobDesc, len(o.inputs)),
		outputs: make(map[string]*BlobDesc, len(o.outputs)),
	}
	for _, b := range o.inputs {
		desc, found := lookup(b.LBN)
		if !found {
			return nil, errors.WithStack(&ShapeInferenceError{
				OpName: o.Name(), Reason: fmt.Sprintf("input blob %q (%s) is not available", b.LBN, b.Name())})
		}
		ctx.inputs[b.Name()] = desc.Clone()
	}
	for _, b := range o.outputs {
		desc := o.descs[b.Name()].Clone()
		ctx.outputs[b.Name()] = &desc
	}
	return ctx, nil
}

// Op returns the operator being inferred.
func (c *Context) Op() *Operator { return c.op }

// Conf returns the operator's configuration. It must not be modified.
func (c *Context) Conf() *Conf { return &c.op.conf }

// NumInputs returns the number of blobs bound to the input argument.
func (c *Context) NumInputs(arg string) int { return len(c.op.conf.Inputs[arg]) }

// NumOutputs returns the number of blobs produced by the output argument.
func (c *Context) NumOutputs(arg string) int { return c.op.numOutputs[arg] }

// HasInput returns whether the idx-th blob of the input argument is bound.
func (c *Context) HasInput(arg string, idx int) bool {
	_, found := c.inputs[BindingName(arg, idx)]
	return found
}

// HasOutput returns whether the idx-th blob of the output argument exists.
func (c *Context) HasOutput(arg string, idx int) bool {
	_, found := c.outputs[BindingName(arg, idx)]
	return found
}

// Input returns the logical description of the idx-th blob of the input argument.
func (c *Context) Input(arg string, idx int) BlobDesc {
	desc, found := c.inputs[BindingName(arg, idx)]
	if !found {
		panicf("operator %q has no input %s", c.op.Name(), BindingName(arg, idx))
	}
	return desc
}

// Output returns the description of the idx-th blob of the output argument, to be set by the capability.
func (c *Context) Output(arg string, idx int) *BlobDesc {
	desc, found := c.outputs[BindingName(arg, idx)]
	if !found {
		panicf("operator %q has no output %s", c.op.Name(), BindingName(arg, idx))
	}
	return desc
}

// InputBindings returns the operator's input bindings, in definition order.
func (c *Context) InputBindings() []Binding { return c.op.InputBindings() }

// OutputBindings returns the operator's output bindings, in definition order.
func (c *Context) OutputBindings() []Binding { return c.op.OutputBindings() }

// Bindings returns the names of all input and output bindings, in definition order.
func (c *Context) Bindings() []string {
	names := make([]string, 0, len(c.op.inputs)+len(c.op.outputs))
	for _, b := range c.op.inputs {
		names = append(names, b.Name())
	}
	for _, b := range c.op.outputs {
		names = append(names, b.Name())
	}
	return names
}

// InputShapes returns the input shapes, in binding order.
func (c *Context) InputShapes() []shapes.Shape {
	shapesList := make([]shapes.Shape, 0, len(c.op.inputs))
	for _, b := range c.op.inputs {
		shapesList = append(shapesList, c.inputs[b.Name()].Shape)
	}
	return shapesList
}

// Errorf returns a *ShapeInferenceError for the operator, including its input shapes.
func (c *Context) Errorf(format string, args ...any) error {
	return errors.WithStack(&ShapeInferenceError{
		OpName: c.op.Name(), Shapes: c.InputShapes(), Reason: fmt.Sprintf(format, args...)})
}
