// Package kernel defines the interface between actors and the code computing operators: a Kernel computes
// the outputs of one operator from its inputs, and is created by a Factory registered for an operator
// type, a device type and a dtype.
//
// Package cpu registers reference kernels in the Default registry.
package kernel

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/tensors"
	"github.com/pkg/errors"
)

// AnyDType in a Key matches any dtype: used by kernels that only move data around.
const AnyDType = dtypes.InvalidDType

// Key identifies a kernel implementation.
type Key struct {
	OpType     string
	DeviceType placement.DeviceType
	DType      dtypes.DType
}

// String implements fmt.Stringer.
func (k Key) String() string {
	dtype := k.DType.String()
	if k.DType == AnyDType {
		dtype = "*"
	}
	return fmt.Sprintf("(%s, %s, %s)", k.OpType, k.DeviceType, dtype)
}

// Context describes the operator instance a kernel is created for.
type Context struct {
	Conf       op.Conf
	DeviceType placement.DeviceType
	Parallel   placement.ParallelContext

	// InputBindings and OutputBindings are the binding names ("x_0") in the operator's order, and Inputs
	// and Outputs their descriptions.
	InputBindings, OutputBindings []string
	Inputs, Outputs               map[string]op.BlobDesc
}

// NewContext creates the context of an operator, with the descriptions of its blobs taken by LBN from descs.
func NewContext(conf op.Conf, deviceType placement.DeviceType, parallel placement.ParallelContext,
	descs func(lbn string) (op.BlobDesc, error)) (*Context, error) {
	o, err := op.New(conf)
	if err != nil {
		return nil, err
	}
	ctx := &Context{
		Conf:       o.Conf(),
		DeviceType: deviceType,
		Parallel:   parallel,
		Inputs:     make(map[string]op.BlobDesc),
		Outputs:    make(map[string]op.BlobDesc),
	}
	for _, b := range o.InputBindings() {
		desc, err := descs(b.LBN)
		if err != nil {
			return nil, err
		}
		ctx.InputBindings = append(ctx.InputBindings, b.Name())
		ctx.Inputs[b.Name()] = desc
	}
	for _, b := range o.OutputBindings() {
		desc, err := descs(b.LBN)
		if err != nil {
			return nil, err
		}
		ctx.OutputBindings = append(ctx.OutputBindings, b.Name())
		ctx.Outputs[b.Name()] = desc
	}
	return ctx, nil
}

// DType of the operator for kernel selection: the one of its first input, or of its first output for
// operators without inputs.
func (c *Context) DType() dtypes.DType {
	if len(c.InputBindings) > 0 {
		return c.Inputs[c.InputBindings[0]].Shape.DType
	}
	if len(c.OutputBindings) > 0 {
		return c.Outputs[c.OutputBindings[0]].Shape.DType
	}
	return dtypes.InvalidDType
}

// Key of the kernel for the operator.
func (c *Context) Key() Key {
	return Key{OpType: c.Conf.Type, DeviceType: c.DeviceType, DType: c.DType()}
}

// NewOutputs returns a zero tensor for every output.
func (c *Context) NewOutputs() map[string]*tensors.Tensor {
	outputs := make(map[string]*tensors.Tensor, len(c.OutputBindings))
	for _, binding := range c.OutputBindings {
		outputs[binding] = tensors.FromShape(c.Outputs[binding].Shape)
	}
	return outputs
}

// Errorf returns an error about the operator's kernel.
func (c *Context) Errorf(format string, args ...any) error {
	return errors.Errorf("kernel %s of operator %q: %s", c.Key(), c.Conf.Name, fmt.Sprintf(format, args...))
}

// Kernel computes one operator.
type Kernel interface {
	// Compute returns the outputs, by binding name, given the inputs by binding name.
	Compute(ctx *Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error)
}

// Func adapts a function to the Kernel interface.
type Func func(ctx *Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error)

// Compute implements Kernel.
func (fn Func) Compute(ctx *Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	return fn(ctx, inputs)
}

// Factory creates the kernel of an operator instance. It returns an error if the configuration is not
// supported.
type Factory func(ctx *Context) (Kernel, error)

// NotFoundError is returned when no kernel is registered for an operator.
type NotFoundError struct {
	OpName string
	Key    Key
}

// Error implements error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no kernel registered for operator %q %s", e.OpName, e.Key)
}

// Registry of kernel factories. It's safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Key]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Key]Factory)}
}

// Default is the registry used when none is configured.
var Default = NewRegistry()

// Register a kernel factory. Use AnyDType as the key's dtype for kernels that work with any dtype.
// It returns an error if the key is already registered.
func (r *Registry) Register(key Key, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.factories[key]; found {
		return errors.Errorf("kernel %s registered more than once", key)
	}
	r.factories[key] = factory
	return nil
}

// MustRegister is like Register, but panics on error.
func (r *Registry) MustRegister(key Key, factory Factory) {
	if err := r.Register(key, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for key, falling back to the one registered for AnyDType.
func (r *Registry) Lookup(key Key) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if factory, found := r.factories[key]; found {
		return factory, true
	}
	key.DType = AnyDType
	factory, found := r.factories[key]
	return factory, found
}

// Keys returns the registered keys, sorted.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.factories))
	for key := range r.factories {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		if c := strings.Compare(a.OpType, b.OpType); c != 0 {
			return c
		}
		if a.DeviceType != b.DeviceType {
			return int(a.DeviceType) - int(b.DeviceType)
		}
		return int(a.DType) - int(b.DType)
	})
	return keys
}

// New creates the kernel of the operator described by ctx. It returns a *NotFoundError if no kernel is
// registered for it.
func (r *Registry) New(ctx *Context) (Kernel, error) {
	factory, found := r.Lookup(ctx.Key())
	if !found {
		return nil, errors.WithStack(&NotFoundError{OpName: ctx.Conf.Name, Key: ctx.Key()})
	}
	k, err := factory(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating kernel %s of operator %q", ctx.Key(), ctx.Conf.Name)
	}
	return k, nil
}
