package op

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/pkg/errors"
)

// panicf panics with an error with a stack trace.
func panicf(format string, args ...any) {
	exceptions.Panicf(format, args...)
}

// ConfigError is returned when an operator configuration is invalid: missing required arguments, unknown
// arguments, invalid attributes or unknown operator types.
type ConfigError struct {
	OpName string
	OpType string
	Reason string
}

// Error implements error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for operator %q (type %q): %s", e.OpName, e.OpType, e.Reason)
}

func configErrorf(conf *Conf, format string, args ...any) error {
	return errors.WithStack(&ConfigError{OpName: conf.Name, OpType: conf.Type, Reason: fmt.Sprintf(format, args...)})
}

// ShapeInferenceError is returned when an operator's output shapes can't be inferred from its inputs.
// Shapes holds the input shapes, in binding order.
type ShapeInferenceError struct {
	OpName string
	Shapes []shapes.Shape
	Reason string
}

// Error implements error.
func (e *ShapeInferenceError) Error() string {
	parts := make([]string, 0, len(e.Shapes))
	for _, s := range e.Shapes {
		parts = append(parts, s.String())
	}
	return fmt.Sprintf("shape inference failed for operator %q with inputs [%s]: %s", e.OpName,
		strings.Join(parts, ", "), e.Reason)
}

// runCapability runs fn converting panics with an error into a returned error.
func runCapability(o *Operator, capability string, fn func() error) error {
	var err error
	exception := exceptions.TryCatch[error](func() { err = fn() })
	if exception != nil {
		return errors.WithMessagef(exception, "operator %q (type %q) panicked in %s", o.Name(), o.Type(), capability)
	}
	return err
}
