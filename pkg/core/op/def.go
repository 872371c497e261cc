package op

import (
	"slices"
	"sort"
	"sync"

	"github.com/gomlx/jobflow/pkg/core/sbp"
)

// ArgDef defines one input or output argument of an operator type.
//
// Optional arguments may be absent from the configuration. Repeated arguments take any number (>= 1, or
// >= 0 if also Optional) of blobs, otherwise at most one.
type ArgDef struct {
	Name     string
	Optional bool
	Repeated bool
}

// Def is the capability table of one operator type. Capabilities left nil take the default behavior:
//
//   - Validate: accept any attributes.
//   - InferBlobDescs: every output takes the shape of the first input ("unchanged").
//   - InferBatchAxis: NaiveInferBatchAxis.
//   - GetSbpSignatures: a single all-Broadcast signature.
//   - GenBackward: gradients unsupported, unless NoGrad is set, in which case no gradient is generated.
type Def struct {
	Type    string
	Inputs  []ArgDef
	Outputs []ArgDef

	// NoGrad marks operator types that never propagate gradients to their inputs.
	NoGrad bool

	Validate         func(conf *Conf) error
	InferBlobDescs   func(ctx *Context) error
	InferBatchAxis   func(ctx *Context) error
	GetSbpSignatures func(ctx *Context) (sbp.SignatureList, error)
	GenBackward      func(o *Operator, ctx GradContext) error
}

// Input returns the definition of the input argument, if it exists.
func (d *Def) Input(name string) (ArgDef, bool) {
	idx := slices.IndexFunc(d.Inputs, func(a ArgDef) bool { return a.Name == name })
	if idx < 0 {
		return ArgDef{}, false
	}
	return d.Inputs[idx], true
}

// Output returns the definition of the output argument, if it exists.
func (d *Def) Output(name string) (ArgDef, bool) {
	idx := slices.IndexFunc(d.Outputs, func(a ArgDef) bool { return a.Name == name })
	if idx < 0 {
		return ArgDef{}, false
	}
	return d.Outputs[idx], true
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Def)
)

// Register an operator type. It is meant to be called from init functions, and it panics if the
// type is already registered or if the definition is malformed.
func Register(def Def) {
	if def.Type == "" {
		panicf("op.Register: operator type can't be empty")
	}
	seen := make(map[string]bool)
	for _, args := range [][]ArgDef{def.Inputs, def.Outputs} {
		for _, arg := range args {
			if arg.Name == "" || seen[arg.Name] {
				panicf("op.Register(%q): argument name %q is empty or duplicate", def.Type, arg.Name)
			}
			seen[arg.Name] = true
		}
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[def.Type]; found {
		panicf("op.Register(%q): operator type already registered", def.Type)
	}
	registry[def.Type] = &def
}

// Lookup returns the definition of a registered operator type.
func Lookup(opType string) (*Def, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, found := registry[opType]
	return def, found
}

// RegisteredTypes returns the sorted list of registered operator types.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
