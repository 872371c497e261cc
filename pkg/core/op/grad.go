package op

// GradContext is implemented by the gradient pass and handed to an operator type's GenBackward capability.
type GradContext interface {
	// NeedGrad returns whether the gradient of the idx-th blob of input arg is needed.
	NeedGrad(arg string, idx int) bool

	// OutputGrad returns the LBN of the gradient of the idx-th blob of output arg, if there is one.
	OutputGrad(arg string, idx int) (lbn string, found bool)

	// DefineOp adds a new operator to the job being differentiated.
	DefineOp(conf Conf) error

	// BindInputGrad records lbn as (a contribution to) the gradient of the idx-th blob of input arg.
	BindInputGrad(arg string, idx int, lbn string)
}
