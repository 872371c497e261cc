package op

// unchangedBlobDescs sets every output to the shape of the first input.
func unchangedBlobDescs(ctx *Context) error {
	if len(ctx.op.inputs) == 0 {
		return ctx.Errorf("operator type %q has no inputs and no shape inference", ctx.op.Type())
	}
	first := ctx.inputs[ctx.op.inputs[0].Name()]
	for _, b := range ctx.op.outputs {
		ctx.outputs[b.Name()].Shape = first.Shape.Clone()
	}
	return nil
}

// NaiveInferBatchAxis sets the batch axis of every output to the one of the inputs that have a batch axis.
// Inputs without one (weights, constants) or not inferred yet are ignored. If two inputs have different
// batch axes, or none has one, outputs have no batch axis.
func NaiveInferBatchAxis(ctx *Context) error {
	agreed := NoBatchAxis()
	for _, b := range ctx.op.inputs {
		axis := ctx.inputs[b.Name()].BatchAxis
		if !axis.HasAxis() {
			continue
		}
		if !agreed.HasAxis() {
			agreed = axis
			continue
		}
		if agreed != axis {
			agreed = NoBatchAxis()
			break
		}
	}
	for _, b := range ctx.op.outputs {
		ctx.outputs[b.Name()].BatchAxis = agreed
	}
	return nil
}

// SetAllOutputsBatchAxis sets every output's batch axis.
func SetAllOutputsBatchAxis(ctx *Context, axis BatchAxis) {
	for _, b := range ctx.op.outputs {
		ctx.outputs[b.Name()].BatchAxis = axis
	}
}
