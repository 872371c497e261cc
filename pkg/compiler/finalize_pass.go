package compiler

// FinalizePass freezes the job: it becomes immutable.
type FinalizePass struct{}

// Name implements Pass.
func (FinalizePass) Name() string { return "finalize" }

// Run implements Pass.
func (FinalizePass) Run(state *State) error {
	state.Job.Freeze()
	return nil
}
