package compiler

import (
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultGroupSpec is the device list of the placement group created for jobs that define none.
const DefaultGroupSpec = "0:0"

// PlacementPass assigns each operator to the placement group named in its configuration, or to the default
// group. Jobs without any placement group get a single-CPU group named placement.DefaultGroupName.
type PlacementPass struct{}

// Name implements Pass.
func (PlacementPass) Name() string { return "placement" }

// Run implements Pass.
func (PlacementPass) Run(state *State) error {
	j := state.Job
	defaultGroup := state.Config.DefaultPlacement
	if len(j.Placements()) == 0 {
		group, err := placement.Parse(placement.DefaultGroupName, placement.DeviceTypeCPU, DefaultGroupSpec)
		if err != nil {
			return err
		}
		if err := j.AddPlacement(group); err != nil {
			return err
		}
		klog.V(2).Infof("placement: job %q has no placement groups, using %s", j.Name(), group)
		if defaultGroup == "" {
			defaultGroup = group.Name()
		}
	}
	if defaultGroup == "" {
		if placements := j.Placements(); len(placements) == 1 {
			defaultGroup = placements[0].Name()
		}
	}
	for _, o := range j.Ops() {
		groupName := o.Placement()
		if groupName == "" {
			groupName = defaultGroup
		}
		if groupName == "" {
			return errors.WithStack(&op.ConfigError{OpName: o.Name(), OpType: o.Type(),
				Reason: "no placement configured and the job has no default placement group"})
		}
		if _, found := j.Placement(groupName); !found {
			return errors.WithStack(&op.ConfigError{OpName: o.Name(), OpType: o.Type(),
				Reason: "unknown placement group " + groupName})
		}
		if err := j.SetOpPlacement(o.Name(), groupName); err != nil {
			return err
		}
	}
	state.Publish("default_group", defaultGroup)
	return nil
}
