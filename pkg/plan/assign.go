package plan

import (
	"slices"

	"github.com/gomlx/jobflow/pkg/core/job"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultCPUThreadsPerMachine is the number of threads reserved for CPU devices on each machine: GPU
// device threads come after them.
const DefaultCPUThreadsPerMachine = 8

// AssignOptions configures Assign.
type AssignOptions struct {
	// ExpandReplicas emits one task per replica (parallel id) of each operator, instead of one task per
	// operator running on the first device of its group.
	ExpandReplicas bool

	// CPUThreadsPerMachine defaults to DefaultCPUThreadsPerMachine.
	CPUThreadsPerMachine int
}

// ThreadID returns the runtime thread of a device.
func (o AssignOptions) ThreadID(deviceType placement.DeviceType, device int) int {
	if deviceType == placement.DeviceTypeGPU {
		return o.cpuThreads() + device
	}
	return device
}

func (o AssignOptions) cpuThreads() int {
	if o.CPUThreadsPerMachine <= 0 {
		return DefaultCPUThreadsPerMachine
	}
	return o.CPUThreadsPerMachine
}

// Assign creates the tasks of a frozen (compiled) job, in topological order of its operators, and wires
// each task to the tasks consuming its outputs.
//
// When replicas are expanded, a replica is wired to the consumer replica with the same parallel id if
// both groups have the same size, and to every consumer replica otherwise.
func Assign(j *job.Job, options AssignOptions) (*Plan, error) {
	if !j.IsFrozen() {
		return nil, errors.Errorf("job %q must be compiled (frozen) before assigning tasks", j.Name())
	}
	order, err := j.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	p := &Plan{JobName: j.Name()}
	opTasks := make(map[string][]int, len(order))
	nextLocal := make(map[[2]int]int)
	for _, o := range order {
		group, found := j.OpPlacement(o.Name())
		if !found {
			return nil, errors.Errorf("job %q: operator %q has no placement", j.Name(), o.Name())
		}
		replicas := 1
		if options.ExpandReplicas {
			replicas = group.ParallelNum()
		}
		for parallelID := range replicas {
			device := group.Device(parallelID)
			if group.DeviceType() == placement.DeviceTypeCPU && device.Device >= options.cpuThreads() {
				return nil, errors.Errorf("operator %q: CPU device %s exceeds the %d CPU threads per machine",
					o.Name(), device, options.cpuThreads())
			}
			thread := options.ThreadID(group.DeviceType(), device.Device)
			key := [2]int{device.Machine, thread}
			local := nextLocal[key]
			nextLocal[key]++
			task := Task{
				TaskID:      MakeTaskID(device.Machine, thread, local),
				MachineID:   device.Machine,
				ThreadID:    thread,
				DeviceType:  group.DeviceType(),
				DeviceID:    device.Device,
				ParallelID:  parallelID,
				ParallelNum: group.ParallelNum(),
				Op:          o.Conf(),
			}
			task.Op.Placement = group.Name()
			if err := fillTaskBlobs(j, o, &task, options.ExpandReplicas); err != nil {
				return nil, err
			}
			opTasks[o.Name()] = append(opTasks[o.Name()], len(p.Tasks))
			p.Tasks = append(p.Tasks, task)
		}
	}

	for _, o := range order {
		for _, producerIdx := range opTasks[o.Name()] {
			producer := &p.Tasks[producerIdx]
			var consumers []TaskID
			for _, lbn := range o.OutputLBNs() {
				for _, consumerOp := range j.Consumers(lbn) {
					for _, consumerIdx := range opTasks[consumerOp.Name()] {
						consumer := &p.Tasks[consumerIdx]
						if options.ExpandReplicas && consumer.ParallelNum == producer.ParallelNum &&
							consumer.ParallelID != producer.ParallelID {
							continue
						}
						consumers = append(consumers, consumer.TaskID)
					}
				}
			}
			slices.Sort(consumers)
			producer.Consumers = slices.Compact(consumers)
		}
	}
	klog.V(1).Infof("plan: job %q assigned to %d tasks on %d machines", j.Name(), len(p.Tasks), len(p.Machines()))
	return p, nil
}

// fillTaskBlobs records the descriptions of the blobs of the task and its SBP signature. Replicas get the
// local (per-device) shapes of their outputs.
func fillTaskBlobs(j *job.Job, o *op.Operator, task *Task, local bool) error {
	task.BlobDescs = make(map[string]BlobDescText)
	for _, lbn := range o.InputLBNs() {
		desc, found := j.BlobDesc(lbn)
		if !found {
			return errors.Errorf("job %q: blob %q was not inferred", j.Name(), lbn)
		}
		task.BlobDescs[lbn] = NewBlobDescText(desc)
	}
	signature := o.SbpSignature()
	for _, b := range o.OutputBindings() {
		desc, found := j.BlobDesc(b.LBN)
		if !found {
			return errors.Errorf("job %q: blob %q was not inferred", j.Name(), b.LBN)
		}
		if parallel, found := signature.Get(b.Name()); local && found {
			shape, err := parallel.LocalShape(desc.Shape, task.ParallelContext())
			if err != nil {
				return errors.WithMessagef(err, "operator %q output %s", o.Name(), b.Name())
			}
			desc.Shape = shape
		}
		task.BlobDescs[b.LBN] = NewBlobDescText(desc)
	}
	if len(signature) > 0 {
		task.SbpSignature = make(map[string]string, len(signature))
		for binding, parallel := range signature {
			task.SbpSignature[binding] = parallel.String()
		}
	}
	return nil
}
