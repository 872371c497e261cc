// Package plan holds the physical plan of a compiled job: the tasks executing its operators, each pinned
// to a machine, a thread and a device, and wired to the tasks consuming its outputs.
//
// Plans are produced from frozen jobs with Assign, and read and written as text by package planio.
package plan

import (
	"slices"
	"strconv"

	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/gomlx/jobflow/pkg/support/sets"
	"github.com/pkg/errors"
)

// TaskID identifies a task in a plan. Ids are opaque: where a task runs is given by its MachineID and
// ThreadID fields. Assign builds them with MakeTaskID, which encodes the machine, the thread and the index
// of the task among the tasks of that thread.
type TaskID int64

const (
	machineShift = 40
	threadShift  = 24
	threadMask   = 1<<(machineShift-threadShift) - 1
	localMask    = 1<<threadShift - 1
)

// MakeTaskID encodes a task id.
func MakeTaskID(machine, thread, local int) TaskID {
	return TaskID(int64(machine)<<machineShift | int64(thread&threadMask)<<threadShift | int64(local&localMask))
}

// Machine where the task runs.
func (id TaskID) Machine() int { return int(int64(id) >> machineShift) }

// Thread of the machine where the task runs.
func (id TaskID) Thread() int { return int(int64(id)>>threadShift) & threadMask }

// Local index of the task within its thread.
func (id TaskID) Local() int { return int(id) & localMask }

// String implements fmt.Stringer.
func (id TaskID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// BlobDescText is the text form of an op.BlobDesc.
type BlobDescText struct {
	DType      string `yaml:"dtype"`
	Dimensions []int  `yaml:"dimensions,flow"`
	BatchAxis  string `yaml:"batch_axis,omitempty"`
}

// NewBlobDescText converts a blob description to text form.
func NewBlobDescText(desc op.BlobDesc) BlobDescText {
	text := BlobDescText{DType: desc.Shape.DType.String(), Dimensions: slices.Clone(desc.Shape.Dimensions)}
	if desc.BatchAxis.IsKnown() {
		text.BatchAxis = desc.BatchAxis.String()
	}
	if text.Dimensions == nil {
		text.Dimensions = []int{}
	}
	return text
}

// BlobDesc parses the text form.
func (t BlobDescText) BlobDesc() (op.BlobDesc, error) {
	dtype, err := dtypes.FromName(t.DType)
	if err != nil {
		return op.BlobDesc{}, err
	}
	shape, err := shapes.MakeChecked(dtype, t.Dimensions...)
	if err != nil {
		return op.BlobDesc{}, err
	}
	desc := op.BlobDesc{Shape: shape}
	if t.BatchAxis != "" {
		if desc.BatchAxis, err = op.ParseBatchAxis(t.BatchAxis); err != nil {
			return op.BlobDesc{}, err
		}
	}
	return desc, nil
}

// Task executes one operator (or one replica of it) on one device.
type Task struct {
	TaskID     TaskID               `yaml:"task_id"`
	MachineID  int                  `yaml:"machine_id"`
	ThreadID   int                  `yaml:"thread_id"`
	DeviceType placement.DeviceType `yaml:"device_type"`
	DeviceID   int                  `yaml:"device_id"`

	ParallelID  int `yaml:"parallel_id"`
	ParallelNum int `yaml:"parallel_num"`

	Op op.Conf `yaml:"op"`

	// BlobDescs describes every input and output blob of the operator, by LBN.
	BlobDescs map[string]BlobDescText `yaml:"blob_descs,omitempty"`

	// SbpSignature maps each binding of the operator to the text form of its distribution.
	SbpSignature map[string]string `yaml:"sbp_signature,omitempty"`

	// Consumers are the tasks reading the outputs of this one, sorted.
	Consumers []TaskID `yaml:"consumers,omitempty,flow"`
}

// ParallelContext of the task.
func (t *Task) ParallelContext() placement.ParallelContext {
	return placement.ParallelContext{ParallelID: t.ParallelID, ParallelNum: t.ParallelNum}
}

// BlobDesc returns the parsed description of a blob of the task.
func (t *Task) BlobDesc(lbn string) (op.BlobDesc, error) {
	text, found := t.BlobDescs[lbn]
	if !found {
		return op.BlobDesc{}, errors.Errorf("task %s has no description of blob %q", t.TaskID, lbn)
	}
	desc, err := text.BlobDesc()
	return desc, errors.WithMessagef(err, "task %s blob %q", t.TaskID, lbn)
}

// Plan is the set of tasks of one job.
type Plan struct {
	JobName string `yaml:"job_name"`
	Tasks   []Task `yaml:"tasks"`
}

// Task returns the task with the given id.
func (p *Plan) Task(id TaskID) (*Task, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].TaskID == id {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}

// TasksOfMachine returns the tasks placed on the given machine, in plan order.
func (p *Plan) TasksOfMachine(machine int) []*Task {
	var tasks []*Task
	for i := range p.Tasks {
		if p.Tasks[i].MachineID == machine {
			tasks = append(tasks, &p.Tasks[i])
		}
	}
	return tasks
}

// Machines returns the sorted ids of the machines used by the plan.
func (p *Plan) Machines() []int {
	machines := sets.Make[int]()
	for _, t := range p.Tasks {
		machines.Insert(t.MachineID)
	}
	return sets.Sorted(machines)
}

// Producers returns, for every task, the sorted tasks it consumes from.
func (p *Plan) Producers() map[TaskID][]TaskID {
	producers := make(map[TaskID][]TaskID, len(p.Tasks))
	for _, t := range p.Tasks {
		for _, consumer := range t.Consumers {
			producers[consumer] = append(producers[consumer], t.TaskID)
		}
	}
	for _, list := range producers {
		slices.Sort(list)
	}
	return producers
}

// Validate checks that task ids are unique, that every task has a valid machine and thread and that
// consumers refer to tasks of the plan.
func (p *Plan) Validate() error {
	seen := sets.Make[TaskID](len(p.Tasks))
	for _, t := range p.Tasks {
		if seen.Has(t.TaskID) {
			return errors.Errorf("plan %q: task id %d used more than once", p.JobName, t.TaskID)
		}
		seen.Insert(t.TaskID)
		if t.MachineID < 0 || t.ThreadID < 0 {
			return errors.Errorf("plan %q: task %d has invalid machine id %d or thread id %d",
				p.JobName, t.TaskID, t.MachineID, t.ThreadID)
		}
	}
	for _, t := range p.Tasks {
		for _, consumer := range t.Consumers {
			if !seen.Has(consumer) {
				return errors.Errorf("plan %q: task %d lists unknown consumer %d", p.JobName, t.TaskID, consumer)
			}
		}
	}
	return nil
}
