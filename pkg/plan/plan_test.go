package plan_test

import (
	"testing"

	"github.com/gomlx/jobflow/pkg/compiler"
	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/job"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/gomlx/jobflow/pkg/ops"
	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskID(t *testing.T) {
	id := plan.MakeTaskID(1, 9, 3)
	assert.Equal(t, plan.TaskID(1<<40|9<<24|3), id)
	assert.Equal(t, 1, id.Machine())
	assert.Equal(t, 9, id.Thread())
	assert.Equal(t, 3, id.Local())
	assert.Equal(t, "1099662622723", id.String())
	assert.Equal(t, 0, plan.MakeTaskID(0, 0, 11).Machine())
}

func TestBlobDescText(t *testing.T) {
	desc := op.BlobDesc{Shape: shapes.Make(dtypes.Float16, 2, 5), BatchAxis: op.BatchAxisAt(1)}
	text := plan.NewBlobDescText(desc)
	assert.Equal(t, plan.BlobDescText{DType: "Float16", Dimensions: []int{2, 5}, BatchAxis: "1"}, text)
	back, err := text.BlobDesc()
	require.NoError(t, err)
	assert.True(t, desc.Equal(back))

	scalar := plan.NewBlobDescText(op.BlobDesc{Shape: shapes.Make(dtypes.Int32)})
	assert.Equal(t, []int{}, scalar.Dimensions)
	assert.Equal(t, "", scalar.BatchAxis)

	_, err = plan.BlobDescText{DType: "complex7"}.BlobDesc()
	require.Error(t, err)
}

// crossJob builds an input x on a CPU and an identity of it on two GPUs, and compiles it.
func crossJob(t *testing.T) *job.Job {
	j := job.New(job.Config{Name: "cross"})
	must.M(j.AddPlacement(must.M1(placement.Parse("host", placement.DeviceTypeCPU, "0:0"))))
	must.M(j.AddPlacement(must.M1(placement.Parse("pair", placement.DeviceTypeGPU, "0:0-1"))))
	x := ops.InputConf("x", shapes.Make(dtypes.Float32, 4, 3))
	x.Placement = "host"
	must.M1(j.AddOp(x))
	id := ops.IdentityConf("id", "x/out_0")
	id.Placement = "pair"
	must.M1(j.AddOp(id))
	compiled, err := compiler.New().Compile(j)
	require.NoError(t, err)
	return compiled
}

func taskOps(p *plan.Plan) []string {
	names := make([]string, len(p.Tasks))
	for i, task := range p.Tasks {
		names[i] = task.Op.Name
	}
	return names
}

func TestAssign(t *testing.T) {
	compiled := crossJob(t)
	boxing := compiler.BoxingOpName("id", "in_0")
	p, err := plan.Assign(compiled, plan.AssignOptions{})
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	assert.Equal(t, "cross", p.JobName)
	assert.Equal(t, []string{"x", boxing, "id"}, taskOps(p))

	x, boxingTask, id := p.Tasks[0], p.Tasks[1], p.Tasks[2]
	assert.Equal(t, plan.MakeTaskID(0, 0, 0), x.TaskID)
	assert.Equal(t, placement.DeviceTypeCPU, x.DeviceType)
	assert.Equal(t, plan.MakeTaskID(0, plan.DefaultCPUThreadsPerMachine, 0), boxingTask.TaskID)
	assert.Equal(t, plan.MakeTaskID(0, plan.DefaultCPUThreadsPerMachine, 1), id.TaskID)
	assert.Equal(t, placement.DeviceTypeGPU, id.DeviceType)
	assert.Equal(t, 2, id.ParallelNum)
	assert.Equal(t, "pair", id.Op.Placement)

	assert.Equal(t, []plan.TaskID{boxingTask.TaskID}, x.Consumers)
	assert.Equal(t, []plan.TaskID{id.TaskID}, boxingTask.Consumers)
	assert.Empty(t, id.Consumers)
	assert.Equal(t, map[plan.TaskID][]plan.TaskID{
		boxingTask.TaskID: {x.TaskID},
		id.TaskID:         {boxingTask.TaskID},
	}, p.Producers())

	desc, err := id.BlobDesc("id/out_0")
	require.NoError(t, err)
	assert.Equal(t, "(Float32)[4 3]", desc.Shape.String())
	assert.Equal(t, "S(0)", id.SbpSignature["out_0"])
	_, err = id.BlobDesc("x/out_0")
	require.Error(t, err)

	assert.Equal(t, []int{0}, p.Machines())
	assert.Len(t, p.TasksOfMachine(0), 3)
	assert.Empty(t, p.TasksOfMachine(1))
	found, ok := p.Task(id.TaskID)
	require.True(t, ok)
	assert.Equal(t, "id", found.Op.Name)
}

func TestAssignExpandReplicas(t *testing.T) {
	compiled := crossJob(t)
	boxing := compiler.BoxingOpName("id", "in_0")
	p, err := plan.Assign(compiled, plan.AssignOptions{ExpandReplicas: true, CPUThreadsPerMachine: 2})
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	assert.Equal(t, []string{"x", boxing, boxing, "id", "id"}, taskOps(p))

	box0, box1, id0, id1 := p.Tasks[1], p.Tasks[2], p.Tasks[3], p.Tasks[4]
	assert.Equal(t, plan.MakeTaskID(0, 2, 0), box0.TaskID)
	assert.Equal(t, plan.MakeTaskID(0, 3, 0), box1.TaskID)
	assert.Equal(t, plan.MakeTaskID(0, 2, 1), id0.TaskID)
	assert.Equal(t, plan.MakeTaskID(0, 3, 1), id1.TaskID)
	assert.Equal(t, 1, id1.ParallelID)

	// The single x feeds both replicas, and each replica feeds its peer.
	assert.Equal(t, []plan.TaskID{box0.TaskID, box1.TaskID}, p.Tasks[0].Consumers)
	assert.Equal(t, []plan.TaskID{id0.TaskID}, box0.Consumers)
	assert.Equal(t, []plan.TaskID{id1.TaskID}, box1.Consumers)

	// Replicas see their local slice of split outputs.
	desc := must.M1(id1.BlobDesc("id/out_0"))
	assert.Equal(t, "(Float32)[2 3]", desc.Shape.String())
}

func TestAssignErrors(t *testing.T) {
	j := job.New(job.Config{Name: "raw"})
	must.M1(j.AddOp(ops.InputConf("x", shapes.Make(dtypes.Float32, 2))))
	_, err := plan.Assign(j, plan.AssignOptions{})
	require.ErrorContains(t, err, "frozen")

	j = job.New(job.Config{Name: "wide"})
	must.M(j.AddPlacement(must.M1(placement.Parse("far", placement.DeviceTypeCPU, "0:9"))))
	must.M1(j.AddOp(ops.InputConf("x", shapes.Make(dtypes.Float32, 2))))
	compiled := must.M1(compiler.New().Compile(j))
	_, err = plan.Assign(compiled, plan.AssignOptions{})
	require.ErrorContains(t, err, "CPU threads")
	p := must.M1(plan.Assign(compiled, plan.AssignOptions{CPUThreadsPerMachine: 10}))
	assert.Equal(t, 9, p.Tasks[0].ThreadID)
}

func TestValidate(t *testing.T) {
	p := &plan.Plan{JobName: "dup", Tasks: []plan.Task{{TaskID: 1}, {TaskID: 1}}}
	require.ErrorContains(t, p.Validate(), "more than once")
	p = &plan.Plan{JobName: "dangling", Tasks: []plan.Task{{TaskID: 1, Consumers: []plan.TaskID{2}}}}
	require.ErrorContains(t, p.Validate(), "unknown consumer")
	p = &plan.Plan{JobName: "threadless", Tasks: []plan.Task{{TaskID: 1, ThreadID: -1}}}
	require.ErrorContains(t, p.Validate(), "invalid machine id 0 or thread id -1")

	// Ids don't need to encode where tasks run.
	p = &plan.Plan{JobName: "free", Tasks: []plan.Task{
		{TaskID: 10, MachineID: 1, ThreadID: 3, Consumers: []plan.TaskID{11}},
		{TaskID: 11, MachineID: 1}}}
	require.NoError(t, p.Validate())
}
