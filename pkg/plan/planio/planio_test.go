package planio_test

import (
	"testing"

	"github.com/gomlx/jobflow/pkg/compiler"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/gomlx/jobflow/pkg/plan/planio"
	"github.com/janpfeifer/must"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobYAML = `name: train
default_placement: host
training: true
loss_lbns: [loss/loss_0]
placements:
  - name: host
    device_type: cpu
    devices: "0:0"
ops:
  - name: x
    type: input
    attrs: {shape: [4, 3]}
  - name: label
    type: input
    attrs: {shape: [4, 3]}
  - name: w
    type: variable
    trainable: true
    attrs: {shape: [4, 3], initializer: ones}
  - name: m
    type: elementwise_maximum
    inputs: {x: [x/out_0], y: [w/out_0]}
  - name: loss
    type: smooth_l1
    inputs: {prediction: [m/z_0], label: [label/out_0]}
    attrs: {beta: 0.5}
`

const jobHCL = `
name              = "train"
default_placement = "host"
training          = true
loss_lbns         = ["loss/loss_0"]
placements = [
  { name = "host", device_type = "cpu", devices = "0:0" },
]
ops = [
  { name = "x", type = "input", attrs = { shape = [4, 3] } },
  { name = "label", type = "input", attrs = { shape = [4, 3] } },
  { name = "w", type = "variable", trainable = true, attrs = { shape = [4, 3], initializer = "ones" } },
  { name = "m", type = "elementwise_maximum", inputs = { x = ["x/out_0"], y = ["w/out_0"] } },
  { name = "loss", type = "smooth_l1", inputs = { prediction = ["m/z_0"], label = ["label/out_0"] }, attrs = { beta = 0.5 } },
]
`

func TestParseJob(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/jobs/train.yaml", []byte(jobYAML), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/jobs/train.hcl", []byte(jobHCL), 0o644))

	fromYAML, err := planio.ParseJobFromText(fs, "/jobs/train.yaml")
	require.NoError(t, err)
	assert.Equal(t, "train", fromYAML.Name())
	assert.Equal(t, 5, fromYAML.NumOps())
	assert.True(t, fromYAML.Config().Training)
	group, found := fromYAML.Placement("host")
	require.True(t, found)
	assert.Equal(t, placement.DeviceTypeCPU, group.DeviceType())
	w, _ := fromYAML.Op("w")
	assert.True(t, w.Trainable())

	fromHCL, err := planio.ParseJobFromText(fs, "/jobs/train.hcl")
	require.NoError(t, err)
	assert.Equal(t, must.M1(planio.SerializeJobToText(fromYAML)), must.M1(planio.SerializeJobToText(fromHCL)))

	// Both compile to the same plan.
	yamlPlan := must.M1(plan.Assign(must.M1(compiler.New().Compile(fromYAML)), plan.AssignOptions{}))
	hclPlan := must.M1(plan.Assign(must.M1(compiler.New().Compile(fromHCL)), plan.AssignOptions{}))
	assert.Equal(t, must.M1(planio.SerializeToText(yamlPlan)), must.M1(planio.SerializeToText(hclPlan)))

	// The job text round trips.
	text := must.M1(planio.SerializeJobToText(fromYAML))
	require.NoError(t, afero.WriteFile(fs, "/jobs/again.yml", []byte(text), 0o644))
	again := must.M1(planio.ParseJobFromText(fs, "/jobs/again.yml"))
	assert.Equal(t, text, must.M1(planio.SerializeJobToText(again)))
}

func TestPlanRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "train.yaml", []byte(jobYAML), 0o644))
	j := must.M1(planio.ParseJobFromText(fs, "train.yaml"))
	p := must.M1(plan.Assign(must.M1(compiler.New().Compile(j)), plan.AssignOptions{}))

	text, err := planio.SerializeToText(p)
	require.NoError(t, err)
	assert.Contains(t, text, "job_name: train")
	assert.Contains(t, text, "device_type: cpu")
	require.NoError(t, planio.WriteToFile(fs, "plan.txt", p))

	parsed, err := planio.ParseFromText(fs, "plan.txt")
	require.NoError(t, err)
	assert.Len(t, parsed.Tasks, len(p.Tasks))
	assert.Equal(t, text, must.M1(planio.SerializeToText(parsed)))
	for i := range p.Tasks {
		assert.Equal(t, p.Tasks[i].TaskID, parsed.Tasks[i].TaskID)
		assert.Equal(t, p.Tasks[i].Consumers, parsed.Tasks[i].Consumers)
		assert.Equal(t, p.Tasks[i].DeviceType, parsed.Tasks[i].DeviceType)
	}

	// HCL plans hold the same content, and the directory is created.
	require.NoError(t, planio.WriteToFile(fs, "out/plan.hcl", p))
	hclText := string(must.M1(afero.ReadFile(fs, "out/plan.hcl")))
	assert.Contains(t, hclText, "job_name")
	assert.Contains(t, hclText, `"train"`)
	parsed, err = planio.ParseFromText(fs, "out/plan.hcl")
	require.NoError(t, err)
	assert.Equal(t, text, must.M1(planio.SerializeToText(parsed)))

	require.ErrorContains(t, planio.WriteToFile(fs, "plan.json", p), "unknown text format")
}

const planHCL = `
job_name = "eval"
tasks = [
  { task_id = 10, machine_id = 0, device_type = "cpu", op = { name = "a", type = "tick" }, consumers = [11] },
  { task_id = 11, machine_id = 0, device_type = "cpu", op = { name = "b", type = "tick", inputs = { tick = ["a/out_0"] } }, consumers = [12] },
  { task_id = 1099511627776, machine_id = 1, device_type = "gpu", device_id = 1, op = { name = "c", type = "sink_tick" } },
]
`

func TestParsePlanHCL(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "eval.hcl", []byte(planHCL), 0o644))
	_, err := planio.ParseFromText(fs, "eval.hcl")
	require.ErrorContains(t, err, "unknown consumer")

	fixed := []byte(planHCL[:len(planHCL)-3] + "\n  { task_id = 12, machine_id = 0, device_type = \"cpu\", op = { name = \"d\", type = \"sink_tick\" } },\n]\n")
	require.NoError(t, afero.WriteFile(fs, "eval.hcl", fixed, 0o644))
	p, err := planio.ParseFromText(fs, "eval.hcl")
	require.NoError(t, err)
	assert.Equal(t, "eval", p.JobName)
	require.Len(t, p.Tasks, 4)
	assert.Equal(t, plan.TaskID(10), p.Tasks[0].TaskID)
	assert.Equal(t, []plan.TaskID{11}, p.Tasks[0].Consumers)
	assert.Equal(t, []string{"a/out_0"}, p.Tasks[1].Op.Inputs["tick"])
	assert.Equal(t, plan.MakeTaskID(1, 0, 0), p.Tasks[2].TaskID)
	assert.Equal(t, placement.DeviceTypeGPU, p.Tasks[2].DeviceType)
	assert.Equal(t, []int{0, 1}, p.Machines())
}

func TestParseErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := planio.ParseFromText(fs, "missing.yaml")
	require.ErrorContains(t, err, "failed to read")

	require.NoError(t, afero.WriteFile(fs, "plan.json", []byte("{}"), 0o644))
	_, err = planio.ParseFromText(fs, "plan.json")
	require.ErrorContains(t, err, "unknown text format")

	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("job_name: x\nbogus: 1\n"), 0o644))
	_, err = planio.ParseFromText(fs, "bad.yaml")
	require.ErrorContains(t, err, "failed to decode")

	require.NoError(t, afero.WriteFile(fs, "bad.hcl", []byte("job_name = \n"), 0o644))
	_, err = planio.ParseFromText(fs, "bad.hcl")
	require.ErrorContains(t, err, "failed to parse HCL")

	require.NoError(t, afero.WriteFile(fs, "dup.yaml", []byte("job_name: x\ntasks:\n  - task_id: 1\n  - task_id: 1\n"), 0o644))
	_, err = planio.ParseFromText(fs, "dup.yaml")
	require.ErrorContains(t, err, "more than once")

	require.NoError(t, afero.WriteFile(fs, "job.yaml", []byte("name: j\nops:\n  - {name: x, type: nonexistent}\n"), 0o644))
	_, err = planio.ParseJobFromText(fs, "job.yaml")
	require.Error(t, err)
}
