// Package job holds the job graph: the operators of one job stored in insertion order, the descriptions of
// the blobs they produce, the placement groups they run on, and the job-level configuration.
//
// Operators and blobs refer to each other by name only. A job is mutable while being compiled, and
// Freeze makes it immutable: mutators fail with ErrFrozen afterwards.
package job

import (
	"slices"
	"sort"

	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/pkg/errors"
)

// Config is the job-level configuration.
type Config struct {
	Name string `yaml:"name"`

	// DefaultPlacement is the placement group of operators that don't configure one.
	DefaultPlacement string `yaml:"default_placement,omitempty"`

	// Training jobs get a backward graph generated for LossLBNs.
	Training bool     `yaml:"training,omitempty"`
	LossLBNs []string `yaml:"loss_lbns,omitempty"`
}

// ErrFrozen is returned (wrapped) by mutators of a frozen job.
var ErrFrozen = errors.New("job is frozen")

// Job is the graph of operators of one job.
type Job struct {
	config    Config
	ops       []*op.Operator
	index     map[string]int
	producers map[string]int
	consumers map[string][]int
	blobDescs map[string]op.BlobDesc
	groups    map[string]*placement.Group
	opGroup   map[string]string
	frozen    bool
}

// New creates an empty job.
func New(config Config) *Job {
	return &Job{
		config:    cloneConfig(config),
		index:     make(map[string]int),
		producers: make(map[string]int),
		consumers: make(map[string][]int),
		blobDescs: make(map[string]op.BlobDesc),
		groups:    make(map[string]*placement.Group),
		opGroup:   make(map[string]string),
	}
}

func cloneConfig(c Config) Config {
	c.LossLBNs = slices.Clone(c.LossLBNs)
	return c
}

// Name of the job.
func (j *Job) Name() string { return j.config.Name }

// Config returns a copy of the job configuration.
func (j *Job) Config() Config { return cloneConfig(j.config) }

// IsFrozen returns whether the job was frozen.
func (j *Job) IsFrozen() bool { return j.frozen }

// Freeze makes the job immutable.
func (j *Job) Freeze() { j.frozen = true }

func (j *Job) checkMutable(what string) error {
	if j.frozen {
		return errors.Wrapf(ErrFrozen, "job %q: can't %s", j.config.Name, what)
	}
	return nil
}

// AddPlacement adds a placement group. Group names must be unique.
func (j *Job) AddPlacement(group *placement.Group) error {
	if err := j.checkMutable("add placement"); err != nil {
		return err
	}
	if _, found := j.groups[group.Name()]; found {
		return errors.Errorf("job %q: placement group %q defined more than once", j.config.Name, group.Name())
	}
	j.groups[group.Name()] = group
	return nil
}

// Placement returns the placement group by name.
func (j *Job) Placement(name string) (*placement.Group, bool) {
	g, found := j.groups[name]
	return g, found
}

// Placements returns the placement groups sorted by name.
func (j *Job) Placements() []*placement.Group {
	groups := make([]*placement.Group, 0, len(j.groups))
	for _, g := range j.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].Name() < groups[b].Name() })
	return groups
}

// AddOp creates an operator from conf and adds it to the job. Operator names must be unique; the outputs
// are registered as blobs produced by the new operator.
func (j *Job) AddOp(conf op.Conf) (*op.Operator, error) {
	if err := j.checkMutable("add operator"); err != nil {
		return nil, err
	}
	if _, found := j.index[conf.Name]; found {
		return nil, errors.Errorf("job %q: operator %q defined more than once", j.config.Name, conf.Name)
	}
	o, err := op.New(conf)
	if err != nil {
		return nil, err
	}
	idx := len(j.ops)
	j.ops = append(j.ops, o)
	j.index[o.Name()] = idx
	for _, lbn := range o.OutputLBNs() {
		j.producers[lbn] = idx
	}
	for _, lbn := range o.InputLBNs() {
		j.consumers[lbn] = append(j.consumers[lbn], idx)
	}
	return o, nil
}

// NumOps returns the number of operators.
func (j *Job) NumOps() int { return len(j.ops) }

// Ops returns the operators in insertion order.
func (j *Job) Ops() []*op.Operator { return slices.Clone(j.ops) }

// Op returns the operator by name.
func (j *Job) Op(name string) (*op.Operator, bool) {
	idx, found := j.index[name]
	if !found {
		return nil, false
	}
	return j.ops[idx], true
}

// InsertionIndex returns the position of the operator in insertion order.
func (j *Job) InsertionIndex(name string) (int, bool) {
	idx, found := j.index[name]
	return idx, found
}

// Producer returns the operator producing the blob.
func (j *Job) Producer(lbn string) (*op.Operator, bool) {
	idx, found := j.producers[lbn]
	if !found {
		return nil, false
	}
	return j.ops[idx], true
}

// Consumers returns the operators consuming the blob, in insertion order and without repetitions.
func (j *Job) Consumers(lbn string) []*op.Operator {
	indices := slices.Compact(slices.Sorted(slices.Values(j.consumers[lbn])))
	consumers := make([]*op.Operator, len(indices))
	for i, idx := range indices {
		consumers[i] = j.ops[idx]
	}
	return consumers
}

// RebindInput rebinds one input binding of an operator to another blob.
func (j *Job) RebindInput(opName, binding, newLBN string) error {
	if err := j.checkMutable("rebind input"); err != nil {
		return err
	}
	idx, found := j.index[opName]
	if !found {
		return errors.Errorf("job %q: unknown operator %q", j.config.Name, opName)
	}
	o := j.ops[idx]
	var oldLBN string
	for _, b := range o.InputBindings() {
		if b.Name() == binding {
			oldLBN = b.LBN
		}
	}
	if err := o.ReplaceInputBinding(binding, newLBN); err != nil {
		return err
	}
	if pos := slices.Index(j.consumers[oldLBN], idx); pos >= 0 {
		j.consumers[oldLBN] = slices.Delete(j.consumers[oldLBN], pos, pos+1)
		if len(j.consumers[oldLBN]) == 0 {
			delete(j.consumers, oldLBN)
		}
	}
	j.consumers[newLBN] = append(j.consumers[newLBN], idx)
	return nil
}

// BlobDesc returns the logical description of a blob.
func (j *Job) BlobDesc(lbn string) (op.BlobDesc, bool) {
	desc, found := j.blobDescs[lbn]
	return desc, found
}

// SetBlobDesc sets the logical description of a blob produced by an operator of the job.
func (j *Job) SetBlobDesc(lbn string, desc op.BlobDesc) error {
	if err := j.checkMutable("set blob description"); err != nil {
		return err
	}
	if _, found := j.producers[lbn]; !found {
		return errors.Errorf("job %q: blob %q has no producer", j.config.Name, lbn)
	}
	j.blobDescs[lbn] = desc.Clone()
	return nil
}

// Lookup returns a BlobLookup over the job's blob descriptions.
func (j *Job) Lookup() op.BlobLookup {
	return j.BlobDesc
}

// SetOpPlacement sets the placement group of an operator.
func (j *Job) SetOpPlacement(opName, groupName string) error {
	if err := j.checkMutable("set placement"); err != nil {
		return err
	}
	if _, found := j.index[opName]; !found {
		return errors.Errorf("job %q: unknown operator %q", j.config.Name, opName)
	}
	if _, found := j.groups[groupName]; !found {
		return errors.Errorf("job %q: unknown placement group %q for operator %q", j.config.Name, groupName, opName)
	}
	j.opGroup[opName] = groupName
	return nil
}

// OpPlacement returns the placement group of an operator, if already set.
func (j *Job) OpPlacement(opName string) (*placement.Group, bool) {
	name, found := j.opGroup[opName]
	if !found {
		return nil, false
	}
	return j.groups[name], true
}

// SetSbpSignature sets the signature of an operator.
func (j *Job) SetSbpSignature(opName string, sig sbp.Signature) error {
	if err := j.checkMutable("set SBP signature"); err != nil {
		return err
	}
	o, found := j.Op(opName)
	if !found {
		return errors.Errorf("job %q: unknown operator %q", j.config.Name, opName)
	}
	o.SetSbpSignature(sig)
	return nil
}

// SetTraining sets the training configuration of the job.
func (j *Job) SetTraining(training bool, lossLBNs ...string) error {
	if err := j.checkMutable("set training"); err != nil {
		return err
	}
	j.config.Training = training
	j.config.LossLBNs = slices.Clone(lossLBNs)
	return nil
}

// Clone returns a deep copy of the job, never frozen. Placement groups are immutable and shared.
func (j *Job) Clone() *Job {
	clone := New(j.config)
	clone.ops = make([]*op.Operator, len(j.ops))
	for i, o := range j.ops {
		clone.ops[i] = o.Clone()
	}
	for k, v := range j.index {
		clone.index[k] = v
	}
	for k, v := range j.producers {
		clone.producers[k] = v
	}
	for k, v := range j.consumers {
		clone.consumers[k] = slices.Clone(v)
	}
	for k, v := range j.blobDescs {
		clone.blobDescs[k] = v.Clone()
	}
	for k, v := range j.groups {
		clone.groups[k] = v
	}
	for k, v := range j.opGroup {
		clone.opGroup[k] = v
	}
	return clone
}
