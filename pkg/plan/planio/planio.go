// Package planio reads and writes plans and job definitions as text.
//
// The canonical format is YAML (files ending in ".yaml", ".yml" or ".txt"). Files ending in ".hcl" are read
// and written as HCL: top-level attributes with the same names and structure as the YAML keys.
package planio

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/gomlx/jobflow/pkg/core/job"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/gomlx/jobflow/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Format of a text file.
type Format int

const (
	FormatYAML Format = iota
	FormatHCL
)

// FormatOf returns the format of a file from its extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".txt":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	}
	return FormatYAML, errors.Errorf("unknown text format for %q: use .yaml, .yml, .txt or .hcl", path)
}

// decodeFile reads path from fs and decodes it into target, a pointer to a struct with yaml tags.
func decodeFile(fs afero.Fs, path string, target any) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %q", path)
	}
	if format == FormatHCL {
		if contents, err = hclToYAML(contents, path); err != nil {
			return err
		}
	}
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if err := decoder.Decode(target); err != nil {
		return errors.Wrapf(err, "failed to decode %q", path)
	}
	return nil
}

// ParseFromText reads a plan file.
func ParseFromText(fs afero.Fs, path string) (*plan.Plan, error) {
	p := &plan.Plan{}
	if err := decodeFile(fs, path, p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "plan file %q", path)
	}
	klog.V(1).Infof("planio: read plan %q with %d tasks from %q", p.JobName, len(p.Tasks), path)
	return p, nil
}

// SerializeToText returns the canonical YAML text of the plan: equal plans serialize to identical text.
func SerializeToText(p *plan.Plan) (string, error) {
	return encode(p, "plan "+p.JobName)
}

// WriteToFile writes the plan to path, in the format given by its extension, creating its directory if
// needed.
func WriteToFile(fs afero.Fs, path string, p *plan.Plan) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	text, err := SerializeToText(p)
	if err != nil {
		return err
	}
	contents := []byte(text)
	if format == FormatHCL {
		if contents, err = yamlToHCL(contents); err != nil {
			return errors.WithMessagef(err, "plan %q", p.JobName)
		}
	}
	if err := fsutil.EnsureDirectoryExists(fs, filepath.Dir(path)); err != nil {
		return err
	}
	return errors.Wrapf(afero.WriteFile(fs, path, contents, 0o644), "failed to write plan to %q", path)
}

func encode(value any, what string) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(value); err != nil {
		return "", errors.Wrapf(err, "failed to serialize %s", what)
	}
	if err := encoder.Close(); err != nil {
		return "", errors.Wrapf(err, "failed to serialize %s", what)
	}
	return buf.String(), nil
}

// PlacementText is the text form of a placement group.
type PlacementText struct {
	Name       string               `yaml:"name"`
	DeviceType placement.DeviceType `yaml:"device_type"`

	// Devices lists the devices per machine, e.g. "0:0-3,1:0-3".
	Devices string `yaml:"devices"`
}

// JobText is the text form of a job definition: its configuration, placement groups and operators.
type JobText struct {
	job.Config `yaml:",inline"`
	Placements []PlacementText `yaml:"placements,omitempty"`
	Ops        []op.Conf       `yaml:"ops"`
}

// Build creates the job.
func (t *JobText) Build() (*job.Job, error) {
	j := job.New(t.Config)
	for _, p := range t.Placements {
		group, err := placement.Parse(p.Name, p.DeviceType, p.Devices)
		if err != nil {
			return nil, errors.WithMessagef(err, "job %q", t.Name)
		}
		if err := j.AddPlacement(group); err != nil {
			return nil, err
		}
	}
	for _, conf := range t.Ops {
		if _, err := j.AddOp(conf); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// NewJobText returns the text form of a job's definition. Inferred state (blob descriptions, SBP signatures)
// is not included.
func NewJobText(j *job.Job) *JobText {
	t := &JobText{Config: j.Config()}
	for _, g := range j.Placements() {
		t.Placements = append(t.Placements, PlacementText{Name: g.Name(), DeviceType: g.DeviceType(), Devices: g.Spec()})
	}
	for _, o := range j.Ops() {
		t.Ops = append(t.Ops, o.Conf())
	}
	return t
}

// ParseJobFromText reads a job definition file and builds the job.
func ParseJobFromText(fs afero.Fs, path string) (*job.Job, error) {
	t := &JobText{}
	if err := decodeFile(fs, path, t); err != nil {
		return nil, err
	}
	j, err := t.Build()
	if err != nil {
		return nil, errors.WithMessagef(err, "job file %q", path)
	}
	klog.V(1).Infof("planio: read job %q with %d operators from %q", j.Name(), j.NumOps(), path)
	return j, nil
}

// SerializeJobToText returns the YAML text of a job definition.
func SerializeJobToText(j *job.Job) (string, error) {
	return encode(NewJobText(j), "job "+j.Name())
}
