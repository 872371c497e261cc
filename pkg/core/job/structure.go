package job

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type structureNode struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Placement string   `yaml:"placement,omitempty"`
	Sbp       string   `yaml:"sbp,omitempty"`
	Inputs    []string `yaml:"inputs,omitempty"`
	Outputs   []string `yaml:"outputs,omitempty"`
}

type structureEdge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	LBN  string `yaml:"lbn"`
}

type structureGraph struct {
	Job   string          `yaml:"job"`
	Nodes []structureNode `yaml:"nodes"`
	Edges []structureEdge `yaml:"edges,omitempty"`
}

// StructureGraph returns a YAML description of the graph structure: one node per operator, in topological
// order, and one edge per consumed blob. It's meant for visualization and debugging.
func (j *Job) StructureGraph() (string, error) {
	order, err := j.TopologicalOrder()
	if err != nil {
		return "", err
	}
	graph := structureGraph{Job: j.config.Name}
	for _, o := range order {
		node := structureNode{
			Name:    o.Name(),
			Type:    o.Type(),
			Inputs:  o.InputLBNs(),
			Outputs: o.OutputLBNs(),
		}
		if g, found := j.OpPlacement(o.Name()); found {
			node.Placement = g.Name()
		}
		if sig := o.SbpSignature(); sig != nil {
			node.Sbp = sig.String()
		}
		graph.Nodes = append(graph.Nodes, node)
		for _, lbn := range o.InputLBNs() {
			producer, _ := j.Producer(lbn)
			graph.Edges = append(graph.Edges, structureEdge{From: producer.Name(), To: o.Name(), LBN: lbn})
		}
	}
	out, err := yaml.Marshal(&graph)
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize structure graph of job %q", j.config.Name)
	}
	return string(out), nil
}
