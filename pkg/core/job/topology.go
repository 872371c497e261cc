package job

import (
	"slices"

	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/pkg/errors"
)

// TopologicalOrder returns the operators ordered so that every producer comes before its consumers.
//
// It uses Kahn's algorithm where, among the operators ready at any point, the earliest inserted one is
// taken first: the order is deterministic. It returns an error if an input blob has no producer or if
// the graph has a cycle.
func (j *Job) TopologicalOrder() ([]*op.Operator, error) {
	numOps := len(j.ops)
	inDegree := make([]int, numOps)
	successors := make([][]int, numOps)
	for idx, o := range j.ops {
		for _, lbn := range o.InputLBNs() {
			producer, found := j.producers[lbn]
			if !found {
				return nil, errors.Errorf("job %q: blob %q consumed by operator %q has no producer",
					j.config.Name, lbn, o.Name())
			}
			successors[producer] = append(successors[producer], idx)
			inDegree[idx]++
		}
	}

	// ready is kept sorted by insertion index.
	var ready []int
	for idx := range numOps {
		if inDegree[idx] == 0 {
			ready = append(ready, idx)
		}
	}
	order := make([]*op.Operator, 0, numOps)
	for len(ready) > 0 {
		idx := ready[0]
		ready = ready[1:]
		order = append(order, j.ops[idx])
		for _, next := range successors[idx] {
			inDegree[next]--
			if inDegree[next] == 0 {
				pos, _ := slices.BinarySearch(ready, next)
				ready = slices.Insert(ready, pos, next)
			}
		}
	}
	if len(order) != numOps {
		var inCycle []string
		for idx, degree := range inDegree {
			if degree > 0 {
				inCycle = append(inCycle, j.ops[idx].Name())
			}
		}
		return nil, errors.Errorf("job %q has a cycle involving operators %q", j.config.Name, inCycle)
	}
	return order, nil
}

// ReverseTopologicalOrder returns TopologicalOrder reversed: consumers before producers.
func (j *Job) ReverseTopologicalOrder() ([]*op.Operator, error) {
	order, err := j.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	slices.Reverse(order)
	return order, nil
}
