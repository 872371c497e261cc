package op

import (
	"strconv"
	"strings"

	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/pkg/errors"
)

type batchAxisState int8

const (
	batchAxisUnknown batchAxisState = iota
	batchAxisAbsent
	batchAxisSet
)

// BatchAxis of a blob. It has three states: unknown (not inferred yet, the zero value), absent (the blob
// has no batch axis) or set to an axis.
type BatchAxis struct {
	state batchAxisState
	axis  int
}

// UnknownBatchAxis is the zero value: not inferred yet.
var UnknownBatchAxis = BatchAxis{}

// NoBatchAxis returns a BatchAxis marked as absent.
func NoBatchAxis() BatchAxis { return BatchAxis{state: batchAxisAbsent} }

// BatchAxisAt returns a BatchAxis set to axis.
func BatchAxisAt(axis int) BatchAxis {
	if axis < 0 {
		panicf("BatchAxisAt(%d): axis must be >= 0", axis)
	}
	return BatchAxis{state: batchAxisSet, axis: axis}
}

// IsKnown returns whether the batch axis has been inferred (as absent or as an axis).
func (b BatchAxis) IsKnown() bool { return b.state != batchAxisUnknown }

// HasAxis returns whether the blob has a batch axis.
func (b BatchAxis) HasAxis() bool { return b.state == batchAxisSet }

// Axis returns the batch axis, or -1 if it has none.
func (b BatchAxis) Axis() int {
	if b.state != batchAxisSet {
		return -1
	}
	return b.axis
}

// ValidFor returns an error if the batch axis is out of range for the shape.
func (b BatchAxis) ValidFor(shape shapes.Shape) error {
	if b.HasAxis() && b.axis >= shape.Rank() {
		return errors.Errorf("batch axis %d out of range for shape %s", b.axis, shape)
	}
	return nil
}

// String implements fmt.Stringer: "?" for unknown, "none" for absent or the axis number.
func (b BatchAxis) String() string {
	switch b.state {
	case batchAxisAbsent:
		return "none"
	case batchAxisSet:
		return strconv.Itoa(b.axis)
	}
	return "?"
}

// ParseBatchAxis parses the form produced by BatchAxis.String.
func ParseBatchAxis(text string) (BatchAxis, error) {
	switch text = strings.TrimSpace(text); text {
	case "", "?":
		return UnknownBatchAxis, nil
	case "none":
		return NoBatchAxis(), nil
	}
	axis, err := strconv.Atoi(text)
	if err != nil || axis < 0 {
		return BatchAxis{}, errors.Errorf("invalid batch axis %q, expected \"none\", \"?\" or an axis >= 0", text)
	}
	return BatchAxisAt(axis), nil
}

// BlobDesc describes a logical blob: its shape (and dtype) and batch axis.
type BlobDesc struct {
	Shape     shapes.Shape
	BatchAxis BatchAxis
}

// Equal returns whether both descriptions are the same.
func (d BlobDesc) Equal(other BlobDesc) bool {
	return d.BatchAxis == other.BatchAxis && d.Shape.Equal(other.Shape)
}

// Clone returns a deep copy.
func (d BlobDesc) Clone() BlobDesc {
	return BlobDesc{Shape: d.Shape.Clone(), BatchAxis: d.BatchAxis}
}

// String implements fmt.Stringer.
func (d BlobDesc) String() string {
	return d.Shape.String() + "{batch=" + d.BatchAxis.String() + "}"
}
