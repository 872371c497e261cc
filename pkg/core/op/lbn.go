package op

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MakeLBN returns the logical blob name of the idx-th blob of argument arg of operator opName:
// "<opName>/<arg>_<idx>".
func MakeLBN(opName, arg string, idx int) string {
	return opName + "/" + BindingName(arg, idx)
}

// BindingName returns the name used for an argument's blob in SBP signatures: "<arg>_<idx>".
func BindingName(arg string, idx int) string {
	return arg + "_" + strconv.Itoa(idx)
}

// SplitLBN splits a logical blob name into its operator name and binding name.
func SplitLBN(lbn string) (opName, binding string, err error) {
	sep := strings.LastIndex(lbn, "/")
	if sep <= 0 || sep == len(lbn)-1 {
		return "", "", errors.Errorf("invalid logical blob name %q, expected \"<op>/<arg>_<index>\"", lbn)
	}
	return lbn[:sep], lbn[sep+1:], nil
}

// SplitBindingName splits "<arg>_<idx>" into its parts.
func SplitBindingName(binding string) (arg string, idx int, err error) {
	sep := strings.LastIndex(binding, "_")
	if sep <= 0 {
		return "", 0, errors.Errorf("invalid binding name %q, expected \"<arg>_<index>\"", binding)
	}
	idx, err = strconv.Atoi(binding[sep+1:])
	if err != nil || idx < 0 {
		return "", 0, errors.Errorf("invalid index in binding name %q", binding)
	}
	return binding[:sep], idx, nil
}

// Binding of one blob to an operator argument.
type Binding struct {
	Arg   string
	Index int
	LBN   string
}

// Name returns the binding name, "<arg>_<idx>".
func (b Binding) Name() string { return BindingName(b.Arg, b.Index) }

// String implements fmt.Stringer.
func (b Binding) String() string {
	return fmt.Sprintf("%s=%s", b.Name(), b.LBN)
}
