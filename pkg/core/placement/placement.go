// Package placement describes where operators run: named device groups spread across machines, and
// the parallel context (replica id and count) of one physical instance of an operator.
package placement

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/jobflow/pkg/support/sets"
	"github.com/pkg/errors"
)

// DeviceType is the kind of device a group is made of.
type DeviceType int

//go:generate go tool enumer -type DeviceType -trimprefix=DeviceType -transform=lower -yaml -output=gen_devicetype_enumer.go placement.go

const (
	DeviceTypeInvalid DeviceType = iota
	DeviceTypeCPU
	DeviceTypeGPU
)

// Device identifies one device slot: a device index within a machine.
type Device struct {
	Machine int
	Device  int
}

// String implements fmt.Stringer.
func (d Device) String() string {
	return fmt.Sprintf("%d:%d", d.Machine, d.Device)
}

// Group is a named set of devices of the same type. Operators placed on a group run one replica per
// device, in the order the devices are listed.
type Group struct {
	name       string
	deviceType DeviceType
	devices    []Device
}

// DefaultGroupName is used when a job doesn't define any placement.
const DefaultGroupName = "default"

// IsNameValid checks whether a name is a valid identifier for a group name.
func IsNameValid(name string) bool {
	if name == "" {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// NewGroup creates a device group. The devices list can't be empty nor have duplicates.
func NewGroup(name string, deviceType DeviceType, devices ...Device) (*Group, error) {
	if !IsNameValid(name) {
		return nil, errors.Errorf("placement group name %q is not a valid identifier, it must start with an ASCII "+
			"letter and be followed only by letters, numbers or underscore", name)
	}
	if !deviceType.IsADeviceType() || deviceType == DeviceTypeInvalid {
		return nil, errors.Errorf("placement group %q has invalid device type %d", name, deviceType)
	}
	if len(devices) == 0 {
		return nil, errors.Errorf("placement group %q has no devices", name)
	}
	seen := sets.Make[Device](len(devices))
	for _, d := range devices {
		if d.Machine < 0 || d.Device < 0 {
			return nil, errors.Errorf("placement group %q has negative machine/device id in %s", name, d)
		}
		if seen.Has(d) {
			return nil, errors.Errorf("placement group %q lists device %s more than once", name, d)
		}
		seen.Insert(d)
	}
	return &Group{name: name, deviceType: deviceType, devices: slices.Clone(devices)}, nil
}

// Parse creates a Group from a device list specification of the form "<machine>:<from>[-<to>]",
// possibly with several comma-separated entries. E.g.: "0:0-3,1:0-3" is 4 devices on each of machines 0 and 1.
func Parse(name string, deviceType DeviceType, spec string) (*Group, error) {
	var devices []Device
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		machineStr, devicesStr, found := strings.Cut(entry, ":")
		if !found {
			return nil, errors.Errorf("invalid device list entry %q for group %q, expected \"<machine>:<from>[-<to>]\"", entry, name)
		}
		machine, err := strconv.Atoi(machineStr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid machine id in device list entry %q for group %q", entry, name)
		}
		fromStr, toStr, isRange := strings.Cut(devicesStr, "-")
		from, err := strconv.Atoi(fromStr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid device id in device list entry %q for group %q", entry, name)
		}
		to := from
		if isRange {
			to, err = strconv.Atoi(toStr)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid device range in device list entry %q for group %q", entry, name)
			}
		}
		if to < from {
			return nil, errors.Errorf("empty device range in entry %q for group %q", entry, name)
		}
		for d := from; d <= to; d++ {
			devices = append(devices, Device{Machine: machine, Device: d})
		}
	}
	return NewGroup(name, deviceType, devices...)
}

// Name of the group.
func (g *Group) Name() string { return g.name }

// DeviceType of all devices in the group.
func (g *Group) DeviceType() DeviceType { return g.deviceType }

// ParallelNum is the number of replicas an operator placed on this group runs with.
func (g *Group) ParallelNum() int { return len(g.devices) }

// Devices returns a copy of the group's device list, indexed by parallel id.
func (g *Group) Devices() []Device { return slices.Clone(g.devices) }

// Device returns the device for the given parallel id.
func (g *Group) Device(parallelID int) Device { return g.devices[parallelID] }

// Machines returns the sorted list of distinct machines the group spans.
func (g *Group) Machines() []int {
	machines := sets.Make[int]()
	for _, d := range g.devices {
		machines.Insert(d.Machine)
	}
	return sets.Sorted(machines)
}

// Spec returns the device list specification, in the format accepted by Parse.
func (g *Group) Spec() string {
	parts := make([]string, 0, len(g.devices))
	for _, d := range g.devices {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, ",")
}

// String implements fmt.Stringer.
func (g *Group) String() string {
	return fmt.Sprintf("Group(%s, %s, [%s])", g.name, g.deviceType, g.Spec())
}

// ParallelContext identifies one replica of an operator: ParallelID in [0, ParallelNum).
type ParallelContext struct {
	ParallelID  int
	ParallelNum int
}

// SingleDevice is the ParallelContext of an operator running without replicas.
var SingleDevice = ParallelContext{ParallelID: 0, ParallelNum: 1}

// Validate returns an error if the context is out of range.
func (p ParallelContext) Validate() error {
	if p.ParallelNum <= 0 || p.ParallelID < 0 || p.ParallelID >= p.ParallelNum {
		return errors.Errorf("invalid parallel context %+v", p)
	}
	return nil
}
