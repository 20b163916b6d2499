// direction.go defines port directions and the well-known port indices.

package types

import "fmt"

type Direction int

const (
	DirectionInput = Direction(iota)
	DirectionOutput
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// PortIndex addresses a port of the component.
type PortIndex uint32

const (
	PortIndexInput  = PortIndex(0)
	PortIndexOutput = PortIndex(1)

	// PortIndexAll addresses every port in Flush/PortEnable/PortDisable.
	PortIndexAll = PortIndex(0xFFFFFFFF)

	NumPorts = 2
)

func (idx PortIndex) String() string {
	switch idx {
	case PortIndexInput:
		return "input"
	case PortIndexOutput:
		return "output"
	case PortIndexAll:
		return "all"
	}
	return fmt.Sprintf("port#%d", uint32(idx))
}

func (idx PortIndex) Direction() Direction {
	if idx == PortIndexOutput {
		return DirectionOutput
	}
	return DirectionInput
}

func (idx PortIndex) IsValid() bool {
	return idx < NumPorts
}
