// state.go defines the component state, the transient sub-state and the port sub-state.

package types

import "fmt"

// State is the state of a component.
type State int

const (
	UndefinedState = State(iota)
	StateLoaded
	StateIdle
	StateExecuting
	StatePause
	StateWaitForResources
	StateInvalid
	EndOfState
)

func (s State) String() string {
	switch s {
	case UndefinedState:
		return "<undefined>"
	case StateLoaded:
		return "Loaded"
	case StateIdle:
		return "Idle"
	case StateExecuting:
		return "Executing"
	case StatePause:
		return "Pause"
	case StateWaitForResources:
		return "WaitForResources"
	case StateInvalid:
		return "Invalid"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsRunning returns true if the pipeline worker is expected to exist.
func (s State) IsRunning() bool {
	return s == StateExecuting || s == StatePause
}

// AcceptsBuffers returns true if the host may submit buffers in this state.
func (s State) AcceptsBuffers() bool {
	switch s {
	case StateIdle, StateExecuting, StatePause:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge s->to exists in the state graph.
func (s State) CanTransitionTo(to State) bool {
	if s == StateInvalid {
		return false
	}
	if to == StateInvalid {
		return true
	}
	switch s {
	case StateLoaded:
		return to == StateIdle || to == StateWaitForResources
	case StateWaitForResources:
		return to == StateLoaded || to == StateIdle
	case StateIdle:
		return to == StateLoaded || to == StateExecuting || to == StatePause
	case StateExecuting:
		return to == StateIdle || to == StatePause
	case StatePause:
		return to == StateIdle || to == StateExecuting
	}
	return false
}

// TransientState is set only while a multi-step transition is in flight.
type TransientState int

const (
	TransientStateNone = TransientState(iota)
	TransientStateLoadedToIdle
	TransientStateIdleToLoaded
	TransientStateIdleToExecuting
	TransientStateExecutingToIdle
	EndOfTransientState
)

func (s TransientState) String() string {
	switch s {
	case TransientStateNone:
		return "none"
	case TransientStateLoadedToIdle:
		return "Loaded->Idle"
	case TransientStateIdleToLoaded:
		return "Idle->Loaded"
	case TransientStateIdleToExecuting:
		return "Idle->Executing"
	case TransientStateExecutingToIdle:
		return "Executing->Idle"
	}
	return fmt.Sprintf("TransientState(%d)", int(s))
}

// PortState is the sub-state of a port.
type PortState int

const (
	UndefinedPortState = PortState(iota)
	PortStateLoaded
	PortStateIdle
	PortStateEnabling
	PortStateDisabling
	PortStateFlushing
	PortStateFlushingForDisable
	PortStateInvalid
	EndOfPortState
)

func (s PortState) String() string {
	switch s {
	case UndefinedPortState:
		return "<undefined>"
	case PortStateLoaded:
		return "Loaded"
	case PortStateIdle:
		return "Idle"
	case PortStateEnabling:
		return "Enabling"
	case PortStateDisabling:
		return "Disabling"
	case PortStateFlushing:
		return "Flushing"
	case PortStateFlushingForDisable:
		return "FlushingForDisable"
	case PortStateInvalid:
		return "Invalid"
	}
	return fmt.Sprintf("PortState(%d)", int(s))
}

func (s PortState) IsFlushing() bool {
	return s == PortStateFlushing || s == PortStateFlushingForDisable
}
