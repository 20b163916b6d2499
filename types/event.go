// event.go defines the events posted to the host.

package types

import "fmt"

type EventKind int

const (
	UndefinedEventKind = EventKind(iota)

	// EventCommandComplete: Data1 is the Command, Data2 is the resulting
	// State (for StateSet) or the PortIndex.
	EventCommandComplete

	// EventError: Data1 is the ErrorCode, Data2 is the PortIndex when the
	// error is port-specific.
	EventError

	// EventPortSettingsChanged: Data1 is the PortIndex, Data2 is the
	// parameter index that changed (port definition or output crop).
	EventPortSettingsChanged

	// EventBufferFlag: Data1 is the PortIndex, Data2 is the BufferFlags
	// observed on the output (EOS).
	EventBufferFlag

	EndOfEventKind
)

func (k EventKind) String() string {
	switch k {
	case UndefinedEventKind:
		return "<undefined>"
	case EventCommandComplete:
		return "CommandComplete"
	case EventError:
		return "Error"
	case EventPortSettingsChanged:
		return "PortSettingsChanged"
	case EventBufferFlag:
		return "BufferFlag"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

type Event struct {
	Kind  EventKind
	Data1 uint32
	Data2 uint32
	Err   error
}

func (ev Event) String() string {
	switch ev.Kind {
	case EventCommandComplete:
		return fmt.Sprintf("%s(%s, %d)", ev.Kind, Command(ev.Data1), ev.Data2)
	case EventError:
		return fmt.Sprintf("%s(%s, %d): %v", ev.Kind, ErrorCode(ev.Data1), ev.Data2, ev.Err)
	}
	return fmt.Sprintf("%s(%d, %d)", ev.Kind, ev.Data1, ev.Data2)
}
